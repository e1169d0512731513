package workflow

// Trigger represents a pipeline step outcome that moves the event forward
type Trigger string

const (
	TriggerAdmit           Trigger = "ADMIT"
	TriggerRejectDuplicate Trigger = "REJECT_DUPLICATE"
	TriggerSkipNegative    Trigger = "SKIP_NEGATIVE"
	TriggerNormalize       Trigger = "NORMALIZE"
	TriggerConvert         Trigger = "CONVERT"
	TriggerValidate        Trigger = "VALIDATE"
	TriggerPersist         Trigger = "PERSIST"
	TriggerFail            Trigger = "FAIL"
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
