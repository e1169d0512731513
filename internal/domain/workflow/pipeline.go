package workflow

// NewPipelineMachine returns a machine for one event, positioned at received.
//
//	received -> dedup_checked -> normalized -> converted -> validated -> persisted
//	received -> skipped
//	dedup_checked -> negative_skipped
//	any non-terminal -> failed
func NewPipelineMachine() StateMachine {
	b := NewBuilder()

	b.Configure(StateReceived).
		Permit(TriggerAdmit, StateDedupChecked).
		Permit(TriggerRejectDuplicate, StateSkipped).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateDedupChecked).
		Permit(TriggerNormalize, StateNormalized).
		Permit(TriggerSkipNegative, StateNegativeSkipped).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateNormalized).
		Permit(TriggerConvert, StateConverted).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateConverted).
		Permit(TriggerValidate, StateValidated).
		Permit(TriggerFail, StateFailed)

	b.Configure(StateValidated).
		Permit(TriggerPersist, StatePersisted).
		Permit(TriggerFail, StateFailed)

	return b.Build(StateReceived)
}
