package workflow

// State represents where an event is in the processing pipeline
type State string

const (
	StateReceived        State = "received"
	StateDedupChecked    State = "dedup_checked"
	StateSkipped         State = "skipped"
	StateNegativeSkipped State = "negative_skipped"
	StateNormalized      State = "normalized"
	StateConverted       State = "converted"
	StateValidated       State = "validated"
	StatePersisted       State = "persisted"
	StateFailed          State = "failed"
)

var validStates = map[State]bool{
	StateReceived:        true,
	StateDedupChecked:    true,
	StateSkipped:         true,
	StateNegativeSkipped: true,
	StateNormalized:      true,
	StateConverted:       true,
	StateValidated:       true,
	StatePersisted:       true,
	StateFailed:          true,
}

var terminalStates = map[State]bool{
	StateSkipped:         true,
	StateNegativeSkipped: true,
	StatePersisted:       true,
	StateFailed:          true,
}

// IsTerminal returns true if no further transitions are allowed from the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known pipeline state
func (s State) IsValid() bool {
	return validStates[s]
}
