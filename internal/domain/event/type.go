package event

// Type identifies an intake event
type Type string

const (
	TypeExpenseCreated Type = "expense.created"
	TypeExpenseBatch   Type = "expense.batch"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeExpenseCreated, TypeExpenseBatch:
		return true
	default:
		return false
	}
}
