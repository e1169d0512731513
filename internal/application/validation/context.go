// Package validation evaluates expenses against approval policies.
package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

const dateLayout = "2006-01-02"

// Context accumulates rule outcomes for a single expense.
// It is created per evaluation and must not be shared.
type Context struct {
	Expense          entity.ExpenseEvent
	Policies         *entity.Policies
	ConvertedAmount  float64
	BaseCurrency     string
	DaysSinceExpense int

	alerts      []entity.Alert
	suggestions []entity.Suggestion
	status      entity.ValidationStatus
}

// NewContext parses the expense date and computes its age in calendar
// days as seen in loc at now. Future dates count as zero days.
func NewContext(expense entity.ExpenseEvent, policies *entity.Policies, convertedAmount float64, now time.Time, loc *time.Location) (*Context, error) {
	if policies == nil {
		return nil, entity.ErrNoPolicies
	}
	if loc == nil {
		loc = time.UTC
	}

	days, err := daysSince(expense.Date, now, loc)
	if err != nil {
		return nil, err
	}

	return &Context{
		Expense:          expense,
		Policies:         policies,
		ConvertedAmount:  convertedAmount,
		BaseCurrency:     policies.BaseCurrency,
		DaysSinceExpense: days,
		status:           entity.ValidationApproved,
	}, nil
}

func daysSince(raw string, now time.Time, loc *time.Location) (int, error) {
	date, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return 0, &entity.ValidationInputError{
			Field:  "fecha",
			Reason: fmt.Sprintf("%q is not a calendar date", raw),
			Err:    entity.ErrInvalidExpenseDate,
		}
	}

	local := now.In(loc)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	expenseDay := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)

	days := int(today.Sub(expenseDay).Hours() / 24)
	if days < 0 {
		return 0, nil
	}
	return days, nil
}

// AddAlert appends an alert without touching the status
func (c *Context) AddAlert(alert entity.Alert) {
	c.alerts = append(c.alerts, alert)
}

// AddSuggestion records a rule's status and optional alert, raising the
// current status if the suggestion outranks it.
func (c *Context) AddSuggestion(rule string, status entity.ValidationStatus, alert *entity.Alert) {
	c.suggestions = append(c.suggestions, entity.Suggestion{Rule: rule, Status: status})
	if alert != nil {
		c.AddAlert(*alert)
	}
	if status.Priority() > c.status.Priority() {
		c.status = status
	}
}

// FinalStatus is the highest status suggested so far
func (c *Context) FinalStatus() entity.ValidationStatus {
	return c.status
}

// Alerts returns a copy of the alerts in the order raised
func (c *Context) Alerts() []entity.Alert {
	return append([]entity.Alert{}, c.alerts...)
}

// Suggestions returns a copy of the suggestions in rule order
func (c *Context) Suggestions() []entity.Suggestion {
	return append([]entity.Suggestion{}, c.suggestions...)
}

// ToResult returns the full evaluation outcome
func (c *Context) ToResult() entity.ValidationResult {
	return entity.ValidationResult{
		FinalStatus:     c.status,
		Alerts:          c.Alerts(),
		Suggestions:     c.Suggestions(),
		ConvertedAmount: c.ConvertedAmount,
		BaseCurrency:    c.BaseCurrency,
	}
}

// ToResponse returns the external view without suggestions
func (c *Context) ToResponse() entity.ValidationResponse {
	return entity.ValidationResponse{
		ExpenseID: c.Expense.ID,
		Status:    c.status,
		Alerts:    c.Alerts(),
	}
}
