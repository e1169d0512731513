package validation

import (
	"fmt"
	"strconv"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/shopspring/decimal"
)

// Rule inspects the context and records exactly one suggestion
type Rule interface {
	Name() string
	Evaluate(c *Context) error
}

// DefaultRules returns the built-in rules in evaluation order
func DefaultRules() []Rule {
	return []Rule{
		ExpenseAgeRule{},
		CategoryLimitRule{},
		CostCenterRule{},
	}
}

// ExpenseAgeRule escalates old expenses
type ExpenseAgeRule struct{}

func (ExpenseAgeRule) Name() string { return "ExpenseAgeRule" }

func (r ExpenseAgeRule) Evaluate(c *Context) error {
	limits := c.Policies.AgeLimits
	days := c.DaysSinceExpense

	switch {
	case days < limits.PendingDays:
		c.AddSuggestion(r.Name(), entity.ValidationApproved, nil)
	case days < limits.RejectedDays:
		c.AddSuggestion(r.Name(), entity.ValidationPending, &entity.Alert{
			Code:    entity.AlertCodeAgeLimit,
			Message: fmt.Sprintf("Gasto con %d días supera la ventana de aprobación automática (%d días).", days, limits.PendingDays),
		})
	default:
		c.AddSuggestion(r.Name(), entity.ValidationRejected, &entity.Alert{
			Code:    entity.AlertCodeAgeLimit,
			Message: fmt.Sprintf("Gasto con %d días excede el límite máximo de %d días.", days, limits.RejectedDays),
		})
	}
	return nil
}

// CategoryLimitRule bounds the converted amount per category.
// Categories without limits are approved with a configuration alert.
type CategoryLimitRule struct{}

func (CategoryLimitRule) Name() string { return "CategoryLimitRule" }

func (r CategoryLimitRule) Evaluate(c *Context) error {
	category := c.Expense.Category
	limits, ok := c.Policies.CategoryLimits[category]
	if !ok {
		c.AddSuggestion(r.Name(), entity.ValidationApproved, &entity.Alert{
			Code:    entity.AlertCodeCategoryConfig,
			Message: fmt.Sprintf("No existe configuración de límites para la categoría %s, se aprueba por omisión.", category),
		})
		return nil
	}

	amount := decimal.NewFromFloat(c.ConvertedAmount)
	approved := decimal.NewFromFloat(limits.ApprovedUpTo)
	pending := decimal.NewFromFloat(limits.PendingUpTo)

	switch {
	case amount.LessThanOrEqual(approved):
		c.AddSuggestion(r.Name(), entity.ValidationApproved, nil)
	case amount.LessThanOrEqual(pending):
		c.AddSuggestion(r.Name(), entity.ValidationPending, &entity.Alert{
			Code: entity.AlertCodeCategoryLimit,
			Message: fmt.Sprintf("Requiere revisión: el monto %s %s supera el umbral automático (%s) pero permanece por debajo del máximo (%s).",
				formatAmount(c.ConvertedAmount), c.BaseCurrency, formatAmount(limits.ApprovedUpTo), formatAmount(limits.PendingUpTo)),
		})
	default:
		c.AddSuggestion(r.Name(), entity.ValidationRejected, &entity.Alert{
			Code: entity.AlertCodeCategoryLimit,
			Message: fmt.Sprintf("El monto %s %s excede el límite máximo (%s).",
				formatAmount(c.ConvertedAmount), c.BaseCurrency, formatAmount(limits.PendingUpTo)),
		})
	}
	return nil
}

// CostCenterRule rejects categories forbidden for the expense's cost center
type CostCenterRule struct{}

func (CostCenterRule) Name() string { return "CostCenterRule" }

func (r CostCenterRule) Evaluate(c *Context) error {
	for _, rule := range c.Policies.CostCenterRules {
		if rule.CostCenter == c.Expense.CostCenter && rule.ForbiddenCategory == c.Expense.Category {
			c.AddSuggestion(r.Name(), entity.ValidationRejected, &entity.Alert{
				Code:    entity.AlertCodeCostCenterRule,
				Message: fmt.Sprintf("El C.C. '%s' no puede reportar '%s'.", c.Expense.CostCenter, c.Expense.Category),
			})
			return nil
		}
	}
	c.AddSuggestion(r.Name(), entity.ValidationApproved, nil)
	return nil
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
