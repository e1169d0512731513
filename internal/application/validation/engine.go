package validation

import (
	"fmt"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// Engine runs rules in a fixed order over one context
type Engine struct {
	rules  []Rule
	logger *zap.Logger
}

// NewEngine creates an engine. With no rules it uses DefaultRules.
func NewEngine(logger *zap.Logger, rules ...Rule) *Engine {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Engine{
		rules:  rules,
		logger: logger,
	}
}

// Rules returns the rule names in evaluation order
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name()
	}
	return names
}

// Evaluate stops at the first failing rule and returns it as *entity.RuleEvaluationError
func (e *Engine) Evaluate(c *Context) error {
	for _, rule := range e.rules {
		if err := e.safeEvaluate(rule, c); err != nil {
			e.logger.Error("Rule evaluation failed",
				zap.String("rule", rule.Name()),
				zap.String("expense_id", c.Expense.ID),
				zap.Error(err))
			return &entity.RuleEvaluationError{Rule: rule.Name(), Err: err}
		}
	}
	return nil
}

func (e *Engine) safeEvaluate(rule Rule, c *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule panic: %v", r)
		}
	}()
	return rule.Evaluate(c)
}
