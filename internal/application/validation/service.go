package validation

import (
	"context"
	"strings"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// Request carries an expense and, optionally, the policies to apply.
// Nil policies are resolved from the policy source.
type Request struct {
	Expense  entity.ExpenseEvent `json:"gasto" binding:"required"`
	Policies *entity.Policies    `json:"politicas,omitempty"`
}

// Outcome bundles the full result with the policies that produced it
type Outcome struct {
	Result   entity.ValidationResult
	Response entity.ValidationResponse
	Policies *entity.Policies
}

// Service resolves policies and the converted amount, then runs the engine
type Service struct {
	engine   *Engine
	policies port.PolicySource
	location *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewService creates a validation service. A nil location means UTC.
func NewService(engine *Engine, policies port.PolicySource, location *time.Location, logger *zap.Logger) *Service {
	if location == nil {
		location = time.UTC
	}
	return &Service{
		engine:   engine,
		policies: policies,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock overrides time.Now
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Validate evaluates the expense. The context is built before any rule runs,
// so an invalid date fails without partial results.
func (s *Service) Validate(ctx context.Context, req Request) (*Outcome, error) {
	policies := req.Policies
	if policies == nil {
		current, err := s.policies.Current(ctx)
		if err != nil {
			return nil, err
		}
		policies = current
	}

	amount, err := convertedAmount(req.Expense, policies)
	if err != nil {
		return nil, err
	}

	vc, err := NewContext(req.Expense, policies, amount, s.now(), s.location)
	if err != nil {
		return nil, err
	}

	if err := s.engine.Evaluate(vc); err != nil {
		return nil, err
	}

	result := vc.ToResult()
	s.logger.Debug("Expense evaluated",
		zap.String("expense_id", req.Expense.ID),
		zap.String("status", string(result.FinalStatus)),
		zap.Int("alert_count", len(result.Alerts)))

	return &Outcome{
		Result:   result,
		Response: vc.ToResponse(),
		Policies: policies,
	}, nil
}

func convertedAmount(expense entity.ExpenseEvent, policies *entity.Policies) (float64, error) {
	if expense.BaseAmount != nil {
		return *expense.BaseAmount, nil
	}
	if strings.EqualFold(expense.OriginalCurrency, policies.BaseCurrency) {
		return expense.OriginalAmount, nil
	}
	return 0, &entity.ValidationInputError{
		Field:  "monto_base",
		Reason: "required when moneda_original differs from moneda_base",
		Err:    entity.ErrBaseAmountRequired,
	}
}
