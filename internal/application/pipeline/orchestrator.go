// Package pipeline drives a single expense event through dedup, normalization,
// currency conversion, validation and persistence, recording every step.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/currency"
	"github.com/garyjia/expense-pipeline/internal/application/dedup"
	"github.com/garyjia/expense-pipeline/internal/application/jobrun"
	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/application/validation"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/internal/domain/workflow"
	"go.uber.org/zap"
)

// Deduplicator admits or rejects a fingerprint within a scope
type Deduplicator interface {
	Admit(ctx context.Context, scope, fingerprint string) (*dedup.Decision, error)
	TTL() time.Duration
}

// Converter resolves base-currency amounts
type Converter interface {
	Convert(ctx context.Context, amount float64, from, date string) (*currency.Result, error)
	NormalizePrecomputed(ctx context.Context, originalAmount, baseAmount float64, rate *float64, from string) (*currency.Result, error)
}

// Validator evaluates an expense against policies
type Validator interface {
	Validate(ctx context.Context, req validation.Request) (*validation.Outcome, error)
}

// JobContext links a run to whatever delivered the event
type JobContext struct {
	JobID       string
	Pattern     string
	ProcessID   string
	BatchIndex  *int
	RecordIndex *int
	CSVRow      map[string]any
}

// Outcome is the terminal result of Process
type Outcome struct {
	JobID        string                     `json:"job_id"`
	Status       entity.RunStatus           `json:"status"`
	State        workflow.State             `json:"state"`
	States       []workflow.State           `json:"states"`
	Reason       string                     `json:"reason,omitempty"`
	Fingerprint  string                     `json:"fingerprint"`
	BaseAmount   *float64                   `json:"monto_base,omitempty"`
	BaseCurrency string                     `json:"moneda_base,omitempty"`
	ExchangeRate *float64                   `json:"tipo_cambio,omitempty"`
	RateSource   string                     `json:"rate_source,omitempty"`
	Validation   *entity.ValidationResponse `json:"validation,omitempty"`
}

// Orchestrator runs the per-event pipeline. It holds no per-event state and
// is safe for concurrent use.
type Orchestrator struct {
	tracker   *jobrun.Tracker
	gate      Deduplicator
	converter Converter
	validator Validator
	store     port.ExpenseStore
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures the orchestrator
type Option func(*Orchestrator)

// WithClock overrides the timestamp written on persisted expenses
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(
	tracker *jobrun.Tracker,
	gate Deduplicator,
	converter Converter,
	validator Validator,
	store port.ExpenseStore,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		tracker:   tracker,
		gate:      gate,
		converter: converter,
		validator: validator,
		store:     store,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// execution is the state of one Process call
type execution struct {
	o           *Orchestrator
	evt         entity.ExpenseEvent
	jobID       string
	scope       string
	fingerprint string
	machine     workflow.StateMachine
	stage       *jobrun.Stage
	out         *Outcome
}

// Process runs evt through the pipeline. Skips are returned as outcomes, not
// errors. On error the open stage and the run are finished as failed before
// the error is returned.
func (o *Orchestrator) Process(ctx context.Context, evt entity.ExpenseEvent, jc JobContext) (*Outcome, error) {
	if jc.Pattern == "" {
		jc.Pattern = entity.PatternExpenseCreated
	}
	fingerprint := dedup.Fingerprint(evt)

	run, err := o.tracker.CreateRun(ctx, jobrun.RunSpec{
		JobID:       jc.JobID,
		Pattern:     jc.Pattern,
		ExpenseID:   evt.ID,
		Fingerprint: fingerprint,
		Meta:        seedMeta(evt, jc),
	})
	if err != nil {
		return nil, err
	}

	ex := &execution{
		o:           o,
		evt:         evt,
		jobID:       run.JobID,
		scope:       jc.ProcessID,
		fingerprint: fingerprint,
		machine:     workflow.NewPipelineMachine(),
		out:         &Outcome{JobID: run.JobID, Fingerprint: fingerprint},
	}

	if err := ex.run(ctx); err != nil {
		return nil, ex.fail(ctx, err)
	}
	ex.out.State = ex.machine.State()
	ex.out.States = ex.machine.History()
	return ex.out, nil
}

func (ex *execution) run(ctx context.Context) error {
	admitted, err := ex.dedup(ctx)
	if err != nil || !admitted {
		return err
	}

	amount, proceed, err := ex.normalize(ctx)
	if err != nil || !proceed {
		return err
	}

	conv, err := ex.convert(ctx, amount)
	if err != nil {
		return err
	}

	outcome, err := ex.validate(ctx, amount, conv)
	if err != nil {
		return err
	}

	if err := ex.persist(ctx, conv, outcome); err != nil {
		return err
	}

	return ex.finishRun(ctx, entity.RunStatusSuccess, "")
}

func (ex *execution) dedup(ctx context.Context) (bool, error) {
	ttl := int64(ex.o.gate.TTL() / time.Second)
	if err := ex.start(ctx, entity.StageDedup, map[string]any{"ttlSeconds": ttl}); err != nil {
		return false, err
	}

	decision, err := ex.o.gate.Admit(ctx, ex.scope, ex.fingerprint)
	if err != nil {
		return false, err
	}

	if !decision.Admitted {
		data := map[string]any{"reason": decision.Reason, "fingerprint": ex.fingerprint}
		if decision.FromStore {
			data["source"] = "db"
			data["duplicate"] = true
		}
		if err := ex.stage.Skip(ctx, data); err != nil {
			return false, err
		}
		if err := ex.fire(ctx, workflow.TriggerRejectDuplicate); err != nil {
			return false, err
		}
		if err := ex.o.tracker.MergeMeta(ctx, ex.jobID, entity.Meta{
			entity.MetaKeyDedup: map[string]any{
				"skipped":     true,
				"reason":      decision.Reason,
				"fingerprint": ex.fingerprint,
			},
		}); err != nil {
			return false, err
		}
		return false, ex.finishRun(ctx, entity.RunStatusSkipped, decision.Reason)
	}

	if err := ex.stage.Succeed(ctx, map[string]any{"fingerprint": ex.fingerprint}); err != nil {
		return false, err
	}
	return true, ex.fire(ctx, workflow.TriggerAdmit)
}

func (ex *execution) normalize(ctx context.Context) (float64, bool, error) {
	if err := ex.start(ctx, entity.StageNormalize, nil); err != nil {
		return 0, false, err
	}

	negative := ex.evt.OriginalAmount < 0
	amount := math.Abs(ex.evt.OriginalAmount)
	data := map[string]any{
		"negativeAmountDetected": negative,
		"normalizedAmount":       amount,
	}

	if negative {
		data["reason"] = entity.ReasonNegativeAmount
		if err := ex.stage.Skip(ctx, data); err != nil {
			return 0, false, err
		}
		if err := ex.fire(ctx, workflow.TriggerSkipNegative); err != nil {
			return 0, false, err
		}
		if err := ex.o.tracker.MergeMeta(ctx, ex.jobID, entity.Meta{
			entity.MetaKeyNegativeAmount: map[string]any{
				"skipped":        true,
				"reason":         entity.ReasonNegativeAmount,
				"monto_original": ex.evt.OriginalAmount,
			},
		}); err != nil {
			return 0, false, err
		}
		ex.o.logger.Info("Negative amount, skipping",
			zap.String("job_id", ex.jobID),
			zap.String("expense_id", ex.evt.ID),
			zap.Float64("monto_original", ex.evt.OriginalAmount))
		return 0, false, ex.finishRun(ctx, entity.RunStatusSkipped, entity.ReasonNegativeAmount)
	}

	if err := ex.stage.Succeed(ctx, data); err != nil {
		return 0, false, err
	}
	return amount, true, ex.fire(ctx, workflow.TriggerNormalize)
}

func (ex *execution) convert(ctx context.Context, amount float64) (*currency.Result, error) {
	err := ex.start(ctx, entity.StageCurrency, map[string]any{"moneda_original": ex.evt.OriginalCurrency})
	if err != nil {
		return nil, err
	}

	var conv *currency.Result
	if ex.evt.BaseAmount != nil {
		conv, err = ex.o.converter.NormalizePrecomputed(ctx, amount, *ex.evt.BaseAmount, ex.evt.ExchangeRate, ex.evt.OriginalCurrency)
	} else {
		conv, err = ex.o.converter.Convert(ctx, amount, ex.evt.OriginalCurrency, ex.evt.Date)
		if err == nil && ex.evt.ExchangeRate != nil {
			conv.Rate = ex.evt.ExchangeRate
		}
	}
	if err != nil {
		return nil, err
	}

	data := map[string]any{
		"baseAmount":  conv.BaseAmount,
		"tipo_cambio": rateValue(conv.Rate),
		"rate_source": conv.Source,
		"moneda_base": conv.BaseCurrency,
	}
	if conv.UpstreamSource != "" {
		data["upstream_rate_source"] = conv.UpstreamSource
	}
	if err := ex.stage.Succeed(ctx, data); err != nil {
		return nil, err
	}

	base := conv.BaseAmount
	ex.out.BaseAmount = &base
	ex.out.BaseCurrency = conv.BaseCurrency
	ex.out.ExchangeRate = conv.Rate
	ex.out.RateSource = conv.Source
	return conv, ex.fire(ctx, workflow.TriggerConvert)
}

func (ex *execution) validate(ctx context.Context, amount float64, conv *currency.Result) (*validation.Outcome, error) {
	if err := ex.start(ctx, entity.StageValidation, nil); err != nil {
		return nil, err
	}

	expense := ex.evt
	expense.OriginalAmount = amount
	base := conv.BaseAmount
	expense.BaseAmount = &base
	expense.ExchangeRate = nil

	outcome, err := ex.o.validator.Validate(ctx, validation.Request{Expense: expense})
	if err != nil {
		return nil, err
	}

	alerts := outcome.Response.Alerts
	if alerts == nil {
		alerts = []entity.Alert{}
	}
	status := outcome.Response.Status

	data := map[string]any{
		"status":       status,
		"alertasCount": len(alerts),
	}
	if len(alerts) > 0 {
		data["alertas"] = alerts
	}
	summary := map[string]any{
		"status":  status,
		"alertas": alerts,
	}
	if outcome.Policies != nil {
		data["politicas"] = outcome.Policies
		summary["politicas"] = outcome.Policies
	}

	if err := ex.stage.Succeed(ctx, data); err != nil {
		return nil, err
	}
	if err := ex.o.tracker.MergeMeta(ctx, ex.jobID, entity.Meta{entity.MetaKeyValidation: summary}); err != nil {
		return nil, err
	}

	resp := outcome.Response
	resp.Alerts = alerts
	ex.out.Validation = &resp
	return outcome, ex.fire(ctx, workflow.TriggerValidate)
}

func (ex *execution) persist(ctx context.Context, conv *currency.Result, outcome *validation.Outcome) error {
	if err := ex.start(ctx, entity.StagePersist, nil); err != nil {
		return err
	}

	base := conv.BaseAmount
	record := &entity.PersistedExpense{
		ID:               ex.evt.ID,
		JobID:            ex.jobID,
		EmployeeID:       ex.evt.EmployeeID,
		Date:             ex.evt.Date,
		OriginalAmount:   ex.evt.OriginalAmount,
		OriginalCurrency: ex.evt.OriginalCurrency,
		Category:         ex.evt.Category,
		CostCenter:       ex.evt.CostCenter,
		Fingerprint:      ex.fingerprint,
		BaseAmount:       &base,
		ExchangeRate:     conv.Rate,
		ValidationStatus: outcome.Result.FinalStatus,
		ValidationAlerts: ex.out.Validation.Alerts,
		CreatedAt:        ex.o.now(),
	}
	if err := ex.o.store.Upsert(ctx, record); err != nil {
		return &entity.PersistenceError{Op: "upsert expense", Err: err}
	}

	if err := ex.stage.Succeed(ctx, map[string]any{"expenseId": ex.evt.ID}); err != nil {
		return err
	}
	return ex.fire(ctx, workflow.TriggerPersist)
}

func (ex *execution) start(ctx context.Context, name string, data map[string]any) error {
	stage, err := ex.o.tracker.StartStage(ctx, ex.jobID, name, data)
	if err != nil {
		return err
	}
	ex.stage = stage
	return nil
}

func (ex *execution) fire(ctx context.Context, trigger workflow.Trigger) error {
	if err := ex.machine.Fire(ctx, trigger); err != nil {
		return fmt.Errorf("pipeline transition %s from %s (permitted %v): %w",
			trigger, ex.machine.State(), ex.machine.PermittedTriggers(), err)
	}
	return nil
}

func (ex *execution) finishRun(ctx context.Context, status entity.RunStatus, reason string) error {
	if err := ex.o.tracker.FinishRun(ctx, ex.jobID, status); err != nil {
		return err
	}
	ex.out.Status = status
	ex.out.Reason = reason
	return nil
}

// fail closes the open stage and the run as failed and returns cause.
// Bookkeeping errors are logged and never replace cause.
func (ex *execution) fail(ctx context.Context, cause error) error {
	ctx = context.WithoutCancel(ctx)
	logger := ex.o.logger.With(zap.String("job_id", ex.jobID), zap.String("expense_id", ex.evt.ID))

	if ex.stage != nil && ex.stage.Open() {
		if err := ex.stage.Fail(ctx, cause); err != nil {
			logger.Error("Failed to close stage", zap.String("stage", ex.stage.Name()), zap.Error(err))
		}
	}
	if ex.machine.CanFire(workflow.TriggerFail) {
		_ = ex.machine.Fire(ctx, workflow.TriggerFail)
	}
	if err := ex.o.tracker.FinishRun(ctx, ex.jobID, entity.RunStatusFailed); err != nil {
		logger.Error("Failed to mark run as failed", zap.Error(err))
	}

	logger.Error("Pipeline failed",
		zap.String("state", string(ex.machine.State())),
		zap.Any("states", ex.machine.History()),
		zap.Error(cause))
	return cause
}

func seedMeta(evt entity.ExpenseEvent, jc JobContext) entity.Meta {
	meta := evt.Snapshot()
	if jc.ProcessID != "" {
		meta[entity.MetaKeyProcessID] = jc.ProcessID
	}
	if jc.BatchIndex != nil {
		meta[entity.MetaKeyBatchIndex] = *jc.BatchIndex
	}
	if jc.RecordIndex != nil {
		meta[entity.MetaKeyRecordIndex] = *jc.RecordIndex
	}
	if jc.CSVRow != nil {
		meta[entity.MetaKeyCSVRow] = jc.CSVRow
	}
	return meta
}

func rateValue(rate *float64) any {
	if rate == nil {
		return nil
	}
	return *rate
}
