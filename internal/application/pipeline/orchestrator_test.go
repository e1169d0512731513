package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/expense-pipeline/internal/application/currency"
	"github.com/garyjia/expense-pipeline/internal/application/dedup"
	"github.com/garyjia/expense-pipeline/internal/application/jobrun"
	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/application/validation"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/internal/domain/event"
	"github.com/garyjia/expense-pipeline/internal/domain/workflow"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/cache"
	"github.com/garyjia/expense-pipeline/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/expense-pipeline/pkg/database"
)

var evaluatedAt = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)

type staticPolicies struct {
	policies *entity.Policies
}

func (s staticPolicies) Current(context.Context) (*entity.Policies, error) {
	return s.policies, nil
}

// fakeFX answers from a fixed rate table and counts calls
type fakeFX struct {
	mu    sync.Mutex
	rates map[string]float64
	err   error
	calls int
}

func (f *fakeFX) Convert(ctx context.Context, req port.ConversionRequest) (*port.ConversionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rate, ok := f.rates[req.FromCurrency+"_"+req.ToCurrency]
	if !ok {
		return nil, &entity.ConversionServiceError{From: req.FromCurrency, To: req.ToCurrency, Err: errors.New("unknown pair")}
	}
	return &port.ConversionResult{BaseAmount: req.Amount * rate, Rate: &rate, Source: "fake"}, nil
}

func (f *fakeFX) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type countingConverter struct {
	Converter
	calls int
}

func (c *countingConverter) Convert(ctx context.Context, amount float64, from, date string) (*currency.Result, error) {
	c.calls++
	return c.Converter.Convert(ctx, amount, from, date)
}

func (c *countingConverter) NormalizePrecomputed(ctx context.Context, originalAmount, baseAmount float64, rate *float64, from string) (*currency.Result, error) {
	c.calls++
	return c.Converter.NormalizePrecomputed(ctx, originalAmount, baseAmount, rate, from)
}

type countingValidator struct {
	Validator
	calls int
}

func (v *countingValidator) Validate(ctx context.Context, req validation.Request) (*validation.Outcome, error) {
	v.calls++
	return v.Validator.Validate(ctx, req)
}

type harness struct {
	orch      *Orchestrator
	tracker   *jobrun.Tracker
	expenses  port.ExpenseStore
	fx        *fakeFX
	converter *countingConverter
	validator *countingValidator
}

func defaultPolicies() *entity.Policies {
	return &entity.Policies{
		BaseCurrency: "USD",
		AgeLimits:    entity.AgeLimits{PendingDays: 30, RejectedDays: 60},
		CategoryLimits: map[string]entity.CategoryLimit{
			"food": {ApprovedUpTo: 100, PendingUpTo: 150},
		},
	}
}

// failingStore accepts lookups but refuses every write
type failingStore struct {
	port.ExpenseStore
	err error
}

func (f failingStore) Upsert(context.Context, *entity.PersistedExpense) error {
	return f.err
}

type erroringRule struct{}

func (erroringRule) Name() string { return "ErroringRule" }

func (erroringRule) Evaluate(*validation.Context) error {
	return errors.New("limit table unavailable")
}

type panickingRule struct{}

func (panickingRule) Name() string { return "PanickingRule" }

func (panickingRule) Evaluate(c *validation.Context) error {
	var limits map[string]int
	limits[c.Expense.Category] = 1
	return nil
}

type harnessOptions struct {
	rules     []validation.Rule
	storeFail error
}

type harnessOption func(*harnessOptions)

func withRules(rules ...validation.Rule) harnessOption {
	return func(o *harnessOptions) { o.rules = rules }
}

func withStoreFailure(err error) harnessOption {
	return func(o *harnessOptions) { o.storeFail = err }
}

func newHarness(t *testing.T, policies *entity.Policies, opts ...harnessOption) *harness {
	t.Helper()
	logger := zap.NewNop()

	var ho harnessOptions
	for _, opt := range opts {
		opt(&ho)
	}

	conn, err := database.OpenMemory(logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	db := sqlite.NewDB(conn.DB, logger)

	expenses := sqlite.NewExpenseRepository(db, logger)
	tracker := jobrun.NewTracker(sqlite.NewJobRunRepository(db, logger), logger)
	source := staticPolicies{policies: policies}
	memory := cache.NewMemoryCache(100, time.Hour)

	fx := &fakeFX{rates: map[string]float64{"EUR_USD": 1.1}}
	normalizer := currency.NewNormalizer(source, memory, fx, logger)

	svc := validation.NewService(validation.NewEngine(logger, ho.rules...), source, time.UTC, logger)
	svc.SetClock(func() time.Time { return evaluatedAt })

	h := &harness{
		tracker:   tracker,
		expenses:  expenses,
		fx:        fx,
		converter: &countingConverter{Converter: normalizer},
		validator: &countingValidator{Validator: svc},
	}
	gate := dedup.NewGate(memory, expenses, 24*time.Hour, logger)
	var store port.ExpenseStore = expenses
	if ho.storeFail != nil {
		store = failingStore{ExpenseStore: expenses, err: ho.storeFail}
	}
	h.orch = NewOrchestrator(tracker, gate, h.converter, h.validator, store, logger,
		WithClock(func() time.Time { return evaluatedAt }))
	return h
}

func g1() entity.ExpenseEvent {
	return entity.ExpenseEvent{
		ID:               "g1",
		EmployeeID:       "e1",
		Date:             "2024-10-01",
		OriginalAmount:   200,
		OriginalCurrency: "USD",
		Category:         "food",
		CostCenter:       "cc1",
	}
}

func stageStatuses(t *testing.T, h *harness, jobID string) map[string]entity.RunStatus {
	t.Helper()
	detail, err := h.tracker.Get(context.Background(), jobID)
	require.NoError(t, err)
	out := make(map[string]entity.RunStatus, len(detail.Stages))
	for _, s := range detail.Stages {
		out[s.Stage] = s.Status
	}
	return out
}

func TestProcess_EndToEndRejected(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	out, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-g1"})
	require.NoError(t, err)

	assert.Equal(t, entity.RunStatusSuccess, out.Status)
	assert.Equal(t, workflow.StatePersisted, out.State)
	assert.Equal(t, []workflow.State{
		workflow.StateReceived, workflow.StateDedupChecked, workflow.StateNormalized,
		workflow.StateConverted, workflow.StateValidated, workflow.StatePersisted,
	}, out.States)
	assert.Equal(t, entity.RateSourceIdentity, out.RateSource)
	require.NotNil(t, out.Validation)
	assert.Equal(t, entity.ValidationRejected, out.Validation.Status)
	require.Len(t, out.Validation.Alerts, 2)
	assert.Equal(t, entity.AlertCodeAgeLimit, out.Validation.Alerts[0].Code)
	assert.Equal(t, entity.AlertCodeCategoryLimit, out.Validation.Alerts[1].Code)

	detail, err := h.tracker.Get(ctx, "job-g1")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSuccess, detail.Run.Status)
	assert.NotNil(t, detail.Run.FinishedAt)
	assert.Equal(t, dedup.Fingerprint(g1()), detail.Run.Fingerprint)
	assert.Contains(t, detail.Run.Meta, entity.MetaKeyValidation)

	require.Len(t, detail.Stages, 5)
	names := make([]string, 0, 5)
	for _, s := range detail.Stages {
		names = append(names, s.Stage)
		assert.Equal(t, entity.RunStatusSuccess, s.Status, s.Stage)
	}
	assert.Equal(t, []string{
		entity.StageDedup, entity.StageNormalize, entity.StageCurrency, entity.StageValidation, entity.StagePersist,
	}, names)

	saved, err := h.expenses.GetByID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, "job-g1", saved.JobID)
	assert.Equal(t, entity.ValidationRejected, saved.ValidationStatus)
	require.NotNil(t, saved.BaseAmount)
	assert.Equal(t, 200.0, *saved.BaseAmount)
	assert.Len(t, saved.ValidationAlerts, 2)
}

func TestProcess_ReplayIsSkipped(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	_, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-1"})
	require.NoError(t, err)

	replay := g1()
	replay.ID = "g1-resent"
	out, err := h.orch.Process(ctx, replay, JobContext{JobID: "job-2"})
	require.NoError(t, err)

	assert.Equal(t, entity.RunStatusSkipped, out.Status)
	assert.Equal(t, entity.ReasonDuplicateFingerprint, out.Reason)
	assert.Equal(t, workflow.StateSkipped, out.State)
	assert.Equal(t, []workflow.State{workflow.StateReceived, workflow.StateSkipped}, out.States)
	assert.Equal(t, 1, h.converter.calls)
	assert.Equal(t, 1, h.validator.calls)

	stages := stageStatuses(t, h, "job-2")
	assert.Equal(t, map[string]entity.RunStatus{entity.StageDedup: entity.RunStatusSkipped}, stages)

	detail, err := h.tracker.Get(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSkipped, detail.Run.Status)
	assert.Contains(t, detail.Run.Meta, entity.MetaKeyDedup)
	require.Len(t, detail.Stages, 1)
	assert.Equal(t, entity.ReasonDuplicateFingerprint, detail.Stages[0].Data["reason"])
	assert.Equal(t, dedup.Fingerprint(g1()), detail.Stages[0].Data["fingerprint"])

	saved, err := h.expenses.GetByID(ctx, "g1-resent")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestProcess_DuplicateAcrossScopesFoundInStore(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	_, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-1", ProcessID: "upload-1"})
	require.NoError(t, err)

	out, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-2", ProcessID: "upload-2"})
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSkipped, out.Status)
	assert.Equal(t, entity.ReasonDuplicateFingerprintDB, out.Reason)

	detail, err := h.tracker.Get(ctx, "job-2")
	require.NoError(t, err)
	require.Len(t, detail.Stages, 1)
	assert.Equal(t, "db", detail.Stages[0].Data["source"])
	assert.Equal(t, true, detail.Stages[0].Data["duplicate"])
	assert.Equal(t, entity.ReasonDuplicateFingerprintDB, detail.Stages[0].Data["reason"])
	assert.Equal(t, "upload-2", detail.Run.Meta[entity.MetaKeyProcessID])
}

func TestProcess_NegativeAmountShortCircuits(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	evt := g1()
	evt.OriginalAmount = -50
	out, err := h.orch.Process(ctx, evt, JobContext{JobID: "job-neg"})
	require.NoError(t, err)

	assert.Equal(t, entity.RunStatusSkipped, out.Status)
	assert.Equal(t, entity.ReasonNegativeAmount, out.Reason)
	assert.Equal(t, workflow.StateNegativeSkipped, out.State)
	assert.Equal(t, []workflow.State{
		workflow.StateReceived, workflow.StateDedupChecked, workflow.StateNegativeSkipped,
	}, out.States)
	assert.Nil(t, out.Validation)
	assert.Zero(t, h.converter.calls)
	assert.Zero(t, h.validator.calls)

	assert.Equal(t, map[string]entity.RunStatus{
		entity.StageDedup:     entity.RunStatusSuccess,
		entity.StageNormalize: entity.RunStatusSkipped,
	}, stageStatuses(t, h, "job-neg"))

	detail, err := h.tracker.Get(ctx, "job-neg")
	require.NoError(t, err)
	flag, ok := detail.Run.Meta[entity.MetaKeyNegativeAmount].(map[string]any)
	require.True(t, ok, "%v", detail.Run.Meta)
	assert.Equal(t, -50.0, flag["monto_original"])

	saved, err := h.expenses.GetByID(ctx, "g1")
	require.NoError(t, err)
	assert.Nil(t, saved)
}

func TestProcess_ConvertsForeignCurrency(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	evt := g1()
	evt.Date = "2025-01-09"
	evt.OriginalAmount = 50
	evt.OriginalCurrency = "EUR"
	out, err := h.orch.Process(ctx, evt, JobContext{JobID: "job-eur"})
	require.NoError(t, err)

	require.NotNil(t, out.BaseAmount)
	assert.Equal(t, 55.0, *out.BaseAmount)
	assert.Equal(t, entity.RateSourceAPI, out.RateSource)
	assert.Equal(t, entity.ValidationApproved, out.Validation.Status)
	assert.Equal(t, 1, h.fx.callCount())

	detail, err := h.tracker.Get(ctx, "job-eur")
	require.NoError(t, err)
	conv := detail.Stages[2]
	assert.Equal(t, entity.StageCurrency, conv.Stage)
	assert.Equal(t, "fake", conv.Data["upstream_rate_source"])
}

func TestProcess_PrecomputedSkipsService(t *testing.T) {
	h := newHarness(t, defaultPolicies())

	evt := g1()
	evt.Date = "2025-01-09"
	evt.OriginalCurrency = "EUR"
	evt.OriginalAmount = 80
	base := 90.123
	evt.BaseAmount = &base

	out, err := h.orch.Process(context.Background(), evt, JobContext{JobID: "job-pre"})
	require.NoError(t, err)

	assert.Equal(t, entity.RateSourcePrecomputed, out.RateSource)
	assert.Equal(t, 90.1, *out.BaseAmount)
	assert.Zero(t, h.fx.callCount())
}

func TestProcess_ConversionFailureFailsRun(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	h.fx.err = errors.New("connection refused")
	ctx := context.Background()

	evt := g1()
	evt.OriginalCurrency = "EUR"
	out, err := h.orch.Process(ctx, evt, JobContext{JobID: "job-fail"})
	require.Error(t, err)
	assert.Nil(t, out)

	var convErr *entity.ConversionServiceError
	assert.True(t, errors.As(err, &convErr))

	detail, err := h.tracker.Get(ctx, "job-fail")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, detail.Run.Status)
	require.Len(t, detail.Stages, 3)
	last := detail.Stages[2]
	assert.Equal(t, entity.StageCurrency, last.Stage)
	assert.Equal(t, entity.RunStatusFailed, last.Status)
	assert.Contains(t, last.Error, "connection refused")
	assert.Zero(t, h.validator.calls)
}

func TestProcess_StoreFailureFailsRun(t *testing.T) {
	h := newHarness(t, defaultPolicies(), withStoreFailure(errors.New("disk full")))
	ctx := context.Background()

	out, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-store"})
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorContains(t, err, "disk full")

	var persistErr *entity.PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, "upsert expense", persistErr.Op)
	assert.False(t, entity.IsInputError(err))

	detail, err := h.tracker.Get(ctx, "job-store")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusFailed, detail.Run.Status)
	assert.NotNil(t, detail.Run.FinishedAt)
	require.Len(t, detail.Stages, 5)
	last := detail.Stages[4]
	assert.Equal(t, entity.StagePersist, last.Stage)
	assert.Equal(t, entity.RunStatusFailed, last.Status)
	assert.Contains(t, last.Error, "disk full")
	assert.Equal(t, entity.RunStatusSuccess, detail.Stages[3].Status)
}

func TestProcess_RuleFailureFailsRun(t *testing.T) {
	tests := []struct {
		name    string
		rule    validation.Rule
		message string
	}{
		{name: "error", rule: erroringRule{}, message: "limit table unavailable"},
		{name: "panic", rule: panickingRule{}, message: "rule panic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, defaultPolicies(), withRules(validation.ExpenseAgeRule{}, tt.rule))
			ctx := context.Background()

			_, err := h.orch.Process(ctx, g1(), JobContext{JobID: "job-rule"})
			require.Error(t, err)

			var ruleErr *entity.RuleEvaluationError
			require.True(t, errors.As(err, &ruleErr))
			assert.Equal(t, tt.rule.Name(), ruleErr.Rule)
			assert.ErrorContains(t, err, tt.message)

			detail, err := h.tracker.Get(ctx, "job-rule")
			require.NoError(t, err)
			assert.Equal(t, entity.RunStatusFailed, detail.Run.Status)

			statuses := stageStatuses(t, h, "job-rule")
			assert.Equal(t, entity.RunStatusFailed, statuses[entity.StageValidation])
			assert.NotContains(t, statuses, entity.StagePersist)

			saved, err := h.expenses.GetByID(ctx, "g1")
			require.NoError(t, err)
			assert.Nil(t, saved)
		})
	}
}

func TestProcess_InvalidDateFailsAtValidation(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	evt := g1()
	evt.Date = "01/10/2024"
	_, err := h.orch.Process(ctx, evt, JobContext{JobID: "job-date"})
	require.Error(t, err)
	assert.True(t, entity.IsInputError(err))

	statuses := stageStatuses(t, h, "job-date")
	assert.Equal(t, entity.RunStatusFailed, statuses[entity.StageValidation])
	assert.NotContains(t, statuses, entity.StagePersist)
}

func TestExecution_FireReportsPermittedTriggers(t *testing.T) {
	ex := &execution{machine: workflow.NewPipelineMachine()}

	err := ex.fire(context.Background(), workflow.TriggerPersist)
	require.Error(t, err)
	assert.True(t, errors.Is(err, workflow.ErrInvalidTransition))
	assert.ErrorContains(t, err, string(workflow.TriggerAdmit))
	assert.ErrorContains(t, err, string(workflow.TriggerRejectDuplicate))
	assert.Equal(t, workflow.StateReceived, ex.machine.State())
}

func TestProcessBatch_CoercesRecords(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	result, err := h.orch.ProcessBatch(ctx, entity.ExpenseBatch{
		ProcessID:  "upload-9",
		BatchIndex: 2,
		Records: []map[string]any{
			{"ID": "r1", "Empleado_ID": "e1", "fecha": "2025-01-09", "monto_original": "1,5",
				"moneda_original": "usd", "categoria": "food", "cost_center": "cc1"},
			{"id": "r2", "empleado_id": "e2", "fecha": "2025-01-08", "monto_original": 20.0,
				"moneda_original": "USD", "categoria": "food", "cost_center": "cc1"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "upload-9", result.ProcessID)

	first := result.Outcomes[0]
	assert.Equal(t, entity.RunStatusSuccess, first.Status)
	assert.Equal(t, 1.5, *first.BaseAmount)

	detail, err := h.tracker.Get(ctx, first.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.PatternExpenseBatch, detail.Run.Pattern)
	assert.Equal(t, "upload-9", detail.Run.Meta[entity.MetaKeyProcessID])
	assert.EqualValues(t, 2, detail.Run.Meta[entity.MetaKeyBatchIndex])
	assert.EqualValues(t, 1, detail.Run.Meta[entity.MetaKeyRecordIndex])
	assert.Contains(t, detail.Run.Meta, entity.MetaKeyCSVRow)
}

func TestProcessBatch_StopsAtInvalidRecord(t *testing.T) {
	h := newHarness(t, defaultPolicies())

	result, err := h.orch.ProcessBatch(context.Background(), entity.ExpenseBatch{
		ProcessID: "upload-3",
		Records: []map[string]any{
			{"id": "r1", "empleado_id": "e1", "fecha": "2025-01-09", "monto_original": 5.0,
				"moneda_original": "USD", "categoria": "food", "cost_center": "cc1"},
			{"id": "r2", "empleado_id": "e1", "fecha": "2025-01-09", "monto_original": 6.0,
				"moneda_original": "USD", "cost_center": "cc1"},
			{"id": "r3", "empleado_id": "e1", "fecha": "2025-01-09", "monto_original": 7.0,
				"moneda_original": "USD", "categoria": "food", "cost_center": "cc1"},
		},
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "record 2")
	assert.ErrorContains(t, err, "categoria")
	assert.True(t, entity.IsInputError(err))

	require.NotNil(t, result)
	assert.Len(t, result.Outcomes, 1)
	assert.Equal(t, 1, h.validator.calls)
}

func TestHandleExpense_UsesEnvelopeID(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	evt, err := event.NewEvent(event.TypeExpenseCreated, g1())
	require.NoError(t, err)
	require.NoError(t, h.orch.handleExpense(ctx, evt))

	detail, err := h.tracker.Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSuccess, detail.Run.Status)
}

func TestHandlers_RejectUndecodablePayload(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	bad := &event.Event{ID: "evt-1", Type: event.TypeExpenseCreated, Payload: json.RawMessage(`"not an object"`)}
	err := h.orch.handleExpense(ctx, bad)
	assert.True(t, entity.IsInputError(err))

	bad.Type = event.TypeExpenseBatch
	err = h.orch.handleBatch(ctx, bad)
	assert.True(t, entity.IsInputError(err))

	runs, err := h.tracker.List(ctx, entity.JobRunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestHandleExpense_RejectsMissingFields(t *testing.T) {
	h := newHarness(t, defaultPolicies())
	ctx := context.Background()

	for _, id := range []string{"x", "y"} {
		evt := &event.Event{ID: "evt-" + id, Type: event.TypeExpenseCreated, Payload: json.RawMessage(`{"id":"` + id + `"}`)}
		err := h.orch.handleExpense(ctx, evt)
		require.Error(t, err, id)
		assert.True(t, entity.IsInputError(err), id)
		assert.True(t, errors.Is(err, entity.ErrMissingFields), id)
		assert.ErrorContains(t, err, "empleado_id")
		assert.ErrorContains(t, err, "monto_original")
	}

	runs, err := h.tracker.List(ctx, entity.JobRunFilter{})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Zero(t, h.converter.calls)

	// No marker was written for the empty triple, so a valid event still runs
	evt, err := event.NewEvent(event.TypeExpenseCreated, g1())
	require.NoError(t, err)
	require.NoError(t, h.orch.handleExpense(ctx, evt))
	detail, err := h.tracker.Get(ctx, evt.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSuccess, detail.Run.Status)
}
