package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/garyjia/expense-pipeline/pkg/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	conn, err := database.OpenMemory(zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewDB(conn.DB, zap.NewNop())
}

func createRun(t *testing.T, repo port.JobRunRepository, jobID string, createdAt time.Time) {
	t.Helper()
	err := repo.CreateRun(context.Background(), &entity.JobRun{
		JobID:       jobID,
		Pattern:     entity.PatternExpenseCreated,
		ExpenseID:   "g1",
		Fingerprint: "fp-" + jobID,
		Status:      entity.RunStatusRunning,
		Meta:        entity.Meta{"id": "g1", "monto_original": 200.0},
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
}

func TestJobRunRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createdAt := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	createRun(t, repo, "job-1", createdAt)

	run, err := repo.GetRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.PatternExpenseCreated, run.Pattern)
	assert.Equal(t, "g1", run.ExpenseID)
	assert.Equal(t, "fp-job-1", run.Fingerprint)
	assert.Equal(t, entity.RunStatusRunning, run.Status)
	assert.Nil(t, run.FinishedAt)
	assert.True(t, createdAt.Equal(run.CreatedAt))
	assert.Equal(t, 200.0, run.Meta["monto_original"])

	_, err = repo.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, entity.ErrRunNotFound)
}

func TestJobRunRepository_StagesInOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createdAt := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	createRun(t, repo, "job-1", createdAt)

	names := []string{entity.StageDedup, entity.StageNormalize, entity.StageCurrency}
	for i, name := range names {
		// Identical timestamps must still come back in start order
		err := repo.StartStage(ctx, &entity.JobRunStage{
			ID:        name + "-id",
			JobID:     "job-1",
			Stage:     name,
			Status:    entity.RunStatusRunning,
			Data:      map[string]any{"n": i},
			CreatedAt: createdAt,
		})
		require.NoError(t, err)
	}

	stages, err := repo.ListStages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stages, 3)
	for i, stage := range stages {
		assert.Equal(t, names[i], stage.Stage)
		assert.Equal(t, float64(i), stage.Data["n"])
	}
}

func TestJobRunRepository_FinishStageOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createRun(t, repo, "job-1", time.Now().UTC())
	require.NoError(t, repo.StartStage(ctx, &entity.JobRunStage{
		ID: "s1", JobID: "job-1", Stage: entity.StageDedup, Status: entity.RunStatusRunning,
		Data: map[string]any{"ttlSeconds": 86400}, CreatedAt: time.Now().UTC(),
	}))

	err := repo.FinishStage(ctx, port.StageFinish{StageID: "s1", Status: entity.RunStatusSkipped})
	require.NoError(t, err)

	err = repo.FinishStage(ctx, port.StageFinish{StageID: "s1", Status: entity.RunStatusFailed, Error: "late"})
	assert.ErrorIs(t, err, entity.ErrStageAlreadyFinished)

	err = repo.FinishStage(ctx, port.StageFinish{StageID: "missing", Status: entity.RunStatusFailed})
	assert.ErrorIs(t, err, entity.ErrStageNotFound)

	stages, err := repo.ListStages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, entity.RunStatusSkipped, stages[0].Status)
	assert.NotNil(t, stages[0].FinishedAt)
	assert.Empty(t, stages[0].Error)
	// No finish data keeps the start data
	assert.Equal(t, float64(86400), stages[0].Data["ttlSeconds"])
}

func TestJobRunRepository_FinishStageReplacesData(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createRun(t, repo, "job-1", time.Now().UTC())
	require.NoError(t, repo.StartStage(ctx, &entity.JobRunStage{
		ID: "s1", JobID: "job-1", Stage: entity.StageCurrency, Status: entity.RunStatusRunning,
		Data: map[string]any{"moneda_original": "USD"}, CreatedAt: time.Now().UTC(),
	}))

	require.NoError(t, repo.FinishStage(ctx, port.StageFinish{
		StageID: "s1",
		Status:  entity.RunStatusFailed,
		Data:    map[string]any{"baseAmount": 12.3},
		Error:   "upstream 502",
	}))

	stages, err := repo.ListStages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, "upstream 502", stages[0].Error)
	assert.Equal(t, map[string]any{"baseAmount": 12.3}, stages[0].Data)
}

func TestJobRunRepository_MergeMeta(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createRun(t, repo, "job-1", time.Now().UTC())

	require.NoError(t, repo.MergeMeta(ctx, "job-1", entity.Meta{
		"dedup": map[string]any{"skipped": true, "reason": "duplicate_fingerprint"},
	}))
	require.NoError(t, repo.MergeMeta(ctx, "job-1", entity.Meta{
		"dedup": map[string]any{"skipped": false},
	}))

	run, err := repo.GetRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "g1", run.Meta["id"])
	// Shallow: the second patch replaces the whole dedup value
	assert.Equal(t, map[string]any{"skipped": false}, run.Meta["dedup"])

	err = repo.MergeMeta(ctx, "missing", entity.Meta{"x": 1})
	assert.ErrorIs(t, err, entity.ErrRunNotFound)
}

func TestJobRunRepository_FinishRunOnce(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	createRun(t, repo, "job-1", time.Now().UTC())

	require.NoError(t, repo.FinishRun(ctx, "job-1", entity.RunStatusSuccess))
	assert.ErrorIs(t, repo.FinishRun(ctx, "job-1", entity.RunStatusFailed), entity.ErrRunAlreadyFinished)
	assert.ErrorIs(t, repo.FinishRun(ctx, "missing", entity.RunStatusFailed), entity.ErrRunNotFound)

	run, err := repo.GetRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSuccess, run.Status)
	assert.NotNil(t, run.FinishedAt)
}

func TestJobRunRepository_ListRuns(t *testing.T) {
	ctx := context.Background()
	repo := NewJobRunRepository(newTestDB(t), zap.NewNop())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		createRun(t, repo, id, base.Add(time.Duration(i)*time.Minute))
	}
	require.NoError(t, repo.FinishRun(ctx, "a", entity.RunStatusSkipped))

	runs, err := repo.ListRuns(ctx, entity.JobRunFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].JobID)
	assert.Equal(t, "b", runs[1].JobID)

	runs, err = repo.ListRuns(ctx, entity.JobRunFilter{Status: entity.RunStatusSkipped, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].JobID)
}

func TestExpenseRepository_UpsertAndFingerprint(t *testing.T) {
	ctx := context.Background()
	repo := NewExpenseRepository(newTestDB(t), zap.NewNop())
	base := 200.0
	rate := 1.0
	expense := &entity.PersistedExpense{
		ID:               "g1",
		JobID:            "job-1",
		EmployeeID:       "e1",
		Date:             "2024-10-01",
		OriginalAmount:   200,
		OriginalCurrency: "USD",
		Category:         "food",
		CostCenter:       "cc1",
		Fingerprint:      "fp1",
		BaseAmount:       &base,
		ExchangeRate:     &rate,
		ValidationStatus: entity.ValidationRejected,
		ValidationAlerts: []entity.Alert{{Code: entity.AlertCodeAgeLimit, Message: "old"}},
		CreatedAt:        time.Now().UTC(),
	}

	exists, err := repo.ExistsByFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Upsert(ctx, expense))

	exists, err = repo.ExistsByFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.True(t, exists)

	got, err := repo.GetByID(ctx, "g1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 200.0, *got.BaseAmount)
	assert.Equal(t, entity.ValidationRejected, got.ValidationStatus)
	require.Len(t, got.ValidationAlerts, 1)
	assert.Equal(t, entity.AlertCodeAgeLimit, got.ValidationAlerts[0].Code)

	// Same id replaces the row
	expense.JobID = "job-2"
	expense.ExchangeRate = nil
	expense.ValidationAlerts = nil
	require.NoError(t, repo.Upsert(ctx, expense))

	got, err = repo.GetByID(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "job-2", got.JobID)
	assert.Nil(t, got.ExchangeRate)
	assert.Empty(t, got.ValidationAlerts)

	missing, err := repo.GetByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestPolicyRepository_SaveAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewPolicyRepository(newTestDB(t), zap.NewNop())

	current, err := repo.GetCurrent(ctx)
	require.NoError(t, err)
	assert.Nil(t, current)

	policies := &entity.Policies{
		BaseCurrency: "USD",
		AgeLimits:    entity.AgeLimits{PendingDays: 30, RejectedDays: 60},
		CategoryLimits: map[string]entity.CategoryLimit{
			"food": {ApprovedUpTo: 100, PendingUpTo: 150},
		},
	}
	require.NoError(t, repo.SaveCurrent(ctx, policies))

	policies.BaseCurrency = "CLP"
	require.NoError(t, repo.SaveCurrent(ctx, policies))

	current, err = repo.GetCurrent(ctx)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, "CLP", current.BaseCurrency)
	assert.Equal(t, 150.0, current.CategoryLimits["food"].PendingUpTo)
}

func TestDB_WithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	repo := NewJobRunRepository(db, zap.NewNop())

	err := db.WithTransaction(ctx, func(ctx context.Context) error {
		createRunCtx(t, ctx, repo, "job-tx")
		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)

	_, err = repo.GetRun(ctx, "job-tx")
	assert.ErrorIs(t, err, entity.ErrRunNotFound)
}

func createRunCtx(t *testing.T, ctx context.Context, repo port.JobRunRepository, jobID string) {
	t.Helper()
	require.NoError(t, repo.CreateRun(ctx, &entity.JobRun{
		JobID:     jobID,
		Pattern:   entity.PatternExpenseCreated,
		Status:    entity.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}))
}
