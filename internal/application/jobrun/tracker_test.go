package jobrun

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeRunRepo keeps runs in memory and applies the same finish-once rules as the real stores
type fakeRunRepo struct {
	mu     sync.Mutex
	runs   map[string]*entity.JobRun
	stages map[string]*entity.JobRunStage
	order  []string
	err    error
	// finishFailures makes the next n FinishStage calls fail
	finishFailures int
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{
		runs:   make(map[string]*entity.JobRun),
		stages: make(map[string]*entity.JobRunStage),
	}
}

func (r *fakeRunRepo) CreateRun(ctx context.Context, run *entity.JobRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	cp := *run
	r.runs[run.JobID] = &cp
	return nil
}

func (r *fakeRunRepo) StartStage(ctx context.Context, stage *entity.JobRunStage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[stage.JobID]; !ok {
		return entity.ErrRunNotFound
	}
	cp := *stage
	r.stages[stage.ID] = &cp
	r.order = append(r.order, stage.ID)
	return nil
}

func (r *fakeRunRepo) FinishStage(ctx context.Context, finish port.StageFinish) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finishFailures > 0 {
		r.finishFailures--
		return errors.New("database is locked")
	}
	stage, ok := r.stages[finish.StageID]
	if !ok {
		return entity.ErrStageNotFound
	}
	if stage.Status != entity.RunStatusRunning {
		return entity.ErrStageAlreadyFinished
	}
	now := time.Now()
	stage.Status = finish.Status
	stage.Data = finish.Data
	stage.Error = finish.Error
	stage.FinishedAt = &now
	return nil
}

func (r *fakeRunRepo) MergeMeta(ctx context.Context, jobID string, patch entity.Meta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[jobID]
	if !ok {
		return entity.ErrRunNotFound
	}
	run.Meta = run.Meta.Merge(patch)
	return nil
}

func (r *fakeRunRepo) FinishRun(ctx context.Context, jobID string, status entity.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[jobID]
	if !ok {
		return entity.ErrRunNotFound
	}
	if run.Status != entity.RunStatusRunning {
		return entity.ErrRunAlreadyFinished
	}
	now := time.Now()
	run.Status = status
	run.FinishedAt = &now
	return nil
}

func (r *fakeRunRepo) GetRun(ctx context.Context, jobID string) (*entity.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[jobID]
	if !ok {
		return nil, entity.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (r *fakeRunRepo) ListStages(ctx context.Context, jobID string) ([]*entity.JobRunStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.JobRunStage
	for _, id := range r.order {
		if s := r.stages[id]; s.JobID == jobID {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeRunRepo) ListRuns(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*entity.JobRun
	for _, run := range r.runs {
		if filter.Status == "" || run.Status == filter.Status {
			cp := *run
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func TestTracker_CreateRun(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	fixed := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	tracker.SetClock(func() time.Time { return fixed })

	run, err := tracker.CreateRun(ctx, RunSpec{
		JobID:       "job-1",
		Pattern:     entity.PatternExpenseCreated,
		ExpenseID:   "g1",
		Fingerprint: "abc",
		Meta:        entity.Meta{"id": "g1"},
	})
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusRunning, run.Status)
	assert.Equal(t, fixed, run.CreatedAt)

	stored, err := repo.GetRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "abc", stored.Fingerprint)
	assert.Equal(t, "g1", stored.Meta["id"])
}

func TestTracker_CreateRunGeneratesID(t *testing.T) {
	tracker := NewTracker(newFakeRunRepo(), zap.NewNop())

	run, err := tracker.CreateRun(context.Background(), RunSpec{Pattern: entity.PatternExpenseBatch})
	require.NoError(t, err)
	assert.Len(t, run.JobID, 36)
	assert.NotNil(t, run.Meta)
}

func TestTracker_CreateRunWrapsStoreError(t *testing.T) {
	repo := newFakeRunRepo()
	repo.err = errors.New("disk full")
	tracker := NewTracker(repo, zap.NewNop())

	_, err := tracker.CreateRun(context.Background(), RunSpec{JobID: "job-1"})
	var persistErr *entity.PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "create run", persistErr.Op)
}

func TestTracker_StageFinishesOnce(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1"})
	require.NoError(t, err)

	stage, err := tracker.StartStage(ctx, "job-1", entity.StageDedup, map[string]any{"ttlSeconds": 86400})
	require.NoError(t, err)
	assert.True(t, stage.Open())

	require.NoError(t, stage.Succeed(ctx, map[string]any{"fingerprint": "abc"}))
	assert.False(t, stage.Open())
	// A deferred Fail after success leaves the stage untouched
	require.NoError(t, stage.Fail(ctx, errors.New("late")))

	stages, err := repo.ListStages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, entity.RunStatusSuccess, stages[0].Status)
	assert.Equal(t, "abc", stages[0].Data["fingerprint"])
	assert.Empty(t, stages[0].Error)

	err = tracker.FinishStage(ctx, stage.ID(), entity.RunStatusFailed, nil, "again")
	assert.ErrorIs(t, err, entity.ErrStageAlreadyFinished)
}

func TestTracker_StageStaysOpenAfterFailedWrite(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1"})
	require.NoError(t, err)

	stage, err := tracker.StartStage(ctx, "job-1", entity.StagePersist, nil)
	require.NoError(t, err)

	repo.finishFailures = 1
	require.Error(t, stage.Succeed(ctx, map[string]any{"expenseId": "g1"}))
	assert.True(t, stage.Open())

	require.NoError(t, stage.Fail(ctx, errors.New("write lost")))
	assert.False(t, stage.Open())

	stages, err := repo.ListStages(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, entity.RunStatusFailed, stages[0].Status)
	assert.Equal(t, "write lost", stages[0].Error)
}

func TestTracker_StageClosesWhenStoreAlreadyFinished(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1"})
	require.NoError(t, err)

	stage, err := tracker.StartStage(ctx, "job-1", entity.StageDedup, nil)
	require.NoError(t, err)
	require.NoError(t, tracker.FinishStage(ctx, stage.ID(), entity.RunStatusSkipped, nil, ""))

	require.NoError(t, stage.Fail(ctx, errors.New("late")))
	assert.False(t, stage.Open())

	stages, _ := repo.ListStages(ctx, "job-1")
	require.Len(t, stages, 1)
	assert.Equal(t, entity.RunStatusSkipped, stages[0].Status)
}

func TestTracker_StageFailRecordsMessage(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1"})
	require.NoError(t, err)

	stage, err := tracker.StartStage(ctx, "job-1", entity.StageCurrency, nil)
	require.NoError(t, err)
	require.NoError(t, stage.Fail(ctx, errors.New("upstream 502")))

	stages, _ := repo.ListStages(ctx, "job-1")
	require.Len(t, stages, 1)
	assert.Equal(t, entity.RunStatusFailed, stages[0].Status)
	assert.Equal(t, "upstream 502", stages[0].Error)
}

func TestTracker_RejectsNonTerminalStatus(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(newFakeRunRepo(), zap.NewNop())

	err := tracker.FinishRun(ctx, "job-1", entity.RunStatusRunning)
	assert.ErrorIs(t, err, entity.ErrInvalidRunStatus)

	err = tracker.FinishStage(ctx, "stage-1", entity.RunStatus("done"), nil, "")
	assert.ErrorIs(t, err, entity.ErrInvalidRunStatus)
}

func TestTracker_FinishRunOnce(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(newFakeRunRepo(), zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1"})
	require.NoError(t, err)

	require.NoError(t, tracker.FinishRun(ctx, "job-1", entity.RunStatusSkipped))
	err = tracker.FinishRun(ctx, "job-1", entity.RunStatusFailed)
	assert.ErrorIs(t, err, entity.ErrRunAlreadyFinished)

	detail, err := tracker.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, entity.RunStatusSkipped, detail.Run.Status)
	assert.NotNil(t, detail.Run.FinishedAt)
}

func TestTracker_MergeMeta(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRunRepo()
	tracker := NewTracker(repo, zap.NewNop())
	_, err := tracker.CreateRun(ctx, RunSpec{JobID: "job-1", Meta: entity.Meta{"id": "g1", "dedup": "old"}})
	require.NoError(t, err)

	require.NoError(t, tracker.MergeMeta(ctx, "job-1", entity.Meta{"dedup": map[string]any{"skipped": true}}))
	require.NoError(t, tracker.MergeMeta(ctx, "job-1", nil))

	run, _ := repo.GetRun(ctx, "job-1")
	assert.Equal(t, "g1", run.Meta["id"])
	assert.Equal(t, map[string]any{"skipped": true}, run.Meta["dedup"])

	err = tracker.MergeMeta(ctx, "missing", entity.Meta{"x": 1})
	assert.ErrorIs(t, err, entity.ErrRunNotFound)
}

func TestTracker_List(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(newFakeRunRepo(), zap.NewNop())
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		at := base.Add(time.Duration(i) * time.Minute)
		tracker.SetClock(func() time.Time { return at })
		_, err := tracker.CreateRun(ctx, RunSpec{JobID: id})
		require.NoError(t, err)
	}
	require.NoError(t, tracker.FinishRun(ctx, "b", entity.RunStatusSuccess))

	runs, err := tracker.List(ctx, entity.JobRunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].JobID)

	runs, err = tracker.List(ctx, entity.JobRunFilter{Status: entity.RunStatusSuccess, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].JobID)

	_, err = tracker.List(ctx, entity.JobRunFilter{Status: "bogus"})
	assert.ErrorIs(t, err, entity.ErrInvalidRunStatus)
}
