package port

import (
	"context"

	"github.com/garyjia/expense-pipeline/internal/domain/entity"
)

// ExpenseStore is the authoritative store of accepted expenses
type ExpenseStore interface {
	ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error)
	Upsert(ctx context.Context, expense *entity.PersistedExpense) error
	GetByID(ctx context.Context, id string) (*entity.PersistedExpense, error)
}

// StageFinish describes how a running stage ends
type StageFinish struct {
	StageID string
	Status  entity.RunStatus
	Data    map[string]any
	Error   string
}

// JobRunRepository persists runs and their stages.
// FinishStage and FinishRun only affect rows still in running state and
// report ErrStageAlreadyFinished / ErrRunAlreadyFinished otherwise.
type JobRunRepository interface {
	CreateRun(ctx context.Context, run *entity.JobRun) error
	StartStage(ctx context.Context, stage *entity.JobRunStage) error
	FinishStage(ctx context.Context, finish StageFinish) error
	MergeMeta(ctx context.Context, jobID string, patch entity.Meta) error
	FinishRun(ctx context.Context, jobID string, status entity.RunStatus) error
	GetRun(ctx context.Context, jobID string) (*entity.JobRun, error)
	ListStages(ctx context.Context, jobID string) ([]*entity.JobRunStage, error)
	ListRuns(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error)
}

// PolicyRepository stores the current policy document
type PolicyRepository interface {
	// GetCurrent returns nil, nil when no document has been stored
	GetCurrent(ctx context.Context) (*entity.Policies, error)
	SaveCurrent(ctx context.Context, policies *entity.Policies) error
}

// TransactionManager handles database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
