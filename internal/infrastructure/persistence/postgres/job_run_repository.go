package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// JobRunRepository implements port.JobRunRepository using pgxpool
type JobRunRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewJobRunRepository creates a new job run repository
func NewJobRunRepository(pool *pgxpool.Pool, logger *zap.Logger) port.JobRunRepository {
	return &JobRunRepository{
		BaseRepository: BaseRepository{Pool: pool},
		logger:         logger,
	}
}

func (r *JobRunRepository) CreateRun(ctx context.Context, run *entity.JobRun) error {
	meta, err := jsonArg(run.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode run meta: %w", err)
	}
	if meta == nil {
		empty := "{}"
		meta = &empty
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO job_runs (job_id, pattern, expense_id, fingerprint, status, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7)`,
		run.JobID, run.Pattern, optionalText(run.ExpenseID), optionalText(run.Fingerprint),
		string(run.Status), *meta, run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create job run", zap.String("job_id", run.JobID), zap.Error(err))
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

func (r *JobRunRepository) StartStage(ctx context.Context, stage *entity.JobRunStage) error {
	data, err := jsonArg(stage.Data)
	if err != nil {
		return fmt.Errorf("failed to encode stage data: %w", err)
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO job_run_stages (id, job_id, stage, status, data, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)`,
		stage.ID, stage.JobID, stage.Stage, string(stage.Status), data, stage.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to start stage",
			zap.String("job_id", stage.JobID),
			zap.String("stage", stage.Stage),
			zap.Error(err))
		return fmt.Errorf("failed to start stage %s: %w", stage.Stage, err)
	}
	return nil
}

func (r *JobRunRepository) FinishStage(ctx context.Context, finish port.StageFinish) error {
	data, err := jsonArg(finish.Data)
	if err != nil {
		return fmt.Errorf("failed to encode stage data: %w", err)
	}

	tag, err := r.Pool.Exec(ctx, `
		UPDATE job_run_stages
		SET status = $1, finished_at = $2, data = COALESCE($3::jsonb, data), error = $4
		WHERE id = $5 AND status = 'running'`,
		string(finish.Status), time.Now().UTC(), data, optionalText(finish.Error), finish.StageID,
	)
	if err != nil {
		r.logger.Error("Failed to finish stage", zap.String("stage_id", finish.StageID), zap.Error(err))
		return fmt.Errorf("failed to finish stage: %w", err)
	}

	return r.checkFinished(ctx, tag, "SELECT status FROM job_run_stages WHERE id = $1", finish.StageID,
		entity.ErrStageNotFound, entity.ErrStageAlreadyFinished)
}

// MergeMeta relies on jsonb || which replaces top-level keys only
func (r *JobRunRepository) MergeMeta(ctx context.Context, jobID string, patch entity.Meta) error {
	raw, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode meta patch: %w", err)
	}

	tag, err := r.Pool.Exec(ctx,
		"UPDATE job_runs SET meta = meta || $2::jsonb WHERE job_id = $1",
		jobID, string(raw),
	)
	if err != nil {
		r.logger.Error("Failed to merge run meta", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("failed to merge run meta: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrRunNotFound
	}
	return nil
}

func (r *JobRunRepository) FinishRun(ctx context.Context, jobID string, status entity.RunStatus) error {
	tag, err := r.Pool.Exec(ctx, `
		UPDATE job_runs SET status = $1, finished_at = $2
		WHERE job_id = $3 AND status = 'running'`,
		string(status), time.Now().UTC(), jobID,
	)
	if err != nil {
		r.logger.Error("Failed to finish job run", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("failed to finish job run: %w", err)
	}

	return r.checkFinished(ctx, tag, "SELECT status FROM job_runs WHERE job_id = $1", jobID,
		entity.ErrRunNotFound, entity.ErrRunAlreadyFinished)
}

func (r *JobRunRepository) GetRun(ctx context.Context, jobID string) (*entity.JobRun, error) {
	row := r.Pool.QueryRow(ctx, `
		SELECT job_id, pattern, expense_id, fingerprint, status, finished_at, meta, created_at
		FROM job_runs WHERE job_id = $1`, jobID)

	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrRunNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get job run", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

func (r *JobRunRepository) ListStages(ctx context.Context, jobID string) ([]*entity.JobRunStage, error) {
	rows, err := r.Pool.Query(ctx, `
		SELECT id, job_id, stage, status, finished_at, data, error, created_at
		FROM job_run_stages WHERE job_id = $1 ORDER BY seq ASC`, jobID)
	if err != nil {
		r.logger.Error("Failed to list stages", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*entity.JobRunStage
	for rows.Next() {
		var stage entity.JobRunStage
		var status string
		var data []byte
		var errMsg *string

		if err := rows.Scan(&stage.ID, &stage.JobID, &stage.Stage, &status,
			&stage.FinishedAt, &data, &errMsg, &stage.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stage.Status = entity.RunStatus(status)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &stage.Data); err != nil {
				return nil, fmt.Errorf("failed to decode stage data: %w", err)
			}
		}
		if errMsg != nil {
			stage.Error = *errMsg
		}
		stages = append(stages, &stage)
	}
	return stages, rows.Err()
}

func (r *JobRunRepository) ListRuns(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.Pool.Query(ctx, `
		SELECT job_id, pattern, expense_id, fingerprint, status, finished_at, meta, created_at
		FROM job_runs
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2`, string(filter.Status), limit)
	if err != nil {
		r.logger.Error("Failed to list job runs", zap.Error(err))
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*entity.JobRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *JobRunRepository) checkFinished(ctx context.Context, tag pgconn.CommandTag, query, id string, notFound, finished error) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	var status string
	err := r.Pool.QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to check status: %w", err)
	}
	return finished
}

func scanRun(row pgx.Row) (*entity.JobRun, error) {
	var run entity.JobRun
	var expenseID, fingerprint *string
	var status string
	var meta []byte

	if err := row.Scan(&run.JobID, &run.Pattern, &expenseID, &fingerprint, &status,
		&run.FinishedAt, &meta, &run.CreatedAt); err != nil {
		return nil, err
	}

	run.Status = entity.RunStatus(status)
	if expenseID != nil {
		run.ExpenseID = *expenseID
	}
	if fingerprint != nil {
		run.Fingerprint = *fingerprint
	}
	run.Meta = entity.Meta{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &run.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode run meta: %w", err)
		}
	}
	return &run, nil
}

var _ port.JobRunRepository = (*JobRunRepository)(nil)
