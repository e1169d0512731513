package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// JobRunRepository implements port.JobRunRepository
type JobRunRepository struct {
	db     *DB
	logger *zap.Logger
	now    func() time.Time
}

// NewJobRunRepository creates a new job run repository
func NewJobRunRepository(db *DB, logger *zap.Logger) port.JobRunRepository {
	return &JobRunRepository{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun inserts a run
func (r *JobRunRepository) CreateRun(ctx context.Context, run *entity.JobRun) error {
	meta, err := toJSON(run.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode run meta: %w", err)
	}
	if !meta.Valid {
		meta = sql.NullString{String: "{}", Valid: true}
	}

	query := `
		INSERT INTO job_runs (
			job_id, pattern, expense_id, fingerprint, status, meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.getExecutor(ctx).ExecContext(ctx, query,
		run.JobID,
		run.Pattern,
		nullString(run.ExpenseID),
		nullString(run.Fingerprint),
		run.Status,
		meta.String,
		run.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create job run", zap.String("job_id", run.JobID), zap.Error(err))
		return fmt.Errorf("failed to create job run: %w", err)
	}
	return nil
}

// StartStage inserts a running stage after the last stage of its run
func (r *JobRunRepository) StartStage(ctx context.Context, stage *entity.JobRunStage) error {
	data, err := toJSON(stage.Data)
	if err != nil {
		return fmt.Errorf("failed to encode stage data: %w", err)
	}

	query := `
		INSERT INTO job_run_stages (id, seq, job_id, stage, status, data, created_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM job_run_stages WHERE job_id = ?), ?, ?, ?, ?, ?)
	`

	_, err = r.db.getExecutor(ctx).ExecContext(ctx, query,
		stage.ID,
		stage.JobID,
		stage.JobID,
		stage.Stage,
		stage.Status,
		data,
		stage.CreatedAt,
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

// FinishStage closes a running stage
func (r *JobRunRepository) FinishStage(ctx context.Context, finish port.StageFinish) error {
	data, err := toJSON(finish.Data)
	if err != nil {
		return fmt.Errorf("failed to encode stage data: %w", err)
	}

	// Data given at finish replaces the start data; none keeps it
	query := `
		UPDATE job_run_stages
		SET status = ?, finished_at = ?, data = COALESCE(?, data), error = ?
		WHERE id = ? AND status = 'running'
	`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query,
		finish.Status,
		r.now(),
		data,
		nullString(finish.Error),
		finish.StageID,
	)
	if err != nil {
		r.logger.Error("Failed to finish stage", zap.String("stage_id", finish.StageID), zap.Error(err))
		return fmt.Errorf("failed to finish stage: %w", err)
	}

	return r.checkFinished(ctx, result, "job_run_stages", "id", finish.StageID,
		entity.ErrStageNotFound, entity.ErrStageAlreadyFinished)
}

// MergeMeta shallow-merges patch into the stored meta in one transaction
func (r *JobRunRepository) MergeMeta(ctx context.Context, jobID string, patch entity.Meta) error {
	return r.db.WithTransaction(ctx, func(ctx context.Context) error {
		exec := r.db.getExecutor(ctx)

		var raw string
		err := exec.QueryRowContext(ctx, "SELECT meta FROM job_runs WHERE job_id = ?", jobID).Scan(&raw)
		if errors.Is(err, sql.ErrNoRows) {
			return entity.ErrRunNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read run meta: %w", err)
		}

		current := entity.Meta{}
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &current); err != nil {
				return fmt.Errorf("failed to decode run meta: %w", err)
			}
		}

		merged, err := json.Marshal(current.Merge(patch))
		if err != nil {
			return fmt.Errorf("failed to encode run meta: %w", err)
		}

		if _, err := exec.ExecContext(ctx, "UPDATE job_runs SET meta = ? WHERE job_id = ?", string(merged), jobID); err != nil {
			r.logger.Error("Failed to merge run meta", zap.String("job_id", jobID), zap.Error(err))
			return fmt.Errorf("failed to merge run meta: %w", err)
		}
		return nil
	})
}

// FinishRun closes a running run
func (r *JobRunRepository) FinishRun(ctx context.Context, jobID string, status entity.RunStatus) error {
	query := `
		UPDATE job_runs
		SET status = ?, finished_at = ?
		WHERE job_id = ? AND status = 'running'
	`

	result, err := r.db.getExecutor(ctx).ExecContext(ctx, query, status, r.now(), jobID)
	if err != nil {
		r.logger.Error("Failed to finish job run", zap.String("job_id", jobID), zap.Error(err))
		return fmt.Errorf("failed to finish job run: %w", err)
	}

	return r.checkFinished(ctx, result, "job_runs", "job_id", jobID,
		entity.ErrRunNotFound, entity.ErrRunAlreadyFinished)
}

// GetRun retrieves a run by job id
func (r *JobRunRepository) GetRun(ctx context.Context, jobID string) (*entity.JobRun, error) {
	query := `
		SELECT job_id, pattern, expense_id, fingerprint, status, finished_at, meta, created_at
		FROM job_runs
		WHERE job_id = ?
	`

	run, err := scanRun(r.db.getExecutor(ctx).QueryRowContext(ctx, query, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrRunNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get job run", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

// ListStages returns the stages of a run in the order they were started
func (r *JobRunRepository) ListStages(ctx context.Context, jobID string) ([]*entity.JobRunStage, error) {
	query := `
		SELECT id, job_id, stage, status, finished_at, data, error, created_at
		FROM job_run_stages
		WHERE job_id = ?
		ORDER BY seq ASC
	`

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, jobID)
	if err != nil {
		r.logger.Error("Failed to list stages", zap.String("job_id", jobID), zap.Error(err))
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*entity.JobRunStage
	for rows.Next() {
		var stage entity.JobRunStage
		var finishedAt sql.NullTime
		var data, errMsg sql.NullString

		if err := rows.Scan(
			&stage.ID,
			&stage.JobID,
			&stage.Stage,
			&stage.Status,
			&finishedAt,
			&data,
			&errMsg,
			&stage.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}

		if finishedAt.Valid {
			stage.FinishedAt = &finishedAt.Time
		}
		if data.Valid {
			if err := json.Unmarshal([]byte(data.String), &stage.Data); err != nil {
				return nil, fmt.Errorf("failed to decode stage data: %w", err)
			}
		}
		stage.Error = errMsg.String

		stages = append(stages, &stage)
	}

	return stages, rows.Err()
}

// ListRuns returns runs newest first
func (r *JobRunRepository) ListRuns(ctx context.Context, filter entity.JobRunFilter) ([]*entity.JobRun, error) {
	query := `
		SELECT job_id, pattern, expense_id, fingerprint, status, finished_at, meta, created_at
		FROM job_runs
		WHERE (? = '' OR status = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.getExecutor(ctx).QueryContext(ctx, query, filter.Status, filter.Status, limit)
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

// checkFinished maps a zero-row conditional update to not-found or already-finished
func (r *JobRunRepository) checkFinished(ctx context.Context, result sql.Result, table, column, id string, notFound, finished error) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	query := fmt.Sprintf("SELECT status FROM %s WHERE %s = ?", table, column)
	err = r.db.getExecutor(ctx).QueryRowContext(ctx, query, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return notFound
	}
	if err != nil {
		return fmt.Errorf("failed to check %s status: %w", table, err)
	}
	return finished
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*entity.JobRun, error) {
	var run entity.JobRun
	var expenseID, fingerprint sql.NullString
	var finishedAt sql.NullTime
	var meta string

	if err := row.Scan(
		&run.JobID,
		&run.Pattern,
		&expenseID,
		&fingerprint,
		&run.Status,
		&finishedAt,
		&meta,
		&run.CreatedAt,
	); err != nil {
		return nil, err
	}

	run.ExpenseID = expenseID.String
	run.Fingerprint = fingerprint.String
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	run.Meta = entity.Meta{}
	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &run.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode run meta: %w", err)
		}
	}
	return &run, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Verify interface compliance
var _ port.JobRunRepository = (*JobRunRepository)(nil)
