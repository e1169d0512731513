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
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PolicyRepository implements port.PolicyRepository using pgxpool
type PolicyRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(pool *pgxpool.Pool, logger *zap.Logger) port.PolicyRepository {
	return &PolicyRepository{
		BaseRepository: BaseRepository{Pool: pool},
		logger:         logger,
	}
}

func (r *PolicyRepository) GetCurrent(ctx context.Context) (*entity.Policies, error) {
	var document []byte
	err := r.Pool.QueryRow(ctx,
		"SELECT document FROM validation_policies WHERE name = 'current'",
	).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load policies", zap.Error(err))
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	var policies entity.Policies
	if err := json.Unmarshal(document, &policies); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return &policies, nil
}

func (r *PolicyRepository) SaveCurrent(ctx context.Context, policies *entity.Policies) error {
	document, err := json.Marshal(policies)
	if err != nil {
		return fmt.Errorf("failed to encode policies: %w", err)
	}

	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	_, err = tx.Exec(ctx, `
		INSERT INTO validation_policies (name, document, updated_at)
		VALUES ('current', $1::jsonb, $2)
		ON CONFLICT (name) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at`,
		string(document), time.Now().UTC(),
	)
	if err != nil {
		r.logger.Error("Failed to save policies", zap.Error(err))
		return fmt.Errorf("failed to save policies: %w", err)
	}

	return r.Commit(ctx, tx)
}

var _ port.PolicyRepository = (*PolicyRepository)(nil)
