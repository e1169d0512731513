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

const currentPolicyName = "current"

// PolicyRepository implements port.PolicyRepository
type PolicyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyRepository creates a new policy repository
func NewPolicyRepository(db *DB, logger *zap.Logger) port.PolicyRepository {
	return &PolicyRepository{
		db:     db,
		logger: logger,
	}
}

// GetCurrent returns the stored document, or nil, nil when there is none
func (r *PolicyRepository) GetCurrent(ctx context.Context) (*entity.Policies, error) {
	var document string
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		"SELECT document FROM validation_policies WHERE name = ?", currentPolicyName,
	).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to load policies", zap.Error(err))
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	var policies entity.Policies
	if err := json.Unmarshal([]byte(document), &policies); err != nil {
		return nil, fmt.Errorf("failed to decode policies: %w", err)
	}
	return &policies, nil
}

// SaveCurrent replaces the stored document
func (r *PolicyRepository) SaveCurrent(ctx context.Context, policies *entity.Policies) error {
	document, err := json.Marshal(policies)
	if err != nil {
		return fmt.Errorf("failed to encode policies: %w", err)
	}

	query := `
		INSERT INTO validation_policies (name, document, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at
	`
	if _, err := r.db.getExecutor(ctx).ExecContext(ctx, query, currentPolicyName, string(document), time.Now().UTC()); err != nil {
		r.logger.Error("Failed to save policies", zap.Error(err))
		return fmt.Errorf("failed to save policies: %w", err)
	}
	return nil
}

// Verify interface compliance
var _ port.PolicyRepository = (*PolicyRepository)(nil)
