package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ExpenseRepository implements port.ExpenseStore using pgxpool
type ExpenseRepository struct {
	BaseRepository
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(pool *pgxpool.Pool, logger *zap.Logger) port.ExpenseStore {
	return &ExpenseRepository{
		BaseRepository: BaseRepository{Pool: pool},
		logger:         logger,
	}
}

func (r *ExpenseRepository) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM expenses WHERE fingerprint = $1)", fingerprint,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check fingerprint", zap.String("fingerprint", fingerprint), zap.Error(err))
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

func (r *ExpenseRepository) Upsert(ctx context.Context, expense *entity.PersistedExpense) error {
	alerts := expense.ValidationAlerts
	if alerts == nil {
		alerts = []entity.Alert{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to encode alerts: %w", err)
	}

	_, err = r.Pool.Exec(ctx, `
		INSERT INTO expenses (
			id, job_id, empleado_id, fecha, monto_original, moneda_original,
			categoria, cost_center, fingerprint, negative_amount_detected,
			monto_base, tipo_cambio, validation_status, validation_alerts,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15, $15)
		ON CONFLICT (id) DO UPDATE SET
			job_id = EXCLUDED.job_id,
			empleado_id = EXCLUDED.empleado_id,
			fecha = EXCLUDED.fecha,
			monto_original = EXCLUDED.monto_original,
			moneda_original = EXCLUDED.moneda_original,
			categoria = EXCLUDED.categoria,
			cost_center = EXCLUDED.cost_center,
			fingerprint = EXCLUDED.fingerprint,
			negative_amount_detected = EXCLUDED.negative_amount_detected,
			monto_base = EXCLUDED.monto_base,
			tipo_cambio = EXCLUDED.tipo_cambio,
			validation_status = EXCLUDED.validation_status,
			validation_alerts = EXCLUDED.validation_alerts,
			updated_at = EXCLUDED.updated_at`,
		expense.ID, expense.JobID, expense.EmployeeID, expense.Date,
		expense.OriginalAmount, expense.OriginalCurrency, expense.Category, expense.CostCenter,
		expense.Fingerprint, expense.NegativeAmountDetected,
		expense.BaseAmount, expense.ExchangeRate,
		string(expense.ValidationStatus), string(alertsJSON), expense.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert expense: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the expense does not exist
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.PersistedExpense, error) {
	var expense entity.PersistedExpense
	var status string
	var alerts []byte

	err := r.Pool.QueryRow(ctx, `
		SELECT id, job_id, empleado_id, fecha, monto_original, moneda_original,
			categoria, cost_center, fingerprint, negative_amount_detected,
			monto_base, tipo_cambio, validation_status, validation_alerts, created_at
		FROM expenses WHERE id = $1`, id,
	).Scan(
		&expense.ID, &expense.JobID, &expense.EmployeeID, &expense.Date,
		&expense.OriginalAmount, &expense.OriginalCurrency, &expense.Category, &expense.CostCenter,
		&expense.Fingerprint, &expense.NegativeAmountDetected,
		&expense.BaseAmount, &expense.ExchangeRate,
		&status, &alerts, &expense.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("expense_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	expense.ValidationStatus = entity.ValidationStatus(status)
	if err := json.Unmarshal(alerts, &expense.ValidationAlerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}
	return &expense, nil
}

var _ port.ExpenseStore = (*ExpenseRepository)(nil)
