package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/garyjia/expense-pipeline/internal/application/port"
	"github.com/garyjia/expense-pipeline/internal/domain/entity"
	"go.uber.org/zap"
)

// ExpenseRepository implements port.ExpenseStore
type ExpenseRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *DB, logger *zap.Logger) port.ExpenseStore {
	return &ExpenseRepository{
		db:     db,
		logger: logger,
	}
}

// ExistsByFingerprint reports whether any stored expense has the fingerprint
func (r *ExpenseRepository) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	var exists bool
	err := r.db.getExecutor(ctx).QueryRowContext(ctx,
		"SELECT EXISTS (SELECT 1 FROM expenses WHERE fingerprint = ?)", fingerprint,
	).Scan(&exists)
	if err != nil {
		r.logger.Error("Failed to check fingerprint", zap.String("fingerprint", fingerprint), zap.Error(err))
		return false, fmt.Errorf("failed to check fingerprint: %w", err)
	}
	return exists, nil
}

// Upsert inserts the expense or replaces the row with the same id
func (r *ExpenseRepository) Upsert(ctx context.Context, expense *entity.PersistedExpense) error {
	alerts := expense.ValidationAlerts
	if alerts == nil {
		alerts = []entity.Alert{}
	}
	alertsJSON, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to encode alerts: %w", err)
	}

	query := `
		INSERT INTO expenses (
			id, job_id, empleado_id, fecha, monto_original, moneda_original,
			categoria, cost_center, fingerprint, negative_amount_detected,
			monto_base, tipo_cambio, validation_status, validation_alerts,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			job_id = excluded.job_id,
			empleado_id = excluded.empleado_id,
			fecha = excluded.fecha,
			monto_original = excluded.monto_original,
			moneda_original = excluded.moneda_original,
			categoria = excluded.categoria,
			cost_center = excluded.cost_center,
			fingerprint = excluded.fingerprint,
			negative_amount_detected = excluded.negative_amount_detected,
			monto_base = excluded.monto_base,
			tipo_cambio = excluded.tipo_cambio,
			validation_status = excluded.validation_status,
			validation_alerts = excluded.validation_alerts,
			updated_at = excluded.updated_at
	`

	_, err = r.db.getExecutor(ctx).ExecContext(ctx, query,
		expense.ID,
		expense.JobID,
		expense.EmployeeID,
		expense.Date,
		expense.OriginalAmount,
		expense.OriginalCurrency,
		expense.Category,
		expense.CostCenter,
		expense.Fingerprint,
		expense.NegativeAmountDetected,
		nullFloat(expense.BaseAmount),
		nullFloat(expense.ExchangeRate),
		expense.ValidationStatus,
		string(alertsJSON),
		expense.CreatedAt,
		expense.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to upsert expense", zap.String("expense_id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to upsert expense: %w", err)
	}
	return nil
}

// GetByID retrieves an expense. Returns nil, nil when absent.
func (r *ExpenseRepository) GetByID(ctx context.Context, id string) (*entity.PersistedExpense, error) {
	query := `
		SELECT id, job_id, empleado_id, fecha, monto_original, moneda_original,
			categoria, cost_center, fingerprint, negative_amount_detected,
			monto_base, tipo_cambio, validation_status, validation_alerts, created_at
		FROM expenses
		WHERE id = ?
	`

	var expense entity.PersistedExpense
	var baseAmount, exchangeRate sql.NullFloat64
	var alerts string

	err := r.db.getExecutor(ctx).QueryRowContext(ctx, query, id).Scan(
		&expense.ID,
		&expense.JobID,
		&expense.EmployeeID,
		&expense.Date,
		&expense.OriginalAmount,
		&expense.OriginalCurrency,
		&expense.Category,
		&expense.CostCenter,
		&expense.Fingerprint,
		&expense.NegativeAmountDetected,
		&baseAmount,
		&exchangeRate,
		&expense.ValidationStatus,
		&alerts,
		&expense.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.String("expense_id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	if baseAmount.Valid {
		expense.BaseAmount = &baseAmount.Float64
	}
	if exchangeRate.Valid {
		expense.ExchangeRate = &exchangeRate.Float64
	}
	if err := json.Unmarshal([]byte(alerts), &expense.ValidationAlerts); err != nil {
		return nil, fmt.Errorf("failed to decode alerts: %w", err)
	}

	return &expense, nil
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// Verify interface compliance
var _ port.ExpenseStore = (*ExpenseRepository)(nil)
