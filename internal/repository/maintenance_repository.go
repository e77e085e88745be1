package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/uniexam/booking-api/internal/models"
)

// MaintenanceRepository handles persistence of maintenance periods.
type MaintenanceRepository struct {
	db *sqlx.DB
}

// NewMaintenanceRepository constructs the repository.
func NewMaintenanceRepository(db *sqlx.DB) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

// ListEndingAfter returns periods whose end lies after the given instant.
func (r *MaintenanceRepository) ListEndingAfter(ctx context.Context, from time.Time) ([]models.MaintenancePeriod, error) {
	const query = `SELECT id, starts_at, ends_at, description FROM maintenance_periods
        WHERE ends_at > $1 ORDER BY starts_at`
	var periods []models.MaintenancePeriod
	if err := r.db.SelectContext(ctx, &periods, query, from); err != nil {
		return nil, fmt.Errorf("list maintenance periods: %w", err)
	}
	return periods, nil
}

// FindByID returns one period. sql.ErrNoRows when missing.
func (r *MaintenanceRepository) FindByID(ctx context.Context, id string) (*models.MaintenancePeriod, error) {
	const query = `SELECT id, starts_at, ends_at, description FROM maintenance_periods WHERE id = $1`
	var period models.MaintenancePeriod
	if err := r.db.GetContext(ctx, &period, query, id); err != nil {
		return nil, err
	}
	return &period, nil
}

// Create persists a period.
func (r *MaintenanceRepository) Create(ctx context.Context, period *models.MaintenancePeriod) error {
	const query = `INSERT INTO maintenance_periods (id, starts_at, ends_at, description)
        VALUES (:id, :starts_at, :ends_at, :description)`
	if _, err := r.db.NamedExecContext(ctx, query, period); err != nil {
		return fmt.Errorf("create maintenance period: %w", err)
	}
	return nil
}

// Update rewrites a period. sql.ErrNoRows when missing.
func (r *MaintenanceRepository) Update(ctx context.Context, period *models.MaintenancePeriod) error {
	const query = `UPDATE maintenance_periods SET starts_at = :starts_at, ends_at = :ends_at, description = :description
        WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, period)
	if err != nil {
		return fmt.Errorf("update maintenance period: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a period. sql.ErrNoRows when missing.
func (r *MaintenanceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM maintenance_periods WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance period: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
