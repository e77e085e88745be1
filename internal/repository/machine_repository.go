package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/uniexam/booking-api/internal/models"
)

// MachineRepository handles persistence of exam machines.
type MachineRepository struct {
	db *sqlx.DB
}

// NewMachineRepository constructs the repository.
func NewMachineRepository(db *sqlx.DB) *MachineRepository {
	return &MachineRepository{db: db}
}

const machineColumns = `id, room_id, name, ip_address, archived, out_of_service, accessible, created_at, updated_at`

// ListByRoom returns the machines of a room with tags loaded, archived ones
// included.
func (r *MachineRepository) ListByRoom(ctx context.Context, roomID string) ([]models.ExamMachine, error) {
	return listMachines(ctx, r.db, roomID)
}

// FindByID returns one machine with tags. sql.ErrNoRows when missing.
func (r *MachineRepository) FindByID(ctx context.Context, id string) (*models.ExamMachine, error) {
	query := fmt.Sprintf(`SELECT %s FROM machines WHERE id = $1`, machineColumns)
	var machine models.ExamMachine
	if err := r.db.GetContext(ctx, &machine, query, id); err != nil {
		return nil, err
	}
	if err := loadMachineTags(ctx, r.db, &machine); err != nil {
		return nil, err
	}
	return &machine, nil
}

// Create persists a machine with its tags.
func (r *MachineRepository) Create(ctx context.Context, machine *models.ExamMachine) error {
	now := time.Now().UTC()
	machine.CreatedAt = now
	machine.UpdatedAt = now
	const query = `INSERT INTO machines (id, room_id, name, ip_address, archived, out_of_service, accessible, created_at, updated_at)
        VALUES (:id, :room_id, :name, :ip_address, :archived, :out_of_service, :accessible, :created_at, :updated_at)`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create machine: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, query, machine); err != nil {
		return fmt.Errorf("create machine: %w", err)
	}
	if err := replaceMachineTags(ctx, tx, machine); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create machine: %w", err)
	}
	return nil
}

// Update rewrites a machine row and its tags.
func (r *MachineRepository) Update(ctx context.Context, machine *models.ExamMachine) error {
	machine.UpdatedAt = time.Now().UTC()
	const query = `UPDATE machines SET name = :name, ip_address = :ip_address, out_of_service = :out_of_service,
        accessible = :accessible, updated_at = :updated_at WHERE id = :id`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update machine: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, query, machine)
	if err != nil {
		return fmt.Errorf("update machine: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	if err := replaceMachineTags(ctx, tx, machine); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update machine: %w", err)
	}
	return nil
}

// SetArchived flips the archive flag.
func (r *MachineRepository) SetArchived(ctx context.Context, id string, archived bool) error {
	const query = `UPDATE machines SET archived = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, archived, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("archive machine: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Reassign moves a machine to another room.
func (r *MachineRepository) Reassign(ctx context.Context, machineID, roomID string) error {
	const query = `UPDATE machines SET room_id = $2, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, machineID, roomID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("reassign machine: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func listMachines(ctx context.Context, db *sqlx.DB, roomID string) ([]models.ExamMachine, error) {
	query := fmt.Sprintf(`SELECT %s FROM machines WHERE room_id = $1 ORDER BY name NULLS LAST`, machineColumns)
	var machines []models.ExamMachine
	if err := db.SelectContext(ctx, &machines, query, roomID); err != nil {
		return nil, fmt.Errorf("list machines: %w", err)
	}
	for i := range machines {
		if err := loadMachineTags(ctx, db, &machines[i]); err != nil {
			return nil, err
		}
	}
	return machines, nil
}

func loadMachineTags(ctx context.Context, db *sqlx.DB, machine *models.ExamMachine) error {
	if err := db.SelectContext(ctx, &machine.Software,
		`SELECT software FROM machine_software WHERE machine_id = $1 ORDER BY software`, machine.ID); err != nil {
		return fmt.Errorf("load machine software: %w", err)
	}
	if err := db.SelectContext(ctx, &machine.Accessibility,
		`SELECT feature FROM machine_accessibility WHERE machine_id = $1 ORDER BY feature`, machine.ID); err != nil {
		return fmt.Errorf("load machine accessibility: %w", err)
	}
	return nil
}

func replaceMachineTags(ctx context.Context, tx *sqlx.Tx, machine *models.ExamMachine) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM machine_software WHERE machine_id = $1`, machine.ID); err != nil {
		return fmt.Errorf("clear machine software: %w", err)
	}
	for _, software := range machine.Software {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO machine_software (machine_id, software) VALUES ($1, $2)`, machine.ID, software); err != nil {
			return fmt.Errorf("insert machine software: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM machine_accessibility WHERE machine_id = $1`, machine.ID); err != nil {
		return fmt.Errorf("clear machine accessibility: %w", err)
	}
	for _, feature := range machine.Accessibility {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO machine_accessibility (machine_id, feature) VALUES ($1, $2)`, machine.ID, feature); err != nil {
			return fmt.Errorf("insert machine accessibility: %w", err)
		}
	}
	return nil
}
