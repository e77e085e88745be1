package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/uniexam/booking-api/internal/models"
)

// RoomRepository handles persistence of exam rooms and their opening-hours
// configuration.
type RoomRepository struct {
	db *sqlx.DB
}

// NewRoomRepository constructs the repository.
func NewRoomRepository(db *sqlx.DB) *RoomRepository {
	return &RoomRepository{db: db}
}

const roomColumns = `id, name, room_code, building_name, local_timezone, state, out_of_service, created_at, updated_at`

// FindByID returns a room with accessibility, hours, starting hours and
// machines loaded. sql.ErrNoRows when missing.
func (r *RoomRepository) FindByID(ctx context.Context, id string) (*models.ExamRoom, error) {
	query := fmt.Sprintf(`SELECT %s FROM rooms WHERE id = $1`, roomColumns)
	var room models.ExamRoom
	if err := r.db.GetContext(ctx, &room, query, id); err != nil {
		return nil, err
	}
	if err := r.loadAssociations(ctx, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// List returns all rooms ordered by name, with configuration loaded.
func (r *RoomRepository) List(ctx context.Context) ([]models.ExamRoom, error) {
	query := fmt.Sprintf(`SELECT %s FROM rooms ORDER BY name`, roomColumns)
	var rooms []models.ExamRoom
	if err := r.db.SelectContext(ctx, &rooms, query); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	for i := range rooms {
		if err := r.loadAssociations(ctx, &rooms[i]); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// Create persists a new room with its accessibility tags.
func (r *RoomRepository) Create(ctx context.Context, room *models.ExamRoom) error {
	now := time.Now().UTC()
	room.CreatedAt = now
	room.UpdatedAt = now
	const query = `INSERT INTO rooms (id, name, room_code, building_name, local_timezone, state, out_of_service, created_at, updated_at)
        VALUES (:id, :name, :room_code, :building_name, :local_timezone, :state, :out_of_service, :created_at, :updated_at)`
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.NamedExecContext(ctx, query, room); err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	if err := replaceRoomAccessibility(ctx, tx, room.ID, room.Accessibility); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create room: %w", err)
	}
	return nil
}

// Update rewrites a room row and its accessibility tags.
func (r *RoomRepository) Update(ctx context.Context, room *models.ExamRoom) error {
	room.UpdatedAt = time.Now().UTC()
	const query = `UPDATE rooms SET name = :name, room_code = :room_code, building_name = :building_name,
        local_timezone = :local_timezone, state = :state, out_of_service = :out_of_service, updated_at = :updated_at
        WHERE id = :id`
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update room: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.NamedExecContext(ctx, query, room)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	if err := replaceRoomAccessibility(ctx, tx, room.ID, room.Accessibility); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update room: %w", err)
	}
	return nil
}

// ReplaceWorkingHours swaps all weekly default blocks of a room.
func (r *RoomRepository) ReplaceWorkingHours(ctx context.Context, roomID string, hours []models.DefaultWorkingHours) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace working hours: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM default_working_hours WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear working hours: %w", err)
	}
	const insert = `INSERT INTO default_working_hours (id, room_id, weekday, start_millis, end_millis, timezone_offset)
        VALUES (:id, :room_id, :weekday, :start_millis, :end_millis, :timezone_offset)`
	for i := range hours {
		if _, err := tx.NamedExecContext(ctx, insert, &hours[i]); err != nil {
			return fmt.Errorf("insert working hours: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace working hours: %w", err)
	}
	return nil
}

// AddExceptionHours adds one exception block.
func (r *RoomRepository) AddExceptionHours(ctx context.Context, exception *models.ExceptionWorkingHour) error {
	const query = `INSERT INTO exception_working_hours (id, room_id, start_date, end_date, start_offset, end_offset, out_of_service)
        VALUES (:id, :room_id, :start_date, :end_date, :start_offset, :end_offset, :out_of_service)`
	if _, err := r.db.NamedExecContext(ctx, query, exception); err != nil {
		return fmt.Errorf("add exception hours: %w", err)
	}
	return nil
}

// DeleteExceptionHours removes one exception block. sql.ErrNoRows when the
// block does not belong to the room.
func (r *RoomRepository) DeleteExceptionHours(ctx context.Context, roomID, exceptionID string) error {
	const query = `DELETE FROM exception_working_hours WHERE id = $1 AND room_id = $2`
	res, err := r.db.ExecContext(ctx, query, exceptionID, roomID)
	if err != nil {
		return fmt.Errorf("delete exception hours: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ReplaceStartingHours swaps all allowed starting times of a room.
func (r *RoomRepository) ReplaceStartingHours(ctx context.Context, roomID string, hours []models.StartingHour) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace starting hours: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM starting_hours WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear starting hours: %w", err)
	}
	const insert = `INSERT INTO starting_hours (id, room_id, minute_of_day, timezone_offset)
        VALUES (:id, :room_id, :minute_of_day, :timezone_offset)`
	for i := range hours {
		if _, err := tx.NamedExecContext(ctx, insert, &hours[i]); err != nil {
			return fmt.Errorf("insert starting hours: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace starting hours: %w", err)
	}
	return nil
}

func (r *RoomRepository) loadAssociations(ctx context.Context, room *models.ExamRoom) error {
	if err := r.db.SelectContext(ctx, &room.Accessibility,
		`SELECT feature FROM room_accessibility WHERE room_id = $1 ORDER BY feature`, room.ID); err != nil {
		return fmt.Errorf("load room accessibility: %w", err)
	}
	if err := r.db.SelectContext(ctx, &room.WorkingHours,
		`SELECT id, room_id, weekday, start_millis, end_millis, timezone_offset
         FROM default_working_hours WHERE room_id = $1`, room.ID); err != nil {
		return fmt.Errorf("load working hours: %w", err)
	}
	if err := r.db.SelectContext(ctx, &room.ExceptionHours,
		`SELECT id, room_id, start_date, end_date, start_offset, end_offset, out_of_service
         FROM exception_working_hours WHERE room_id = $1 ORDER BY start_date`, room.ID); err != nil {
		return fmt.Errorf("load exception hours: %w", err)
	}
	if err := r.db.SelectContext(ctx, &room.StartingHours,
		`SELECT id, room_id, minute_of_day, timezone_offset
         FROM starting_hours WHERE room_id = $1 ORDER BY minute_of_day`, room.ID); err != nil {
		return fmt.Errorf("load starting hours: %w", err)
	}
	machines, err := listMachines(ctx, r.db, room.ID)
	if err != nil {
		return err
	}
	room.Machines = machines
	return nil
}

func replaceRoomAccessibility(ctx context.Context, tx *sqlx.Tx, roomID string, features []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM room_accessibility WHERE room_id = $1`, roomID); err != nil {
		return fmt.Errorf("clear room accessibility: %w", err)
	}
	for _, feature := range features {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_accessibility (room_id, feature) VALUES ($1, $2)`, roomID, feature); err != nil {
			return fmt.Errorf("insert room accessibility: %w", err)
		}
	}
	return nil
}
