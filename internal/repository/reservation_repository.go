package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

// pgLockNotAvailable is the class 55 code raised when lock_timeout expires.
const pgLockNotAvailable = "55P03"

// ReservationRepository handles persistence of reservations. Placement and
// cancellation run as single transactions; concurrent bookings of the same
// user serialise on a row lock over the user record.
type ReservationRepository struct {
	db *sqlx.DB
}

// NewReservationRepository constructs the repository.
func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

const reservationColumns = `id, user_id, machine_id, start_at, end_at, external_ref, external_user_ref, no_show, retrial_permitted, reminder_sent, created_at`

// PlaceReservation atomically replaces or creates the reservation of an
// enrolment. Inside the transaction the user's row is locked, the enrolment
// is re-read to catch concurrent changes, the candidate machine rows are
// locked, the first free one is claimed and any superseded reservation is
// removed. The machine locks keep two users from each probing occupancy
// before the other commits and double booking the same machine.
func (r *ReservationRepository) PlaceReservation(ctx context.Context, placement models.ReservationPlacement) (*models.Reservation, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin placement: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// lock_timeout does not accept bind parameters.
	lockMillis := placement.LockTimeout.Milliseconds()
	if lockMillis <= 0 {
		lockMillis = 5000
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", lockMillis)); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}

	var lockedUserID string
	err = tx.GetContext(ctx, &lockedUserID, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, placement.UserID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgLockNotAvailable {
			return nil, appErrors.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, fmt.Errorf("lock user: %w", err)
	}

	// Re-read under the lock: a parallel request may have changed the
	// enrolment's reservation since the service made its checks.
	var currentReservationID sql.NullString
	err = tx.GetContext(ctx, &currentReservationID,
		`SELECT reservation_id FROM enrolments WHERE id = $1`, placement.EnrolmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrolmentNotFound
		}
		return nil, fmt.Errorf("re-read enrolment: %w", err)
	}
	if !reservationMatches(currentReservationID, placement.SupersededReservationID) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "enrolment reservation changed concurrently")
	}

	machineID, err := firstFreeMachine(ctx, tx, placement)
	if err != nil {
		return nil, err
	}
	if machineID == "" {
		return nil, appErrors.ErrNoMachineAvailable
	}

	if placement.SupersededReservationID != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE enrolments SET reservation_id = NULL WHERE id = $1`, placement.EnrolmentID); err != nil {
			return nil, fmt.Errorf("unlink superseded reservation: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM reservations WHERE id = $1`, *placement.SupersededReservationID); err != nil {
			return nil, fmt.Errorf("delete superseded reservation: %w", err)
		}
	}

	reservation := &models.Reservation{
		ID:           uuid.NewString(),
		UserID:       placement.UserID,
		MachineID:    machineID,
		StartAt:      placement.Start,
		EndAt:        placement.End,
		ReminderSent: placement.ReminderSent,
		CreatedAt:    time.Now().UTC(),
	}
	const insert = `INSERT INTO reservations (id, user_id, machine_id, start_at, end_at, external_ref, external_user_ref, no_show, retrial_permitted, reminder_sent, created_at)
        VALUES (:id, :user_id, :machine_id, :start_at, :end_at, :external_ref, :external_user_ref, :no_show, :retrial_permitted, :reminder_sent, :created_at)`
	if _, err := tx.NamedExecContext(ctx, insert, reservation); err != nil {
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE enrolments SET reservation_id = $2, reservation_cancelled = FALSE WHERE id = $1`,
		placement.EnrolmentID, reservation.ID); err != nil {
		return nil, fmt.Errorf("link reservation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM enrolment_sections WHERE enrolment_id = $1`, placement.EnrolmentID); err != nil {
		return nil, fmt.Errorf("clear enrolment sections: %w", err)
	}
	for _, sectionID := range placement.SectionIDs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO enrolment_sections (enrolment_id, section_id) VALUES ($1, $2)`,
			placement.EnrolmentID, sectionID); err != nil {
			return nil, fmt.Errorf("insert enrolment section: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit placement: %w", err)
	}
	return reservation, nil
}

// CancelReservation unlinks and deletes a reservation in one transaction.
// The enrolment keeps a cancellation marker until its next reservation, which
// clears it again.
func (r *ReservationRepository) CancelReservation(ctx context.Context, enrolmentID, reservationID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin cancellation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE enrolments SET reservation_id = NULL, reservation_cancelled = TRUE WHERE id = $1 AND reservation_id = $2`,
		enrolmentID, reservationID)
	if err != nil {
		return fmt.Errorf("unlink reservation: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM reservations WHERE id = $1`, reservationID); err != nil {
		return fmt.Errorf("delete reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit cancellation: %w", err)
	}
	return nil
}

// ReassignMachine moves a reservation to another machine, refusing when the
// target machine has an overlapping reservation.
func (r *ReservationRepository) ReassignMachine(ctx context.Context, reservationID, machineID string, within models.Interval) error {
	const query = `UPDATE reservations SET machine_id = $2 WHERE id = $1 AND NOT EXISTS (
        SELECT 1 FROM reservations o
        WHERE o.machine_id = $2 AND o.id <> $1 AND o.start_at < $3 AND o.end_at > $4)`
	res, err := r.db.ExecContext(ctx, query, reservationID, machineID, within.End, within.Start)
	if err != nil {
		return fmt.Errorf("reassign reservation machine: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "target machine is occupied")
	}
	return nil
}

// ListUserDetailsFrom returns the user's reservations ending after from,
// joined with the exam each one belongs to.
func (r *ReservationRepository) ListUserDetailsFrom(ctx context.Context, userID string, from time.Time) ([]models.ReservationDetail, error) {
	const query = `SELECT r.id, r.user_id, r.machine_id, r.start_at, r.end_at, r.external_ref, r.external_user_ref,
        r.no_show, r.retrial_permitted, r.reminder_sent, r.created_at,
        e.id AS enrolment_id, ex.id AS exam_id, ex.name AS exam_name
        FROM reservations r
        JOIN enrolments e ON e.reservation_id = r.id
        LEFT JOIN exams ex ON ex.id = e.exam_id
        WHERE r.user_id = $1 AND r.end_at > $2
        ORDER BY r.start_at`
	var details []models.ReservationDetail
	if err := r.db.SelectContext(ctx, &details, query, userID, from); err != nil {
		return nil, fmt.Errorf("list user reservations: %w", err)
	}
	return details, nil
}

// BusyIntervalsByMachine returns, per machine, the reservations overlapping
// the search range.
func (r *ReservationRepository) BusyIntervalsByMachine(ctx context.Context, machineIDs []string, within models.Interval) (map[string][]models.Reservation, error) {
	busy := make(map[string][]models.Reservation, len(machineIDs))
	if len(machineIDs) == 0 {
		return busy, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM reservations
        WHERE machine_id = ANY($1) AND start_at < $2 AND end_at > $3
        ORDER BY start_at`, reservationColumns)
	var reservations []models.Reservation
	if err := r.db.SelectContext(ctx, &reservations, query, pq.Array(machineIDs), within.End, within.Start); err != nil {
		return nil, fmt.Errorf("list machine occupancy: %w", err)
	}
	for _, reservation := range reservations {
		busy[reservation.MachineID] = append(busy[reservation.MachineID], reservation)
	}
	return busy, nil
}

// ListReminderDue returns reservations starting before the given instant
// whose reminder has not been sent.
func (r *ReservationRepository) ListReminderDue(ctx context.Context, before time.Time) ([]models.ReservationReminder, error) {
	const query = `SELECT r.id AS reservation_id, u.email, COALESCE(ex.name, '') AS exam_name, r.start_at
        FROM reservations r
        JOIN users u ON u.id = r.user_id
        JOIN enrolments e ON e.reservation_id = r.id
        LEFT JOIN exams ex ON ex.id = e.exam_id
        WHERE r.reminder_sent = FALSE AND r.start_at > NOW() AND r.start_at <= $1
        ORDER BY r.start_at`
	var reminders []models.ReservationReminder
	if err := r.db.SelectContext(ctx, &reminders, query, before); err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	return reminders, nil
}

// MarkReminderSent records that the reminder for a reservation went out.
func (r *ReservationRepository) MarkReminderSent(ctx context.Context, reservationID string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE reservations SET reminder_sent = TRUE WHERE id = $1`, reservationID); err != nil {
		return fmt.Errorf("mark reminder sent: %w", err)
	}
	return nil
}

// firstFreeMachine probes the candidates in the caller's order and returns
// the first one with no overlapping reservation. The superseded reservation
// does not count as occupancy.
//
// The per-user row lock does not serialise two different users racing for the
// same machine, so the candidate machine rows are locked before the occupancy
// probe. Ordered by id to keep lock acquisition deadlock free.
func firstFreeMachine(ctx context.Context, tx *sqlx.Tx, placement models.ReservationPlacement) (string, error) {
	if len(placement.CandidateMachineIDs) == 0 {
		return "", nil
	}
	var lockedIDs []string
	err := tx.SelectContext(ctx, &lockedIDs,
		`SELECT id FROM machines WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		pq.Array(placement.CandidateMachineIDs))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgLockNotAvailable {
			return "", appErrors.ErrLockTimeout
		}
		return "", fmt.Errorf("lock candidate machines: %w", err)
	}

	query := `SELECT DISTINCT machine_id FROM reservations
        WHERE machine_id = ANY($1) AND start_at < $2 AND end_at > $3`
	args := []interface{}{pq.Array(placement.CandidateMachineIDs), placement.End, placement.Start}
	if placement.SupersededReservationID != nil {
		query += ` AND id <> $4`
		args = append(args, *placement.SupersededReservationID)
	}
	var busyIDs []string
	if err := tx.SelectContext(ctx, &busyIDs, query, args...); err != nil {
		return "", fmt.Errorf("probe machine occupancy: %w", err)
	}
	busy := make(map[string]struct{}, len(busyIDs))
	for _, id := range busyIDs {
		busy[id] = struct{}{}
	}
	for _, id := range placement.CandidateMachineIDs {
		if _, taken := busy[id]; !taken {
			return id, nil
		}
	}
	return "", nil
}

func reservationMatches(current sql.NullString, superseded *string) bool {
	if superseded == nil {
		return !current.Valid
	}
	return current.Valid && current.String == *superseded
}
