package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/uniexam/booking-api/internal/models"
)

// EnrolmentRepository handles persistence of exam enrolments.
type EnrolmentRepository struct {
	db *sqlx.DB
}

// NewEnrolmentRepository constructs the repository.
func NewEnrolmentRepository(db *sqlx.DB) *EnrolmentRepository {
	return &EnrolmentRepository{db: db}
}

const enrolmentColumns = `e.id, e.user_id, e.pre_enrolled_email, e.exam_id, e.reservation_id, e.reservation_cancelled, e.enrolled_at`

// FindActiveByUserAndExam returns the user's enrolment for an exam with exam
// and current reservation resolved. sql.ErrNoRows when none exists. An
// enrolment whose reservation was cancelled still counts; the cancellation
// marker only records that state until the next booking clears it.
func (r *EnrolmentRepository) FindActiveByUserAndExam(ctx context.Context, userID, examID string) (*models.EnrolmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments e
        WHERE e.user_id = $1 AND e.exam_id = $2`, enrolmentColumns)
	var enrolment models.Enrolment
	if err := r.db.GetContext(ctx, &enrolment, query, userID, examID); err != nil {
		return nil, err
	}
	return r.resolveDetail(ctx, &enrolment)
}

// FindByID returns one enrolment with details. sql.ErrNoRows when missing.
func (r *EnrolmentRepository) FindByID(ctx context.Context, id string) (*models.EnrolmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments e WHERE e.id = $1`, enrolmentColumns)
	var enrolment models.Enrolment
	if err := r.db.GetContext(ctx, &enrolment, query, id); err != nil {
		return nil, err
	}
	return r.resolveDetail(ctx, &enrolment)
}

// FindByReservation returns the enrolment holding a reservation.
func (r *EnrolmentRepository) FindByReservation(ctx context.Context, reservationID string) (*models.EnrolmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments e WHERE e.reservation_id = $1`, enrolmentColumns)
	var enrolment models.Enrolment
	if err := r.db.GetContext(ctx, &enrolment, query, reservationID); err != nil {
		return nil, err
	}
	return r.resolveDetail(ctx, &enrolment)
}

// ListByUser returns the user's enrolments, newest first, with details.
func (r *EnrolmentRepository) ListByUser(ctx context.Context, userID string) ([]models.EnrolmentDetail, error) {
	query := fmt.Sprintf(`SELECT %s FROM enrolments e
        WHERE e.user_id = $1 ORDER BY e.enrolled_at DESC`, enrolmentColumns)
	var enrolments []models.Enrolment
	if err := r.db.SelectContext(ctx, &enrolments, query, userID); err != nil {
		return nil, fmt.Errorf("list enrolments: %w", err)
	}

	details := make([]models.EnrolmentDetail, 0, len(enrolments))
	for i := range enrolments {
		detail, err := r.resolveDetail(ctx, &enrolments[i])
		if err != nil {
			return nil, err
		}
		details = append(details, *detail)
	}
	return details, nil
}

// Create persists a new enrolment.
func (r *EnrolmentRepository) Create(ctx context.Context, enrolment *models.Enrolment) error {
	if enrolment.ID == "" {
		enrolment.ID = uuid.NewString()
	}
	if enrolment.EnrolledAt.IsZero() {
		enrolment.EnrolledAt = time.Now().UTC()
	}
	const query = `INSERT INTO enrolments (id, user_id, pre_enrolled_email, exam_id, reservation_id, reservation_cancelled, enrolled_at)
        VALUES (:id, :user_id, :pre_enrolled_email, :exam_id, :reservation_id, :reservation_cancelled, :enrolled_at)`
	if _, err := r.db.NamedExecContext(ctx, query, enrolment); err != nil {
		return fmt.Errorf("create enrolment: %w", err)
	}
	return nil
}

// ClaimPreEnrolments attaches enrolments pre-registered against an email to
// the user, returning how many were claimed.
func (r *EnrolmentRepository) ClaimPreEnrolments(ctx context.Context, userID, email string) (int64, error) {
	const query = `UPDATE enrolments SET user_id = $1, pre_enrolled_email = NULL
        WHERE user_id IS NULL AND LOWER(pre_enrolled_email) = LOWER($2)`
	res, err := r.db.ExecContext(ctx, query, userID, email)
	if err != nil {
		return 0, fmt.Errorf("claim pre-enrolments: %w", err)
	}
	claimed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("claim pre-enrolments rows: %w", err)
	}
	return claimed, nil
}

func (r *EnrolmentRepository) resolveDetail(ctx context.Context, enrolment *models.Enrolment) (*models.EnrolmentDetail, error) {
	detail := &models.EnrolmentDetail{Enrolment: *enrolment}

	const sectionQuery = `SELECT section_id FROM enrolment_sections WHERE enrolment_id = $1`
	if err := r.db.SelectContext(ctx, &detail.OptionalSections, sectionQuery, enrolment.ID); err != nil {
		return nil, fmt.Errorf("load enrolment sections: %w", err)
	}

	exam, err := loadExam(ctx, r.db, enrolment.ExamID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load enrolment exam: %w", err)
	}
	detail.Exam = exam

	if enrolment.ReservationID != nil {
		const resQuery = `SELECT id, user_id, machine_id, start_at, end_at, external_ref, external_user_ref,
            no_show, retrial_permitted, reminder_sent, created_at
            FROM reservations WHERE id = $1`
		var reservation models.Reservation
		err := r.db.GetContext(ctx, &reservation, resQuery, *enrolment.ReservationID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load enrolment reservation: %w", err)
		}
		if err == nil {
			detail.Reservation = &reservation
		}
	}
	return detail, nil
}

// loadExam fetches an exam with its software tags. Shared with ExamRepository.
func loadExam(ctx context.Context, q sqlx.QueryerContext, examID string) (*models.Exam, error) {
	const query = `SELECT id, name, state, duration, period_start, period_end FROM exams WHERE id = $1`
	var exam models.Exam
	if err := sqlx.GetContext(ctx, q, &exam, query, examID); err != nil {
		return nil, err
	}
	const softwareQuery = `SELECT software FROM exam_software WHERE exam_id = $1 ORDER BY software`
	if err := sqlx.SelectContext(ctx, q, &exam.RequiredSoftware, softwareQuery, examID); err != nil {
		return nil, fmt.Errorf("load exam software: %w", err)
	}
	return &exam, nil
}
