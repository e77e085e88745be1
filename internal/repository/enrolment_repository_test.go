package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/models"
)

func newEnrolmentRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestFindActiveByUserAndExamAfterCancellation(t *testing.T) {
	db, mock, cleanup := newEnrolmentRepoMock(t)
	defer cleanup()
	repo := NewEnrolmentRepository(db)

	enrolled := time.Date(2026, 2, 20, 10, 0, 0, 0, time.UTC)
	// The enrolment carries the cancellation marker from a removed
	// reservation; it must still resolve so the user can book again.
	mock.ExpectQuery(regexp.QuoteMeta("WHERE e.user_id = $1 AND e.exam_id = $2")).
		WithArgs("user-1", "exam-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "pre_enrolled_email", "exam_id", "reservation_id", "reservation_cancelled", "enrolled_at",
		}).AddRow("enr-1", "user-1", nil, "exam-1", nil, true, enrolled))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT section_id FROM enrolment_sections WHERE enrolment_id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"section_id"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name, state, duration, period_start, period_end FROM exams WHERE id = $1")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "state", "duration", "period_start", "period_end"}).
			AddRow("exam-1", "Operating Systems", string(models.ExamStatePublished), 60, enrolled, enrolled.AddDate(0, 1, 0)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT software FROM exam_software WHERE exam_id = $1")).
		WithArgs("exam-1").
		WillReturnRows(sqlmock.NewRows([]string{"software"}))

	detail, err := repo.FindActiveByUserAndExam(context.Background(), "user-1", "exam-1")
	require.NoError(t, err)
	assert.True(t, detail.ReservationCancelled)
	assert.Nil(t, detail.Reservation)
	require.NoError(t, mock.ExpectationsWereMet())
}
