package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

func newReservationRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func basePlacement() models.ReservationPlacement {
	return models.ReservationPlacement{
		UserID:              "user-1",
		EnrolmentID:         "enr-1",
		Start:               time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		End:                 time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		CandidateMachineIDs: []string{"m-1", "m-2"},
		LockTimeout:         5 * time.Second,
	}
}

func TestPlaceReservationPicksFirstFreeMachine(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout = '5000ms'")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT reservation_id FROM enrolments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}).AddRow(nil))
	// m-1 is occupied, so the transaction claims m-2.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM machines WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m-1").AddRow("m-2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT machine_id FROM reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id"}).AddRow("m-1"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolments SET reservation_id = $2, reservation_cancelled = FALSE WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrolment_sections WHERE enrolment_id = $1")).
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	reservation, err := repo.PlaceReservation(context.Background(), basePlacement())
	require.NoError(t, err)
	assert.Equal(t, "m-2", reservation.MachineID)
	assert.Equal(t, "user-1", reservation.UserID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceReservationLockTimeout(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgLockNotAvailable)})
	mock.ExpectRollback()

	_, err := repo.PlaceReservation(context.Background(), basePlacement())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrLockTimeout))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceReservationMachineLockTimeout(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT reservation_id FROM enrolments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}).AddRow(nil))
	// Another transaction holds one of the candidate machines past the
	// configured lock timeout.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM machines WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnError(&pq.Error{Code: pq.ErrorCode(pgLockNotAvailable)})
	mock.ExpectRollback()

	_, err := repo.PlaceReservation(context.Background(), basePlacement())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrLockTimeout))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceReservationConcurrentChange(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	// Another request booked meanwhile: the enrolment now holds a
	// reservation the caller never saw.
	mock.ExpectQuery(regexp.QuoteMeta("SELECT reservation_id FROM enrolments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}).AddRow("res-other"))
	mock.ExpectRollback()

	_, err := repo.PlaceReservation(context.Background(), basePlacement())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceReservationAllMachinesBusy(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT reservation_id FROM enrolments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM machines WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m-1").AddRow("m-2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT machine_id FROM reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id"}).AddRow("m-1").AddRow("m-2"))
	mock.ExpectRollback()

	_, err := repo.PlaceReservation(context.Background(), basePlacement())
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoMachineAvailable))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceReservationSupersedesPrevious(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	placement := basePlacement()
	oldID := "res-old"
	placement.SupersededReservationID = &oldID

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET LOCAL lock_timeout")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM users WHERE id = $1 FOR UPDATE")).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("user-1"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT reservation_id FROM enrolments WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnRows(sqlmock.NewRows([]string{"reservation_id"}).AddRow(oldID))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM machines WHERE id = ANY($1) ORDER BY id FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m-1").AddRow("m-2"))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT DISTINCT machine_id FROM reservations")).
		WillReturnRows(sqlmock.NewRows([]string{"machine_id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolments SET reservation_id = NULL WHERE id = $1")).
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reservations WHERE id = $1")).
		WithArgs(oldID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservations")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolments SET reservation_id = $2, reservation_cancelled = FALSE WHERE id = $1")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM enrolment_sections WHERE enrolment_id = $1")).
		WithArgs("enr-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	reservation, err := repo.PlaceReservation(context.Background(), placement)
	require.NoError(t, err)
	assert.Equal(t, "m-1", reservation.MachineID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReservation(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolments SET reservation_id = NULL, reservation_cancelled = TRUE WHERE id = $1 AND reservation_id = $2")).
		WithArgs("enr-1", "res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM reservations WHERE id = $1")).
		WithArgs("res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.CancelReservation(context.Background(), "enr-1", "res-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelReservationMissing(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrolments SET reservation_id = NULL, reservation_cancelled = TRUE WHERE id = $1 AND reservation_id = $2")).
		WithArgs("enr-1", "res-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.CancelReservation(context.Background(), "enr-1", "res-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBusyIntervalsByMachineNoCandidates(t *testing.T) {
	db, _, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	busy, err := repo.BusyIntervalsByMachine(context.Background(), nil, models.Interval{})
	require.NoError(t, err)
	assert.Empty(t, busy)
}

func TestListUserDetailsFrom(t *testing.T) {
	db, mock, cleanup := newReservationRepoMock(t)
	defer cleanup()
	repo := NewReservationRepository(db)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{
		"id", "user_id", "machine_id", "start_at", "end_at", "external_ref", "external_user_ref",
		"no_show", "retrial_permitted", "reminder_sent", "created_at",
		"enrolment_id", "exam_id", "exam_name",
	}).AddRow("res-1", "user-1", "m-1",
		time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC),
		nil, nil, false, false, false, time.Now(),
		"enr-1", "exam-1", "Operating Systems")
	mock.ExpectQuery(regexp.QuoteMeta("JOIN enrolments e ON e.reservation_id = r.id")).
		WithArgs("user-1", from).
		WillReturnRows(rows)

	details, err := repo.ListUserDetailsFrom(context.Background(), "user-1", from)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "res-1", details[0].ID)
	require.NotNil(t, details[0].ExamName)
	assert.Equal(t, "Operating Systems", *details[0].ExamName)
	require.NoError(t, mock.ExpectationsWereMet())
}
