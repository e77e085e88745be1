package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/pkg/config"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

const (
	testExamID = "a81bc81b-dead-4e5d-abff-90865d1e13b1"
	testRoomID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
)

type mockReservationStore struct {
	placed      *models.ReservationPlacement
	reservation *models.Reservation
	placeErr    error

	cancelledEnrolment   string
	cancelledReservation string
	cancelErr            error

	reassignedTo string
	reassignErr  error
}

func (m *mockReservationStore) PlaceReservation(_ context.Context, placement models.ReservationPlacement) (*models.Reservation, error) {
	if m.placeErr != nil {
		return nil, m.placeErr
	}
	m.placed = &placement
	return m.reservation, nil
}

func (m *mockReservationStore) CancelReservation(_ context.Context, enrolmentID, reservationID string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelledEnrolment = enrolmentID
	m.cancelledReservation = reservationID
	return nil
}

func (m *mockReservationStore) ReassignMachine(_ context.Context, _, machineID string, _ models.Interval) error {
	if m.reassignErr != nil {
		return m.reassignErr
	}
	m.reassignedTo = machineID
	return nil
}

type mockResEnrolmentRepo struct {
	detail        *models.EnrolmentDetail
	err           error
	byReservation *models.EnrolmentDetail
}

func (m *mockResEnrolmentRepo) FindActiveByUserAndExam(_ context.Context, _, _ string) (*models.EnrolmentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.detail, nil
}

func (m *mockResEnrolmentRepo) FindByReservation(_ context.Context, _ string) (*models.EnrolmentDetail, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.byReservation, nil
}

type mockMachinePicker struct {
	machines []models.ExamMachine
}

func (m *mockMachinePicker) EligibleMachines(_ context.Context, _ *models.ExamRoom, _ []string, _ *models.Exam) ([]models.ExamMachine, error) {
	return m.machines, nil
}

// ShuffledCandidates reverses so tests can observe the order flowing through.
func (m *mockMachinePicker) ShuffledCandidates(machines []models.ExamMachine) []models.ExamMachine {
	out := make([]models.ExamMachine, len(machines))
	for i, mc := range machines {
		out[len(machines)-1-i] = mc
	}
	return out
}

func (m *mockMachinePicker) GetMachine(_ context.Context, id string) (*models.ExamMachine, error) {
	for i := range m.machines {
		if m.machines[i].ID == id {
			return &m.machines[i], nil
		}
	}
	return nil, appErrors.Clone(appErrors.ErrNotFound, "machine not found")
}

type mockSlotChecker struct {
	bookable bool
	err      error
}

func (m *mockSlotChecker) IsSlotBookable(_ context.Context, _ string, _ *models.ExamRoom, _ *models.Exam, _ models.Interval, _ []string) (bool, error) {
	return m.bookable, m.err
}

type mockExternalRemover struct {
	calls []string
	err   error
}

func (m *mockExternalRemover) RemoveReservation(_ context.Context, externalRef, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, externalRef)
	return nil
}

type mockNotifier struct {
	created   int
	cancelled int
	message   string
}

func (m *mockNotifier) NotifyReservationCreated(_ *models.User, _ *models.Exam, _ *models.ExamRoom, _ *models.ExamMachine, _ *models.Reservation) {
	m.created++
}

func (m *mockNotifier) NotifyReservationCancelled(_ string, _ *models.Exam, _ *models.Reservation, message string) {
	m.cancelled++
	m.message = message
}

type mockUserReader struct {
	user *models.User
	err  error
}

func (m *mockUserReader) FindByID(_ context.Context, _ string) (*models.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.user, nil
}

type reservationFixture struct {
	svc      *ReservationService
	store    *mockReservationStore
	external *mockExternalRemover
	notifier *mockNotifier
	loc      *time.Location
	exam     *models.Exam
	now      time.Time
}

func newReservationFixture(t *testing.T, detail *models.EnrolmentDetail, enrolErr error) *reservationFixture {
	t.Helper()
	room, loc := helsinkiRoom(t)
	room.ID = testRoomID

	exam := publishedExam(t, loc)
	exam.ID = testExamID
	if detail != nil && detail.Exam == nil {
		detail.Exam = exam
	}

	store := &mockReservationStore{
		reservation: &models.Reservation{
			ID:        "res-new",
			UserID:    "user-1",
			MachineID: "m-1",
			StartAt:   time.Date(2026, 3, 2, 9, 0, 0, 0, loc),
			EndAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
		},
	}
	external := &mockExternalRemover{}
	notifier := &mockNotifier{}
	now := time.Date(2026, 2, 25, 12, 0, 0, 0, loc)

	svc := NewReservationService(
		store,
		&mockResEnrolmentRepo{detail: detail, err: enrolErr, byReservation: detail},
		&mockRoomRepo{room: room},
		&mockMachinePicker{machines: []models.ExamMachine{{ID: "m-1"}, {ID: "m-2"}}},
		&mockSlotChecker{bookable: true},
		external,
		notifier,
		&mockUserReader{user: &models.User{ID: "user-1", Email: "student@uni.fi"}},
		config.BookingConfig{LockTimeout: 5 * time.Second},
		nil,
	).WithClock(func() time.Time { return now })

	return &reservationFixture{
		svc: svc, store: store, external: external, notifier: notifier,
		loc: loc, exam: exam, now: now,
	}
}

func createRequest(loc *time.Location) *models.CreateReservationRequest {
	return &models.CreateReservationRequest{
		ExamID: testExamID,
		RoomID: testRoomID,
		Start:  time.Date(2026, 3, 2, 9, 0, 0, 0, loc),
		End:    time.Date(2026, 3, 2, 10, 0, 0, 0, loc),
	}
}

func TestCreateReservationSuccess(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)

	got, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.NoError(t, err)
	assert.Equal(t, "res-new", got.ID)

	require.NotNil(t, fx.store.placed)
	assert.Equal(t, "enr-1", fx.store.placed.EnrolmentID)
	assert.Equal(t, []string{"m-2", "m-1"}, fx.store.placed.CandidateMachineIDs, "shuffled candidate order reaches the transaction")
	assert.False(t, fx.store.placed.ReminderSent, "booking a week ahead keeps the reminder")
	assert.Nil(t, fx.store.placed.SupersededReservationID)
	assert.Equal(t, 5*time.Second, fx.store.placed.LockTimeout)
	assert.Equal(t, 1, fx.notifier.created)
	assert.Empty(t, fx.external.calls)
}

func TestCreateReservationSuppressesReminderWithin24Hours(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)
	fx.svc.WithClock(func() time.Time { return time.Date(2026, 3, 2, 8, 0, 0, 0, fx.loc) })

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.NoError(t, err)
	require.NotNil(t, fx.store.placed)
	assert.True(t, fx.store.placed.ReminderSent, "no separate reminder for same-day bookings")
}

func TestCreateReservationNoEnrolment(t *testing.T) {
	fx := newReservationFixture(t, nil, sql.ErrNoRows)

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrEnrolmentNotFound))
}

func TestCreateReservationExamNotBookable(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)
	fx.exam.State = models.ExamStateDraft

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExamNotBookable))
	assert.Nil(t, fx.store.placed)
}

func TestCreateReservationOutsideExamPeriod(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)

	req := createRequest(fx.loc)
	req.Start = time.Date(2026, 4, 6, 9, 0, 0, 0, fx.loc)
	req.End = time.Date(2026, 4, 6, 10, 0, 0, 0, fx.loc)

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExamNotBookable))
}

func TestCreateReservationPreviousInEffect(t *testing.T) {
	loc, err := time.LoadLocation(helsinkiTZ)
	require.NoError(t, err)
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:      "res-old",
			UserID:  "user-1",
			StartAt: time.Date(2026, 2, 25, 11, 0, 0, 0, loc),
			EndAt:   time.Date(2026, 2, 25, 13, 0, 0, 0, loc),
		},
	}
	fx := newReservationFixture(t, detail, nil)

	_, err = fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrReservationInEffect))
	assert.Nil(t, fx.store.placed)
}

func TestCreateReservationSupersedesFutureReservation(t *testing.T) {
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:      "res-old",
			UserID:  "user-1",
			StartAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.NoError(t, err)
	require.NotNil(t, fx.store.placed)
	require.NotNil(t, fx.store.placed.SupersededReservationID)
	assert.Equal(t, "res-old", *fx.store.placed.SupersededReservationID)
}

func TestCreateReservationExternalRemovalBeforePlacement(t *testing.T) {
	ref := "org-b/res-77"
	userRef := "student@org-b"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:              "res-old",
			UserID:          "user-1",
			StartAt:         time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			ExternalRef:     &ref,
			ExternalUserRef: &userRef,
		},
	}
	fx := newReservationFixture(t, detail, nil)

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.NoError(t, err)
	assert.Equal(t, []string{ref}, fx.external.calls)
	require.NotNil(t, fx.store.placed)
}

func TestCreateReservationExternalRemovalFailureAborts(t *testing.T) {
	ref := "org-b/res-77"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:          "res-old",
			UserID:      "user-1",
			StartAt:     time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			ExternalRef: &ref,
		},
	}
	fx := newReservationFixture(t, detail, nil)
	fx.external.err = appErrors.ErrExternalRemovalFailed

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrExternalRemovalFailed))
	assert.Nil(t, fx.store.placed, "local placement must not run after a failed remote removal")
	assert.Equal(t, 0, fx.notifier.created)
}

func TestCreateReservationSlotTaken(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)
	fx.svc.calendar = &mockSlotChecker{bookable: false}

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
	assert.Nil(t, fx.store.placed)
}

func TestCreateReservationNoEligibleMachine(t *testing.T) {
	fx := newReservationFixture(t, &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}, nil)
	fx.svc.machines = &mockMachinePicker{}

	_, err := fx.svc.CreateReservation(context.Background(), "user-1", createRequest(fx.loc))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNoMachineAvailable))
}

func TestCancelReservationOwnFuture(t *testing.T) {
	userID := "user-1"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID, UserID: &userID},
		Reservation: &models.Reservation{
			ID:      "res-old",
			UserID:  userID,
			StartAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			EndAt:   time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)

	err := fx.svc.CancelReservation(context.Background(), userID, "res-old", false, "")
	require.NoError(t, err)
	assert.Equal(t, "enr-1", fx.store.cancelledEnrolment)
	assert.Equal(t, "res-old", fx.store.cancelledReservation)
	assert.Equal(t, 1, fx.notifier.cancelled)
}

func TestCancelReservationForeignUserForbidden(t *testing.T) {
	otherID := "user-2"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID, UserID: &otherID},
		Reservation: &models.Reservation{
			ID:      "res-old",
			UserID:  otherID,
			StartAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)

	err := fx.svc.CancelReservation(context.Background(), "user-1", "res-old", false, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
	assert.Empty(t, fx.store.cancelledReservation)
}

func TestCancelReservationAdminWithMessage(t *testing.T) {
	otherID := "user-2"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID, UserID: &otherID},
		Reservation: &models.Reservation{
			ID:      "res-old",
			UserID:  otherID,
			StartAt: time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)

	err := fx.svc.CancelReservation(context.Background(), "admin-1", "res-old", true, "room renovation")
	require.NoError(t, err)
	assert.Equal(t, "res-old", fx.store.cancelledReservation)
	assert.Equal(t, "room renovation", fx.notifier.message)
}

func reassignableMachines() []models.ExamMachine {
	return []models.ExamMachine{
		{ID: "m-1", RoomID: testRoomID, Name: strPtr("pc-01"), IPAddress: strPtr("10.0.0.1")},
		{ID: "m-2", RoomID: testRoomID, Name: strPtr("pc-02"), IPAddress: strPtr("10.0.0.2")},
	}
}

func TestReassignReservationMachineSuccess(t *testing.T) {
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:        "res-old",
			UserID:    "user-1",
			MachineID: "m-1",
			StartAt:   time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			EndAt:     time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)
	fx.svc.machines = &mockMachinePicker{machines: reassignableMachines()}

	err := fx.svc.ReassignMachine(context.Background(), "res-old", "m-2")
	require.NoError(t, err)
	assert.Equal(t, "m-2", fx.store.reassignedTo)
}

func TestReassignReservationMachineDifferentRoom(t *testing.T) {
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:        "res-old",
			UserID:    "user-1",
			MachineID: "m-1",
			StartAt:   time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			EndAt:     time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)
	machines := reassignableMachines()
	machines[1].RoomID = "room-elsewhere"
	fx.svc.machines = &mockMachinePicker{machines: machines}

	err := fx.svc.ReassignMachine(context.Background(), "res-old", "m-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, fx.store.reassignedTo)
}

func TestReassignReservationMachineTargetOccupied(t *testing.T) {
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
		Reservation: &models.Reservation{
			ID:        "res-old",
			UserID:    "user-1",
			MachineID: "m-1",
			StartAt:   time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC),
			EndAt:     time.Date(2026, 3, 3, 10, 0, 0, 0, time.UTC),
		},
	}
	fx := newReservationFixture(t, detail, nil)
	fx.svc.machines = &mockMachinePicker{machines: reassignableMachines()}
	fx.store.reassignErr = appErrors.Clone(appErrors.ErrConflict, "target machine is occupied")

	err := fx.svc.ReassignMachine(context.Background(), "res-old", "m-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrConflict))
}

func TestReassignReservationMachineAlreadyStarted(t *testing.T) {
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID},
	}
	fx := newReservationFixture(t, detail, nil)
	detail.Reservation = &models.Reservation{
		ID:        "res-old",
		UserID:    "user-1",
		MachineID: "m-1",
		StartAt:   fx.now.Add(-time.Hour),
		EndAt:     fx.now.Add(time.Hour),
	}
	fx.svc.machines = &mockMachinePicker{machines: reassignableMachines()}

	err := fx.svc.ReassignMachine(context.Background(), "res-old", "m-2")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrReservationInEffect))
	assert.Empty(t, fx.store.reassignedTo)
}

func TestCancelReservationAlreadyStarted(t *testing.T) {
	userID := "user-1"
	detail := &models.EnrolmentDetail{
		Enrolment: models.Enrolment{ID: "enr-1", ExamID: testExamID, UserID: &userID},
	}
	fx := newReservationFixture(t, detail, nil)
	detail.Reservation = &models.Reservation{
		ID:      "res-old",
		UserID:  userID,
		StartAt: fx.now.Add(-time.Hour),
		EndAt:   fx.now.Add(time.Hour),
	}

	err := fx.svc.CancelReservation(context.Background(), userID, "res-old", false, "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrReservationInEffect))
	assert.Empty(t, fx.store.cancelledReservation)
}
