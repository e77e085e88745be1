package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/pkg/config"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type reservationStore interface {
	PlaceReservation(ctx context.Context, placement models.ReservationPlacement) (*models.Reservation, error)
	CancelReservation(ctx context.Context, enrolmentID, reservationID string) error
	ReassignMachine(ctx context.Context, reservationID, machineID string, within models.Interval) error
}

type reservationEnrolmentRepository interface {
	FindActiveByUserAndExam(ctx context.Context, userID, examID string) (*models.EnrolmentDetail, error)
	FindByReservation(ctx context.Context, reservationID string) (*models.EnrolmentDetail, error)
}

type machinePicker interface {
	EligibleMachines(ctx context.Context, room *models.ExamRoom, accessibilityNeeds []string, exam *models.Exam) ([]models.ExamMachine, error)
	ShuffledCandidates(machines []models.ExamMachine) []models.ExamMachine
	GetMachine(ctx context.Context, id string) (*models.ExamMachine, error)
}

type slotChecker interface {
	IsSlotBookable(ctx context.Context, userID string, room *models.ExamRoom, exam *models.Exam, requested models.Interval, accessibilityNeeds []string) (bool, error)
}

type externalRemover interface {
	RemoveReservation(ctx context.Context, externalRef, externalUserRef string) error
}

type reservationNotifier interface {
	NotifyReservationCreated(user *models.User, exam *models.Exam, room *models.ExamRoom, machine *models.ExamMachine, reservation *models.Reservation)
	NotifyReservationCancelled(email string, exam *models.Exam, reservation *models.Reservation, message string)
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type placementMetrics interface {
	ObserveLockWait(duration time.Duration)
}

// ReservationService runs the booking protocol: slot validation, machine
// selection and the atomic replace-or-create transaction. Replacing a
// federated reservation removes the remote record first; only after that
// succeeds does the local transaction run, so a gateway failure never leaves
// the user double-booked.
type ReservationService struct {
	store        reservationStore
	enrolments   reservationEnrolmentRepository
	rooms        calendarRoomRepository
	machines     machinePicker
	calendar     slotChecker
	external     externalRemover
	notification reservationNotifier
	users        userReader
	lockTimeout  time.Duration
	metrics      placementMetrics
	validate     *validator.Validate
	logger       *zap.Logger
	now          func() time.Time
}

// NewReservationService constructs ReservationService.
func NewReservationService(
	store reservationStore,
	enrolments reservationEnrolmentRepository,
	rooms calendarRoomRepository,
	machines machinePicker,
	calendar slotChecker,
	external externalRemover,
	notification reservationNotifier,
	users userReader,
	cfg config.BookingConfig,
	logger *zap.Logger,
) *ReservationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReservationService{
		store:        store,
		enrolments:   enrolments,
		rooms:        rooms,
		machines:     machines,
		calendar:     calendar,
		external:     external,
		notification: notification,
		users:        users,
		lockTimeout:  cfg.LockTimeout,
		validate:     validator.New(),
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (s *ReservationService) WithClock(now func() time.Time) *ReservationService {
	s.now = now
	return s
}

// WithMetrics attaches a placement duration recorder.
func (s *ReservationService) WithMetrics(m placementMetrics) *ReservationService {
	s.metrics = m
	return s
}

// CreateReservation books a slot for the user's enrolment, replacing any
// not-yet-started previous reservation for the same enrolment.
func (s *ReservationService) CreateReservation(ctx context.Context, userID string, req *models.CreateReservationRequest) (*models.Reservation, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reservation payload")
	}
	if !req.End.After(req.Start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reservation end must be after start")
	}
	requested := models.NewInterval(req.Start, req.End)
	now := s.now()

	enrolment, err := s.enrolments.FindActiveByUserAndExam(ctx, userID, req.ExamID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrEnrolmentNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	exam := enrolment.Exam
	if exam == nil || !exam.Bookable(now) {
		return nil, appErrors.ErrExamNotBookable
	}
	if req.Start.Before(exam.PeriodStart) || req.End.After(exam.PeriodEnd) {
		return nil, appErrors.Clone(appErrors.ErrExamNotBookable, "requested slot is outside the exam period")
	}

	previous := enrolment.Reservation
	if previous != nil && !previous.StartAt.After(now) {
		return nil, appErrors.ErrReservationInEffect
	}

	room, err := s.rooms.FindByID(ctx, req.RoomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	if !room.Bookable() || !room.AccessibilitySatisfied(req.AccessibilityNeeds) {
		return nil, appErrors.Clone(appErrors.ErrNoMachineAvailable, "room cannot host the reservation")
	}

	bookable, err := s.calendar.IsSlotBookable(ctx, userID, room, exam, requested, req.AccessibilityNeeds)
	if err != nil {
		return nil, err
	}
	if !bookable {
		return nil, appErrors.Clone(appErrors.ErrConflict, "requested slot is no longer available")
	}

	eligible, err := s.machines.EligibleMachines(ctx, room, req.AccessibilityNeeds, exam)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return nil, appErrors.ErrNoMachineAvailable
	}
	candidates := s.machines.ShuffledCandidates(eligible)
	candidateIDs := make([]string, len(candidates))
	for i, m := range candidates {
		candidateIDs[i] = m.ID
	}

	// A federated reservation is authoritative at the partner side. Remove
	// it there before taking the local lock; if removal fails the booking
	// aborts with the old reservation intact.
	if previous != nil && previous.IsExternal() {
		userRef := ""
		if previous.ExternalUserRef != nil {
			userRef = *previous.ExternalUserRef
		}
		if err := s.external.RemoveReservation(ctx, *previous.ExternalRef, userRef); err != nil {
			return nil, err
		}
	}

	placement := models.ReservationPlacement{
		UserID:              userID,
		EnrolmentID:         enrolment.ID,
		Start:               req.Start,
		End:                 req.End,
		CandidateMachineIDs: candidateIDs,
		SectionIDs:          req.SectionIDs,
		// Bookings made less than a day ahead get no separate reminder.
		ReminderSent: req.Start.Sub(now) < 24*time.Hour,
		LockTimeout:  s.lockTimeout,
	}
	if previous != nil {
		placement.SupersededReservationID = &previous.ID
	}

	placementStart := time.Now()
	reservation, err := s.store.PlaceReservation(ctx, placement)
	if s.metrics != nil {
		s.metrics.ObserveLockWait(time.Since(placementStart))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("reservation created",
		zap.String("reservation_id", reservation.ID),
		zap.String("user_id", userID),
		zap.String("exam_id", exam.ID),
		zap.String("machine_id", reservation.MachineID),
		zap.Time("start", reservation.StartAt))

	if user, err := s.users.FindByID(ctx, userID); err == nil {
		s.notification.NotifyReservationCreated(user, exam, room, machineByID(candidates, reservation.MachineID), reservation)
	} else {
		s.logger.Warn("skipping confirmation mail, user lookup failed",
			zap.String("user_id", userID), zap.Error(err))
	}
	return reservation, nil
}

// CancelReservation removes a future reservation. Students may only cancel
// their own; admins may cancel any and attach a message that is forwarded to
// the student.
func (s *ReservationService) CancelReservation(ctx context.Context, userID, reservationID string, isAdmin bool, message string) error {
	detail, err := s.enrolments.FindByReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	if !isAdmin && (detail.UserID == nil || *detail.UserID != userID) {
		return appErrors.ErrForbidden
	}
	reservation := detail.Reservation
	if reservation == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
	}
	if !reservation.StartAt.After(s.now()) {
		return appErrors.ErrReservationInEffect
	}

	if reservation.IsExternal() {
		userRef := ""
		if reservation.ExternalUserRef != nil {
			userRef = *reservation.ExternalUserRef
		}
		if err := s.external.RemoveReservation(ctx, *reservation.ExternalRef, userRef); err != nil {
			return err
		}
	}

	if err := s.store.CancelReservation(ctx, detail.ID, reservation.ID); err != nil {
		return err
	}

	s.logger.Info("reservation cancelled",
		zap.String("reservation_id", reservation.ID),
		zap.String("enrolment_id", detail.ID),
		zap.Bool("by_admin", isAdmin))

	if email := s.enrolleeEmail(ctx, detail); email != "" && detail.Exam != nil {
		s.notification.NotifyReservationCancelled(email, detail.Exam, reservation, message)
	}
	return nil
}

// ReassignMachine moves a future reservation onto another machine in the
// same room. Admin operation; the target must be in service and cover the
// exam's software requirements.
func (s *ReservationService) ReassignMachine(ctx context.Context, reservationID, machineID string) error {
	detail, err := s.enrolments.FindByReservation(ctx, reservationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load reservation")
	}
	reservation := detail.Reservation
	if reservation == nil {
		return appErrors.Clone(appErrors.ErrNotFound, "reservation not found")
	}
	if !reservation.StartAt.After(s.now()) {
		return appErrors.ErrReservationInEffect
	}

	target, err := s.machines.GetMachine(ctx, machineID)
	if err != nil {
		return err
	}
	current, err := s.machines.GetMachine(ctx, reservation.MachineID)
	if err != nil {
		return err
	}
	if target.RoomID != current.RoomID {
		return appErrors.Clone(appErrors.ErrValidation, "target machine is in a different room")
	}
	if !target.InService() {
		return appErrors.Clone(appErrors.ErrValidation, "target machine is not in service")
	}
	if !target.HasRequiredSoftware(detail.Exam) {
		return appErrors.Clone(appErrors.ErrValidation, "target machine lacks required software")
	}

	within := models.NewInterval(reservation.StartAt, reservation.EndAt)
	if err := s.store.ReassignMachine(ctx, reservation.ID, target.ID, within); err != nil {
		return err
	}

	s.logger.Info("reservation reassigned",
		zap.String("reservation_id", reservation.ID),
		zap.String("machine_id", target.ID))
	return nil
}

func (s *ReservationService) enrolleeEmail(ctx context.Context, detail *models.EnrolmentDetail) string {
	if detail.UserID != nil {
		if user, err := s.users.FindByID(ctx, *detail.UserID); err == nil {
			return user.Email
		}
	}
	if detail.PreEnrolledEmail != nil {
		return *detail.PreEnrolledEmail
	}
	return ""
}

func machineByID(machines []models.ExamMachine, id string) *models.ExamMachine {
	for i := range machines {
		if machines[i].ID == id {
			return &machines[i]
		}
	}
	return nil
}
