package service

import (
	"context"
	"database/sql"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type machineRepository interface {
	ListByRoom(ctx context.Context, roomID string) ([]models.ExamMachine, error)
	FindByID(ctx context.Context, id string) (*models.ExamMachine, error)
	Create(ctx context.Context, machine *models.ExamMachine) error
	Update(ctx context.Context, machine *models.ExamMachine) error
	SetArchived(ctx context.Context, id string, archived bool) error
	Reassign(ctx context.Context, machineID, roomID string) error
}

type machineRoomRepository interface {
	FindByID(ctx context.Context, id string) (*models.ExamRoom, error)
}

// MachineService manages workstations and answers machine eligibility for the
// calendar and the booking transaction.
type MachineService struct {
	repo     machineRepository
	rooms    machineRoomRepository
	validate *validator.Validate
	logger   *zap.Logger

	// rand.Rand is not safe for concurrent use; rngMu guards it across
	// parallel booking requests.
	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewMachineService constructs MachineService.
func NewMachineService(repo machineRepository, rooms machineRoomRepository, logger *zap.Logger) *MachineService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MachineService{
		repo:     repo,
		rooms:    rooms,
		validate: validator.New(),
		logger:   logger,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithRand overrides the shuffle source. Intended for tests.
func (s *MachineService) WithRand(rng *rand.Rand) *MachineService {
	s.rng = rng
	return s
}

// EligibleMachines returns the machines of room usable for the given exam and
// accessibility needs: in service, satisfying every requested accessibility
// need and carrying the exam's required software.
func (s *MachineService) EligibleMachines(ctx context.Context, room *models.ExamRoom, accessibilityNeeds []string, exam *models.Exam) ([]models.ExamMachine, error) {
	machines := room.Machines
	if machines == nil {
		loaded, err := s.repo.ListByRoom(ctx, room.ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load machines")
		}
		machines = loaded
	}

	eligible := make([]models.ExamMachine, 0, len(machines))
	for _, m := range machines {
		if !m.InService() {
			continue
		}
		if !m.AccessibilitySatisfied(accessibilityNeeds) {
			continue
		}
		if !m.HasRequiredSoftware(exam) {
			continue
		}
		eligible = append(eligible, m)
	}
	return eligible, nil
}

// ShuffledCandidates returns a randomly ordered copy of machines. The booking
// transaction probes the candidates in this order, so ties between equally
// free machines resolve randomly.
func (s *MachineService) ShuffledCandidates(machines []models.ExamMachine) []models.ExamMachine {
	shuffled := make([]models.ExamMachine, len(machines))
	copy(shuffled, machines)
	s.rngMu.Lock()
	s.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	s.rngMu.Unlock()
	return shuffled
}

// GetMachine returns a machine by id.
func (s *MachineService) GetMachine(ctx context.Context, id string) (*models.ExamMachine, error) {
	machine, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "machine not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load machine")
	}
	return machine, nil
}

// ListMachines returns the machines of a room, archived ones included.
func (s *MachineService) ListMachines(ctx context.Context, roomID string) ([]models.ExamMachine, error) {
	machines, err := s.repo.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load machines")
	}
	return machines, nil
}

// CreateMachine adds a machine to a room.
func (s *MachineService) CreateMachine(ctx context.Context, req *models.CreateMachineRequest) (*models.ExamMachine, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid machine payload")
	}
	if _, err := s.requireRoom(ctx, req.RoomID); err != nil {
		return nil, err
	}

	machine := &models.ExamMachine{
		ID:            uuid.NewString(),
		RoomID:        req.RoomID,
		Name:          req.Name,
		IPAddress:     req.IPAddress,
		Accessible:    req.Accessible,
		Software:      req.Software,
		Accessibility: req.Accessibility,
	}
	if err := s.repo.Create(ctx, machine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create machine")
	}
	s.logger.Info("machine created",
		zap.String("machine_id", machine.ID),
		zap.String("room_id", machine.RoomID))
	return machine, nil
}

// UpdateMachine applies partial changes to a machine.
func (s *MachineService) UpdateMachine(ctx context.Context, id string, req *models.UpdateMachineRequest) (*models.ExamMachine, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid machine payload")
	}
	machine, err := s.GetMachine(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		machine.Name = req.Name
	}
	if req.IPAddress != nil {
		machine.IPAddress = req.IPAddress
	}
	if req.OutOfService != nil {
		machine.OutOfService = *req.OutOfService
	}
	if req.Accessible != nil {
		machine.Accessible = *req.Accessible
	}
	if req.Software != nil {
		machine.Software = req.Software
	}
	if req.Accessibility != nil {
		machine.Accessibility = req.Accessibility
	}

	if err := s.repo.Update(ctx, machine); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update machine")
	}
	return machine, nil
}

// ArchiveMachine retires a machine. Archived machines stay resolvable from
// historical reservations but never take new ones.
func (s *MachineService) ArchiveMachine(ctx context.Context, id string) error {
	if _, err := s.GetMachine(ctx, id); err != nil {
		return err
	}
	if err := s.repo.SetArchived(ctx, id, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive machine")
	}
	s.logger.Info("machine archived", zap.String("machine_id", id))
	return nil
}

// ReassignMachine moves a machine into another room. The target room must
// exist and be in service; future reservations on the machine stay in place
// and follow it to the new room.
func (s *MachineService) ReassignMachine(ctx context.Context, machineID string, req *models.ReassignMachineRequest) (*models.ExamMachine, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid reassignment payload")
	}
	machine, err := s.GetMachine(ctx, machineID)
	if err != nil {
		return nil, err
	}
	room, err := s.requireRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if !room.Bookable() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "target room is not in service")
	}

	if err := s.repo.Reassign(ctx, machineID, room.ID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reassign machine")
	}
	s.logger.Info("machine reassigned",
		zap.String("machine_id", machineID),
		zap.String("from_room", machine.RoomID),
		zap.String("to_room", room.ID))
	machine.RoomID = room.ID
	return machine, nil
}

func (s *MachineService) requireRoom(ctx context.Context, roomID string) (*models.ExamRoom, error) {
	room, err := s.rooms.FindByID(ctx, roomID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	return room, nil
}
