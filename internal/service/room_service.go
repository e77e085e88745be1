package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type roomRepository interface {
	FindByID(ctx context.Context, id string) (*models.ExamRoom, error)
	List(ctx context.Context) ([]models.ExamRoom, error)
	Create(ctx context.Context, room *models.ExamRoom) error
	Update(ctx context.Context, room *models.ExamRoom) error
	ReplaceWorkingHours(ctx context.Context, roomID string, hours []models.DefaultWorkingHours) error
	AddExceptionHours(ctx context.Context, exception *models.ExceptionWorkingHour) error
	DeleteExceptionHours(ctx context.Context, roomID, exceptionID string) error
	ReplaceStartingHours(ctx context.Context, roomID string, hours []models.StartingHour) error
}

// RoomService manages exam rooms and their opening-hours configuration.
// Working-hour writes capture the zone offset in force at save time, so
// later DST-rule changes never reinterpret what an admin authored.
type RoomService struct {
	repo     roomRepository
	validate *validator.Validate
	logger   *zap.Logger
	now      func() time.Time
}

// NewRoomService constructs RoomService.
func NewRoomService(repo roomRepository, logger *zap.Logger) *RoomService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RoomService{repo: repo, validate: validator.New(), logger: logger, now: time.Now}
}

// GetRoom returns a room with its hours, machines and accessibility loaded.
func (s *RoomService) GetRoom(ctx context.Context, id string) (*models.ExamRoom, error) {
	room, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	return room, nil
}

// ListRooms returns all rooms.
func (s *RoomService) ListRooms(ctx context.Context) ([]models.ExamRoom, error) {
	rooms, err := s.repo.List(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rooms")
	}
	return rooms, nil
}

// CreateRoom creates a room. The timezone must resolve in the tz database.
func (s *RoomService) CreateRoom(ctx context.Context, req *models.CreateRoomRequest) (*models.ExamRoom, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	if _, err := time.LoadLocation(req.LocalTimezone); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone "+req.LocalTimezone)
	}

	room := &models.ExamRoom{
		ID:            uuid.NewString(),
		Name:          req.Name,
		RoomCode:      req.RoomCode,
		BuildingName:  req.BuildingName,
		LocalTimezone: req.LocalTimezone,
		State:         models.RoomStateActive,
		Accessibility: req.Accessibility,
	}
	if err := s.repo.Create(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create room")
	}
	s.logger.Info("room created", zap.String("room_id", room.ID), zap.String("name", room.Name))
	return room, nil
}

// UpdateRoom applies partial changes to a room.
func (s *RoomService) UpdateRoom(ctx context.Context, id string, req *models.UpdateRoomRequest) (*models.ExamRoom, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		room.Name = *req.Name
	}
	if req.RoomCode != nil {
		room.RoomCode = *req.RoomCode
	}
	if req.BuildingName != nil {
		room.BuildingName = *req.BuildingName
	}
	if req.LocalTimezone != nil {
		if _, err := time.LoadLocation(*req.LocalTimezone); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "unknown timezone "+*req.LocalTimezone)
		}
		room.LocalTimezone = *req.LocalTimezone
	}
	if req.State != nil {
		room.State = *req.State
	}
	if req.OutOfService != nil {
		room.OutOfService = *req.OutOfService
	}
	if req.Accessibility != nil {
		room.Accessibility = req.Accessibility
	}

	if err := s.repo.Update(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update room")
	}
	return room, nil
}

// ReplaceWorkingHours swaps the weekly default blocks of a room.
func (s *RoomService) ReplaceWorkingHours(ctx context.Context, roomID string, req *models.ReplaceWorkingHoursRequest) ([]models.DefaultWorkingHours, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid working hours payload")
	}
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	loc, err := room.Location()
	if err != nil {
		return nil, err
	}

	offset := zoneOffsetMillis(s.now(), loc)
	hours := make([]models.DefaultWorkingHours, 0, len(req.Blocks))
	for _, b := range req.Blocks {
		if b.EndMillis != 0 && b.EndMillis <= b.StartMillis {
			return nil, appErrors.Clone(appErrors.ErrValidation, "working hours block ends before it starts")
		}
		hours = append(hours, models.DefaultWorkingHours{
			ID:             uuid.NewString(),
			RoomID:         roomID,
			Weekday:        b.Weekday,
			StartMillis:    b.StartMillis,
			EndMillis:      b.EndMillis,
			TimezoneOffset: offset,
		})
	}
	if err := s.repo.ReplaceWorkingHours(ctx, roomID, hours); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace working hours")
	}
	s.logger.Info("working hours replaced",
		zap.String("room_id", roomID),
		zap.Int("blocks", len(hours)))
	return hours, nil
}

// AddExceptionHours adds one exception block to a room.
func (s *RoomService) AddExceptionHours(ctx context.Context, roomID string, req *models.ExceptionHoursRequest) (*models.ExceptionWorkingHour, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exception payload")
	}
	if !req.EndDate.After(req.StartDate) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "exception must end after it starts")
	}
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	loc, err := room.Location()
	if err != nil {
		return nil, err
	}

	exception := &models.ExceptionWorkingHour{
		ID:           uuid.NewString(),
		RoomID:       roomID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		StartOffset:  zoneOffsetMillis(req.StartDate, loc),
		EndOffset:    zoneOffsetMillis(req.EndDate, loc),
		OutOfService: req.OutOfService,
	}
	if err := s.repo.AddExceptionHours(ctx, exception); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to add exception hours")
	}
	s.logger.Info("exception hours added",
		zap.String("room_id", roomID),
		zap.Bool("out_of_service", exception.OutOfService),
		zap.Time("start", exception.StartDate))
	return exception, nil
}

// DeleteExceptionHours removes one exception block.
func (s *RoomService) DeleteExceptionHours(ctx context.Context, roomID, exceptionID string) error {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return err
	}
	if err := s.repo.DeleteExceptionHours(ctx, roomID, exceptionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "exception not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete exception hours")
	}
	return nil
}

// ReplaceStartingHours swaps the allowed starting times of a room. An empty
// list restores the hourly default grid.
func (s *RoomService) ReplaceStartingHours(ctx context.Context, roomID string, req *models.ReplaceStartingHoursRequest) ([]models.StartingHour, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid starting hours payload")
	}
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	loc, err := room.Location()
	if err != nil {
		return nil, err
	}

	minutes := append([]int(nil), req.MinutesOfDay...)
	sort.Ints(minutes)
	offset := zoneOffsetMillis(s.now(), loc)
	hours := make([]models.StartingHour, 0, len(minutes))
	for i, m := range minutes {
		if i > 0 && minutes[i-1] == m {
			continue
		}
		hours = append(hours, models.StartingHour{
			ID:             uuid.NewString(),
			RoomID:         roomID,
			MinuteOfDay:    m,
			TimezoneOffset: offset,
		})
	}
	if err := s.repo.ReplaceStartingHours(ctx, roomID, hours); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to replace starting hours")
	}
	return hours, nil
}
