package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type maintenanceRepository interface {
	ListEndingAfter(ctx context.Context, from time.Time) ([]models.MaintenancePeriod, error)
	FindByID(ctx context.Context, id string) (*models.MaintenancePeriod, error)
	Create(ctx context.Context, period *models.MaintenancePeriod) error
	Update(ctx context.Context, period *models.MaintenancePeriod) error
	Delete(ctx context.Context, id string) error
}

// MaintenanceService manages global maintenance periods. During a period no
// slots are offered in any room; existing reservations are left alone.
type MaintenanceService struct {
	repo     maintenanceRepository
	validate *validator.Validate
	logger   *zap.Logger
}

// NewMaintenanceService constructs MaintenanceService.
func NewMaintenanceService(repo maintenanceRepository, logger *zap.Logger) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceService{repo: repo, validate: validator.New(), logger: logger}
}

// ListUpcoming returns periods that have not ended yet.
func (s *MaintenanceService) ListUpcoming(ctx context.Context) ([]models.MaintenancePeriod, error) {
	periods, err := s.repo.ListEndingAfter(ctx, time.Now())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list maintenance periods")
	}
	return periods, nil
}

// CreatePeriod creates a maintenance period.
func (s *MaintenanceService) CreatePeriod(ctx context.Context, req *models.MaintenancePeriodRequest) (*models.MaintenancePeriod, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid maintenance payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "maintenance period must end after it starts")
	}

	period := &models.MaintenancePeriod{
		ID:          uuid.NewString(),
		StartsAt:    req.StartsAt,
		EndsAt:      req.EndsAt,
		Description: req.Description,
	}
	if err := s.repo.Create(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create maintenance period")
	}
	s.logger.Info("maintenance period created",
		zap.String("period_id", period.ID),
		zap.Time("starts_at", period.StartsAt),
		zap.Time("ends_at", period.EndsAt))
	return period, nil
}

// UpdatePeriod rewrites a maintenance period.
func (s *MaintenanceService) UpdatePeriod(ctx context.Context, id string, req *models.MaintenancePeriodRequest) (*models.MaintenancePeriod, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid maintenance payload")
	}
	if !req.EndsAt.After(req.StartsAt) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "maintenance period must end after it starts")
	}

	period, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance period not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance period")
	}

	period.StartsAt = req.StartsAt
	period.EndsAt = req.EndsAt
	period.Description = req.Description
	if err := s.repo.Update(ctx, period); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update maintenance period")
	}
	return period, nil
}

// DeletePeriod removes a maintenance period.
func (s *MaintenanceService) DeletePeriod(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "maintenance period not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete maintenance period")
	}
	s.logger.Info("maintenance period deleted", zap.String("period_id", id))
	return nil
}
