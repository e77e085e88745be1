package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	"github.com/uniexam/booking-api/pkg/config"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type settingsRepository interface {
	Get(ctx context.Context, name string) (*models.Setting, error)
	Upsert(ctx context.Context, setting *models.Setting) error
}

// SettingsService reads and writes mutable global configuration. Reads go
// through the repository's cache; a missing or malformed value falls back to
// the static configuration default.
type SettingsService struct {
	repo        settingsRepository
	defaultDays int
	logger      *zap.Logger
}

// NewSettingsService constructs SettingsService.
func NewSettingsService(repo settingsRepository, cfg config.BookingConfig, logger *zap.Logger) *SettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SettingsService{repo: repo, defaultDays: cfg.ReservationWindowDays, logger: logger}
}

// ReservationWindowDays returns how far ahead reservations may be placed.
func (s *SettingsService) ReservationWindowDays(ctx context.Context) int {
	setting, err := s.repo.Get(ctx, models.SettingReservationWindow)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("settings lookup failed, using default window", zap.Error(err))
		}
		return s.defaultDays
	}
	days, err := strconv.Atoi(setting.Value)
	if err != nil || days <= 0 {
		s.logger.Warn("malformed reservation window setting, using default",
			zap.String("value", setting.Value))
		return s.defaultDays
	}
	return days
}

// GetSetting returns one setting by name.
func (s *SettingsService) GetSetting(ctx context.Context, name string) (*models.Setting, error) {
	setting, err := s.repo.Get(ctx, name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "setting not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load setting")
	}
	return setting, nil
}

// UpdateSetting writes a setting. The reservation window must parse as a
// positive day count.
func (s *SettingsService) UpdateSetting(ctx context.Context, name, value string) (*models.Setting, error) {
	if name == models.SettingReservationWindow {
		days, err := strconv.Atoi(value)
		if err != nil || days <= 0 {
			return nil, appErrors.Clone(appErrors.ErrValidation, "reservation window must be a positive number of days")
		}
	}
	setting := &models.Setting{Name: name, Value: value}
	if err := s.repo.Upsert(ctx, setting); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update setting")
	}
	s.logger.Info("setting updated", zap.String("name", name), zap.String("value", value))
	return setting, nil
}
