package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type enrolmentRepository interface {
	FindActiveByUserAndExam(ctx context.Context, userID, examID string) (*models.EnrolmentDetail, error)
	FindByID(ctx context.Context, id string) (*models.EnrolmentDetail, error)
	ListByUser(ctx context.Context, userID string) ([]models.EnrolmentDetail, error)
	Create(ctx context.Context, enrolment *models.Enrolment) error
	ClaimPreEnrolments(ctx context.Context, userID, email string) (int64, error)
}

type examReader interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
}

// EnrolmentService manages exam enrolments, the prerequisite for booking.
type EnrolmentService struct {
	repo   enrolmentRepository
	exams  examReader
	logger *zap.Logger
	now    func() time.Time
}

// NewEnrolmentService constructs EnrolmentService.
func NewEnrolmentService(repo enrolmentRepository, exams examReader, logger *zap.Logger) *EnrolmentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EnrolmentService{repo: repo, exams: exams, logger: logger, now: time.Now}
}

// Enrol registers the user for an exam. At most one active enrolment per
// (user, exam) pair may exist.
func (s *EnrolmentService) Enrol(ctx context.Context, userID, examID string) (*models.Enrolment, error) {
	exam, err := s.exams.FindByID(ctx, examID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	if !exam.Bookable(s.now()) {
		return nil, appErrors.ErrExamNotBookable
	}

	if existing, err := s.repo.FindActiveByUserAndExam(ctx, userID, examID); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "already enrolled for this exam")
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrolment")
	}

	enrolment := &models.Enrolment{
		ID:         uuid.NewString(),
		UserID:     &userID,
		ExamID:     examID,
		EnrolledAt: s.now(),
	}
	if err := s.repo.Create(ctx, enrolment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create enrolment")
	}
	s.logger.Info("enrolment created",
		zap.String("enrolment_id", enrolment.ID),
		zap.String("user_id", userID),
		zap.String("exam_id", examID))
	return enrolment, nil
}

// ListUserEnrolments returns the user's enrolments with exam and current
// reservation resolved.
func (s *EnrolmentService) ListUserEnrolments(ctx context.Context, userID string) ([]models.EnrolmentDetail, error) {
	enrolments, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrolments")
	}
	return enrolments, nil
}

// GetEnrolment returns one enrolment; non-admins only see their own.
func (s *EnrolmentService) GetEnrolment(ctx context.Context, id, userID string, isAdmin bool) (*models.EnrolmentDetail, error) {
	detail, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrolment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrolment")
	}
	if !isAdmin && (detail.UserID == nil || *detail.UserID != userID) {
		return nil, appErrors.ErrForbidden
	}
	return detail, nil
}

// ClaimPreEnrolments attaches enrolments created against the user's email
// before their first login. Called after authentication.
func (s *EnrolmentService) ClaimPreEnrolments(ctx context.Context, userID, email string) error {
	claimed, err := s.repo.ClaimPreEnrolments(ctx, userID, email)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim pre-enrolments")
	}
	if claimed > 0 {
		s.logger.Info("pre-enrolments claimed",
			zap.String("user_id", userID),
			zap.Int64("count", claimed))
	}
	return nil
}
