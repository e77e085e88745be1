package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/uniexam/booking-api/internal/models"
	appErrors "github.com/uniexam/booking-api/pkg/errors"
)

type examCatalog interface {
	FindByID(ctx context.Context, id string) (*models.Exam, error)
	ListBookable(ctx context.Context) ([]models.Exam, error)
}

// ExamService exposes the exam catalogue to students.
type ExamService struct {
	exams  examCatalog
	logger *zap.Logger
}

// NewExamService constructs ExamService.
func NewExamService(exams examCatalog, logger *zap.Logger) *ExamService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamService{exams: exams, logger: logger}
}

// ListBookableExams returns the published exams whose period has not ended.
func (s *ExamService) ListBookableExams(ctx context.Context) ([]models.Exam, error) {
	exams, err := s.exams.ListBookable(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	return exams, nil
}

// GetExam returns one exam by id.
func (s *ExamService) GetExam(ctx context.Context, id string) (*models.Exam, error) {
	exam, err := s.exams.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	return exam, nil
}
