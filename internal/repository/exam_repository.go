package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/uniexam/booking-api/internal/models"
)

// ExamRepository reads the exam capability descriptors the engine books
// against. Exams are owned by the exam provider; this side never writes them
// outside of synchronisation.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs the repository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// FindByID returns an exam with its software requirements. sql.ErrNoRows
// when missing.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.Exam, error) {
	return loadExam(ctx, r.db, id)
}

// ListBookable returns the published exams whose period has not ended.
func (r *ExamRepository) ListBookable(ctx context.Context) ([]models.Exam, error) {
	const query = `SELECT id, name, state, duration, period_start, period_end FROM exams
        WHERE state = $1 AND period_end > NOW() ORDER BY period_start`
	var exams []models.Exam
	if err := r.db.SelectContext(ctx, &exams, query, models.ExamStatePublished); err != nil {
		return nil, fmt.Errorf("list bookable exams: %w", err)
	}
	for i := range exams {
		const softwareQuery = `SELECT software FROM exam_software WHERE exam_id = $1 ORDER BY software`
		if err := r.db.SelectContext(ctx, &exams[i].RequiredSoftware, softwareQuery, exams[i].ID); err != nil {
			return nil, fmt.Errorf("load exam software: %w", err)
		}
	}
	return exams, nil
}
