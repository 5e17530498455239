package exam

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
)

// Repository persists exam definitions.
type Repository interface {
	Get(ctx context.Context, examID string) (*domain.ExamDefinition, error)
	Upsert(ctx context.Context, def *domain.ExamDefinition) error
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Get(ctx context.Context, examID string) (*domain.ExamDefinition, error) {
	const stmt = `
SELECT exam_id, title, description, duration_minutes, passing_score, questions, update_time
FROM exams
WHERE exam_id = $1;`

	var (
		def       domain.ExamDefinition
		questions []byte
	)

	err := r.db.QueryRow(ctx, stmt, examID).Scan(
		&def.ExamID,
		&def.Title,
		&def.Description,
		&def.DurationMinutes,
		&def.PassingScore,
		&questions,
		&def.UpdateTime,
	)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("exam not found: exam=%s", examID))
	}
	if err != nil {
		return nil, fmt.Errorf("select exam: %w", err)
	}

	if err := json.Unmarshal(questions, &def.Questions); err != nil {
		return nil, errors.From(errors.ErrInvalidDefinition,
			errors.WithMessagef("exam questions are corrupt: exam=%s", examID),
			errors.WithCause(err))
	}

	return &def, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, def *domain.ExamDefinition) error {
	const stmt = `
INSERT INTO exams (exam_id, title, description, duration_minutes, passing_score, questions, update_time)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (exam_id) DO UPDATE SET
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	duration_minutes = EXCLUDED.duration_minutes,
	passing_score = EXCLUDED.passing_score,
	questions = EXCLUDED.questions,
	update_time = EXCLUDED.update_time;`

	questions, err := json.Marshal(def.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	_, err = r.db.Exec(ctx, stmt,
		def.ExamID,
		def.Title,
		def.Description,
		def.DurationMinutes,
		def.PassingScore,
		questions,
		def.UpdateTime,
	)
	if err != nil {
		return fmt.Errorf("upsert exam: %w", err)
	}

	return nil
}
