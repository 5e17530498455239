// Package history stores attempt results. Rows are append-only: a result is written
// once per attempt and never updated.
package history

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
)

const codeUniqueViolation = "23505"

type Config struct {
	DB *pgxpool.Pool
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(c Config) *Service {
	return &Service{
		db: c.DB,
	}
}

// Append stores a result. A second result with the same attempt id is rejected with CodeAlreadyExists.
func (s *Service) Append(ctx context.Context, r domain.AttemptResult) error {
	const stmt = `
INSERT INTO attempt_results (
	attempt_id, session_id, exam_id, user_id, exam_title, passing_score,
	score_percent, correct_count, total_questions, passed, forced, answers, submitted_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);`

	answers := make([]int32, len(r.Answers))
	for i, a := range r.Answers {
		answers[i] = int32(a)
	}

	_, err := s.db.Exec(ctx, stmt,
		r.AttemptID, r.SessionID, r.ExamID, r.UserID, r.ExamTitle, r.PassingScore,
		r.ScorePercent, r.CorrectCount, r.TotalQuestions, r.Passed, r.Forced, answers, r.SubmittedAt,
	)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("attempt result already stored: attempt=%s", r.AttemptID),
			errors.WithCause(err))
	}

	if err != nil {
		return fmt.Errorf("insert attempt result: %w", err)
	}

	return nil
}

// Get returns the result stored for an attempt.
func (s *Service) Get(ctx context.Context, attemptID string) (*domain.AttemptResult, error) {
	const stmt = selectResults + `WHERE attempt_id = $1;`

	rows, err := s.db.Query(ctx, stmt, attemptID)
	if err != nil {
		return nil, fmt.Errorf("select attempt result: %w", err)
	}

	r, err := pgx.CollectExactlyOneRow(rows, scanResult)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound, errors.WithMessagef("attempt result not found: attempt=%s", attemptID))
	}
	if err != nil {
		return nil, fmt.Errorf("collect attempt result: %w", err)
	}

	return &r, nil
}

type ListRequest struct {
	ExamID string
	UserID string
}

// List returns every result of a user for an exam, oldest first.
func (s *Service) List(ctx context.Context, req ListRequest) ([]domain.AttemptResult, error) {
	const stmt = selectResults + `
WHERE exam_id = $1 AND user_id = $2
ORDER BY submitted_at, attempt_id;`

	rows, err := s.db.Query(ctx, stmt, req.ExamID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("select attempt results: %w", err)
	}

	results, err := pgx.CollectRows(rows, scanResult)
	if err != nil {
		return nil, fmt.Errorf("collect attempt results: %w", err)
	}

	return results, nil
}

const selectResults = `
SELECT attempt_id, session_id, exam_id, user_id, exam_title, passing_score,
	score_percent, correct_count, total_questions, passed, forced, answers, submitted_at
FROM attempt_results
`

func scanResult(row pgx.CollectableRow) (domain.AttemptResult, error) {
	var (
		r       domain.AttemptResult
		answers []int32
	)

	if err := row.Scan(
		&r.AttemptID, &r.SessionID, &r.ExamID, &r.UserID, &r.ExamTitle, &r.PassingScore,
		&r.ScorePercent, &r.CorrectCount, &r.TotalQuestions, &r.Passed, &r.Forced, &answers, &r.SubmittedAt,
	); err != nil {
		return domain.AttemptResult{}, err
	}

	r.Answers = make([]int, len(answers))
	for i, a := range answers {
		r.Answers[i] = int(a)
	}

	return r, nil
}
