// Package score computes the result of an attempt from an exam definition and an answer vector.
// Evaluation is pure: it reads no clock and touches no storage.
package score

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
)

var hundred = decimal.NewFromInt(100)

// Outcome is the scored view of one answer vector.
type Outcome struct {
	CorrectCount   int
	TotalQuestions int
	ScorePercent   int
	Passed         bool
	PerQuestion    []domain.QuestionResult
}

// Evaluate scores answers against def. answers must hold exactly one entry per question;
// domain.Unanswered and out-of-range indices count as incorrect.
func Evaluate(def *domain.ExamDefinition, answers []int) (*Outcome, error) {
	if len(answers) != len(def.Questions) {
		return nil, errors.From(errors.ErrMalformedSubmission,
			errors.WithMessagef("answer count mismatch: exam=%s, want=%d, got=%d", def.ExamID, len(def.Questions), len(answers)))
	}

	if len(def.Questions) == 0 {
		return nil, errors.From(errors.ErrInvalidDefinition,
			errors.WithMessagef("exam has no questions: exam=%s", def.ExamID))
	}

	o := &Outcome{
		TotalQuestions: len(def.Questions),
		PerQuestion:    make([]domain.QuestionResult, 0, len(def.Questions)),
	}

	for i, q := range def.Questions {
		chosen := answers[i]
		correct := chosen != domain.Unanswered && chosen == q.CorrectOptionIndex
		if correct {
			o.CorrectCount++
		}

		o.PerQuestion = append(o.PerQuestion, domain.QuestionResult{
			QuestionID:  q.QuestionID,
			ChosenIndex: chosen,
			IsCorrect:   correct,
		})
	}

	o.ScorePercent = Percent(o.CorrectCount, o.TotalQuestions)
	o.Passed = o.ScorePercent >= def.PassingScore

	return o, nil
}

// Percent returns round(100 * correct / total) with halves rounded up.
func Percent(correct, total int) int {
	if total <= 0 {
		return 0
	}

	// Round rounds half away from zero, which is half-up for non-negative values.
	return int(decimal.NewFromInt(int64(correct)).
		Mul(hundred).
		Div(decimal.NewFromInt(int64(total))).
		Round(0).
		IntPart())
}
