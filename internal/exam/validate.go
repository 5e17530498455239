package exam

import (
	"fmt"

	"github.com/victornm/assessment/internal/domain"
)

const (
	minOptions      = 2
	maxPassingScore = 100
)

// Validate checks the invariants a definition must hold before any attempt can use it.
func Validate(def *domain.ExamDefinition) error {
	if def.ExamID == "" {
		return fmt.Errorf("exam id is empty")
	}

	if def.DurationMinutes <= 0 {
		return fmt.Errorf("duration must be positive: got %d minutes", def.DurationMinutes)
	}

	if def.PassingScore < 0 || def.PassingScore > maxPassingScore {
		return fmt.Errorf("passing score must be within [0, %d]: got %d", maxPassingScore, def.PassingScore)
	}

	if len(def.Questions) == 0 {
		return fmt.Errorf("exam has no questions")
	}

	seen := make(map[string]int, len(def.Questions))
	for i, q := range def.Questions {
		if len(q.Options) < minOptions {
			return fmt.Errorf("question %d has %d options, want at least %d", i, len(q.Options), minOptions)
		}

		if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
			return fmt.Errorf("question %d: correct option index %d out of range [0, %d)", i, q.CorrectOptionIndex, len(q.Options))
		}

		if q.QuestionID == "" {
			continue
		}
		if j, ok := seen[q.QuestionID]; ok {
			return fmt.Errorf("questions %d and %d share id %q", j, i, q.QuestionID)
		}
		seen[q.QuestionID] = i
	}

	return nil
}

// assignQuestionIDs gives every question without an id a positional one (q1, q2, ...).
func assignQuestionIDs(def *domain.ExamDefinition) {
	used := make(map[string]bool, len(def.Questions))
	for _, q := range def.Questions {
		if q.QuestionID != "" {
			used[q.QuestionID] = true
		}
	}

	for i := range def.Questions {
		if def.Questions[i].QuestionID != "" {
			continue
		}

		id := fmt.Sprintf("q%d", i+1)
		for n := 1; used[id]; n++ {
			id = fmt.Sprintf("q%d_%d", i+1, n)
		}

		def.Questions[i].QuestionID = id
		used[id] = true
	}
}
