package eligibility

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/victornm/assessment/internal/domain"
)

// HasPassed reports whether any result passed. The answer does not depend on the
// order of results or on duplicates among them.
func HasPassed(results []domain.AttemptResult) bool {
	for _, r := range results {
		if r.Passed {
			return true
		}
	}
	return false
}

// Best returns the result with the highest score. Ties go to the latest submission,
// then to the greatest attempt id, so any ordering of the same results picks the same one.
func Best(results []domain.AttemptResult) *domain.AttemptResult {
	var best *domain.AttemptResult
	for i := range results {
		if best == nil || better(&results[i], best) {
			best = &results[i]
		}
	}

	if best == nil {
		return nil
	}

	r := *best
	r.Answers = append([]int(nil), best.Answers...)
	return &r
}

// BestPassed is Best over the passed results only. With passing scores changing between
// attempts, the highest score is not necessarily a passed one.
func BestPassed(results []domain.AttemptResult) *domain.AttemptResult {
	passed := make([]domain.AttemptResult, 0, len(results))
	for _, r := range results {
		if r.Passed {
			passed = append(passed, r)
		}
	}
	return Best(passed)
}

func better(a, b *domain.AttemptResult) bool {
	if a.ScorePercent != b.ScorePercent {
		return a.ScorePercent > b.ScorePercent
	}
	if !a.SubmittedAt.Equal(b.SubmittedAt) {
		return a.SubmittedAt.After(b.SubmittedAt)
	}
	return a.AttemptID > b.AttemptID
}

// Evaluate folds a result history into the eligibility of one user for one exam.
func Evaluate(results []domain.AttemptResult) domain.CertificateEligibility {
	return domain.CertificateEligibility{
		HasPassed:  HasPassed(results),
		BestResult: Best(results),
	}
}

// CertificateCode derives a short checkable code from the exam and the score, e.g. EXM-1a2b3c4d-80.
func CertificateCode(examID string, scorePercent int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", examID, scorePercent)))
	return fmt.Sprintf("EXM-%s-%d", hex.EncodeToString(sum[:4]), scorePercent)
}
