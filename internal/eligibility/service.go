package eligibility

import (
	"context"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/history"
)

type History interface {
	List(ctx context.Context, req history.ListRequest) ([]domain.AttemptResult, error)
}

type Config struct {
	History History
}

// Service derives certificate eligibility from the attempt history on every read.
// Nothing is cached, so results appended by other sessions show up on the next call.
type Service struct {
	history History
}

func NewService(c Config) *Service {
	return &Service{
		history: c.History,
	}
}

type GetEligibilityRequest struct {
	ExamID string
	UserID string
}

func (s *Service) GetEligibility(ctx context.Context, req GetEligibilityRequest) (*domain.CertificateEligibility, error) {
	results, err := s.history.List(ctx, history.ListRequest{ExamID: req.ExamID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	e := Evaluate(results)
	return &e, nil
}

func (s *Service) HasPassed(ctx context.Context, examID, userID string) (bool, error) {
	e, err := s.GetEligibility(ctx, GetEligibilityRequest{ExamID: examID, UserID: userID})
	if err != nil {
		return false, err
	}
	return e.HasPassed, nil
}

type GetCertificateRequest struct {
	ExamID      string
	UserID      string
	DisplayName string
}

type GetCertificateResponse struct {
	Eligibility domain.CertificateEligibility
	Certificate domain.Certificate
}

// GetCertificate returns nil when the user has never passed the exam. The certificate is
// built from the best passed attempt and shows the title and passing score it was graded
// against, so later edits of the exam do not change it.
func (s *Service) GetCertificate(ctx context.Context, req GetCertificateRequest) (*GetCertificateResponse, error) {
	results, err := s.history.List(ctx, history.ListRequest{ExamID: req.ExamID, UserID: req.UserID})
	if err != nil {
		return nil, err
	}

	best := BestPassed(results)
	if best == nil {
		return nil, nil
	}

	return &GetCertificateResponse{
		Eligibility: Evaluate(results),
		Certificate: domain.Certificate{
			UserDisplayName: req.DisplayName,
			ExamTitle:       best.ExamTitle,
			ScorePercent:    best.ScorePercent,
			PassingScore:    best.PassingScore,
			IssuedAt:        best.SubmittedAt,
			CertificateCode: CertificateCode(req.ExamID, best.ScorePercent),
		},
	}, nil
}
