package api

import (
	"time"

	"github.com/victornm/assessment/internal/domain"
)

// The views below are what learners see. Correct option indexes never leave the
// server through them.
type (
	examView struct {
		ExamID          string         `json:"id"`
		Title           string         `json:"title"`
		Description     string         `json:"description"`
		DurationMinutes int            `json:"durationMinutes"`
		PassingScore    int            `json:"passingScore"`
		Questions       []questionView `json:"questions"`
	}

	questionView struct {
		QuestionID string   `json:"id"`
		Text       string   `json:"text"`
		Options    []string `json:"options"`
	}

	sessionView struct {
		SessionID            string                  `json:"sessionId"`
		ExamID               string                  `json:"examId"`
		UserID               string                  `json:"userId"`
		Status               domain.SessionStatus    `json:"status"`
		CurrentQuestionIndex int                     `json:"currentQuestionIndex"`
		Answers              []int                   `json:"answers"`
		TimeRemainingSeconds int                     `json:"timeRemainingSeconds"`
		StartedAt            time.Time               `json:"startedAt"`
		Exam                 examView                `json:"exam"`
		Result               *resultView             `json:"result,omitempty"`
		PerQuestion          []domain.QuestionResult `json:"perQuestion,omitempty"`
	}

	resultView struct {
		AttemptID      string    `json:"attemptId"`
		ExamID         string    `json:"examId"`
		UserID         string    `json:"userId"`
		PassingScore   int       `json:"passingScore"`
		ScorePercent   int       `json:"scorePercent"`
		CorrectCount   int       `json:"correctCount"`
		TotalQuestions int       `json:"totalQuestions"`
		Passed         bool      `json:"passed"`
		Forced         bool      `json:"forced"`
		SubmittedAt    time.Time `json:"submittedAt"`
	}

	submitView struct {
		resultView
		Duplicate   bool                    `json:"duplicate"`
		PerQuestion []domain.QuestionResult `json:"perQuestion"`
	}

	eligibilityView struct {
		HasPassed  bool        `json:"hasPassed"`
		BestResult *resultView `json:"bestResult,omitempty"`
	}

	leaderboardView struct {
		ExamID  string                 `json:"examId"`
		Entries []leaderboardEntryView `json:"entries"`
	}

	leaderboardEntryView struct {
		UserID       string `json:"userId"`
		ScorePercent int    `json:"scorePercent"`
	}
)

func newExamView(def *domain.ExamDefinition) examView {
	v := examView{
		ExamID:          def.ExamID,
		Title:           def.Title,
		Description:     def.Description,
		DurationMinutes: def.DurationMinutes,
		PassingScore:    def.PassingScore,
		Questions:       make([]questionView, 0, len(def.Questions)),
	}

	for _, q := range def.Questions {
		v.Questions = append(v.Questions, questionView{
			QuestionID: q.QuestionID,
			Text:       q.Text,
			Options:    q.Options,
		})
	}

	return v
}

func newSessionView(ss *domain.AttemptSession) sessionView {
	v := sessionView{
		SessionID:            ss.SessionID,
		ExamID:               ss.ExamID,
		UserID:               ss.UserID,
		Status:               ss.Status,
		CurrentQuestionIndex: ss.CurrentQuestionIndex,
		Answers:              ss.Answers,
		TimeRemainingSeconds: ss.TimeRemainingSeconds,
		StartedAt:            ss.StartedAt,
		Exam:                 newExamView(&ss.Definition),
		PerQuestion:          ss.PerQuestion,
	}

	if ss.Result != nil {
		r := newResultView(ss.Result)
		v.Result = &r
	}

	return v
}

func newResultView(r *domain.AttemptResult) resultView {
	return resultView{
		AttemptID:      r.AttemptID,
		ExamID:         r.ExamID,
		UserID:         r.UserID,
		PassingScore:   r.PassingScore,
		ScorePercent:   r.ScorePercent,
		CorrectCount:   r.CorrectCount,
		TotalQuestions: r.TotalQuestions,
		Passed:         r.Passed,
		Forced:         r.Forced,
		SubmittedAt:    r.SubmittedAt,
	}
}

func newLeaderboardView(l *domain.Leaderboard) leaderboardView {
	v := leaderboardView{
		ExamID:  l.ExamID,
		Entries: make([]leaderboardEntryView, 0, len(l.Entries)),
	}

	for _, e := range l.Entries {
		v.Entries = append(v.Entries, leaderboardEntryView{
			UserID:       e.UserID,
			ScorePercent: e.ScorePercent,
		})
	}

	return v
}
