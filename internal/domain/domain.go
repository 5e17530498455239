package domain

import (
	"time"
)

// Unanswered marks a question the user did not select an option for.
const Unanswered = -1

// ExamDefinition is the authored exam content. A session binds to a copy of it
// taken at start, so later edits never change how an attempt is scored.
type ExamDefinition struct {
	ExamID          string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	DurationMinutes int        `json:"durationMinutes"`
	PassingScore    int        `json:"passingScore"`
	Questions       []Question `json:"questions"`
	UpdateTime      time.Time  `json:"updateTime"`
}

type Question struct {
	QuestionID         string   `json:"id"`
	Text               string   `json:"text"`
	Options            []string `json:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex"`
}

// Clone returns a deep copy so the snapshot shares no slices with the source.
func (d ExamDefinition) Clone() ExamDefinition {
	c := d
	c.Questions = make([]Question, len(d.Questions))
	for i, q := range d.Questions {
		q.Options = append([]string(nil), q.Options...)
		c.Questions[i] = q
	}
	return c
}

type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusSubmitting SessionStatus = "submitting"
	SessionStatusSubmitted  SessionStatus = "submitted"
)

// AttemptSession is one user's run through an exam.
type AttemptSession struct {
	SessionID            string           `json:"sessionId"`
	Token                string           `json:"token"`
	ExamID               string           `json:"examId"`
	UserID               string           `json:"userId"`
	Status               SessionStatus    `json:"status"`
	CurrentQuestionIndex int              `json:"currentQuestionIndex"`
	Answers              []int            `json:"answers"`
	TimeRemainingSeconds int              `json:"timeRemainingSeconds"`
	StartedAt            time.Time        `json:"startedAt"`
	Expired              bool             `json:"expired"`
	Definition           ExamDefinition   `json:"definition"`
	Result               *AttemptResult   `json:"result,omitempty"`
	PerQuestion          []QuestionResult `json:"perQuestion,omitempty"`
}

func (s *AttemptSession) QuestionCount() int {
	return len(s.Definition.Questions)
}

// AttemptResult is the append-only record of a completed attempt. ExamTitle and
// PassingScore are those of the definition the attempt was graded against.
type AttemptResult struct {
	AttemptID      string    `json:"attemptId"`
	SessionID      string    `json:"sessionId"`
	ExamID         string    `json:"examId"`
	UserID         string    `json:"userId"`
	ExamTitle      string    `json:"examTitle"`
	PassingScore   int       `json:"passingScore"`
	ScorePercent   int       `json:"scorePercent"`
	CorrectCount   int       `json:"correctCount"`
	TotalQuestions int       `json:"totalQuestions"`
	Passed         bool      `json:"passed"`
	Forced         bool      `json:"forced"`
	Answers        []int     `json:"answers"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// QuestionResult is how one question of an attempt was scored.
type QuestionResult struct {
	QuestionID  string `json:"questionId"`
	ChosenIndex int    `json:"chosenIndex"`
	IsCorrect   bool   `json:"isCorrect"`
}

// CertificateEligibility is derived from the full attempt history of a user and exam.
type CertificateEligibility struct {
	HasPassed  bool
	BestResult *AttemptResult
}

// Certificate holds what certificate rendering needs.
type Certificate struct {
	UserDisplayName string    `json:"userDisplayName"`
	ExamTitle       string    `json:"examTitle"`
	ScorePercent    int       `json:"scorePercent"`
	PassingScore    int       `json:"passingScore"`
	IssuedAt        time.Time `json:"issuedAt"`
	CertificateCode string    `json:"certificateCode"`
}

// Leaderboard lists users of an exam by their best score, highest first.
type Leaderboard struct {
	ExamID  string
	Entries []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID       string
	ScorePercent int
}
