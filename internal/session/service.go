package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/errors"
	"github.com/victornm/assessment/internal/event"
	"github.com/victornm/assessment/internal/score"
	"github.com/victornm/assessment/internal/telemetry"
)

const defaultTickInterval = time.Second

// TimerMode decides where the remaining time of a session comes from.
type TimerMode string

const (
	// TimerModeDerived computes the remaining time from the persisted start time,
	// so reloading a session never grants extra time.
	TimerModeDerived TimerMode = "derived"
	// TimerModeVolatile counts down in memory only. A session reloaded from the
	// store starts again with its full duration.
	TimerModeVolatile TimerMode = "volatile"
)

type Definitions interface {
	LoadDefinition(ctx context.Context, examID string) (*domain.ExamDefinition, error)
}

type Results interface {
	Append(ctx context.Context, r domain.AttemptResult) error
	Get(ctx context.Context, attemptID string) (*domain.AttemptResult, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type Config struct {
	Definitions   Definitions
	Results       Results
	Store         Store
	EventBus      *event.Bus
	TimerMode     TimerMode
	TickInterval  time.Duration
	Now           func() time.Time
	NewTickerFunc func(d time.Duration) Ticker
}

type Service struct {
	defs      Definitions
	results   Results
	store     Store
	eb        *event.Bus
	mode      TimerMode
	interval  time.Duration
	now       func() time.Time
	newTicker func(d time.Duration) Ticker

	// owner identifies this process when claiming submission slots.
	owner string

	mu       sync.Mutex
	sessions map[string]*attempt

	done chan struct{}
	wg   sync.WaitGroup
}

// attempt guards one session. Every state transition happens under mu.
type attempt struct {
	mu       sync.Mutex
	s        domain.AttemptSession
	forced   bool
	counting bool

	// forcedFailures counts failed forced submissions; holdTicks is how many ticks
	// to wait before the next one.
	forcedFailures int
	holdTicks      int
}

func NewService(c Config) *Service {
	s := &Service{
		defs:      c.Definitions,
		results:   c.Results,
		store:     c.Store,
		eb:        c.EventBus,
		mode:      c.TimerMode,
		interval:  c.TickInterval,
		now:       c.Now,
		newTicker: c.NewTickerFunc,
		owner:     uuid.NewString(),
		sessions:  make(map[string]*attempt),
		done:      make(chan struct{}),
	}

	if s.mode == "" {
		s.mode = TimerModeDerived
	}
	if s.interval <= 0 {
		s.interval = defaultTickInterval
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newTicker == nil {
		s.newTicker = func(d time.Duration) Ticker { return timeTicker{time.NewTicker(d)} }
	}

	return s
}

type StartSessionRequest struct {
	ExamID string
	UserID string
}

// StartSession snapshots the exam definition and starts the countdown of a new attempt.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*domain.AttemptSession, error) {
	def, err := s.defs.LoadDefinition(ctx, req.ExamID)
	if err != nil {
		return nil, err
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate submission token: %w", err)
	}

	answers := make([]int, len(def.Questions))
	for i := range answers {
		answers[i] = domain.Unanswered
	}

	a := &attempt{
		s: domain.AttemptSession{
			SessionID:            sessionID.String(),
			Token:                token.String(),
			ExamID:               def.ExamID,
			UserID:               req.UserID,
			Status:               domain.SessionStatusInProgress,
			CurrentQuestionIndex: 0,
			Answers:              answers,
			TimeRemainingSeconds: def.DurationMinutes * 60,
			StartedAt:            s.now().UTC(),
			Definition:           def.Clone(),
		},
	}

	if err := s.store.Save(ctx, &a.s); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.sessions[a.s.SessionID] = a
	s.mu.Unlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	s.startCountdownLocked(a)

	slog.InfoContext(ctx, "session: started",
		"session", a.s.SessionID,
		"exam", a.s.ExamID,
		"user", a.s.UserID,
		"duration_minutes", def.DurationMinutes,
	)

	return s.snapshotLocked(a), nil
}

type GetSessionRequest struct {
	SessionID string
	UserID    string
}

func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*domain.AttemptSession, error) {
	a, err := s.owned(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	return s.snapshotLocked(a), nil
}

type SelectAnswerRequest struct {
	SessionID     string
	UserID        string
	QuestionIndex int
	// OptionIndex may be domain.Unanswered to clear a previous choice.
	OptionIndex int
}

// SelectAnswer records the option chosen for one question. The last write wins.
func (s *Service) SelectAnswer(ctx context.Context, req SelectAnswerRequest) (*domain.AttemptSession, error) {
	a, err := s.owned(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := s.checkActiveLocked(a); err != nil {
		return nil, err
	}

	if s.remainingLocked(a) == 0 {
		return nil, errors.From(errors.ErrTimeOver, errors.WithMessagef("time is over: session=%s", a.s.SessionID))
	}

	if err := checkQuestionIndex(&a.s, req.QuestionIndex); err != nil {
		return nil, err
	}

	if err := checkOptionIndex(&a.s, req.QuestionIndex, req.OptionIndex); err != nil {
		return nil, err
	}

	a.s.Answers[req.QuestionIndex] = req.OptionIndex
	s.saveLocked(ctx, a)

	return s.snapshotLocked(a), nil
}

type GoToRequest struct {
	SessionID     string
	UserID        string
	QuestionIndex int
}

// GoTo moves the current question. It never touches answers.
func (s *Service) GoTo(ctx context.Context, req GoToRequest) (*domain.AttemptSession, error) {
	a, err := s.owned(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if err := s.checkActiveLocked(a); err != nil {
		return nil, err
	}

	if err := checkQuestionIndex(&a.s, req.QuestionIndex); err != nil {
		return nil, err
	}

	a.s.CurrentQuestionIndex = req.QuestionIndex
	s.saveLocked(ctx, a)

	return s.snapshotLocked(a), nil
}

type SubmitRequest struct {
	SessionID string
	UserID    string
	// Answers optionally replaces the captured answer vector. It must hold one entry per question.
	Answers []int
}

type SubmitResponse struct {
	Result      domain.AttemptResult
	PerQuestion []domain.QuestionResult
	// Duplicate is set when the session had already been submitted; nothing new was stored.
	Duplicate bool
}

const (
	triggerManual = "manual"
	triggerTimer  = "timer"
)

// Submit ends the attempt and stores its result exactly once.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	a, err := s.owned(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	return s.submit(ctx, a, triggerManual, req.Answers)
}

// submit moves the session out of in-progress before anything else happens, so of two
// racing callers only the first reaches scoring and the other sees a duplicate.
func (s *Service) submit(ctx context.Context, a *attempt, trigger string, override []int) (*SubmitResponse, error) {
	a.mu.Lock()

	switch a.s.Status {
	case domain.SessionStatusSubmitted:
		resp := &SubmitResponse{
			Result:      *a.s.Result,
			PerQuestion: append([]domain.QuestionResult(nil), a.s.PerQuestion...),
			Duplicate:   true,
		}
		a.mu.Unlock()

		telemetry.ObserveSubmission(trigger, "duplicate")
		return resp, nil

	case domain.SessionStatusSubmitting:
		id := a.s.SessionID
		a.mu.Unlock()

		telemetry.ObserveSubmission(trigger, "duplicate")
		return nil, errors.From(errors.ErrDuplicateSubmission,
			errors.WithMessagef("submission already in progress: session=%s", id))

	case domain.SessionStatusInProgress:
	default:
		defer a.mu.Unlock()
		return nil, errors.From(errors.ErrSessionNotActive,
			errors.WithMessagef("session is %s: session=%s", a.s.Status, a.s.SessionID))
	}

	expired := trigger == triggerTimer || s.remainingLocked(a) == 0

	if override != nil {
		if err := s.applyOverrideLocked(a, override, expired); err != nil {
			a.mu.Unlock()
			return nil, err
		}
	}

	a.s.Status = domain.SessionStatusSubmitting
	s.saveLocked(ctx, a)

	ss := a.s
	ss.Answers = append([]int(nil), a.s.Answers...)
	a.mu.Unlock()

	result, perQuestion, err := s.finalize(ctx, &ss, trigger == triggerTimer)

	a.mu.Lock()
	defer a.mu.Unlock()

	if err != nil {
		a.s.Status = domain.SessionStatusInProgress
		if expired || s.remainingLocked(a) == 0 {
			a.s.Expired = true
			a.s.TimeRemainingSeconds = 0
		}
		s.saveLocked(ctx, a)

		telemetry.ObserveSubmission(trigger, "failed")
		slog.ErrorContext(ctx, "session: submit failed",
			"session", a.s.SessionID,
			"trigger", trigger,
			"error", err,
		)
		return nil, err
	}

	a.s.Status = domain.SessionStatusSubmitted
	a.s.Result = result
	a.s.PerQuestion = perQuestion
	if s.saveLocked(ctx, a) {
		s.evict(a.s.SessionID)
	}

	telemetry.ObserveSubmission(trigger, "submitted")
	slog.InfoContext(ctx, "session: submitted",
		"session", a.s.SessionID,
		"attempt", result.AttemptID,
		"trigger", trigger,
		"score_percent", result.ScorePercent,
		"passed", result.Passed,
	)

	if s.eb != nil {
		s.eb.Publish(ctx, domain.EventAttemptSubmitted{Result: *result})
	}

	return &SubmitResponse{
		Result:      *result,
		PerQuestion: append([]domain.QuestionResult(nil), perQuestion...),
	}, nil
}

func (s *Service) applyOverrideLocked(a *attempt, answers []int, expired bool) error {
	if len(answers) != a.s.QuestionCount() {
		return errors.From(errors.ErrMalformedSubmission,
			errors.WithMessagef("answer count mismatch: session=%s, want=%d, got=%d", a.s.SessionID, a.s.QuestionCount(), len(answers)))
	}

	if expired {
		return errors.From(errors.ErrTimeOver,
			errors.WithMessagef("answers cannot change after time is over: session=%s", a.s.SessionID))
	}

	for i, opt := range answers {
		if err := checkOptionIndex(&a.s, i, opt); err != nil {
			return err
		}
	}

	copy(a.s.Answers, answers)
	return nil
}

// finalize scores a submitted snapshot and appends the result, keyed by the session token.
// A result already stored for the token is returned instead of a new one.
func (s *Service) finalize(ctx context.Context, ss *domain.AttemptSession, forced bool) (*domain.AttemptResult, []domain.QuestionResult, error) {
	claimed, err := s.store.ClaimSubmission(ctx, ss.Token, s.owner)
	if err != nil {
		return nil, nil, errors.From(errors.ErrPersistenceFailure,
			errors.WithMessagef("claim submission: session=%s", ss.SessionID),
			errors.WithCause(err))
	}

	if !claimed {
		return s.existing(ctx, ss)
	}

	o, err := score.Evaluate(&ss.Definition, ss.Answers)
	if err != nil {
		s.release(ctx, ss)
		return nil, nil, err
	}

	r := domain.AttemptResult{
		AttemptID:      ss.Token,
		SessionID:      ss.SessionID,
		ExamID:         ss.ExamID,
		UserID:         ss.UserID,
		ExamTitle:      ss.Definition.Title,
		PassingScore:   ss.Definition.PassingScore,
		ScorePercent:   o.ScorePercent,
		CorrectCount:   o.CorrectCount,
		TotalQuestions: o.TotalQuestions,
		Passed:         o.Passed,
		Forced:         forced,
		Answers:        ss.Answers,
		SubmittedAt:    s.now().UTC(),
	}

	if err := s.results.Append(ctx, r); err != nil {
		if errors.Convert(err).Code == errors.CodeAlreadyExists {
			return s.existing(ctx, ss)
		}

		s.release(ctx, ss)
		return nil, nil, errors.From(errors.ErrPersistenceFailure,
			errors.WithMessagef("store attempt result: session=%s", ss.SessionID),
			errors.WithCause(err))
	}

	return &r, o.PerQuestion, nil
}

// existing loads the result another submission already stored for the session token.
func (s *Service) existing(ctx context.Context, ss *domain.AttemptSession) (*domain.AttemptResult, []domain.QuestionResult, error) {
	r, err := s.results.Get(ctx, ss.Token)
	if errors.Convert(err).Code == errors.CodeNotFound {
		return nil, nil, errors.From(errors.ErrDuplicateSubmission,
			errors.WithMessagef("session is being submitted elsewhere: session=%s", ss.SessionID))
	}
	if err != nil {
		return nil, nil, errors.From(errors.ErrPersistenceFailure,
			errors.WithMessagef("load stored result: session=%s", ss.SessionID),
			errors.WithCause(err))
	}

	o, err := score.Evaluate(&ss.Definition, r.Answers)
	if err != nil {
		return nil, nil, err
	}

	return r, o.PerQuestion, nil
}

func (s *Service) release(ctx context.Context, ss *domain.AttemptSession) {
	if err := s.store.ReleaseSubmission(ctx, ss.Token, s.owner); err != nil {
		slog.WarnContext(ctx, "session: release submission slot failed",
			"session", ss.SessionID,
			"error", err,
		)
	}
}

// Resume reloads every stored session that is still in progress and restarts its countdown.
func (s *Service) Resume(ctx context.Context) (int, error) {
	ids, err := s.store.IDs(ctx)
	if err != nil {
		return 0, err
	}

	var n int
	for _, id := range ids {
		a, err := s.attempt(ctx, id)
		if err != nil {
			slog.WarnContext(ctx, "session: resume failed", "session", id, "error", err)
			continue
		}

		a.mu.Lock()
		if a.s.Status == domain.SessionStatusInProgress {
			n++
		}
		a.mu.Unlock()
	}

	return n, nil
}

// Stop halts every countdown and waits for running forced submissions to finish.
func (s *Service) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Service) owned(ctx context.Context, sessionID, userID string) (*attempt, error) {
	a, err := s.attempt(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.s.UserID != userID {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("session belongs to another user: session=%s", sessionID))
	}

	return a, nil
}

// attempt returns the in-memory session, reloading it from the store when this process
// does not hold it.
func (s *Service) attempt(ctx context.Context, sessionID string) (*attempt, error) {
	s.mu.Lock()
	a, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if ok {
		return a, nil
	}

	ss, err := s.store.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	restored := &attempt{s: *ss}
	s.restore(ctx, restored)

	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.sessions[sessionID]; ok {
		return a, nil
	}

	if restored.s.Status != domain.SessionStatusSubmitted {
		s.sessions[sessionID] = restored
	}

	restored.mu.Lock()
	s.startCountdownLocked(restored)
	restored.mu.Unlock()

	return restored, nil
}

func (s *Service) restore(ctx context.Context, a *attempt) {
	if a.s.Status == domain.SessionStatusSubmitting {
		// The process holding it stopped mid-submission.
		a.s.Status = domain.SessionStatusInProgress

		r, err := s.results.Get(ctx, a.s.Token)
		if err == nil {
			if o, err := score.Evaluate(&a.s.Definition, r.Answers); err == nil {
				a.s.Status = domain.SessionStatusSubmitted
				a.s.Result = r
				a.s.PerQuestion = o.PerQuestion
			}
		}
	}

	if s.mode == TimerModeVolatile && !a.s.Expired && a.s.Status == domain.SessionStatusInProgress {
		a.s.TimeRemainingSeconds = a.s.Definition.DurationMinutes * 60
		a.s.StartedAt = s.now().UTC()
	}
}

func (s *Service) evict(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}

func (s *Service) checkActiveLocked(a *attempt) error {
	if a.s.Status != domain.SessionStatusInProgress {
		return errors.From(errors.ErrSessionNotActive,
			errors.WithMessagef("session is %s: session=%s", a.s.Status, a.s.SessionID))
	}
	return nil
}

// remainingLocked refreshes and returns the remaining seconds. The value never increases.
func (s *Service) remainingLocked(a *attempt) int {
	if a.s.Expired {
		a.s.TimeRemainingSeconds = 0
		return 0
	}

	if s.mode == TimerModeDerived && a.s.Status == domain.SessionStatusInProgress {
		total := a.s.Definition.DurationMinutes * 60
		elapsed := int(s.now().Sub(a.s.StartedAt) / time.Second)
		a.s.TimeRemainingSeconds = min(a.s.TimeRemainingSeconds, max(total-elapsed, 0))
	}

	return a.s.TimeRemainingSeconds
}

// saveLocked persists the session and reports whether it succeeded. The in-memory
// state stays authoritative when the store is unavailable.
func (s *Service) saveLocked(ctx context.Context, a *attempt) bool {
	if err := s.store.Save(ctx, &a.s); err != nil {
		slog.WarnContext(ctx, "session: persist state failed",
			"session", a.s.SessionID,
			"error", err,
		)
		return false
	}
	return true
}

// snapshotLocked returns a copy safe to hand out of the lock.
func (s *Service) snapshotLocked(a *attempt) *domain.AttemptSession {
	s.remainingLocked(a)

	ss := a.s
	ss.Answers = append([]int(nil), a.s.Answers...)
	ss.PerQuestion = append([]domain.QuestionResult(nil), a.s.PerQuestion...)
	if a.s.Result != nil {
		r := *a.s.Result
		r.Answers = append([]int(nil), a.s.Result.Answers...)
		ss.Result = &r
	}

	return &ss
}

func checkQuestionIndex(ss *domain.AttemptSession, i int) error {
	if i < 0 || i >= ss.QuestionCount() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("question index %d out of range [0, %d)", i, ss.QuestionCount()))
	}
	return nil
}

func checkOptionIndex(ss *domain.AttemptSession, question, option int) error {
	n := len(ss.Definition.Questions[question].Options)
	if option != domain.Unanswered && (option < 0 || option >= n) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("option index %d out of range for question %d: want -1 or [0, %d)", option, question, n))
	}
	return nil
}
