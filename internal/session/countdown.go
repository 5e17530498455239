package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/victornm/assessment/internal/domain"
	"github.com/victornm/assessment/internal/telemetry"
)

const maxForcedHoldTicks = 60

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }

func (t timeTicker) Stop() { t.t.Stop() }

// startCountdownLocked runs the countdown of a session that is not yet submitted.
// At most one countdown runs per session.
func (s *Service) startCountdownLocked(a *attempt) {
	if a.counting || a.s.Status == domain.SessionStatusSubmitted {
		return
	}

	a.counting = true
	telemetry.SessionStarted()

	t := s.newTicker(s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer telemetry.SessionStopped()
		defer t.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-t.C():
				if !s.tick(a) {
					return
				}
			}
		}
	}()
}

// tick advances the countdown by one step and reports whether it should keep running.
// When the time runs out the session is force submitted, once.
func (s *Service) tick(a *attempt) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.s.Status {
	case domain.SessionStatusSubmitted:
		a.counting = false
		return false
	case domain.SessionStatusSubmitting:
		return true
	}

	if s.mode == TimerModeVolatile && a.s.TimeRemainingSeconds > 0 {
		a.s.TimeRemainingSeconds--
	}

	if s.remainingLocked(a) > 0 || a.forced {
		return true
	}

	if a.holdTicks > 0 {
		a.holdTicks--
		return true
	}

	a.forced = true
	id := a.s.SessionID

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ctx := context.Background()
		if _, err := s.submit(ctx, a, triggerTimer, nil); err != nil {
			hold := s.retryForcedSubmit(a)
			slog.WarnContext(ctx, "session: forced submit failed",
				"session", id,
				"retry_in_ticks", hold,
				"error", err,
			)
		}
	}()

	return true
}

// retryForcedSubmit rearms the forced submission of a session that was not submitted,
// doubling the number of ticks to wait up to maxForcedHoldTicks. A session lost to a
// concurrent submit that later fails is picked up again as well.
func (s *Service) retryForcedSubmit(a *attempt) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.s.Status == domain.SessionStatusSubmitted {
		return 0
	}

	a.forced = false
	a.forcedFailures++
	a.holdTicks = min(int(1)<<min(a.forcedFailures, 6), maxForcedHoldTicks)
	return a.holdTicks
}
