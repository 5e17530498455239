package domain

const (
	EventNameAttemptSubmitted   = "attempt.submitted"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventAttemptSubmitted struct {
	Result AttemptResult
}

func (EventAttemptSubmitted) Name() string { return EventNameAttemptSubmitted }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
