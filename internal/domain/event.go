package domain

const (
	EventNameSessionStarted     = "session.started"
	EventNameSessionFinished    = "session.finished"
	EventNameSessionCancelled   = "session.cancelled"
	EventNameRoundProcessed     = "round.processed"
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"
)

type EventSessionStarted struct {
	Session Session
}

func (EventSessionStarted) Name() string { return EventNameSessionStarted }

type EventSessionFinished struct {
	Session  Session
	Rankings []Participant
}

func (EventSessionFinished) Name() string { return EventNameSessionFinished }

type EventSessionCancelled struct {
	Session Session
}

func (EventSessionCancelled) Name() string { return EventNameSessionCancelled }

type EventRoundProcessed struct {
	SessionID    string
	RoundNumber  int
	Eliminated   []Participant
	Remaining    []Participant
	IsFinalRound bool
}

func (EventRoundProcessed) Name() string { return EventNameRoundProcessed }

type EventScoreUpdated struct {
	Score Score
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }
