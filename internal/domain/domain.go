package domain

import (
	"time"
)

type Mode string

const (
	ModeSolo  Mode = "solo"
	ModeSquad Mode = "squad"
	ModeChaos Mode = "chaos"
)

func (m Mode) Valid() bool {
	switch m {
	case ModeSolo, ModeSquad, ModeChaos:
		return true
	}
	return false
}

// Status is the lifecycle state of a session.
// Transitions: waiting -> active -> finished, waiting -> cancelled.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
	StatusCancelled Status = "cancelled"
)

// PayoutStatus tracks prize credits of a finished session or refunds of a cancelled one.
type PayoutStatus string

const (
	PayoutNone     PayoutStatus = "none"
	PayoutPending  PayoutStatus = "pending"
	PayoutPaid     PayoutStatus = "paid"
	PayoutRefunded PayoutStatus = "refunded"
	PayoutFailed   PayoutStatus = "failed"
)

// Session represents one battle royale event, from creation through finish or cancellation.
type Session struct {
	SessionID      string
	JoinCode       string
	Mode           Mode
	Topic          string
	Difficulty     string
	EntryFee       int64
	MaxPlayers     int
	MinimumPlayers int
	TotalRounds    int

	Status         Status
	CurrentPlayers int
	PrizePool      int64
	Questions      []Question
	PayoutStatus   PayoutStatus

	CreateTime   time.Time
	AutoCancelAt time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Question returns the question of a 1-based round.
func (s *Session) Question(round int) (Question, bool) {
	if round < 1 || round > len(s.Questions) {
		return Question{}, false
	}
	return s.Questions[round-1], true
}

// Participant is a user's entry into one session.
type Participant struct {
	ParticipantID     string
	SessionID         string
	UserID            string
	TeamID            string
	TotalScore        int64
	CorrectAnswers    int
	IsAlive           bool
	EliminatedByRound *int
	Position          *int
	Prize             int64
	// EntryRef is the ledger reference of the entry fee debit, refunds are keyed on it.
	EntryRef string
	JoinTime time.Time
}

type Team struct {
	TeamID    string
	SessionID string
	TeamName  string
	Slug      string
	CaptainID string
}

type Question struct {
	QuestionID    string
	Prompt        string
	Options       []string
	CorrectAnswer string
	Topic         string
	Difficulty    string
}

// Answer is one participant's response to one round.
type Answer struct {
	SessionID      string
	ParticipantID  string
	RoundNumber    int
	QuestionID     string
	SelectedAnswer string
	IsCorrect      bool
	ResponseTimeMs int
	PointsEarned   int64
	SubmitTime     time.Time
}

// Score represents a participant's running total within a session.
type Score struct {
	SessionID     string
	ParticipantID string
	UserID        string
	TotalScore    int64
	UpdateTime    time.Time
}

// Leaderboard represents a list of users and their scores within a session.
// The list is sorted by score in descending order.
type Leaderboard struct {
	SessionID string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID string
	Score  float64
}
