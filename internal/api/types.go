package api

import (
	"time"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/session"
)

// Request payloads, one per action. Field names follow the wire format.
type (
	CreateSessionPayload struct {
		Mode        string `json:"mode"`
		Topic       string `json:"topic"`
		Difficulty  string `json:"difficulty"`
		EntryFee    *int64 `json:"entryFee"`
		MaxPlayers  int    `json:"maxPlayers"`
		TotalRounds int    `json:"totalRounds"`
	}

	JoinSessionPayload struct {
		SessionID string `json:"sessionId"`
		UserID    string `json:"userId"`
		TeamName  string `json:"teamName"`
	}

	SessionPayload struct {
		SessionID string `json:"sessionId"`
	}

	SubmitAnswerPayload struct {
		SessionID      string `json:"sessionId"`
		ParticipantID  string `json:"participantId"`
		RoundNumber    int    `json:"roundNumber"`
		QuestionID     string `json:"questionId"`
		SelectedAnswer string `json:"selectedAnswer"`
		ResponseTimeMs int    `json:"responseTimeMs"`
	}

	ProcessRoundPayload struct {
		SessionID   string `json:"sessionId"`
		RoundNumber int    `json:"roundNumber"`
	}

	AutoStartCheckPayload struct{}
)

type (
	Session struct {
		SessionID      string     `json:"id"`
		JoinCode       string     `json:"joinCode"`
		Mode           string     `json:"mode"`
		Topic          string     `json:"topic"`
		Difficulty     string     `json:"difficulty"`
		EntryFee       int64      `json:"entryFee"`
		MaxPlayers     int        `json:"maxPlayers"`
		MinimumPlayers int        `json:"minimumPlayers"`
		TotalRounds    int        `json:"totalRounds"`
		Status         string     `json:"status"`
		CurrentPlayers int        `json:"currentPlayers"`
		PrizePool      int64      `json:"prizePool"`
		PayoutStatus   string     `json:"payoutStatus"`
		Questions      []Question `json:"questions,omitempty"`
		CreatedAt      time.Time  `json:"createdAt"`
		AutoCancelAt   time.Time  `json:"autoCancelAt"`
		StartedAt      *time.Time `json:"startedAt"`
		FinishedAt     *time.Time `json:"finishedAt"`
	}

	// Question hides the correct answer until the session is over.
	Question struct {
		QuestionID    string   `json:"id"`
		Prompt        string   `json:"prompt"`
		Options       []string `json:"options"`
		CorrectAnswer string   `json:"correctAnswer,omitempty"`
	}

	Participant struct {
		ParticipantID     string    `json:"id"`
		SessionID         string    `json:"sessionId"`
		UserID            string    `json:"userId"`
		TeamID            string    `json:"teamId,omitempty"`
		TotalScore        int64     `json:"totalScore"`
		CorrectAnswers    int       `json:"correctAnswers"`
		IsAlive           bool      `json:"isAlive"`
		EliminatedByRound *int      `json:"eliminatedByRound"`
		Position          *int      `json:"position"`
		Prize             int64     `json:"prize"`
		JoinedAt          time.Time `json:"joinedAt"`
	}

	Leaderboard struct {
		SessionID string             `json:"sessionId"`
		Entries   []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID string  `json:"userId"`
		Score  float64 `json:"score"`
	}
)

type (
	CreateSessionResponse struct {
		Session Session `json:"session"`
	}

	JoinSessionResponse struct {
		Participant Participant `json:"participant"`
		EntryFee    int64       `json:"entryFee"`
		PrizePool   int64       `json:"prizePool"`
		Balance     int64       `json:"balance"`
	}

	StartSessionResponse struct {
		Session       Session  `json:"session"`
		FirstQuestion Question `json:"firstQuestion"`
		TotalPlayers  int      `json:"totalPlayers"`
	}

	SubmitAnswerResponse struct {
		IsCorrect     bool   `json:"isCorrect"`
		PointsEarned  int64  `json:"pointsEarned"`
		TotalScore    int64  `json:"totalScore"`
		CorrectAnswer string `json:"correctAnswer"`
	}

	ProcessRoundResponse struct {
		RoundNumber  int           `json:"roundNumber"`
		Eliminated   []Participant `json:"eliminated"`
		Remaining    []Participant `json:"remaining"`
		IsFinalRound bool          `json:"isFinalRound"`
		NextQuestion *Question     `json:"nextQuestion"`
	}

	FinishSessionResponse struct {
		Session  Session       `json:"session"`
		Rankings []Participant `json:"rankings"`
	}

	AutoStartCheckResponse struct {
		Cancelled []string `json:"cancelled"`
		Started   []string `json:"started"`
		Failed    []string `json:"failed"`
		Retried   []string `json:"retried"`
	}

	GetSessionResponse struct {
		Session      Session       `json:"session"`
		Participants []Participant `json:"participants"`
	}

	RetryPayoutResponse struct {
		Session Session `json:"session"`
	}

	ErrorResponse struct {
		Error string `json:"error"`
	}
)

func toSession(ss domain.Session) Session {
	reveal := ss.Status == domain.StatusFinished

	out := Session{
		SessionID:      ss.SessionID,
		JoinCode:       ss.JoinCode,
		Mode:           string(ss.Mode),
		Topic:          ss.Topic,
		Difficulty:     ss.Difficulty,
		EntryFee:       ss.EntryFee,
		MaxPlayers:     ss.MaxPlayers,
		MinimumPlayers: ss.MinimumPlayers,
		TotalRounds:    ss.TotalRounds,
		Status:         string(ss.Status),
		CurrentPlayers: ss.CurrentPlayers,
		PrizePool:      ss.PrizePool,
		PayoutStatus:   string(ss.PayoutStatus),
		CreatedAt:      ss.CreateTime,
		AutoCancelAt:   ss.AutoCancelAt,
		StartedAt:      ss.StartedAt,
		FinishedAt:     ss.FinishedAt,
	}

	for _, q := range ss.Questions {
		out.Questions = append(out.Questions, toQuestion(q, reveal))
	}

	return out
}

func toQuestion(q domain.Question, reveal bool) Question {
	out := Question{
		QuestionID: q.QuestionID,
		Prompt:     q.Prompt,
		Options:    q.Options,
	}
	if reveal {
		out.CorrectAnswer = q.CorrectAnswer
	}
	return out
}

func toParticipant(p domain.Participant) Participant {
	return Participant{
		ParticipantID:     p.ParticipantID,
		SessionID:         p.SessionID,
		UserID:            p.UserID,
		TeamID:            p.TeamID,
		TotalScore:        p.TotalScore,
		CorrectAnswers:    p.CorrectAnswers,
		IsAlive:           p.IsAlive,
		EliminatedByRound: p.EliminatedByRound,
		Position:          p.Position,
		Prize:             p.Prize,
		JoinedAt:          p.JoinTime,
	}
}

func toParticipants(ps []domain.Participant) []Participant {
	out := make([]Participant, 0, len(ps))
	for _, p := range ps {
		out = append(out, toParticipant(p))
	}
	return out
}

func toLeaderboard(l domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		SessionID: l.SessionID,
		Entries:   make([]LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			UserID: e.UserID,
			Score:  e.Score,
		})
	}
	return out
}

func toSweepResponse(r *session.SweepResult) AutoStartCheckResponse {
	return AutoStartCheckResponse{
		Cancelled: nonNil(r.Cancelled),
		Started:   nonNil(r.Started),
		Failed:    nonNil(r.Failed),
		Retried:   nonNil(r.Retried),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
