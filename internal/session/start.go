package session

import (
	"context"
	"log/slog"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
)

type StartSessionRequest struct {
	SessionID string
}

type StartSessionResponse struct {
	Session       domain.Session
	FirstQuestion domain.Question
	TotalPlayers  int
}

// StartSession snapshots the session's questions and moves it from waiting to active.
func (s *Service) StartSession(ctx context.Context, req StartSessionRequest) (*StartSessionResponse, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.StatusWaiting {
		return nil, errors.FailedPrecondition("session cannot be started: session=%s status=%s", ss.SessionID, ss.Status)
	}
	if ss.CurrentPlayers < s.rules.MinPlayersToStart {
		return nil, errors.FailedPrecondition("not enough players to start: session=%s players=%d required=%d",
			ss.SessionID, ss.CurrentPlayers, s.rules.MinPlayersToStart)
	}

	qs, err := s.store.PickQuestions(ctx, ss.Topic, ss.Difficulty, ss.TotalRounds)
	if err != nil {
		return nil, err
	}
	if len(qs) < ss.TotalRounds {
		return nil, errors.FailedPrecondition("not enough questions: topic=%s difficulty=%s available=%d required=%d",
			ss.Topic, ss.Difficulty, len(qs), ss.TotalRounds)
	}
	qs = qs[:ss.TotalRounds]

	started, err := s.store.ActivateSession(ctx, ss.SessionID, qs, s.now())
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "session: started",
		"session", started.SessionID,
		"players", started.CurrentPlayers,
		"rounds", started.TotalRounds,
	)

	s.publish(ctx, domain.EventSessionStarted{
		Session: *started,
	})

	return &StartSessionResponse{
		Session:       *started,
		FirstQuestion: qs[0],
		TotalPlayers:  started.CurrentPlayers,
	}, nil
}
