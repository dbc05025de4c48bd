package session

import (
	"context"
	"log/slog"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/score"
	"github.com/quizarena/royale/internal/telemetry"
)

type ProcessRoundRequest struct {
	SessionID   string
	RoundNumber int
}

type ProcessRoundResponse struct {
	RoundNumber int
	Eliminated  []domain.Participant
	// Remaining are the alive participants by total score descending.
	Remaining    []domain.Participant
	IsFinalRound bool
	// NextQuestion is nil on the final round.
	NextQuestion *domain.Question
}

// ProcessRound closes a round and eliminates the weakest alive participants.
// Rounds are closed in order, each exactly once.
func (s *Service) ProcessRound(ctx context.Context, req ProcessRoundRequest) (*ProcessRoundResponse, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.FailedPrecondition("session is not active: session=%s status=%s", ss.SessionID, ss.Status)
	}
	if req.RoundNumber < 1 || req.RoundNumber > ss.TotalRounds {
		return nil, errors.InvalidArgument("roundNumber out of range: got %d, session has %d rounds", req.RoundNumber, ss.TotalRounds)
	}

	processed, err := s.store.ProcessedRounds(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}
	if req.RoundNumber != processed+1 {
		return nil, errors.FailedPrecondition("round cannot be processed: session=%s round=%d last_processed=%d",
			ss.SessionID, req.RoundNumber, processed)
	}

	ps, err := s.store.ListParticipants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}

	answers, err := s.store.ListAnswers(ctx, ss.SessionID, req.RoundNumber)
	if err != nil {
		return nil, err
	}

	correct := make(map[string]bool, len(answers))
	for _, a := range answers {
		if a.IsCorrect {
			correct[a.ParticipantID] = true
		}
	}

	alive := make([]domain.Participant, 0, len(ps))
	for _, p := range ps {
		if p.IsAlive {
			alive = append(alive, p)
		}
	}

	eliminated, survivors := score.Eliminate(alive, correct)

	ids := make([]string, 0, len(eliminated))
	for i := range eliminated {
		round := req.RoundNumber
		eliminated[i].IsAlive = false
		eliminated[i].EliminatedByRound = &round
		ids = append(ids, eliminated[i].ParticipantID)
	}

	if err := s.store.CloseRound(ctx, ss.SessionID, req.RoundNumber, ids); err != nil {
		if errors.Is(err, errors.CodeAlreadyExists) {
			return nil, errors.FailedPrecondition("round already processed: session=%s round=%d", ss.SessionID, req.RoundNumber)
		}
		return nil, err
	}

	telemetry.EliminationsTotal.Add(float64(len(ids)))

	resp := &ProcessRoundResponse{
		RoundNumber:  req.RoundNumber,
		Eliminated:   eliminated,
		Remaining:    survivors,
		IsFinalRound: score.IsFinalRound(len(survivors), req.RoundNumber, ss.TotalRounds),
	}
	if !resp.IsFinalRound {
		if q, ok := ss.Question(req.RoundNumber + 1); ok {
			resp.NextQuestion = &q
		}
	}

	slog.InfoContext(ctx, "session: round processed",
		"session", ss.SessionID,
		"round", req.RoundNumber,
		"eliminated", len(eliminated),
		"remaining", len(survivors),
		"final", resp.IsFinalRound,
	)

	s.publish(ctx, domain.EventRoundProcessed{
		SessionID:    ss.SessionID,
		RoundNumber:  req.RoundNumber,
		Eliminated:   eliminated,
		Remaining:    survivors,
		IsFinalRound: resp.IsFinalRound,
	})

	return resp, nil
}
