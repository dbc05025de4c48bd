package session

import (
	"context"
	"strings"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/score"
)

type SubmitAnswerRequest struct {
	SessionID      string
	ParticipantID  string
	RoundNumber    int
	QuestionID     string
	SelectedAnswer string
	ResponseTimeMs int
}

type SubmitAnswerResponse struct {
	IsCorrect     bool
	PointsEarned  int64
	TotalScore    int64
	CorrectAnswer string
}

// SubmitAnswer grades an answer against the session's question snapshot and adds the points
// to the participant's total. Correctness is always decided here, never by the caller.
func (s *Service) SubmitAnswer(ctx context.Context, req SubmitAnswerRequest) (*SubmitAnswerResponse, error) {
	if req.SessionID == "" || req.ParticipantID == "" {
		return nil, errors.InvalidArgument("sessionId and participantId are required")
	}
	if req.RoundNumber < 1 {
		return nil, errors.InvalidArgument("roundNumber must be positive: got %d", req.RoundNumber)
	}
	if req.ResponseTimeMs < 0 {
		return nil, errors.InvalidArgument("responseTimeMs must not be negative: got %d", req.ResponseTimeMs)
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.FailedPrecondition("session is not active: session=%s status=%s", ss.SessionID, ss.Status)
	}

	q, ok := ss.Question(req.RoundNumber)
	if !ok {
		return nil, errors.InvalidArgument("roundNumber out of range: got %d, session has %d rounds", req.RoundNumber, ss.TotalRounds)
	}
	if req.QuestionID != "" && req.QuestionID != q.QuestionID {
		return nil, errors.InvalidArgument("question %s is not the question of round %d", req.QuestionID, req.RoundNumber)
	}

	p, err := s.store.GetParticipant(ctx, req.ParticipantID)
	if err != nil {
		return nil, err
	}
	if p.SessionID != ss.SessionID {
		return nil, errors.NotFound("participant not found in session: session=%s participant=%s", ss.SessionID, req.ParticipantID)
	}
	if !p.IsAlive {
		return nil, errors.FailedPrecondition("participant is eliminated: participant=%s", p.ParticipantID)
	}

	processed, err := s.store.ProcessedRounds(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}
	if req.RoundNumber <= processed {
		return nil, errors.FailedPrecondition("round is closed: session=%s round=%d", ss.SessionID, req.RoundNumber)
	}

	correct := strings.TrimSpace(req.SelectedAnswer) == strings.TrimSpace(q.CorrectAnswer)
	a := &domain.Answer{
		SessionID:      ss.SessionID,
		ParticipantID:  p.ParticipantID,
		RoundNumber:    req.RoundNumber,
		QuestionID:     q.QuestionID,
		SelectedAnswer: req.SelectedAnswer,
		IsCorrect:      correct,
		ResponseTimeMs: req.ResponseTimeMs,
		PointsEarned:   score.Points(correct, req.ResponseTimeMs),
		SubmitTime:     s.now(),
	}

	updated, err := s.store.RecordAnswer(ctx, a)
	if err != nil {
		if errors.Is(err, errors.CodeAlreadyExists) {
			return nil, errors.New(errors.CodeAlreadyExists,
				errors.WithMessagef("answer is already submitted: participant=%s round=%d", p.ParticipantID, req.RoundNumber),
				errors.WithCause(err),
			)
		}
		return nil, err
	}

	s.publish(ctx, domain.EventScoreUpdated{
		Score: domain.Score{
			SessionID:     ss.SessionID,
			ParticipantID: updated.ParticipantID,
			UserID:        updated.UserID,
			TotalScore:    updated.TotalScore,
			UpdateTime:    a.SubmitTime,
		},
	})

	return &SubmitAnswerResponse{
		IsCorrect:     correct,
		PointsEarned:  a.PointsEarned,
		TotalScore:    updated.TotalScore,
		CorrectAnswer: q.CorrectAnswer,
	}, nil
}
