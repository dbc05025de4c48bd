package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/prize"
	"github.com/quizarena/royale/internal/score"
	"github.com/quizarena/royale/internal/telemetry"
)

type FinishSessionRequest struct {
	SessionID string
}

type FinishSessionResponse struct {
	Session domain.Session
	// Rankings are all participants by position, with their prizes.
	Rankings []domain.Participant
}

// FinishSession ranks the participants, finalizes the session and pays the prizes.
//
// Finalization is authoritative: if the ledger fails, the session stays finished with
// payout status failed and an internal error is returned. RetryPayout, or the sweep,
// pays the remaining prizes later under the same references.
func (s *Service) FinishSession(ctx context.Context, req FinishSessionRequest) (*FinishSessionResponse, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.FailedPrecondition("session cannot be finished: session=%s status=%s", ss.SessionID, ss.Status)
	}

	ps, err := s.store.ListParticipants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}

	ranked := prize.Assign(ss.PrizePool, score.Rank(ps))

	finished, err := s.store.FinishSession(ctx, ss.SessionID, s.now(), ranked)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "session: finished",
		"session", finished.SessionID,
		"participants", len(ranked),
		"prize_pool", finished.PrizePool,
	)

	s.publish(ctx, domain.EventSessionFinished{
		Session:  *finished,
		Rankings: ranked,
	})

	status, err := s.payPrizes(ctx, finished, ranked)
	finished.PayoutStatus = status
	if err != nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("session finished but prize distribution failed: session=%s", finished.SessionID),
			errors.WithCause(err),
		)
	}

	return &FinishSessionResponse{
		Session:  *finished,
		Rankings: ranked,
	}, nil
}

type RetryPayoutRequest struct {
	SessionID string
}

type RetryPayoutResponse struct {
	Session domain.Session
}

// RetryPayout pays outstanding prizes of a finished session or refunds of a cancelled one.
// Credits already applied are not repeated.
func (s *Service) RetryPayout(ctx context.Context, req RetryPayoutRequest) (*RetryPayoutResponse, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case ss.PayoutStatus == domain.PayoutPaid || ss.PayoutStatus == domain.PayoutRefunded:
		return &RetryPayoutResponse{Session: *ss}, nil
	case ss.Status != domain.StatusFinished && ss.Status != domain.StatusCancelled:
		return nil, errors.FailedPrecondition("session has nothing to pay out: session=%s status=%s", ss.SessionID, ss.Status)
	}

	ps, err := s.store.ListParticipants(ctx, ss.SessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status == domain.StatusFinished {
		ss.PayoutStatus, err = s.payPrizes(ctx, ss, ps)
	} else {
		ss.PayoutStatus, err = s.refundAll(ctx, ss, ps)
	}
	if err != nil {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("payout retry failed: session=%s", ss.SessionID),
			errors.WithCause(err),
		)
	}

	return &RetryPayoutResponse{Session: *ss}, nil
}

// payPrizes credits every prize and records the outcome on the session.
func (s *Service) payPrizes(ctx context.Context, ss *domain.Session, ranked []domain.Participant) (domain.PayoutStatus, error) {
	var errs []error
	for _, p := range ranked {
		if p.Prize <= 0 {
			continue
		}

		ref := fmt.Sprintf("prize:%s:%s", ss.SessionID, p.ParticipantID)
		if _, err := s.ledger.Credit(ctx, p.UserID, p.Prize, ref); err != nil {
			telemetry.PayoutsTotal.WithLabelValues("prize", "failed").Inc()
			errs = append(errs, fmt.Errorf("credit %s: %w", ref, err))
			continue
		}
		telemetry.PayoutsTotal.WithLabelValues("prize", "ok").Inc()
	}

	return s.recordPayout(ctx, ss, domain.PayoutPaid, stderrors.Join(errs...))
}

// refundAll credits every participant's entry fee back and records the outcome on the session.
func (s *Service) refundAll(ctx context.Context, ss *domain.Session, ps []domain.Participant) (domain.PayoutStatus, error) {
	var errs []error
	for _, p := range ps {
		if err := s.refundEntry(ctx, p.UserID, ss.EntryFee, p.EntryRef); err != nil {
			errs = append(errs, fmt.Errorf("refund %s: %w", p.EntryRef, err))
		}
	}

	return s.recordPayout(ctx, ss, domain.PayoutRefunded, stderrors.Join(errs...))
}

func (s *Service) recordPayout(ctx context.Context, ss *domain.Session, done domain.PayoutStatus, payErr error) (domain.PayoutStatus, error) {
	status := done
	if payErr != nil {
		status = domain.PayoutFailed
		slog.ErrorContext(ctx, "session: payout failed",
			"session", ss.SessionID,
			"status", ss.Status,
			"error", payErr,
		)
	}

	// Detached: the payout already happened, its status must be recorded.
	if err := s.store.SetPayoutStatus(context.WithoutCancel(ctx), ss.SessionID, status); err != nil {
		return status, stderrors.Join(payErr, fmt.Errorf("record payout status %s: %w", status, err))
	}

	return status, payErr
}
