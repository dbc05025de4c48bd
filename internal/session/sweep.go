package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/telemetry"
)

// SweepResult lists the sessions touched by one sweep.
type SweepResult struct {
	Cancelled []string
	Started   []string
	Failed    []string
	// Retried are sessions whose failed or stalled payout was attempted again.
	Retried []string
}

// AutoStartReadySessions is the periodic sweep. It is idempotent and safe to run from several
// instances at once: every transition it makes is a conditional write in the store.
//
//  1. Waiting sessions past their auto cancel time below their minimum players are cancelled
//     and every participant is refunded.
//  2. Waiting sessions old enough with enough players are started, each independently.
//  3. Sessions with a failed payout, or one left pending past the grace period, are paid again.
func (s *Service) AutoStartReadySessions(ctx context.Context) (*SweepResult, error) {
	now := s.now()
	res := &SweepResult{}

	expired, err := s.store.ListExpired(ctx, now)
	if err != nil {
		return nil, err
	}

	cancelled := make(map[string]bool, len(expired))
	for _, ss := range expired {
		ok, err := s.cancelSession(ctx, &ss)
		switch {
		case err != nil:
			slog.ErrorContext(ctx, "session: sweep cancel failed", "session", ss.SessionID, "error", err)
			telemetry.SweepSessionsTotal.WithLabelValues("failed").Inc()
			res.Failed = append(res.Failed, ss.SessionID)
		case ok:
			telemetry.SweepSessionsTotal.WithLabelValues("cancelled").Inc()
			res.Cancelled = append(res.Cancelled, ss.SessionID)
			cancelled[ss.SessionID] = true
		}
	}

	startable, err := s.store.ListStartable(ctx, now.Add(-s.rules.AutoStartAfter), s.rules.MinPlayersToStart)
	if err != nil {
		return nil, err
	}

	var (
		mu sync.Mutex
		eg errgroup.Group
	)
	eg.SetLimit(s.rules.SweepConcurrency)

	for _, ss := range startable {
		if cancelled[ss.SessionID] {
			continue
		}

		eg.Go(func() error {
			_, err := s.StartSession(ctx, StartSessionRequest{SessionID: ss.SessionID})
			lost := errors.Is(err, errors.CodeFailedPrecondition) && s.leftWaiting(ctx, ss.SessionID)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				telemetry.SweepSessionsTotal.WithLabelValues("started").Inc()
				res.Started = append(res.Started, ss.SessionID)
			case lost:
				// Another caller won the transition.
			default:
				slog.ErrorContext(ctx, "session: sweep start failed", "session", ss.SessionID, "error", err)
				telemetry.SweepSessionsTotal.WithLabelValues("failed").Inc()
				res.Failed = append(res.Failed, ss.SessionID)
			}
			return nil
		})
	}
	_ = eg.Wait()

	unpaid, err := s.store.ListUnpaid(ctx, now.Add(-s.rules.PayoutGrace))
	if err != nil {
		return nil, err
	}
	for _, ss := range unpaid {
		if _, err := s.RetryPayout(ctx, RetryPayoutRequest{SessionID: ss.SessionID}); err != nil {
			slog.ErrorContext(ctx, "session: sweep payout retry failed", "session", ss.SessionID, "error", err)
		}
		res.Retried = append(res.Retried, ss.SessionID)
	}

	slices.Sort(res.Started)
	slices.Sort(res.Failed)

	if len(res.Cancelled)+len(res.Started)+len(res.Failed)+len(res.Retried) > 0 {
		slog.InfoContext(ctx, "session: sweep completed",
			"cancelled", len(res.Cancelled),
			"started", len(res.Started),
			"failed", len(res.Failed),
			"retried", len(res.Retried),
		)
	}

	return res, nil
}

// cancelSession cancels a waiting session and refunds its participants.
// It reports false when the session left the waiting state in the meantime.
func (s *Service) cancelSession(ctx context.Context, ss *domain.Session) (bool, error) {
	cancelled, err := s.store.CancelSession(ctx, ss.SessionID, s.now())
	if errors.Is(err, errors.CodeFailedPrecondition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ps, err := s.store.ListParticipants(ctx, ss.SessionID)
	if err != nil {
		// Cancelled without refunds: mark it so the next sweep retries.
		return true, s.store.SetPayoutStatus(context.WithoutCancel(ctx), ss.SessionID, domain.PayoutFailed)
	}

	cancelled.PayoutStatus, _ = s.refundAll(ctx, cancelled, ps)

	slog.InfoContext(ctx, "session: cancelled",
		"session", cancelled.SessionID,
		"players", cancelled.CurrentPlayers,
		"minimum_players", cancelled.MinimumPlayers,
		"payout", cancelled.PayoutStatus,
	)

	s.publish(ctx, domain.EventSessionCancelled{
		Session: *cancelled,
	})

	return true, nil
}

func (s *Service) leftWaiting(ctx context.Context, sessionID string) bool {
	ss, err := s.store.GetSession(ctx, sessionID)
	return err == nil && ss.Status != domain.StatusWaiting
}
