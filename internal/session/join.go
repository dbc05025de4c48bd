package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/telemetry"
)

const (
	debitAttempts  = 3
	refundAttempts = 3
	refundBackoff  = 100 * time.Millisecond
)

type JoinSessionRequest struct {
	SessionID string
	UserID    string
	// TeamName selects or founds a squad. Squad mode only, defaults to the user id.
	TeamName string
}

type JoinSessionResponse struct {
	Participant domain.Participant
	EntryFee    int64
	PrizePool   int64
	// Balance is the user's balance after the entry fee was charged.
	Balance int64
}

// JoinSession charges the entry fee and adds the user to a waiting session.
//
// The fee is debited first; a refused debit leaves the session untouched. If the participant
// cannot be added after a successful debit (session filled up, duplicate join), the fee is
// credited back under a reference derived from the entry, so a retried refund never pays twice.
func (s *Service) JoinSession(ctx context.Context, req JoinSessionRequest) (*JoinSessionResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.TeamName = strings.TrimSpace(req.TeamName)
	if req.SessionID == "" || req.UserID == "" {
		return nil, errors.InvalidArgument("sessionId and userId are required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	if ss.Status != domain.StatusWaiting {
		return nil, errors.FailedPrecondition("session is not accepting players: session=%s status=%s", ss.SessionID, ss.Status)
	}
	if ss.CurrentPlayers >= ss.MaxPlayers {
		return nil, errors.FailedPrecondition("session is full: session=%s max_players=%d", ss.SessionID, ss.MaxPlayers)
	}

	_, err = s.store.FindParticipant(ctx, ss.SessionID, req.UserID)
	if err == nil {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("user already joined: session=%s user=%s", ss.SessionID, req.UserID))
	}
	if !errors.Is(err, errors.CodeNotFound) {
		return nil, err
	}

	params, err := s.newParticipant(ss, req)
	if err != nil {
		return nil, err
	}

	balance, err := s.debitEntry(ctx, req.UserID, ss.EntryFee, params.EntryRef)
	if err != nil {
		return nil, err
	}

	p, updated, err := s.store.AddParticipant(ctx, params)
	if err != nil {
		telemetry.JoinsTotal.WithLabelValues("compensated").Inc()
		if rerr := s.refundEntry(ctx, req.UserID, ss.EntryFee, params.EntryRef); rerr != nil {
			slog.ErrorContext(ctx, "session: refund after failed join failed",
				"session", ss.SessionID,
				"user", req.UserID,
				"entry_ref", params.EntryRef,
				"error", rerr,
			)
		}
		return nil, err
	}

	telemetry.JoinsTotal.WithLabelValues("joined").Inc()

	return &JoinSessionResponse{
		Participant: *p,
		EntryFee:    ss.EntryFee,
		PrizePool:   updated.PrizePool,
		Balance:     balance,
	}, nil
}

func (s *Service) newParticipant(ss *domain.Session, req JoinSessionRequest) (AddParticipantParams, error) {
	pid, err := uuid.NewV7()
	if err != nil {
		return AddParticipantParams{}, fmt.Errorf("generate participant ID: %w", err)
	}

	p := AddParticipantParams{
		ParticipantID: pid.String(),
		SessionID:     ss.SessionID,
		UserID:        req.UserID,
		EntryFee:      ss.EntryFee,
		EntryRef:      fmt.Sprintf("entry:%s:%s", ss.SessionID, pid),
		JoinTime:      s.now(),
	}

	if ss.Mode != domain.ModeSquad {
		return p, nil
	}

	name := req.TeamName
	if name == "" {
		name = req.UserID
	}

	tid, err := uuid.NewV7()
	if err != nil {
		return AddParticipantParams{}, fmt.Errorf("generate team ID: %w", err)
	}

	p.TeamID = tid.String()
	p.TeamName = name
	p.TeamSlug = slug.Make(name)
	if p.TeamSlug == "" {
		return AddParticipantParams{}, errors.InvalidArgument("teamName must contain letters or digits: %q", name)
	}

	return p, nil
}

// debitEntry charges an entry fee. An unavailable ledger may still have applied the charge,
// so the debit is repeated under the same reference until the ledger answers for it.
func (s *Service) debitEntry(ctx context.Context, userID string, amount int64, entryRef string) (int64, error) {
	var (
		balance int64
		err     error
	)
	for attempt := 1; attempt <= debitAttempts; attempt++ {
		balance, err = s.ledger.Debit(ctx, userID, amount, entryRef)
		if err == nil || !errors.Convert(err).Retryable() {
			return balance, err
		}
		if attempt == debitAttempts || ctx.Err() != nil {
			break
		}
		time.Sleep(time.Duration(attempt) * refundBackoff)
	}

	slog.ErrorContext(ctx, "session: entry debit outcome unknown",
		"user", userID,
		"amount", amount,
		"entry_ref", entryRef,
		"error", err,
	)
	return 0, err
}

// refundEntry credits an entry fee back, ignoring the caller's cancellation.
func (s *Service) refundEntry(ctx context.Context, userID string, amount int64, entryRef string) error {
	ctx = context.WithoutCancel(ctx)

	var err error
	for attempt := 1; attempt <= refundAttempts; attempt++ {
		_, err = s.ledger.Credit(ctx, userID, amount, refundRef(entryRef))
		if err == nil {
			telemetry.PayoutsTotal.WithLabelValues("refund", "ok").Inc()
			return nil
		}
		if !errors.Convert(err).Retryable() || attempt == refundAttempts {
			break
		}
		time.Sleep(time.Duration(attempt) * refundBackoff)
	}

	telemetry.PayoutsTotal.WithLabelValues("refund", "failed").Inc()
	return err
}

func refundRef(entryRef string) string {
	return "refund:" + entryRef
}
