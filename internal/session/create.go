package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/google/uuid"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
)

const (
	maxPlayersLimit  = 100
	totalRoundsLimit = 50

	minimumPlayersChaos   = 6
	minimumPlayersDefault = 10

	joinCodeLength   = 6
	joinCodeAttempts = 3
	// No 0/O or 1/I, codes are read aloud and typed on phones.
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// CreateSessionRequest represents a request to create a new battle royale session.
type CreateSessionRequest struct {
	Mode       domain.Mode
	Topic      string
	Difficulty string
	// EntryFee defaults to the configured fee when nil. Zero makes a free session.
	EntryFee    *int64
	MaxPlayers  int
	TotalRounds int
}

// CreateSession creates a waiting session with a unique join code.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (*domain.Session, error) {
	if err := s.normalizeCreate(&req); err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := s.now()
	ss := &domain.Session{
		SessionID:      id.String(),
		Mode:           req.Mode,
		Topic:          req.Topic,
		Difficulty:     req.Difficulty,
		EntryFee:       *req.EntryFee,
		MaxPlayers:     req.MaxPlayers,
		MinimumPlayers: minimumPlayers(req.Mode, req.MaxPlayers),
		TotalRounds:    req.TotalRounds,
		Status:         domain.StatusWaiting,
		PayoutStatus:   domain.PayoutNone,
		CreateTime:     now,
		AutoCancelAt:   now.Add(s.rules.AutoCancelAfter),
	}

	for attempt := 1; ; attempt++ {
		ss.JoinCode, err = newJoinCode()
		if err != nil {
			return nil, fmt.Errorf("generate join code: %w", err)
		}

		err = s.store.InsertSession(ctx, ss)
		if err == nil {
			break
		}
		if !errors.Is(err, errors.CodeAlreadyExists) || attempt == joinCodeAttempts {
			return nil, err
		}
	}

	slog.InfoContext(ctx, "session: created",
		"session", ss.SessionID,
		"mode", ss.Mode,
		"join_code", ss.JoinCode,
	)

	return ss, nil
}

func (s *Service) normalizeCreate(req *CreateSessionRequest) error {
	req.Mode = domain.Mode(strings.ToLower(string(req.Mode)))
	req.Topic = strings.TrimSpace(req.Topic)
	req.Difficulty = strings.TrimSpace(req.Difficulty)

	if !req.Mode.Valid() {
		return errors.InvalidArgument("mode must be one of solo, squad, chaos: got %q", req.Mode)
	}
	if req.Topic == "" || req.Difficulty == "" {
		return errors.InvalidArgument("topic and difficulty are required")
	}

	if req.EntryFee == nil {
		fee := s.rules.DefaultEntryFee
		req.EntryFee = &fee
	}
	if *req.EntryFee < 0 {
		return errors.InvalidArgument("entryFee must not be negative: %d", *req.EntryFee)
	}

	if req.MaxPlayers == 0 {
		req.MaxPlayers = s.rules.DefaultMaxPlayers
	}
	if req.MaxPlayers < 2 || req.MaxPlayers > maxPlayersLimit {
		return errors.InvalidArgument("maxPlayers must be between 2 and %d: got %d", maxPlayersLimit, req.MaxPlayers)
	}

	if req.TotalRounds == 0 {
		req.TotalRounds = s.rules.DefaultTotalRounds
	}
	if req.TotalRounds < 1 || req.TotalRounds > totalRoundsLimit {
		return errors.InvalidArgument("totalRounds must be between 1 and %d: got %d", totalRoundsLimit, req.TotalRounds)
	}

	return nil
}

// minimumPlayers is 6 for chaos and 10 otherwise, capped by the session's capacity.
func minimumPlayers(m domain.Mode, maxPlayers int) int {
	n := minimumPlayersDefault
	if m == domain.ModeChaos {
		n = minimumPlayersChaos
	}
	return min(n, maxPlayers)
}

func newJoinCode() (string, error) {
	var b strings.Builder
	b.Grow(joinCodeLength)

	limit := big.NewInt(int64(len(joinCodeAlphabet)))
	for range joinCodeLength {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b.WriteByte(joinCodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}
