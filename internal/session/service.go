// Package session orchestrates the battle royale lifecycle. It keeps no state between calls:
// every operation reloads what it needs from the Store and relies on the Store's
// conditional writes and the Ledger's idempotent references for correctness under concurrency.
package session

import (
	"context"
	"time"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/event"
)

// Store persists sessions, participants, teams, questions and answers.
// Implementations return typed errors: CodeNotFound for missing rows, CodeAlreadyExists for
// unique violations, CodeFailedPrecondition when a conditional write finds the wrong state,
// CodeUnavailable when the database cannot be reached.
type Store interface {
	InsertSession(ctx context.Context, ss *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	GetParticipant(ctx context.Context, participantID string) (*domain.Participant, error)
	FindParticipant(ctx context.Context, sessionID, userID string) (*domain.Participant, error)
	// ListParticipants returns the participants of a session by join time.
	ListParticipants(ctx context.Context, sessionID string) ([]domain.Participant, error)
	// AddParticipant atomically reserves a slot (waiting, not full), adds the entry fee to the
	// prize pool, finds or creates the squad team and inserts the participant.
	AddParticipant(ctx context.Context, p AddParticipantParams) (*domain.Participant, *domain.Session, error)

	PickQuestions(ctx context.Context, topic, difficulty string, n int) ([]domain.Question, error)
	// ActivateSession moves a waiting session to active with its question snapshot.
	ActivateSession(ctx context.Context, sessionID string, questions []domain.Question, startedAt time.Time) (*domain.Session, error)

	// RecordAnswer inserts the answer and increments the participant's score in the same transaction.
	// It fails with CodeFailedPrecondition once the round is closed or the participant eliminated.
	RecordAnswer(ctx context.Context, a *domain.Answer) (*domain.Participant, error)
	ListAnswers(ctx context.Context, sessionID string, round int) ([]domain.Answer, error)

	ProcessedRounds(ctx context.Context, sessionID string) (int, error)
	// CloseRound records the round as processed exactly once and eliminates the given participants.
	CloseRound(ctx context.Context, sessionID string, round int, eliminated []string) error

	// FinishSession moves an active session to finished and persists positions and prizes.
	FinishSession(ctx context.Context, sessionID string, finishedAt time.Time, ranked []domain.Participant) (*domain.Session, error)
	// CancelSession moves a waiting session below its minimum players to cancelled and
	// empties its prize pool.
	CancelSession(ctx context.Context, sessionID string, at time.Time) (*domain.Session, error)
	SetPayoutStatus(ctx context.Context, sessionID string, status domain.PayoutStatus) error

	// ListExpired returns waiting sessions past their auto cancel time below their minimum players.
	ListExpired(ctx context.Context, now time.Time) ([]domain.Session, error)
	// ListStartable returns waiting sessions created before the given time with at least minPlayers.
	ListStartable(ctx context.Context, createdBefore time.Time, minPlayers int) ([]domain.Session, error)
	// ListUnpaid returns sessions whose payout failed, or is still pending since before the given time.
	ListUnpaid(ctx context.Context, pendingBefore time.Time) ([]domain.Session, error)
}

type AddParticipantParams struct {
	ParticipantID string
	SessionID     string
	UserID        string
	EntryFee      int64
	EntryRef      string
	JoinTime      time.Time

	// Squad mode only. The team is looked up by slug and created with the user as captain.
	TeamID   string
	TeamName string
	TeamSlug string
}

// Ledger debits and credits user balances. Applying the same reference twice has no effect.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, ref string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, ref string) (int64, error)
}

// Rules are the tunables of a battle royale.
type Rules struct {
	DefaultEntryFee    int64
	DefaultMaxPlayers  int
	DefaultTotalRounds int
	AutoCancelAfter    time.Duration
	AutoStartAfter     time.Duration
	MinPlayersToStart  int
	SweepConcurrency   int
	// PayoutGrace is how long a pending payout may run before the sweep takes it over.
	PayoutGrace time.Duration
}

func (r Rules) withDefaults() Rules {
	if r.DefaultEntryFee <= 0 {
		r.DefaultEntryFee = 10
	}
	if r.DefaultMaxPlayers <= 0 {
		r.DefaultMaxPlayers = maxPlayersLimit
	}
	if r.DefaultTotalRounds <= 0 {
		r.DefaultTotalRounds = 10
	}
	if r.AutoCancelAfter <= 0 {
		r.AutoCancelAfter = 60 * time.Second
	}
	if r.AutoStartAfter <= 0 {
		r.AutoStartAfter = 45 * time.Second
	}
	if r.MinPlayersToStart < 2 {
		r.MinPlayersToStart = 2
	}
	if r.SweepConcurrency <= 0 {
		r.SweepConcurrency = 10
	}
	if r.PayoutGrace <= 0 {
		r.PayoutGrace = time.Minute
	}
	return r
}

type Config struct {
	Store    Store
	Ledger   Ledger
	EventBus *event.Bus
	Rules    Rules
	// Now defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store  Store
	ledger Ledger
	eb     *event.Bus
	rules  Rules
	now    func() time.Time
}

func NewService(c Config) *Service {
	now := c.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		store:  c.Store,
		ledger: c.Ledger,
		eb:     c.EventBus,
		rules:  c.Rules.withDefaults(),
		now:    now,
	}
}

type GetSessionRequest struct {
	SessionID string
}

type SessionDetails struct {
	Session      domain.Session
	Participants []domain.Participant
}

// GetSession returns a session with its participants.
func (s *Service) GetSession(ctx context.Context, req GetSessionRequest) (*SessionDetails, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	ss, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	ps, err := s.store.ListParticipants(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}

	return &SessionDetails{
		Session:      *ss,
		Participants: ps,
	}, nil
}

func (s *Service) publish(ctx context.Context, e event.Event) {
	if s.eb != nil {
		s.eb.Publish(ctx, e)
	}
}
