package session_test

import (
	"cmp"
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/session"
)

// memStore is a test double of the PostgreSQL store. Every method runs under one lock,
// which gives it the same conditional-write semantics as the SQL statements.
type memStore struct {
	mu           sync.Mutex
	sessions     map[string]*domain.Session
	participants map[string]*domain.Participant
	joinOrder    []string
	teams        map[string]*domain.Team
	answers      map[string]domain.Answer
	rounds       map[string]int
	questions    []domain.Question
}

var _ session.Store = (*memStore)(nil)

func newMemStore(questions ...domain.Question) *memStore {
	return &memStore{
		sessions:     make(map[string]*domain.Session),
		participants: make(map[string]*domain.Participant),
		teams:        make(map[string]*domain.Team),
		answers:      make(map[string]domain.Answer),
		rounds:       make(map[string]int),
		questions:    questions,
	}
}

func (m *memStore) InsertSession(_ context.Context, ss *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, other := range m.sessions {
		if other.JoinCode == ss.JoinCode {
			return errors.New(errors.CodeAlreadyExists, errors.WithMessagef("join code taken"))
		}
	}

	m.sessions[ss.SessionID] = copySession(ss)
	return nil
}

func (m *memStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session not found: %s", sessionID)
	}
	return copySession(ss), nil
}

func (m *memStore) GetParticipant(_ context.Context, participantID string) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantID]
	if !ok {
		return nil, errors.NotFound("participant not found: %s", participantID)
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindParticipant(_ context.Context, sessionID, userID string) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, p := range m.participants {
		if p.SessionID == sessionID && p.UserID == userID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, errors.NotFound("participant not found: session=%s user=%s", sessionID, userID)
}

func (m *memStore) ListParticipants(_ context.Context, sessionID string) ([]domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.listParticipants(sessionID), nil
}

func (m *memStore) listParticipants(sessionID string) []domain.Participant {
	var out []domain.Participant
	for _, id := range m.joinOrder {
		if p := m.participants[id]; p.SessionID == sessionID {
			out = append(out, *p)
		}
	}
	return out
}

func (m *memStore) AddParticipant(_ context.Context, params session.AddParticipantParams) (*domain.Participant, *domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[params.SessionID]
	switch {
	case !ok:
		return nil, nil, errors.NotFound("session not found: %s", params.SessionID)
	case ss.Status != domain.StatusWaiting:
		return nil, nil, errors.FailedPrecondition("session is not accepting players")
	case ss.CurrentPlayers >= ss.MaxPlayers:
		return nil, nil, errors.FailedPrecondition("session is full")
	}

	for _, p := range m.participants {
		if p.SessionID == params.SessionID && p.UserID == params.UserID {
			return nil, nil, errors.New(errors.CodeAlreadyExists, errors.WithMessagef("user already joined"))
		}
	}

	p := &domain.Participant{
		ParticipantID: params.ParticipantID,
		SessionID:     params.SessionID,
		UserID:        params.UserID,
		IsAlive:       true,
		EntryRef:      params.EntryRef,
		JoinTime:      params.JoinTime,
	}

	if params.TeamSlug != "" {
		key := params.SessionID + "/" + params.TeamSlug
		team, ok := m.teams[key]
		if !ok {
			team = &domain.Team{
				TeamID:    params.TeamID,
				SessionID: params.SessionID,
				TeamName:  params.TeamName,
				Slug:      params.TeamSlug,
				CaptainID: params.UserID,
			}
			m.teams[key] = team
		}
		p.TeamID = team.TeamID
	}

	m.participants[p.ParticipantID] = p
	m.joinOrder = append(m.joinOrder, p.ParticipantID)
	ss.CurrentPlayers++
	ss.PrizePool += params.EntryFee

	cp := *p
	return &cp, copySession(ss), nil
}

func (m *memStore) PickQuestions(_ context.Context, topic, difficulty string, n int) ([]domain.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Question
	for _, q := range m.questions {
		if q.Topic == topic && q.Difficulty == difficulty && len(out) < n {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *memStore) ActivateSession(_ context.Context, sessionID string, questions []domain.Question, startedAt time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session not found: %s", sessionID)
	}
	if ss.Status != domain.StatusWaiting {
		return nil, errors.FailedPrecondition("session is not waiting")
	}

	ss.Status = domain.StatusActive
	ss.Questions = slices.Clone(questions)
	ss.StartedAt = &startedAt
	return copySession(ss), nil
}

func (m *memStore) RecordAnswer(_ context.Context, a *domain.Answer) (*domain.Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[a.ParticipantID]
	if !ok {
		return nil, errors.NotFound("participant not found: %s", a.ParticipantID)
	}
	if m.rounds[a.SessionID] >= a.RoundNumber || !p.IsAlive {
		return nil, errors.FailedPrecondition("round is closed or participant is eliminated: participant=%s round=%d", a.ParticipantID, a.RoundNumber)
	}

	key := fmt.Sprintf("%s/%d", a.ParticipantID, a.RoundNumber)
	if _, ok := m.answers[key]; ok {
		return nil, errors.New(errors.CodeAlreadyExists)
	}

	m.answers[key] = *a
	p.TotalScore += a.PointsEarned
	if a.IsCorrect {
		p.CorrectAnswers++
	}

	cp := *p
	return &cp, nil
}

func (m *memStore) ListAnswers(_ context.Context, sessionID string, round int) ([]domain.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Answer
	for _, a := range m.answers {
		if a.SessionID == sessionID && a.RoundNumber == round {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memStore) ProcessedRounds(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.rounds[sessionID], nil
}

func (m *memStore) CloseRound(_ context.Context, sessionID string, round int, eliminated []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.rounds[sessionID] >= round {
		return errors.New(errors.CodeAlreadyExists)
	}
	m.rounds[sessionID] = round

	for _, id := range eliminated {
		if p := m.participants[id]; p != nil && p.IsAlive {
			r := round
			p.IsAlive = false
			p.EliminatedByRound = &r
		}
	}
	return nil
}

func (m *memStore) FinishSession(_ context.Context, sessionID string, finishedAt time.Time, ranked []domain.Participant) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session not found: %s", sessionID)
	}
	if ss.Status != domain.StatusActive {
		return nil, errors.FailedPrecondition("session is not active")
	}

	ss.Status = domain.StatusFinished
	ss.FinishedAt = &finishedAt
	ss.PayoutStatus = domain.PayoutPending

	for _, r := range ranked {
		p := m.participants[r.ParticipantID]
		pos := *r.Position
		p.Position = &pos
		p.Prize = r.Prize
	}
	return copySession(ss), nil
}

func (m *memStore) CancelSession(_ context.Context, sessionID string, at time.Time) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[sessionID]
	if !ok {
		return nil, errors.NotFound("session not found: %s", sessionID)
	}
	if ss.Status != domain.StatusWaiting || ss.CurrentPlayers >= ss.MinimumPlayers {
		return nil, errors.FailedPrecondition("session is not waiting below its minimum players")
	}

	ss.Status = domain.StatusCancelled
	ss.FinishedAt = &at
	ss.PayoutStatus = domain.PayoutPending
	ss.PrizePool = 0
	return copySession(ss), nil
}

func (m *memStore) SetPayoutStatus(_ context.Context, sessionID string, status domain.PayoutStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ss, ok := m.sessions[sessionID]
	if !ok {
		return errors.NotFound("session not found: %s", sessionID)
	}
	ss.PayoutStatus = status
	return nil
}

func (m *memStore) ListExpired(_ context.Context, now time.Time) ([]domain.Session, error) {
	return m.list(func(ss *domain.Session) bool {
		return ss.Status == domain.StatusWaiting && !ss.AutoCancelAt.After(now) && ss.CurrentPlayers < ss.MinimumPlayers
	}), nil
}

func (m *memStore) ListStartable(_ context.Context, createdBefore time.Time, minPlayers int) ([]domain.Session, error) {
	return m.list(func(ss *domain.Session) bool {
		return ss.Status == domain.StatusWaiting && !ss.CreateTime.After(createdBefore) && ss.CurrentPlayers >= minPlayers
	}), nil
}

func (m *memStore) ListUnpaid(_ context.Context, pendingBefore time.Time) ([]domain.Session, error) {
	return m.list(func(ss *domain.Session) bool {
		if ss.PayoutStatus == domain.PayoutFailed {
			return true
		}
		return ss.PayoutStatus == domain.PayoutPending && ss.FinishedAt != nil && !ss.FinishedAt.After(pendingBefore)
	}), nil
}

func (m *memStore) list(match func(ss *domain.Session) bool) []domain.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.Session
	for _, ss := range m.sessions {
		if match(ss) {
			out = append(out, *copySession(ss))
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

func copySession(ss *domain.Session) *domain.Session {
	cp := *ss
	cp.Questions = slices.Clone(ss.Questions)
	return &cp
}

// hookStore runs callbacks right before selected writes reach the memStore, which lets a test
// land a concurrent transition between the service's checks and its write.
type hookStore struct {
	*memStore

	beforeRecordAnswer  func()
	beforeCancelSession func()
	failPayoutStatus    atomic.Bool
}

func (h *hookStore) RecordAnswer(ctx context.Context, a *domain.Answer) (*domain.Participant, error) {
	if fn := h.beforeRecordAnswer; fn != nil {
		h.beforeRecordAnswer = nil
		fn()
	}
	return h.memStore.RecordAnswer(ctx, a)
}

func (h *hookStore) CancelSession(ctx context.Context, sessionID string, at time.Time) (*domain.Session, error) {
	if fn := h.beforeCancelSession; fn != nil {
		h.beforeCancelSession = nil
		fn()
	}
	return h.memStore.CancelSession(ctx, sessionID, at)
}

func (h *hookStore) SetPayoutStatus(ctx context.Context, sessionID string, status domain.PayoutStatus) error {
	if h.failPayoutStatus.Load() {
		return errors.Unavailable(stderrors.New("store is down"))
	}
	return h.memStore.SetPayoutStatus(ctx, sessionID, status)
}
