package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	// Leaderboards of finished and cancelled sessions stay readable for a while.
	defaultRetention = time.Hour
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
	// Retention defaults to one hour.
	Retention time.Duration
}

// Service keeps a live leaderboard per session in a Redis sorted set, fed by score updates.
type Service struct {
	eb        *event.Bus
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

func NewService(c Config) *Service {
	s := &Service{
		eb:        c.EventBus,
		redis:     c.Redis,
		prefix:    c.Prefix,
		retention: c.Retention,
	}
	if s.retention <= 0 {
		s.retention = defaultRetention
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	s.eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		return s.FinalizeLeaderboard(ctx, e.(domain.EventSessionFinished))
	})

	s.eb.Subscribe(domain.EventNameSessionCancelled, func(ctx context.Context, e event.Event) error {
		return s.expire(ctx, e.(domain.EventSessionCancelled).Session.SessionID)
	})

	return s
}

type GetLeaderboardRequest struct {
	SessionID string
}

// GetLeaderboard returns the leaderboard for a session, including all users and their scores.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	if req.SessionID == "" {
		return nil, errors.InvalidArgument("sessionId is required")
	}

	res, err := s.redis.ZRevRangeWithScores(ctx, s.getLeaderboardKey(req.SessionID), 0, -1).Result()
	if err != nil {
		return nil, errors.Unavailable(fmt.Errorf("get leaderboard: %w", err))
	}

	if len(res) == 0 {
		return nil, errors.NotFound("leaderboard not found: session=%s", req.SessionID)
	}

	scores := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		scores = append(scores, domain.LeaderboardEntry{
			UserID: z.Member.(string),
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		SessionID: req.SessionID,
		Entries:   scores,
	}, nil
}

// UpdateLeaderboard overwrites the user's score in the leaderboard.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	sc := e.Score

	if err := s.redis.ZAdd(ctx, s.getLeaderboardKey(sc.SessionID), redis.Z{
		Score:  float64(sc.TotalScore),
		Member: sc.UserID,
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, sc.SessionID, sc.UpdateTime)
}

// FinalizeLeaderboard writes the final totals of every participant, publishes the final
// leaderboard right away and lets it expire after the retention period.
func (s *Service) FinalizeLeaderboard(ctx context.Context, e domain.EventSessionFinished) error {
	if len(e.Rankings) == 0 {
		return nil
	}

	key := s.getLeaderboardKey(e.Session.SessionID)
	members := make([]redis.Z, 0, len(e.Rankings))
	for _, p := range e.Rankings {
		members = append(members, redis.Z{
			Score:  float64(p.TotalScore),
			Member: p.UserID,
		})
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, key, members...)
		pipe.Expire(ctx, key, s.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finalize leaderboard: %w", err)
	}

	return s.publishLeaderboard(ctx, e.Session.SessionID, time.Now())
}

func (s *Service) expire(ctx context.Context, session string) error {
	if err := s.redis.Expire(ctx, s.getLeaderboardKey(session), s.retention).Err(); err != nil {
		return fmt.Errorf("expire leaderboard: %w", err)
	}
	return nil
}

// schedulePublishLeaderboard publishes the leaderboard changes after a certain interval.
// Many scores change within a round, throttling keeps the number of published events low.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, session string, at time.Time) error {
	// Shared across instances. A score landing inside the window is carried by the next publish.
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(session), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, session, at)
}

func (s *Service) publishLeaderboard(ctx context.Context, session string, at time.Time) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		SessionID: session,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: session=%s: %w", session, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(session), at.UnixMilli(), publishInterval).Err()
}

func (s *Service) getLeaderboardKey(session string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, session)
}

func (s *Service) getLeaderboardTimeKey(session string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, session)
}
