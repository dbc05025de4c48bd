package leaderboard_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/event"
	"github.com/quizarena/royale/internal/leaderboard"
)

func TestService_UpdateLeaderboard(t *testing.T) {
	s, _ := makeService(t)

	for _, sc := range []domain.Score{
		{SessionID: "s1", UserID: "u1", TotalScore: 130, UpdateTime: time.Now()},
		{SessionID: "s1", UserID: "u2", TotalScore: 245, UpdateTime: time.Now()},
		{SessionID: "s1", UserID: "u1", TotalScore: 260, UpdateTime: time.Now()},
	} {
		err := s.UpdateLeaderboard(context.Background(), domain.EventScoreUpdated{Score: sc})
		require.NoError(t, err)
	}

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{
		SessionID: "s1",
	})
	require.NoError(t, err)

	want := &domain.Leaderboard{
		SessionID: "s1",
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", Score: 260},
			{UserID: "u2", Score: 245},
		},
	}
	require.Equal(t, want, resp)
}

func TestService_GetLeaderboard_NotFound(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "missing"})
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestService_FinalizeLeaderboard(t *testing.T) {
	s, mr := makeService(t)

	err := s.FinalizeLeaderboard(context.Background(), domain.EventSessionFinished{
		Session: domain.Session{SessionID: "s1"},
		Rankings: []domain.Participant{
			{UserID: "u2", TotalScore: 300},
			{UserID: "u1", TotalScore: 120},
		},
	})
	require.NoError(t, err)

	resp, err := s.GetLeaderboard(context.Background(), leaderboard.GetLeaderboardRequest{SessionID: "s1"})
	require.NoError(t, err)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "u2", resp.Entries[0].UserID)

	assert.Equal(t, time.Hour, mr.TTL("test:s1:leaderboard"), "finished leaderboards expire")
}

func TestService_PublishLeaderboardUpdated(t *testing.T) {
	type (
		inputs struct {
			receivedEvents []domain.EventScoreUpdated
		}

		outputs struct {
			publishedEvents []domain.EventLeaderboardUpdated
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"should publish correct event leaderboard.updated after receiving score.updated": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{
							Score: domain.Score{
								SessionID:  "s1",
								UserID:     "u1",
								TotalScore: 130,
								UpdateTime: time.Now(),
							},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
				require.Equal(t, domain.Leaderboard{
					SessionID: "s1",
					Entries: []domain.LeaderboardEntry{
						{UserID: "u1", Score: 130},
					},
				}, out.publishedEvents[0].Leaderboard)
			},
		},

		"should publish 2 events leaderboard.updated after receiving events score.updated for 2 different sessions": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{
							Score: domain.Score{
								SessionID:  "s1",
								UserID:     "u1",
								TotalScore: 130,
								UpdateTime: time.Now(),
							},
						},
						{
							Score: domain.Score{
								SessionID:  "s2",
								UserID:     "u2",
								TotalScore: 115,
								UpdateTime: time.Now(),
							},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 2, "should receive 2 leaderboard updated event")
			},
		},

		"should publish 1 event leaderboard.updated after receiving events score.updated for the same session within the publish interval": {
			arrange: func() inputs {
				return inputs{
					receivedEvents: []domain.EventScoreUpdated{
						{
							Score: domain.Score{
								SessionID:  "s1",
								UserID:     "u1",
								TotalScore: 130,
								UpdateTime: time.Now(),
							},
						},
						{
							Score: domain.Score{
								SessionID:  "s1",
								UserID:     "u2",
								TotalScore: 115,
								UpdateTime: time.Now(),
							},
						},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.publishedEvents, 1, "should receive 1 leaderboard updated event")
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in, out := tt.arrange(), outputs{}

			eb := event.NewBus()

			var mu sync.Mutex
			eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				out.publishedEvents = append(out.publishedEvents, e.(domain.EventLeaderboardUpdated))
				mu.Unlock()
				return nil
			})

			s, _ := makeService(t,
				withEventBus(eb),
			)

			for _, e := range in.receivedEvents {
				err := s.UpdateLeaderboard(context.Background(), e)
				require.NoError(t, err)
			}

			eb.Stop()

			tt.assert(t, out)
		})
	}
}

func makeService(t *testing.T, opts ...options) (*leaderboard.Service, *miniredis.Miniredis) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	require.NoError(t, rc.Ping(ctx).Err(), "should be able to ping redis")

	c := leaderboard.Config{
		EventBus: event.NewBus(),
		Redis:    rc,
		Prefix:   "test",
	}

	for _, opt := range opts {
		opt(&c)
	}

	return leaderboard.NewService(c), rs
}

type options func(c *leaderboard.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *leaderboard.Config) {
		c.EventBus = eb
	}
}
