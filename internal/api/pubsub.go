package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/event"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	RoundProcessed struct {
		SessionID    string        `json:"sessionId"`
		RoundNumber  int           `json:"roundNumber"`
		Eliminated   []Participant `json:"eliminated"`
		Remaining    []Participant `json:"remaining"`
		IsFinalRound bool          `json:"isFinalRound"`
	}
)

func (a *API) subscribe(eb *event.Bus) {
	eb.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
		return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
	})

	eb.Subscribe(domain.EventNameSessionStarted, func(ctx context.Context, e event.Event) error {
		ss := e.(domain.EventSessionStarted).Session
		return a.publishSession(ctx, ss.SessionID, e.Name(), CreateSessionResponse{Session: toSession(ss)})
	})

	eb.Subscribe(domain.EventNameRoundProcessed, func(ctx context.Context, e event.Event) error {
		r := e.(domain.EventRoundProcessed)
		return a.publishSession(ctx, r.SessionID, e.Name(), RoundProcessed{
			SessionID:    r.SessionID,
			RoundNumber:  r.RoundNumber,
			Eliminated:   toParticipants(r.Eliminated),
			Remaining:    toParticipants(r.Remaining),
			IsFinalRound: r.IsFinalRound,
		})
	})

	eb.Subscribe(domain.EventNameSessionFinished, func(ctx context.Context, e event.Event) error {
		f := e.(domain.EventSessionFinished)
		return a.publishSession(ctx, f.Session.SessionID, e.Name(), FinishSessionResponse{
			Session:  toSession(f.Session),
			Rankings: toParticipants(f.Rankings),
		})
	})

	eb.Subscribe(domain.EventNameSessionCancelled, func(ctx context.Context, e event.Event) error {
		ss := e.(domain.EventSessionCancelled).Session
		return a.publishSession(ctx, ss.SessionID, e.Name(), CreateSessionResponse{Session: toSession(ss)})
	})
}

// PublishLeaderboardUpdated sends the leaderboard to every user on it.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := toLeaderboard(e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, a.userChannel(entry.UserID), e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishSession(ctx context.Context, sessionID, event string, data any) error {
	return a.publishNotification(ctx, a.sessionChannel(sessionID), event, data)
}

func (a *API) publishNotification(ctx context.Context, channel, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, channel, b).Err()
}

func (a *API) userChannel(user string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, user)
}

func (a *API) sessionChannel(session string) string {
	return fmt.Sprintf("%s:session:%s", a.prefix, session)
}
