package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"

	"github.com/quizarena/royale/internal/domain"
	"github.com/quizarena/royale/internal/errors"
	"github.com/quizarena/royale/internal/event"
	"github.com/quizarena/royale/internal/leaderboard"
	"github.com/quizarena/royale/internal/session"
	"github.com/quizarena/royale/internal/telemetry"
)

const (
	ActionCreateSession  = "create_session"
	ActionJoinSession    = "join_session"
	ActionStartSession   = "start_session"
	ActionProcessRound   = "process_round"
	ActionSubmitAnswer   = "submit_answer"
	ActionFinishSession  = "finish_session"
	ActionAutoStartCheck = "auto_start_check"
	ActionGetSession     = "get_session"
	ActionGetLeaderboard = "get_leaderboard"
	ActionRetryPayout    = "retry_payout"
)

type Sessions interface {
	CreateSession(ctx context.Context, req session.CreateSessionRequest) (*domain.Session, error)
	JoinSession(ctx context.Context, req session.JoinSessionRequest) (*session.JoinSessionResponse, error)
	StartSession(ctx context.Context, req session.StartSessionRequest) (*session.StartSessionResponse, error)
	SubmitAnswer(ctx context.Context, req session.SubmitAnswerRequest) (*session.SubmitAnswerResponse, error)
	ProcessRound(ctx context.Context, req session.ProcessRoundRequest) (*session.ProcessRoundResponse, error)
	FinishSession(ctx context.Context, req session.FinishSessionRequest) (*session.FinishSessionResponse, error)
	AutoStartReadySessions(ctx context.Context) (*session.SweepResult, error)
	GetSession(ctx context.Context, req session.GetSessionRequest) (*session.SessionDetails, error)
	RetryPayout(ctx context.Context, req session.RetryPayoutRequest) (*session.RetryPayoutResponse, error)
}

type Leaderboards interface {
	GetLeaderboard(ctx context.Context, req leaderboard.GetLeaderboardRequest) (*domain.Leaderboard, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	// GRPC and HTTP are optional, the API registers itself on the ones given.
	GRPC *grpc.Server
	HTTP gin.IRouter

	EventBus     *event.Bus
	Session      Sessions
	Leaderboard  Leaderboards
	Auth         *Authenticator
	Redis        Redis
	PubsubPrefix string
}

type handler func(ctx context.Context, payload map[string]any) (any, error)

// API dispatches battle royale actions arriving over HTTP or gRPC.
type API struct {
	sessions    Sessions
	leaderboard Leaderboards
	auth        *Authenticator

	redis  Redis
	prefix string

	handlers map[string]handler
}

func New(c Config) *API {
	a := &API{
		sessions:    c.Session,
		leaderboard: c.Leaderboard,
		auth:        c.Auth,
		redis:       c.Redis,
		prefix:      c.PubsubPrefix,
	}

	a.handlers = map[string]handler{
		ActionCreateSession:  handle(a.createSession),
		ActionJoinSession:    handle(a.joinSession),
		ActionStartSession:   handle(a.startSession),
		ActionProcessRound:   handle(a.processRound),
		ActionSubmitAnswer:   handle(a.submitAnswer),
		ActionFinishSession:  handle(a.finishSession),
		ActionAutoStartCheck: handle(a.autoStartCheck),
		ActionGetSession:     handle(a.getSession),
		ActionGetLeaderboard: handle(a.getLeaderboard),
		ActionRetryPayout:    handle(a.retryPayout),
	}

	if c.GRPC != nil {
		RegisterBattleRoyaleServer(c.GRPC, a)
	}
	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
	}

	if c.EventBus != nil && c.Redis != nil {
		a.subscribe(c.EventBus)
	}

	return a
}

// Route runs one action. Unknown actions and malformed payloads fail with CodeInvalidArgument.
func (a *API) Route(ctx context.Context, action string, payload map[string]any) (resp any, err error) {
	start := time.Now()

	h, ok := a.handlers[action]
	if !ok {
		telemetry.ObserveAction("unknown", codes.InvalidArgument.String(), start)
		return nil, errors.InvalidArgument("unknown action: %s", action)
	}

	defer func() {
		code := codes.OK
		if err != nil {
			code = codes.Code(errors.Convert(err).Code)
		}
		telemetry.ObserveAction(action, code.String(), start)
	}()

	resp, err = h(ctx, payload)
	if err != nil {
		e := errors.Convert(err)
		lvl := slog.LevelWarn
		if e.Code == errors.CodeInternal || e.Code == errors.CodeUnavailable {
			lvl = slog.LevelError
		}
		slog.Log(ctx, lvl, "api: action failed", "action", action, "code", codes.Code(e.Code).String(), "error", err)
		return nil, err
	}

	return resp, nil
}

// handle decodes the payload into the action's typed request before calling fn.
func handle[P any](fn func(ctx context.Context, p P) (any, error)) handler {
	return func(ctx context.Context, payload map[string]any) (any, error) {
		var p P
		if err := decode(payload, &p); err != nil {
			return nil, err
		}
		return fn(ctx, p)
	}
}

func decode(payload map[string]any, out any) error {
	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  out,
	})
	if err != nil {
		return errors.Internal(err)
	}

	if err := d.Decode(payload); err != nil {
		return errors.InvalidArgument("invalid payload: %v", err)
	}
	return nil
}

func (a *API) createSession(ctx context.Context, p CreateSessionPayload) (any, error) {
	ss, err := a.sessions.CreateSession(ctx, session.CreateSessionRequest{
		Mode:        domain.Mode(p.Mode),
		Topic:       p.Topic,
		Difficulty:  p.Difficulty,
		EntryFee:    p.EntryFee,
		MaxPlayers:  p.MaxPlayers,
		TotalRounds: p.TotalRounds,
	})
	if err != nil {
		return nil, err
	}

	return CreateSessionResponse{Session: toSession(*ss)}, nil
}

func (a *API) joinSession(ctx context.Context, p JoinSessionPayload) (any, error) {
	if caller := CallerFrom(ctx); caller != "" {
		switch p.UserID {
		case "":
			p.UserID = caller
		case caller:
		default:
			return nil, errors.New(errors.CodePermissionDenied,
				errors.WithMessagef("cannot join on behalf of another user"))
		}
	}

	resp, err := a.sessions.JoinSession(ctx, session.JoinSessionRequest{
		SessionID: p.SessionID,
		UserID:    p.UserID,
		TeamName:  p.TeamName,
	})
	if err != nil {
		return nil, err
	}

	return JoinSessionResponse{
		Participant: toParticipant(resp.Participant),
		EntryFee:    resp.EntryFee,
		PrizePool:   resp.PrizePool,
		Balance:     resp.Balance,
	}, nil
}

func (a *API) startSession(ctx context.Context, p SessionPayload) (any, error) {
	resp, err := a.sessions.StartSession(ctx, session.StartSessionRequest{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	return StartSessionResponse{
		Session:       toSession(resp.Session),
		FirstQuestion: toQuestion(resp.FirstQuestion, false),
		TotalPlayers:  resp.TotalPlayers,
	}, nil
}

func (a *API) submitAnswer(ctx context.Context, p SubmitAnswerPayload) (any, error) {
	resp, err := a.sessions.SubmitAnswer(ctx, session.SubmitAnswerRequest{
		SessionID:      p.SessionID,
		ParticipantID:  p.ParticipantID,
		RoundNumber:    p.RoundNumber,
		QuestionID:     p.QuestionID,
		SelectedAnswer: p.SelectedAnswer,
		ResponseTimeMs: p.ResponseTimeMs,
	})
	if err != nil {
		return nil, err
	}

	return SubmitAnswerResponse{
		IsCorrect:     resp.IsCorrect,
		PointsEarned:  resp.PointsEarned,
		TotalScore:    resp.TotalScore,
		CorrectAnswer: resp.CorrectAnswer,
	}, nil
}

func (a *API) processRound(ctx context.Context, p ProcessRoundPayload) (any, error) {
	resp, err := a.sessions.ProcessRound(ctx, session.ProcessRoundRequest{
		SessionID:   p.SessionID,
		RoundNumber: p.RoundNumber,
	})
	if err != nil {
		return nil, err
	}

	out := ProcessRoundResponse{
		RoundNumber:  resp.RoundNumber,
		Eliminated:   toParticipants(resp.Eliminated),
		Remaining:    toParticipants(resp.Remaining),
		IsFinalRound: resp.IsFinalRound,
	}
	if resp.NextQuestion != nil {
		q := toQuestion(*resp.NextQuestion, false)
		out.NextQuestion = &q
	}

	return out, nil
}

func (a *API) finishSession(ctx context.Context, p SessionPayload) (any, error) {
	resp, err := a.sessions.FinishSession(ctx, session.FinishSessionRequest{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	return FinishSessionResponse{
		Session:  toSession(resp.Session),
		Rankings: toParticipants(resp.Rankings),
	}, nil
}

func (a *API) autoStartCheck(ctx context.Context, _ AutoStartCheckPayload) (any, error) {
	res, err := a.sessions.AutoStartReadySessions(ctx)
	if err != nil {
		return nil, err
	}

	return toSweepResponse(res), nil
}

func (a *API) getSession(ctx context.Context, p SessionPayload) (any, error) {
	resp, err := a.sessions.GetSession(ctx, session.GetSessionRequest{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	return GetSessionResponse{
		Session:      toSession(resp.Session),
		Participants: toParticipants(resp.Participants),
	}, nil
}

func (a *API) getLeaderboard(ctx context.Context, p SessionPayload) (any, error) {
	l, err := a.leaderboard.GetLeaderboard(ctx, leaderboard.GetLeaderboardRequest{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	return toLeaderboard(*l), nil
}

func (a *API) retryPayout(ctx context.Context, p SessionPayload) (any, error) {
	resp, err := a.sessions.RetryPayout(ctx, session.RetryPayoutRequest{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	return RetryPayoutResponse{Session: toSession(resp.Session)}, nil
}
