package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/quizarena/royale/internal/api"
	"github.com/quizarena/royale/internal/event"
	"github.com/quizarena/royale/internal/leaderboard"
	"github.com/quizarena/royale/internal/ledger"
	"github.com/quizarena/royale/internal/scheduler"
	"github.com/quizarena/royale/internal/session"
	"github.com/quizarena/royale/internal/store"
	"github.com/quizarena/royale/internal/telemetry"
)

type RedisConfig struct {
	Addrs  []string
	Pass   string
	Prefix string
}

type Config struct {
	Log struct {
		// Level is one of debug, info, warn, error.
		Level string
	}

	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Auth struct {
		// JWTSecret turns on bearer token authentication when set.
		JWTSecret string
	}

	Redis struct {
		Leaderboard RedisConfig
		Pubsub      RedisConfig
		Ledger      RedisConfig
	}

	Postgres struct {
		Session struct {
			Addr string
			User string
			Pass string
			Name string
		}
	}

	Rules struct {
		DefaultEntryFee    int64
		DefaultMaxPlayers  int
		DefaultTotalRounds int
		AutoCancelAfter    time.Duration
		AutoStartAfter     time.Duration
		PayoutGrace        time.Duration
	}

	Sweep struct {
		Enabled  bool
		Interval time.Duration
		Timeout  time.Duration
	}
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis struct {
			leaderboard redis.UniversalClient
			pubsub      redis.UniversalClient
			ledger      redis.UniversalClient
		}

		postgres struct {
			session *pgxpool.Pool
		}
	}

	store *store.Postgres

	service struct {
		ledger      *ledger.Service
		session     *session.Service
		leaderboard *leaderboard.Service
	}

	scheduler *scheduler.Scheduler

	http *http.Server
	grpc *grpc.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	if err := initLogger(c.Log.Level); err != nil {
		return nil, fmt.Errorf("server: init logger: %w", err)
	}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()

	if err := s.initScheduler(); err != nil {
		return nil, fmt.Errorf("server: init scheduler: %w", err)
	}

	s.initAPI()
	return s, nil
}

func initLogger(level string) error {
	var lvl slog.Level
	if level != "" {
		if err := lvl.UnmarshalText([]byte(level)); err != nil {
			return err
		}
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
	return nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	connect := func(c RedisConfig) (redis.UniversalClient, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		r := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    c.Addrs,
			Password: c.Pass,
		})

		if err := telemetry.MonitorRedis(r); err != nil {
			return nil, err
		}

		if err := r.Ping(ctx).Err(); err != nil {
			return nil, err
		}

		return r, nil
	}

	var err error
	s.infra.redis.leaderboard, err = connect(s.c.Redis.Leaderboard)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}

	s.infra.redis.pubsub, err = connect(s.c.Redis.Pubsub)
	if err != nil {
		return fmt.Errorf("pubsub: %w", err)
	}

	s.infra.redis.ledger, err = connect(s.c.Redis.Ledger)
	if err != nil {
		return fmt.Errorf("ledger: %w", err)
	}

	return nil
}

func (s *Server) initPostgres() (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pg := s.c.Postgres.Session
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pg.User, pg.Pass, pg.Addr, pg.Name))
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	s.infra.postgres.session = db
	s.store = store.NewPostgres(store.Config{DB: db})

	if err := s.store.Migrate(ctx); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	return nil
}

func (s *Server) initService() {
	s.service.ledger = ledger.NewService(ledger.Config{
		Redis:  s.infra.redis.ledger,
		Prefix: s.c.Redis.Ledger.Prefix,
	})

	s.service.session = session.NewService(session.Config{
		Store:    s.store,
		Ledger:   s.service.ledger,
		EventBus: s.eb,
		Rules: session.Rules{
			DefaultEntryFee:    s.c.Rules.DefaultEntryFee,
			DefaultMaxPlayers:  s.c.Rules.DefaultMaxPlayers,
			DefaultTotalRounds: s.c.Rules.DefaultTotalRounds,
			AutoCancelAfter:    s.c.Rules.AutoCancelAfter,
			AutoStartAfter:     s.c.Rules.AutoStartAfter,
		},
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus: s.eb,
		Redis:    s.infra.redis.leaderboard,
		Prefix:   s.c.Redis.Leaderboard.Prefix,
	})
}

func (s *Server) initScheduler() error {
	if !s.c.Sweep.Enabled {
		return nil
	}

	sc, err := scheduler.New(scheduler.Config{
		Sweeper:  s.service.session,
		Interval: s.c.Sweep.Interval,
		Timeout:  s.c.Sweep.Timeout,
	})
	if err != nil {
		return err
	}

	s.scheduler = sc
	return nil
}

func (s *Server) initAPI() {
	auth := api.NewAuthenticator(s.c.Auth.JWTSecret)

	e := gin.New()
	e.Use(gin.Recovery(), telemetry.HTTPMetrics())
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	e.GET("/healthz", s.healthz)
	pprof.Register(e, "/debug/pprof")

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor(auth.UnaryServerInterceptor()))

	api.New(api.Config{
		GRPC:         s.grpc,
		HTTP:         e,
		EventBus:     s.eb,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Auth:         auth,
		Redis:        s.infra.redis.pubsub,
		PubsubPrefix: s.c.Redis.Pubsub.Prefix,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	var eg errgroup.Group
	eg.Go(func() error { return s.store.Ping(ctx) })
	for name, r := range map[string]redis.UniversalClient{
		"leaderboard": s.infra.redis.leaderboard,
		"pubsub":      s.infra.redis.pubsub,
		"ledger":      s.infra.redis.ledger,
	} {
		eg.Go(func() error {
			if err := r.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis %s: %w", name, err)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		slog.WarnContext(ctx, "server: health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	if s.scheduler != nil {
		s.scheduler.Start()
		slog.InfoContext(ctx, "server: sweep scheduled", "interval", s.c.Sweep.Interval)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.scheduler != nil {
		if err := s.scheduler.Shutdown(); err != nil {
			slog.ErrorContext(ctx, "server: shutdown scheduler failed", "error", err)
		}
	}

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	s.infra.postgres.session.Close()
	for _, r := range []redis.UniversalClient{s.infra.redis.leaderboard, s.infra.redis.pubsub, s.infra.redis.ledger} {
		if err := r.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
