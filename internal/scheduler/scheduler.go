// Package scheduler runs the auto start sweep on an interval.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/quizarena/royale/internal/session"
)

const (
	defaultInterval = 5 * time.Second
	defaultTimeout  = 30 * time.Second
)

type Sweeper interface {
	AutoStartReadySessions(ctx context.Context) (*session.SweepResult, error)
}

type Config struct {
	Sweeper Sweeper
	// Interval between two sweeps, 5s by default.
	Interval time.Duration
	// Timeout bounds a single sweep, 30s by default.
	Timeout time.Duration
}

// Scheduler never overlaps two sweeps: a run that is still going when the next one is due
// pushes the next one back.
type Scheduler struct {
	sweeper Sweeper
	timeout time.Duration

	s gocron.Scheduler
}

func New(c Config) (*Scheduler, error) {
	interval := c.Interval
	if interval <= 0 {
		interval = defaultInterval
	}

	sc := &Scheduler{
		sweeper: c.Sweeper,
		timeout: c.Timeout,
	}
	if sc.timeout <= 0 {
		sc.timeout = defaultTimeout
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("scheduler: new: %w", err)
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(sc.sweep),
		gocron.WithName("auto_start_check"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		return nil, fmt.Errorf("scheduler: new job: %w", err)
	}

	sc.s = s
	return sc, nil
}

func (sc *Scheduler) Start() {
	sc.s.Start()
}

// Shutdown waits for a running sweep to finish.
func (sc *Scheduler) Shutdown() error {
	return sc.s.Shutdown()
}

func (sc *Scheduler) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sc.timeout)
	defer cancel()

	res, err := sc.sweeper.AutoStartReadySessions(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "scheduler: sweep failed", "error", err)
		return
	}

	if len(res.Started)+len(res.Cancelled)+len(res.Failed)+len(res.Retried) == 0 {
		return
	}

	slog.InfoContext(ctx, "scheduler: sweep done",
		"started", res.Started,
		"cancelled", res.Cancelled,
		"failed", res.Failed,
		"retried", res.Retried,
	)
}
