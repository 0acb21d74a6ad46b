package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "github.com/tazhate/worldcal/internal/log"
	"github.com/tazhate/worldcal/internal/service"
)

// Digest sends the daily note digest.
type Digest interface {
	Send(ctx context.Context) (int, error)
}

type Config struct {
	Location *time.Location
	// ClockSpec advances world time by ClockStep on every tick. Empty
	// disables the real-time clock.
	ClockSpec string
	ClockStep int64
	// DigestSpec sends the digest. Empty disables it.
	DigestSpec string
}

type Scheduler struct {
	cron   *cron.Cron
	cfg    Config
	clock  *service.TimeService
	digest Digest
}

func New(cfg Config, clock *service.TimeService, digest Digest) *Scheduler {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(location)),
		cfg:    cfg,
		clock:  clock,
		digest: digest,
	}
}

// Start registers the jobs and blocks until ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.register(ctx); err != nil {
		return err
	}
	s.cron.Start()
	appLog.Info("scheduler started", "clock", s.cfg.ClockSpec, "step", s.cfg.ClockStep, "digest", s.cfg.DigestSpec)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) register(ctx context.Context) error {
	if s.cfg.ClockSpec != "" {
		if s.cfg.ClockStep == 0 {
			return fmt.Errorf("clock step must not be zero")
		}
		if _, err := s.cron.AddFunc(s.cfg.ClockSpec, func() { s.tick(ctx) }); err != nil {
			return fmt.Errorf("add clock tick: %w", err)
		}
	}
	if s.cfg.DigestSpec != "" && s.digest != nil {
		if _, err := s.cron.AddFunc(s.cfg.DigestSpec, func() { s.sendDigest(ctx) }); err != nil {
			return fmt.Errorf("add digest: %w", err)
		}
	}
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("scheduler stopped")
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) tick(ctx context.Context) {
	d, err := s.clock.AdvanceSeconds(service.WithActor(ctx, service.System), s.cfg.ClockStep)
	if err != nil {
		appLog.Error("advance world time", err)
		return
	}
	appLog.Debug("world time advanced", "date", d.Key())
}

func (s *Scheduler) sendDigest(ctx context.Context) {
	n, err := s.digest.Send(ctx)
	if err != nil {
		appLog.Error("send digest", err)
		return
	}
	if n > 0 {
		appLog.Info("digest delivered", "notes", n)
	}
}
