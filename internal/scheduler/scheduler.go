package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// maxParallel bounds how many users are swept at once.
const maxParallel = 4

type Users interface {
	ConnectedUserIDs(ctx context.Context) ([]string, error)
}

type Syncer interface {
	Sync(ctx context.Context, userID string) (int, error)
}

// Scheduler runs a catch-up sweep over every connected user on a cron
// schedule.
type Scheduler struct {
	users  Users
	syncer Syncer
	logger zerolog.Logger
	cron   *cron.Cron
	runs   atomic.Int64
}

func New(users Users, syncer Syncer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		users:  users,
		syncer: syncer,
		logger: logger.With().Str("component", "scheduler").Logger(),
	}
}

// SweepAll syncs every connected user, a few at a time. Per-user failures
// are logged; the returned total counts reconciled events.
func (s *Scheduler) SweepAll(ctx context.Context) (int, error) {
	ids, err := s.users.ConnectedUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list connected users: %w", err)
	}

	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallel)
	for _, id := range ids {
		g.Go(func() error {
			n, err := s.syncer.Sync(gctx, id)
			total.Add(int64(n))
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Str("user_id", id).Msg("scheduled sweep failed")
			}
			return nil
		})
	}
	_ = g.Wait()
	s.runs.Add(1)
	s.logger.Info().Int("users", len(ids)).Int64("synced", total.Load()).Msg("scheduled sweep finished")
	return int(total.Load()), ctx.Err()
}

// Runs reports how many sweeps have completed.
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// Start validates spec and begins running SweepAll on it until ctx is done
// or Stop is called. Overlapping runs are skipped.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	logger := s.logger
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&logger))))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.SweepAll(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("scheduled sweep aborted")
		}
	}); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	s.logger.Info().Str("schedule", spec).Msg("sweep scheduled")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
