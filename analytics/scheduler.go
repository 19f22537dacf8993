package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultRollupSchedule refreshes aggregates every fifteen minutes.
const DefaultRollupSchedule = "*/15 * * * *"

// Scheduler periodically rolls up today's and yesterday's events.
// Yesterday is included so late beacons around midnight are counted.
type Scheduler struct {
	cron  *cron.Cron
	store *Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewScheduler parses schedule as a standard five-field cron expression
// evaluated in UTC.
func NewScheduler(store *Store, schedule string, log zerolog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultRollupSchedule
	}
	s := &Scheduler{
		cron:  cron.New(cron.WithLocation(time.UTC)),
		store: store,
		log:   log.With().Str("component", "rollup").Logger(),
		now:   time.Now,
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("rollup schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	if err := s.RunOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("rollup failed")
	}
}

// RunOnce rolls up yesterday and today.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	today := Day(s.now())
	for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
		aggs, err := s.store.RollupDay(ctx, day)
		if err != nil {
			return err
		}
		s.log.Debug().Str("day", DayKey(day)).Int("posts", len(aggs)).Msg("rollup complete")
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("rollup scheduler started")
}

// Stop halts the schedule and waits for a running rollup to finish or
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
