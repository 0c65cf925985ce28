package jobs

import (
	"fmt"
	"time"

	"clinichub/internal/metrics"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"
)

// Sweepable drops expired cache entries and reports how many it removed.
type Sweepable interface {
	Sweep(now time.Time) int
}

// CacheSweeper periodically evicts expired entries from the in-process
// tenant cache. The redis backend expires keys itself and needs no sweeper.
type CacheSweeper struct {
	scheduler gocron.Scheduler
	store     Sweepable
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewCacheSweeper(store Sweepable, interval time.Duration, m *metrics.Metrics) (*CacheSweeper, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	s := &CacheSweeper{
		scheduler: scheduler,
		store:     store,
		metrics:   m,
		now:       time.Now,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.sweep),
		gocron.WithName("tenant-cache-sweep"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, fmt.Errorf("register cache sweep job: %w", err)
	}
	return s, nil
}

func (s *CacheSweeper) Start() {
	log.Info().Msg("Starting tenant cache sweeper")
	s.scheduler.Start()
}

// Stop waits for a running sweep to finish.
func (s *CacheSweeper) Stop() error {
	log.Info().Msg("Stopping tenant cache sweeper")
	return s.scheduler.Shutdown()
}

func (s *CacheSweeper) sweep() {
	removed := s.store.Sweep(s.now())
	s.metrics.TenantCacheSwept.Add(float64(removed))
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept expired tenant cache entries")
	}
}
