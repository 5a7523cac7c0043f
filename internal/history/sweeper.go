package history

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"
)

// Sweeper periodically trims the store to its session cap. Appends already evict;
// the sweeper covers records left behind by a previous run with a larger cap.
type Sweeper struct {
	store    *Store
	cron     *cron.Cron
	schedule string
	logger   *log.Logger
}

// NewSweeper creates a sweeper for a cron spec such as "@every 10m".
func NewSweeper(store *Store, schedule string, logger *log.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		cron:     cron.New(cron.WithLocation(time.UTC)),
		schedule: schedule,
		logger:   logger.WithPrefix("sweeper"),
	}
}

// Run sweeps once, then on schedule until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.sweep()
	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("schedule history sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("history sweeper started", "schedule", s.schedule)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("history sweeper stopped")
	return nil
}

func (s *Sweeper) sweep() {
	n, err := s.store.Evict()
	if err != nil {
		s.logger.Error("history sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("history sweep", "evicted", n)
	}
}
