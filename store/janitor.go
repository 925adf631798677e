package store

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Janitor prunes expired results on a cron schedule.
type Janitor struct {
	store  *Store
	ttl    time.Duration
	cron   *cron.Cron
	logger *zap.Logger
}

// NewJanitor schedules Prune(ttl) with spec (standard cron syntax or
// descriptors such as "@every 10m").
func NewJanitor(s *Store, spec string, ttl time.Duration, logger *zap.Logger) (*Janitor, error) {
	j := &Janitor{
		store:  s,
		ttl:    ttl,
		cron:   cron.New(),
		logger: logger.Named("janitor"),
	}
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, fmt.Errorf("schedule prune %q: %w", spec, err)
	}
	return j, nil
}

// RunOnce prunes immediately.
func (j *Janitor) RunOnce() {
	removed, err := j.store.Prune(j.ttl)
	if err != nil {
		j.logger.Warn("prune results failed", zap.Error(err), zap.Int("removed", removed))
		return
	}
	if removed > 0 {
		j.logger.Info("pruned results", zap.Int("removed", removed), zap.Duration("ttl", j.ttl))
	}
}

// Run starts the scheduler and blocks until ctx is done, then waits for a
// running prune to finish.
func (j *Janitor) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}
