// Package janitor runs the background maintenance schedule: periodic cache
// sweeps and a daily retention purge against the store.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"assetfeed/internal/cache"
	"assetfeed/internal/logging"
	"assetfeed/internal/store"
)

type Options struct {
	// SweepSpec is the cron spec for cache sweeps. Defaults to every 10 minutes.
	SweepSpec string
	// PurgeSpec is the cron spec for the retention purge. Defaults to 03:30 daily.
	PurgeSpec string
	// RetentionDays bounds how far back the store keeps rows; zero disables
	// the purge entirely.
	RetentionDays int
}

// Janitor owns the cron scheduler. Jobs run sequentially per schedule; a
// slow purge never overlaps itself.
type Janitor struct {
	cron  *cron.Cron
	cache *cache.Tiered
	st    store.Store
	log   *logging.Logger
	opts  Options
}

func New(c *cache.Tiered, st store.Store, log *logging.Logger, opts Options) *Janitor {
	if opts.SweepSpec == "" {
		opts.SweepSpec = "*/10 * * * *"
	}
	if opts.PurgeSpec == "" {
		opts.PurgeSpec = "30 3 * * *"
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Janitor{cron: cron.New(), cache: c, st: st, log: log, opts: opts}
}

// Start registers the jobs and launches the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.opts.SweepSpec, j.sweep); err != nil {
		return err
	}
	if j.st != nil && j.opts.RetentionDays > 0 {
		if _, err := j.cron.AddFunc(j.opts.PurgeSpec, j.purge); err != nil {
			return err
		}
	}
	j.cron.Start()
	j.log.Info("janitor started",
		logging.F("sweep", j.opts.SweepSpec),
		logging.F("purge", j.opts.PurgeSpec),
		logging.F("retention_days", j.opts.RetentionDays))
	return nil
}

// Stop halts the scheduler and waits for any running job to finish.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

func (j *Janitor) sweep() {
	removed := j.cache.SweepExpired()
	if removed > 0 {
		j.log.Info("cache sweep", logging.F("removed", removed))
	}
}

func (j *Janitor) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	n, err := j.st.PurgeOlderThan(ctx, j.opts.RetentionDays)
	if err != nil {
		j.log.Error(err, logging.F("job", "purge"))
		return
	}
	if n > 0 {
		j.log.Info("retention purge", logging.F("rows", n))
	}
}
