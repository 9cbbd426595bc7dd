package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/jobats/internal/config"
	"github.com/rs/zerolog"
)

const pruneTimeout = 30 * time.Second

// cronLogger routes scheduler output through zerolog.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// schedulePrune registers the journal retention job. A zero retention keeps
// history forever.
func (d *Daemon) schedulePrune(cfg *config.Config) error {
	if d.journal == nil || cfg.Journal.RetentionDays <= 0 {
		return nil
	}
	schedule := cfg.Journal.PruneSchedule
	if schedule == "" {
		schedule = "@hourly"
	}

	id, err := d.scheduler.AddFunc(schedule, d.pruneJournal)
	if err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	d.pruneEntry = id
	return nil
}

// reschedulePrune swaps the retention job after a config change.
func (d *Daemon) reschedulePrune(cfg *config.Config) {
	if d.pruneEntry != 0 {
		d.scheduler.Remove(d.pruneEntry)
		d.pruneEntry = 0
	}
	if err := d.schedulePrune(cfg); err != nil {
		d.log.Warn().Err(err).Msg("Journal pruning disabled")
	}
}

func (d *Daemon) pruneJournal() {
	if d.journal == nil {
		return
	}
	days := d.GetConfig().Journal.RetentionDays
	if days <= 0 {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, pruneTimeout)
	defer cancel()

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
	removed, err := d.journal.Prune(ctx, cutoff)
	if err != nil {
		d.log.Warn().Err(err).Msg("Journal prune failed")
		return
	}
	if removed > 0 {
		d.log.Info().
			Int64("removed", removed).
			Time("cutoff", cutoff).
			Msg("Pruned request journal")
	}
}
