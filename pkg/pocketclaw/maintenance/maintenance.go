// Package maintenance runs PocketClaw's scheduled housekeeping: pruning
// idle conversation files and trimming old audit rows. One cron entry
// (daily unless configured otherwise) covers both; the /cleansessions
// chat command stays available as the manual path.
package maintenance

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Config controls the housekeeping schedule and retention windows.
type Config struct {
	// Enabled turns scheduled housekeeping on.
	Enabled bool `yaml:"enabled"`

	// Schedule is a cron expression or descriptor (@daily, @every 6h).
	Schedule string `yaml:"schedule"`

	// SessionMaxAgeDays removes conversation files idle for longer than
	// this many days. Zero disables the session pass.
	SessionMaxAgeDays int `yaml:"session_max_age_days"`

	// AuditMaxAgeDays trims audit rows older than this many days.
	// Zero keeps everything.
	AuditMaxAgeDays int `yaml:"audit_max_age_days"`
}

// DefaultConfig returns the housekeeping defaults: daily run, 30-day
// session retention, 90-day audit retention.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		Schedule:          "@daily",
		SessionMaxAgeDays: 30,
		AuditMaxAgeDays:   90,
	}
}

// SessionCleaner is the slice of the conversation store the janitor
// needs: age-based cleanup with an in-use guard.
type SessionCleaner interface {
	Cleanup(projectPrefix string, maxAge time.Duration, inUse func(handle string) bool) (int, error)
}

// AuditPruner trims old audit rows.
type AuditPruner interface {
	Prune(maxAge time.Duration) (int64, error)
}

// Janitor owns the cron entry and runs the cleanup passes.
type Janitor struct {
	cfg      Config
	sessions SessionCleaner
	audits   AuditPruner
	inUse    func(handle string) bool
	logger   *slog.Logger

	cron    *cron.Cron
	running atomic.Bool
}

// New builds a Janitor. sessions or audits may be nil, which skips the
// corresponding pass. inUse guards handles that are still referenced by
// an active user session; nil means nothing is protected.
func New(cfg Config, sessions SessionCleaner, audits AuditPruner, inUse func(handle string) bool, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultConfig().Schedule
	}

	return &Janitor{
		cfg:      cfg,
		sessions: sessions,
		audits:   audits,
		inUse:    inUse,
		logger:   logger.With("component", "maintenance"),
	}
}

// Start registers the cron entry and begins the schedule. It is a no-op
// when housekeeping is disabled.
func (j *Janitor) Start() error {
	if !j.cfg.Enabled {
		j.logger.Debug("scheduled housekeeping disabled")
		return nil
	}

	j.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	if _, err := j.cron.AddFunc(j.cfg.Schedule, j.run); err != nil {
		return fmt.Errorf("invalid maintenance schedule %q: %w", j.cfg.Schedule, err)
	}

	j.cron.Start()
	j.logger.Info("housekeeping scheduled",
		"schedule", j.cfg.Schedule,
		"session_max_age_days", j.cfg.SessionMaxAgeDays,
		"audit_max_age_days", j.cfg.AuditMaxAgeDays,
	)
	return nil
}

// Stop halts the schedule and waits briefly for a running pass.
func (j *Janitor) Stop() {
	if j.cron == nil {
		return
	}
	ctx := j.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		j.logger.Warn("housekeeping stop timed out")
	}
	j.logger.Info("housekeeping stopped")
}

// RunNow executes one cleanup pass immediately, outside the schedule.
// It reports the number of session files removed and audit rows pruned.
func (j *Janitor) RunNow() (removedSessions int, prunedRows int64) {
	if j.sessions != nil && j.cfg.SessionMaxAgeDays > 0 {
		maxAge := time.Duration(j.cfg.SessionMaxAgeDays) * 24 * time.Hour
		n, err := j.sessions.Cleanup("", maxAge, j.inUse)
		if err != nil {
			j.logger.Warn("session cleanup failed", "error", err)
		} else {
			removedSessions = n
		}
	}

	if j.audits != nil && j.cfg.AuditMaxAgeDays > 0 {
		maxAge := time.Duration(j.cfg.AuditMaxAgeDays) * 24 * time.Hour
		n, err := j.audits.Prune(maxAge)
		if err != nil {
			j.logger.Warn("audit prune failed", "error", err)
		} else {
			prunedRows = n
		}
	}
	return removedSessions, prunedRows
}

// run is the cron entry point. A guard skips the pass when the previous
// one is still going, and a recover keeps a bad pass from taking down
// the scheduler.
func (j *Janitor) run() {
	if !j.running.CompareAndSwap(false, true) {
		j.logger.Warn("skipping housekeeping pass (previous still running)")
		return
	}
	defer j.running.Store(false)
	defer func() {
		if r := recover(); r != nil {
			j.logger.Error("housekeeping pass panicked", "panic", r)
		}
	}()

	start := time.Now()
	removed, pruned := j.RunNow()
	j.logger.Info("housekeeping pass finished",
		"sessions_removed", removed,
		"audit_rows_pruned", pruned,
		"duration", time.Since(start),
	)
}
