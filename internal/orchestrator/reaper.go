package orchestrator

import (
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pavelanni/examgen/internal/store"
)

const reapedHTML = "<p class='error'>Exam generation timed out.</p>"

// Reaper is the supervisory backstop for the coordinator's best-effort
// cleanup: it periodically fails sessions stuck in PROCESSING past the
// run budget plus a grace period, so a crashed worker whose final
// status write was lost cannot leave a session spinning forever.
type Reaper struct {
	store    *store.Store
	maxAge   time.Duration
	interval time.Duration
	cron     *cron.Cron
}

// NewReaper creates a reaper that fails PROCESSING sessions older than
// maxAge, sweeping every interval.
func NewReaper(s *store.Store, maxAge, interval time.Duration) *Reaper {
	return &Reaper{store: s, maxAge: maxAge, interval: interval}
}

// Start schedules the sweep on a background cron.
func (r *Reaper) Start() error {
	r.cron = cron.New()
	if _, err := r.cron.AddFunc("@every "+r.interval.String(), r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	slog.Info("session reaper started", "max_age", r.maxAge, "interval", r.interval)
	return nil
}

// Stop halts the sweep schedule. A sweep already in flight finishes.
func (r *Reaper) Stop() {
	if r.cron != nil {
		r.cron.Stop()
	}
}

// Sweep fails every session stuck in PROCESSING past the cutoff and
// drops expired login tokens while it is at it.
func (r *Reaper) Sweep() {
	n, err := r.store.ReapStuckSessions(time.Now().Add(-r.maxAge), reapedHTML)
	if err != nil {
		slog.Error("reaper sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("reaped stuck sessions", "count", n)
	}

	expired, err := r.store.CleanupExpiredSessions()
	if err != nil {
		slog.Error("auth session cleanup failed", "error", err)
		return
	}
	if expired > 0 {
		slog.Info("removed expired auth sessions", "count", expired)
	}
}
