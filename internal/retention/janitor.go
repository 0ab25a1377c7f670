// Package retention implements the session retention policy for the
// Peupajoh backend. Stale conversations — sessions whose last update is
// older than the configured window — are periodically purged so the
// database does not accumulate abandoned chats forever.
//
// When an archiver is configured, purged session summaries are written
// to durable storage before deletion. Archive failures are fail-safe:
// sessions are NOT deleted if archiving fails.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// DefaultMaxAge is the retention window applied when none is configured.
const DefaultMaxAge = 30 * 24 * time.Hour

// Archiver writes purged session summaries to durable storage before
// they are deleted from the hot store.
type Archiver interface {
	Kind() string
	ArchiveSessions(ctx context.Context, sessions []models.SessionSummary) (string, error)
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Examined int
	Archived int
	Purged   int
	Errors   []error
}

// Janitor periodically purges sessions that have gone untouched for
// longer than maxAge.
type Janitor struct {
	store    store.SessionStore
	interval time.Duration
	maxAge   time.Duration

	// archiver is optional; nil means purge without archiving.
	archiver Archiver

	// purgeHook is called with each purged session id, letting other
	// components release per-session resources. Optional.
	purgeHook func(sessionID string)
}

// NewJanitor creates a retention janitor that sweeps on the given
// interval, purging sessions not updated within maxAge.
func NewJanitor(s store.SessionStore, interval, maxAge time.Duration) *Janitor {
	if interval < time.Minute {
		interval = time.Hour // minimum 1 hour
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Janitor{store: s, interval: interval, maxAge: maxAge}
}

// SetArchiver configures where purged sessions are written. Must be
// called before Start.
func (j *Janitor) SetArchiver(a Archiver) {
	j.archiver = a
	log.Info().Str("kind", a.Kind()).Msg("Session archiver registered")
}

// SetPurgeHook registers a callback invoked with each purged session
// id. Must be called before Start.
func (j *Janitor) SetPurgeHook(fn func(sessionID string)) {
	j.purgeHook = fn
}

// Start runs the janitor. It blocks until ctx is canceled, so call it
// in its own goroutine.
func (j *Janitor) Start(ctx context.Context) {
	kind := "none"
	if j.archiver != nil {
		kind = j.archiver.Kind()
	}
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.maxAge).
		Str("archiver", kind).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	j.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	start := time.Now()
	stats := j.RunCycle(ctx)

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("Retention cycle error")
	}
	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("examined", stats.Examined).
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
}

// RunCycle performs one retention sweep and reports what it did.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats

	sessions, err := j.store.ListSessions(ctx)
	if err != nil {
		stats.Errors = append(stats.Errors, err)
		return stats
	}
	stats.Examined = len(sessions)

	cutoff := time.Now().Add(-j.maxAge)
	var expired []models.SessionSummary
	for _, s := range sessions {
		if s.UpdatedAt.Before(cutoff) {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		return stats
	}

	if j.archiver != nil {
		uri, err := j.archiver.ArchiveSessions(ctx, expired)
		if err != nil {
			// Fail-safe: keep the sessions if the archive write failed.
			log.Warn().Err(err).Int("count", len(expired)).Msg("Archive failed — skipping purge")
			stats.Errors = append(stats.Errors, err)
			return stats
		}
		stats.Archived = len(expired)
		log.Debug().Str("uri", uri).Int("count", len(expired)).Msg("Archived expired sessions")
	}

	for _, s := range expired {
		if err := j.store.DeleteSession(ctx, s.SessionID); err != nil {
			log.Warn().Err(err).Str("session_id", s.SessionID).Msg("Failed to delete expired session")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		if j.purgeHook != nil {
			j.purgeHook(s.SessionID)
		}
		stats.Purged++
	}

	return stats
}
