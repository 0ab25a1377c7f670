// Package store provides the storage interface and implementations for
// the Peupajoh backend: durable session state and the food_items table.
package store

import (
	"context"
	"errors"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// Store is the primary storage interface. Handler and workflow code
// depend on this interface, making it easy to swap between in-memory
// (tests) and SQLite (production) implementations.
type Store interface {
	SessionStore
	FoodStore

	// Ping checks if the database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Session Store ───────────────────────────────────────────

// SessionStore persists one SessionState document per session id. The
// state blob is serialized JSON; a blob that fails to deserialize is
// logged and treated as absent so the caller can re-initialize.
type SessionStore interface {
	// GetOrCreateSession returns the persisted state for id, creating
	// and persisting a fresh INITIAL-stage state if none exists.
	// Atomic with respect to concurrent calls for the same id.
	GetOrCreateSession(ctx context.Context, id string) (*models.SessionState, error)

	// SaveSession upserts the state and refreshes updated_at.
	SaveSession(ctx context.Context, state *models.SessionState) error

	// DeleteSession removes the record entirely. Idempotent.
	DeleteSession(ctx context.Context, id string) error

	// ResetSession is delete followed by get-or-create.
	ResetSession(ctx context.Context, id string) (*models.SessionState, error)

	// ListSessions returns all known sessions, most recently updated first.
	ListSessions(ctx context.Context) ([]models.SessionSummary, error)

	// GetSessionInfo returns the summary projection for one session,
	// or *ErrNotFound if the session does not exist.
	GetSessionInfo(ctx context.Context, id string) (*models.SessionSummary, error)
}

// ── Food Store ──────────────────────────────────────────────

// FoodStore exposes the read-only food table plus the upsert used by
// the seeder and by scraped deeper-search results.
type FoodStore interface {
	// ListFoodNames returns every food name, in table order. This is
	// the candidate universe for fuzzy matching and may be cached by
	// the caller for the duration of a resolution cycle.
	ListFoodNames(ctx context.Context) ([]string, error)

	// GetFoodByName fetches a food row by exact name,
	// or *ErrNotFound if absent.
	GetFoodByName(ctx context.Context, name string) (*models.FoodRecord, error)

	// UpsertFood inserts or replaces a food row keyed by name.
	UpsertFood(ctx context.Context, food *models.FoodRecord) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
