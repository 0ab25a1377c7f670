package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// SQLiteStore is the production Store backed by a single SQLite file.
// Session state is stored as an opaque JSON blob alongside created_at
// and updated_at columns, which stay authoritative for ordering.
type SQLiteStore struct {
	db *sql.DB

	// serializes get-or-create for the same database so two concurrent
	// first-requests for a session cannot race past each other
	createMu sync.Mutex
}

// NewSQLiteStore opens (creating if necessary) the database at path and
// ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc/sqlite is a single-writer engine; one connection avoids
	// SQLITE_BUSY under concurrent session writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("📦 SQLite store ready")
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		state      TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at DESC);

	CREATE TABLE IF NOT EXISTS food_items (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		name         TEXT NOT NULL UNIQUE,
		calories     REAL NOT NULL DEFAULT 0,
		proteins     REAL NOT NULL DEFAULT 0,
		fat          REAL NOT NULL DEFAULT 0,
		carbohydrate REAL NOT NULL DEFAULT 0,
		image        TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_food_items_name ON food_items(name);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

// Ping checks database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ── Sessions ────────────────────────────────────────────────

func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, id string) (*models.SessionState, error) {
	s.createMu.Lock()
	defer s.createMu.Unlock()

	state, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}

	state = models.NewSessionState(id)
	if err := s.SaveSession(ctx, state); err != nil {
		return nil, err
	}
	return state, nil
}

// loadSession returns nil (no error) when the session is absent or its
// blob cannot be deserialized. A corrupt blob is logged and discarded so
// the caller re-initializes rather than failing the request. A blob that
// parses but carries an unrecognized stage is a hard error: the data is
// intact and must not be silently replaced.
func (s *SQLiteStore) loadSession(ctx context.Context, id string) (*models.SessionState, error) {
	var (
		blob               string
		createdAt, updated time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT state, created_at, updated_at FROM sessions WHERE session_id = ?`, id,
	).Scan(&blob, &createdAt, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var state models.SessionState
	if err := json.Unmarshal([]byte(blob), &state); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("corrupt session state, discarding")
		return nil, nil
	}
	if _, err := models.ParseStage(string(state.Stage)); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	// omitempty drops the empty answers map from the blob
	if state.ClarificationAnswers == nil {
		state.ClarificationAnswers = make(map[string]string)
	}

	// column timestamps are authoritative
	state.SessionID = id
	state.CreatedAt = createdAt
	state.UpdatedAt = updated
	return &state, nil
}

func (s *SQLiteStore) SaveSession(ctx context.Context, state *models.SessionState) error {
	state.UpdatedAt = time.Now().UTC()

	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", state.SessionID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		state.SessionID, string(blob), state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save session %s: %w", state.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) ResetSession(ctx context.Context, id string) (*models.SessionState, error) {
	if err := s.DeleteSession(ctx, id); err != nil {
		return nil, err
	}
	return s.GetOrCreateSession(ctx, id)
}

func (s *SQLiteStore) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, state, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	summaries := []models.SessionSummary{}
	for rows.Next() {
		var (
			id, blob           string
			createdAt, updated time.Time
		)
		if err := rows.Scan(&id, &blob, &createdAt, &updated); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		var state models.SessionState
		if err := json.Unmarshal([]byte(blob), &state); err != nil {
			log.Warn().Str("session_id", id).Err(err).Msg("corrupt session state, skipping in list")
			continue
		}
		state.SessionID = id
		state.CreatedAt = createdAt
		state.UpdatedAt = updated
		summaries = append(summaries, state.Summary())
	}
	return summaries, rows.Err()
}

func (s *SQLiteStore) GetSessionInfo(ctx context.Context, id string) (*models.SessionSummary, error) {
	state, err := s.loadSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, &ErrNotFound{Entity: "session", Key: id}
	}
	summary := state.Summary()
	return &summary, nil
}

// ── Foods ───────────────────────────────────────────────────

func (s *SQLiteStore) ListFoodNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM food_items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list food names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan food name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) GetFoodByName(ctx context.Context, name string) (*models.FoodRecord, error) {
	var f models.FoodRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, calories, proteins, fat, carbohydrate, image FROM food_items WHERE name = ?`, name,
	).Scan(&f.ID, &f.Name, &f.Calories, &f.Proteins, &f.Fat, &f.Carbohydrate, &f.Image)
	if err == sql.ErrNoRows {
		return nil, &ErrNotFound{Entity: "food", Key: name}
	}
	if err != nil {
		return nil, fmt.Errorf("get food %q: %w", name, err)
	}
	return &f, nil
}

func (s *SQLiteStore) UpsertFood(ctx context.Context, food *models.FoodRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO food_items (name, calories, proteins, fat, carbohydrate, image)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			calories = excluded.calories,
			proteins = excluded.proteins,
			fat = excluded.fat,
			carbohydrate = excluded.carbohydrate,
			image = excluded.image`,
		food.Name, food.Calories, food.Proteins, food.Fat, food.Carbohydrate, food.Image,
	)
	if err != nil {
		return fmt.Errorf("upsert food %q: %w", food.Name, err)
	}
	return nil
}
