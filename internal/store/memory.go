package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and local development.
// Session state is kept as serialized JSON so it round-trips through the
// same path the SQLite store uses.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memSession
	foods    []models.FoodRecord
	byName   map[string]int
	nextID   int64
}

type memSession struct {
	blob      []byte
	createdAt time.Time
	updatedAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memSession),
		byName:   make(map[string]int),
		nextID:   1,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                   { return nil }

// ── Sessions ────────────────────────────────────────────────

func (s *MemoryStore) GetOrCreateSession(ctx context.Context, id string) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.decode(id)
	if err != nil {
		return nil, err
	}
	if state != nil {
		return state, nil
	}
	state = models.NewSessionState(id)
	if err := s.saveLocked(state); err != nil {
		return nil, err
	}
	return state, nil
}

// decode returns nil (no error) when the session is absent or its blob
// is corrupt, and an error when the blob parses but carries a stage the
// workflow does not recognize.
func (s *MemoryStore) decode(id string) (*models.SessionState, error) {
	rec, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	var state models.SessionState
	if err := json.Unmarshal(rec.blob, &state); err != nil {
		return nil, nil
	}
	if _, err := models.ParseStage(string(state.Stage)); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	// omitempty drops the empty answers map from the blob
	if state.ClarificationAnswers == nil {
		state.ClarificationAnswers = make(map[string]string)
	}
	state.SessionID = id
	state.CreatedAt = rec.createdAt
	state.UpdatedAt = rec.updatedAt
	return &state, nil
}

func (s *MemoryStore) saveLocked(state *models.SessionState) error {
	state.UpdatedAt = time.Now().UTC()
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.sessions[state.SessionID] = &memSession{
		blob:      blob,
		createdAt: state.CreatedAt,
		updatedAt: state.UpdatedAt,
	}
	return nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, state *models.SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(state)
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemoryStore) ResetSession(ctx context.Context, id string) (*models.SessionState, error) {
	if err := s.DeleteSession(ctx, id); err != nil {
		return nil, err
	}
	return s.GetOrCreateSession(ctx, id)
}

func (s *MemoryStore) ListSessions(ctx context.Context) ([]models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := []models.SessionSummary{}
	for id := range s.sessions {
		state, err := s.decode(id)
		if err != nil || state == nil {
			continue
		}
		summaries = append(summaries, state.Summary())
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *MemoryStore) GetSessionInfo(ctx context.Context, id string) (*models.SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, err := s.decode(id)
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

func (s *MemoryStore) ListFoodNames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.foods))
	for i, f := range s.foods {
		names[i] = f.Name
	}
	return names, nil
}

func (s *MemoryStore) GetFoodByName(ctx context.Context, name string) (*models.FoodRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byName[name]
	if !ok {
		return nil, &ErrNotFound{Entity: "food", Key: name}
	}
	f := s.foods[idx]
	return &f, nil
}

func (s *MemoryStore) UpsertFood(ctx context.Context, food *models.FoodRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.byName[food.Name]; ok {
		id := s.foods[idx].ID
		s.foods[idx] = *food
		s.foods[idx].ID = id
		return nil
	}
	rec := *food
	rec.ID = s.nextID
	s.nextID++
	s.byName[rec.Name] = len(s.foods)
	s.foods = append(s.foods, rec)
	return nil
}
