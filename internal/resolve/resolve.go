// Package resolve turns extracted food mentions into resolution
// outcomes: an exact database match, a clarification question, a
// deeper-lookup request, or a no-match with a reason.
package resolve

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/match"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// Classifier decides what to do with multiple plausible fuzzy matches:
// accept the top one, ask the user, or go look the food up elsewhere.
type Classifier interface {
	ClassifyMatch(ctx context.Context, query string, candidates []string) (models.OutcomeKind, error)
}

// Resolver runs the resolution pipeline for one mention at a time. The
// candidate name universe is read from the food store once and cached;
// Refresh reloads it after seeding or scraping adds rows.
type Resolver struct {
	foods      store.FoodStore
	classifier Classifier
	cfg        config.ResolutionConfig

	mu    sync.RWMutex
	names []string
}

// NewResolver creates a Resolver. The candidate universe is loaded
// lazily on first use.
func NewResolver(foods store.FoodStore, classifier Classifier, cfg config.ResolutionConfig) *Resolver {
	return &Resolver{foods: foods, classifier: classifier, cfg: cfg}
}

// Refresh reloads the candidate name universe from the food store.
func (r *Resolver) Refresh(ctx context.Context) error {
	names, err := r.foods.ListFoodNames(ctx)
	if err != nil {
		return fmt.Errorf("load food names: %w", err)
	}
	r.mu.Lock()
	r.names = names
	r.mu.Unlock()
	return nil
}

func (r *Resolver) universe(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	names := r.names
	r.mu.RUnlock()
	if names != nil {
		return names, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.names, nil
}

// Resolve classifies one extracted mention. The outcome always carries
// a fresh request id so clarifications can be answered by reference.
func (r *Resolver) Resolve(ctx context.Context, item models.ExtractedFoodItem) (*models.ResolutionOutcome, error) {
	outcome := &models.ResolutionOutcome{
		RequestID: uuid.New().String(),
		Item:      item,
		Query:     item.Query(),
	}

	if outcome.Query == "" {
		outcome.Kind = models.OutcomeNoMatch
		outcome.Reason = models.ReasonEmptyQuery
		return outcome, nil
	}

	names, err := r.universe(ctx)
	if err != nil {
		return nil, err
	}

	candidates := match.Search(outcome.Query, names, r.cfg.MatchThreshold)
	switch {
	case len(candidates) == 0:
		outcome.Kind = models.OutcomeNoMatch
		outcome.Reason = models.ReasonNoDatabaseMatches

	case len(candidates) == 1 && candidates[0].Score >= r.cfg.ExactMatchBound:
		outcome.Kind = models.OutcomeExactMatch
		outcome.MatchName = candidates[0].Name
		outcome.MatchScore = candidates[0].Score

	case len(candidates) == 1:
		outcome.Kind = models.OutcomeNoMatch
		outcome.Reason = models.ReasonLowConfidence

	default:
		top := candidates
		if len(top) > r.cfg.MaxOptions {
			top = top[:r.cfg.MaxOptions]
		}
		names := make([]string, len(top))
		for i, c := range top {
			names[i] = c.Name
		}

		kind, err := r.classifier.ClassifyMatch(ctx, outcome.Query, names)
		if err != nil {
			return nil, fmt.Errorf("classify %q: %w", outcome.Query, err)
		}
		outcome.Candidates = top
		switch kind {
		case models.OutcomeExactMatch:
			outcome.Kind = models.OutcomeExactMatch
			outcome.MatchName = top[0].Name
			outcome.MatchScore = top[0].Score
		case models.OutcomeNeedsDeeperSearch:
			outcome.Kind = models.OutcomeNeedsDeeperSearch
		default:
			outcome.Kind = models.OutcomeNeedsClarification
		}
	}

	log.Debug().
		Str("query", outcome.Query).
		Str("kind", string(outcome.Kind)).
		Str("reason", outcome.Reason).
		Int("candidates", len(outcome.Candidates)).
		Msg("resolved food mention")
	return outcome, nil
}

// ResolveAll resolves items independently and concurrently. Results
// keep input order. The first error cancels nothing — each item is
// attempted — but any error fails the batch.
func (r *Resolver) ResolveAll(ctx context.Context, items []models.ExtractedFoodItem) ([]*models.ResolutionOutcome, error) {
	outcomes := make([]*models.ResolutionOutcome, len(items))
	errs := make([]error, len(items))

	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item models.ExtractedFoodItem) {
			defer wg.Done()
			outcomes[i], errs[i] = r.Resolve(ctx, item)
		}(i, item)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return outcomes, nil
}
