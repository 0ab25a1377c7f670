// Package workflow implements the session state machine driving a food
// tracking conversation: extraction, clarification, resolution against
// the food database, and nutrition analysis.
package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/nutrition"
	"github.com/peupajoh/peupajoh/internal/resolve"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// Extractor pulls food mentions out of a chat message.
type Extractor interface {
	Extract(ctx context.Context, message string) ([]models.ExtractedFoodItem, error)
}

// Advisor generates qualitative advice for a day's aggregated meals.
// AdviseStream delivers raw advice tokens through fn as they arrive.
type Advisor interface {
	Advise(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary) (*models.NutritionAdvice, error)
	AdviseStream(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary, fn func(token string) error) (*models.NutritionAdvice, error)
}

// NutritionLookup fetches nutrition facts for foods missing from the
// database, used on deeper-search outcomes.
type NutritionLookup interface {
	FetchByName(ctx context.Context, name string) (*models.NutritionProfile, error)
}

// Engine is the workflow controller. One engine serves all sessions;
// turns for the same session are serialized by an advisory lock.
type Engine struct {
	store     store.Store
	resolver  *resolve.Resolver
	extractor Extractor
	advisor   Advisor
	lookup    NutritionLookup // nil disables deeper search

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine wires the engine. lookup may be nil, in which case
// deeper-search outcomes fall back to clarification questions.
func NewEngine(s store.Store, r *resolve.Resolver, e Extractor, a Advisor, lookup NutritionLookup) *Engine {
	return &Engine{
		store:     s,
		resolver:  r,
		extractor: e,
		advisor:   a,
		lookup:    lookup,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (e *Engine) sessionLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// ForgetSession drops the advisory lock for a deleted session so the
// lock map does not grow with every session id ever seen. Callers must
// remove the session from the store first.
func (e *Engine) ForgetSession(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.locks, id)
}

// ProcessInput runs one chat turn to completion and returns the result.
func (e *Engine) ProcessInput(ctx context.Context, sessionID, message string) (*models.WorkflowResult, error) {
	return e.process(ctx, sessionID, message, nil)
}

// ProcessInputStream runs one chat turn, forwarding advice tokens and
// then exactly one terminal event through fn. The terminal event
// carries either the full result or an error; no events follow it.
func (e *Engine) ProcessInputStream(ctx context.Context, sessionID, message string, fn func(*models.StreamEvent) error) error {
	result, err := e.process(ctx, sessionID, message, func(token string) error {
		return fn(&models.StreamEvent{Token: token})
	})
	if err != nil {
		return fn(&models.StreamEvent{Error: err.Error(), Done: true})
	}
	return fn(&models.StreamEvent{Result: result, Done: true})
}

// process dispatches on the session's current stage. tokenFn is non-nil
// only on the streaming path and only the advice generation uses it.
func (e *Engine) process(ctx context.Context, sessionID, message string, tokenFn func(string) error) (*models.WorkflowResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	message = strings.TrimSpace(message)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if message == "" {
		return nil, fmt.Errorf("message is required")
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state, err := e.store.GetOrCreateSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Str("stage", string(state.Stage)).
		Msg("💬 processing chat turn")

	switch state.Stage {
	case models.StageInitial:
		return e.handleInitial(ctx, state, message, tokenFn)
	case models.StageClarifying:
		return e.handleClarifying(ctx, state, message, tokenFn)
	case models.StageResolving:
		// a turn interrupted between resolution and advice resumes here
		return e.runResolving(ctx, state, tokenFn)
	case models.StageAdvised:
		return e.handleAdvised(ctx, state, message, tokenFn)
	default:
		return nil, fmt.Errorf("unknown session stage: %q", state.Stage)
	}
}

// ── INITIAL ─────────────────────────────────────────────────

func (e *Engine) handleInitial(ctx context.Context, state *models.SessionState, message string, tokenFn func(string) error) (*models.WorkflowResult, error) {
	items, err := e.extractor.Extract(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("extract foods: %w", err)
	}

	if len(items) == 0 {
		// nothing extracted: stay INITIAL, record the attempt
		state.RawMessage = message
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		return e.result(state, models.StatusNoFoodsFound,
			"I couldn't find any foods in that message. Tell me what you ate, for example \"sarapan bubur ayam\"."), nil
	}

	state.RawMessage = message

	var clear, vague []models.ExtractedFoodItem
	for _, item := range items {
		if item.NeedsClarification {
			vague = append(vague, item)
		} else {
			clear = append(clear, item)
		}
	}
	state.ExtractedItems = clear

	if len(vague) > 0 {
		for _, item := range vague {
			state.PendingClarifications = append(state.PendingClarifications, clarificationFor(item, nil))
		}
		state.Stage = models.StageClarifying
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		r := e.result(state, models.StatusNeedsClarification, clarifyMessage(state.PendingClarifications))
		return r, nil
	}

	state.Stage = models.StageResolving
	if err := e.store.SaveSession(ctx, state); err != nil {
		return nil, err
	}
	return e.runResolving(ctx, state, tokenFn)
}

// ── CLARIFYING ──────────────────────────────────────────────

func (e *Engine) handleClarifying(ctx context.Context, state *models.SessionState, message string, tokenFn func(string) error) (*models.WorkflowResult, error) {
	if len(state.PendingClarifications) == 0 {
		// nothing pending: fall through to resolution
		state.Stage = models.StageResolving
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		return e.runResolving(ctx, state, tokenFn)
	}

	// the answer settles the first pending question; its text becomes
	// the lookup query, keeping the original meal framing
	pending := state.PendingClarifications[0]
	state.ClarificationAnswers[pending.ID] = message
	state.ClarificationAnswers["latest"] = message
	state.PendingClarifications = state.PendingClarifications[1:]

	state.ExtractedItems = append(state.ExtractedItems, models.ExtractedFoodItem{
		Name:               message,
		LocalName:          message,
		MealType:           pending.MealType,
		Quantity:           pending.Quantity,
		PortionDescription: pending.PortionDescription,
	})

	if len(state.PendingClarifications) > 0 {
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		return e.result(state, models.StatusNeedsClarification, clarifyMessage(state.PendingClarifications)), nil
	}

	state.Stage = models.StageResolving
	if err := e.store.SaveSession(ctx, state); err != nil {
		return nil, err
	}
	return e.runResolving(ctx, state, tokenFn)
}

// ── RESOLVING ───────────────────────────────────────────────

func (e *Engine) runResolving(ctx context.Context, state *models.SessionState, tokenFn func(string) error) (*models.WorkflowResult, error) {
	outcomes, err := e.resolver.ResolveAll(ctx, state.ExtractedItems)
	if err != nil {
		return nil, fmt.Errorf("resolve foods: %w", err)
	}

	var (
		resolved  []models.ResolvedFood
		kept      []models.ExtractedFoodItem
		pending   []models.ClarificationItem
		unmatched []models.UnmatchedItem
	)

	for _, o := range outcomes {
		switch o.Kind {
		case models.OutcomeExactMatch:
			food, err := e.store.GetFoodByName(ctx, o.MatchName)
			if err != nil {
				return nil, fmt.Errorf("load food %q: %w", o.MatchName, err)
			}
			resolved = append(resolved, resolvedFrom(o, food.Profile(), "database"))
			kept = append(kept, o.Item)

		case models.OutcomeNeedsDeeperSearch:
			rf, ok := e.deeperSearch(ctx, o)
			if ok {
				resolved = append(resolved, rf)
				kept = append(kept, o.Item)
			} else {
				pending = append(pending, clarificationFor(o.Item, o.Candidates))
			}

		case models.OutcomeNeedsClarification:
			pending = append(pending, clarificationFor(o.Item, o.Candidates))

		case models.OutcomeNoMatch:
			unmatched = append(unmatched, models.UnmatchedItem{
				RequestID: o.RequestID,
				Query:     o.Query,
				Reason:    o.Reason,
			})
		}
	}

	if len(pending) > 0 {
		// ambiguity detour: cleanly resolvable items stay extracted,
		// ambiguous ones move into the pending questions
		state.ExtractedItems = kept
		state.PendingClarifications = pending
		state.Stage = models.StageClarifying
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		r := e.result(state, models.StatusNeedsClarification, clarifyMessage(pending))
		r.Unmatched = unmatched
		return r, nil
	}

	if len(resolved) == 0 {
		// everything fell through: back to the start, report what missed
		state.ExtractedItems = nil
		state.Stage = models.StageInitial
		if err := e.store.SaveSession(ctx, state); err != nil {
			return nil, err
		}
		r := e.result(state, models.StatusNoFoodsFound,
			"None of those foods matched the database. Try different names or describe them another way.")
		r.Unmatched = unmatched
		return r, nil
	}

	var meals models.DailyMealData
	for _, f := range resolved {
		meals.Add(f)
	}
	summary := nutrition.Aggregate(meals.All())

	var advice *models.NutritionAdvice
	if tokenFn != nil {
		advice, err = e.advisor.AdviseStream(ctx, meals, summary, tokenFn)
	} else {
		advice, err = e.advisor.Advise(ctx, meals, summary)
	}
	if err != nil {
		// state stays at the last durable point (RESOLVING); the next
		// call retries resolution and advice from scratch
		return nil, fmt.Errorf("generate advice: %w", err)
	}

	state.ExtractedItems = kept
	state.AnalysisResult = &models.NutritionAnalysis{Summary: summary, Advice: *advice}
	state.Stage = models.StageAdvised
	if err := e.store.SaveSession(ctx, state); err != nil {
		return nil, err
	}

	r := e.result(state, models.StatusAdviceProvided, advice.OverallAssessment)
	r.Unmatched = unmatched
	return r, nil
}

// deeperSearch tries the external nutrition lookup for a food the
// classifier judged real but absent from the database. Successful
// lookups are written back to the food table and refresh the matcher's
// candidate universe.
func (e *Engine) deeperSearch(ctx context.Context, o *models.ResolutionOutcome) (models.ResolvedFood, bool) {
	if e.lookup == nil {
		return models.ResolvedFood{}, false
	}

	profile, err := e.lookup.FetchByName(ctx, o.Query)
	if err != nil {
		log.Warn().Str("query", o.Query).Err(err).Msg("deeper search failed, asking the user instead")
		return models.ResolvedFood{}, false
	}

	record := &models.FoodRecord{
		Name:         o.Query,
		Calories:     profile.Calories,
		Proteins:     profile.Protein,
		Fat:          profile.Fat,
		Carbohydrate: profile.Carbohydrates,
	}
	if err := e.store.UpsertFood(ctx, record); err != nil {
		log.Warn().Str("name", o.Query).Err(err).Msg("could not persist scraped food")
	} else if err := e.resolver.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("could not refresh candidate universe")
	}

	return resolvedFrom(o, *profile, "scraped"), true
}

// ── ADVISED ─────────────────────────────────────────────────

// Indicators that an advised-stage message starts a new tracking cycle
// rather than following up on the existing analysis.
var newTrackingKeywords = []string{
	"makan", "sarapan", "lunch", "dinner", "snack",
	"ate", "eating", "food", "minum",
}

func isNewTracking(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range newTrackingKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func (e *Engine) handleAdvised(ctx context.Context, state *models.SessionState, message string, tokenFn func(string) error) (*models.WorkflowResult, error) {
	if isNewTracking(message) {
		state.ResetCycle()
		return e.handleInitial(ctx, state, message, tokenFn)
	}

	r := e.result(state, models.StatusFollowUp,
		"Here is your existing analysis. Mention new foods to start another tracking cycle, or reset the session.")
	return r, nil
}

// ── Helpers ─────────────────────────────────────────────────

// result builds a WorkflowResult from the state's current shape.
func (e *Engine) result(state *models.SessionState, status, message string) *models.WorkflowResult {
	return &models.WorkflowResult{
		SessionID:      state.SessionID,
		Stage:          state.Stage,
		Status:         status,
		Message:        message,
		ExtractedItems: state.ExtractedItems,
		Clarifications: state.PendingClarifications,
		Analysis:       state.AnalysisResult,
		NextActions:    models.NextActions(state.Stage),
	}
}

// resolvedFrom pairs a resolution outcome with a per-100g profile,
// carrying the original mention's meal framing through to aggregation.
func resolvedFrom(o *models.ResolutionOutcome, profile models.NutritionProfile, source string) models.ResolvedFood {
	name := o.MatchName
	if name == "" {
		name = o.Query
	}
	return models.ResolvedFood{
		Name:               name,
		Query:              o.Query,
		MealType:           o.Item.MealType,
		Quantity:           o.Item.EffectiveQuantity(),
		PortionGrams:       o.Item.PortionGrams,
		PortionDescription: o.Item.PortionDescription,
		MatchScore:         o.MatchScore,
		Nutrition:          profile,
		Source:             source,
	}
}

func clarificationFor(item models.ExtractedFoodItem, candidates []models.MatchCandidate) models.ClarificationItem {
	options := make([]string, len(candidates))
	for i, c := range candidates {
		options[i] = c.Name
	}
	return models.ClarificationItem{
		ID:                 newClarificationID(),
		Query:              item.Query(),
		Options:            options,
		MealType:           item.MealType,
		Quantity:           item.EffectiveQuantity(),
		PortionDescription: item.PortionDescription,
	}
}

func newClarificationID() string {
	return uuid.New().String()
}

func clarifyMessage(pending []models.ClarificationItem) string {
	first := pending[0]
	if len(first.Options) > 0 {
		return fmt.Sprintf("Which one did you mean by %q? Options: %s.",
			first.Query, strings.Join(first.Options, ", "))
	}
	return fmt.Sprintf("Can you be more specific about %q?", first.Query)
}
