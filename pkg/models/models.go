// Package models defines the shared domain types for the Peupajoh food
// tracking backend: workflow session state, extracted food mentions,
// fuzzy match results, resolution outcomes, and nutrition data.
package models

import (
	"fmt"
	"strings"
	"time"
)

// ── Workflow Stage ───────────────────────────────────────────

// Stage is the workflow's position in a per-session tracking cycle.
// It is persisted as part of the session state and drives dispatch
// in the workflow engine.
type Stage string

const (
	// StageInitial — no active tracking cycle; the next message runs extraction.
	StageInitial Stage = "initial"
	// StageClarifying — one or more items are waiting for a user answer.
	StageClarifying Stage = "clarifying"
	// StageResolving — items are ready to resolve against the food database.
	StageResolving Stage = "resolving"
	// StageAdvised — a nutrition analysis has been produced.
	StageAdvised Stage = "advised"
)

// ParseStage normalizes a persisted stage string. Unknown values are
// rejected here, at the persistence boundary, rather than deep inside
// the engine.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case StageInitial:
		return StageInitial, nil
	case StageClarifying:
		return StageClarifying, nil
	case StageResolving:
		return StageResolving, nil
	case StageAdvised:
		return StageAdvised, nil
	default:
		return "", fmt.Errorf("unknown session stage: %q", s)
	}
}

// NextActions returns the suggested client actions for a stage.
// A pure function of the stage, nothing else.
func NextActions(stage Stage) []string {
	switch stage {
	case StageInitial:
		return []string{"start_tracking"}
	case StageClarifying:
		return []string{"provide_clarification"}
	case StageResolving:
		return []string{"wait_for_analysis"}
	case StageAdvised:
		return []string{"view_summary", "add_more_food", "reset"}
	default:
		return nil
	}
}

// ── Meal Types ───────────────────────────────────────────────

type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// NormalizeMealType maps free-form meal tags onto the four known meal
// types. Anything unrecognized defaults to snack, matching how
// unlabelled foods are bucketed during aggregation.
func NormalizeMealType(s string) MealType {
	switch mt := MealType(strings.ToLower(strings.TrimSpace(s))); mt {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return mt
	default:
		return MealSnack
	}
}

// MealTypes lists all meal types in day order.
func MealTypes() []MealType {
	return []MealType{MealBreakfast, MealLunch, MealDinner, MealSnack}
}

// ── Extracted Food Items ─────────────────────────────────────

// ExtractedFoodItem is one food mention pulled out of a chat message by
// the extraction capability. Ephemeral except through the session
// state's extracted_items field.
type ExtractedFoodItem struct {
	// Name is the normalized English-friendly food name.
	Name string `json:"name"`
	// LocalName is the Indonesian name, preferred for database lookups.
	LocalName string `json:"local_name,omitempty"`
	// MealType tags which meal the food belongs to, empty if unknown.
	MealType MealType `json:"meal_type,omitempty"`
	// Quantity is the number of portions; defaults to 1.0.
	Quantity float64 `json:"quantity,omitempty"`
	// PortionDescription is the user's own wording ("1 porsi", "half plate").
	PortionDescription string `json:"portion_description,omitempty"`
	// PortionGrams is the normalized portion mass, 0 when unknown.
	PortionGrams float64 `json:"portion_grams,omitempty"`
	// NeedsClarification is set by the extractor when the mention is
	// too vague to resolve without asking the user.
	NeedsClarification bool `json:"needs_clarification,omitempty"`
}

// Query returns the string used for database lookups: the local name
// when present, otherwise the canonical name, trimmed.
func (i ExtractedFoodItem) Query() string {
	if q := strings.TrimSpace(i.LocalName); q != "" {
		return q
	}
	return strings.TrimSpace(i.Name)
}

// EffectiveQuantity treats a missing quantity as one portion.
func (i ExtractedFoodItem) EffectiveQuantity() float64 {
	if i.Quantity <= 0 {
		return 1.0
	}
	return i.Quantity
}

// ── Fuzzy Matching ───────────────────────────────────────────

// MatchCandidate is one database food name returned by the fuzzy
// matcher. Never persisted beyond a single resolution cycle.
type MatchCandidate struct {
	// Name is the database food name.
	Name string `json:"name"`
	// Score is the token-set similarity in [0,100].
	Score int `json:"score"`
	// Index is the candidate's position in the source name list.
	Index int `json:"index"`
}

// ── Resolution Outcomes ──────────────────────────────────────

// OutcomeKind classifies one extracted food mention after fuzzy lookup
// and optional disambiguation.
type OutcomeKind string

const (
	OutcomeExactMatch         OutcomeKind = "exact_match"
	OutcomeNeedsClarification OutcomeKind = "needs_clarification"
	OutcomeNeedsDeeperSearch  OutcomeKind = "needs_deeper_search"
	OutcomeNoMatch            OutcomeKind = "no_match"
)

// No-match reasons recorded on OutcomeNoMatch results.
const (
	ReasonEmptyQuery        = "empty_query"
	ReasonNoDatabaseMatches = "no_database_matches"
	ReasonLowConfidence     = "low_confidence"
)

// ResolutionOutcome is the result of resolving one extracted item.
type ResolutionOutcome struct {
	Kind OutcomeKind `json:"kind"`
	// RequestID correlates a later user answer with this item.
	RequestID string            `json:"request_id"`
	Item      ExtractedFoodItem `json:"item"`
	Query     string            `json:"query"`
	// MatchName and MatchScore are set for exact matches.
	MatchName  string `json:"match_name,omitempty"`
	MatchScore int    `json:"match_score,omitempty"`
	// Candidates carries the ranked top matches in the clarification
	// and deeper-search cases.
	Candidates []MatchCandidate `json:"candidates,omitempty"`
	// Reason is set for no-match outcomes.
	Reason string `json:"reason,omitempty"`
}

// ClarificationItem is one question awaiting a user answer, persisted
// in the session state while the workflow sits in StageClarifying.
type ClarificationItem struct {
	ID      string   `json:"id"`
	Query   string   `json:"query"`
	Options []string `json:"options,omitempty"`
	// Echo-context so the answer can be re-resolved with the
	// original meal framing intact.
	MealType           MealType `json:"meal_type,omitempty"`
	Quantity           float64  `json:"quantity,omitempty"`
	PortionDescription string   `json:"portion_description,omitempty"`
}

// UnmatchedItem records a mention that could not be resolved. Reported
// to the caller rather than silently dropped.
type UnmatchedItem struct {
	RequestID string `json:"request_id"`
	Query     string `json:"query"`
	Reason    string `json:"reason"`
}

// ── Nutrition ────────────────────────────────────────────────

// NutritionProfile holds nutrient values per 100g of food.
// Fiber, sugar, and sodium are optional; nil means unknown.
type NutritionProfile struct {
	Calories      float64  `json:"calories"`
	Protein       float64  `json:"protein"`
	Carbohydrates float64  `json:"carbohydrates"`
	Fat           float64  `json:"fat"`
	Fiber         *float64 `json:"fiber,omitempty"`
	Sugar         *float64 `json:"sugar,omitempty"`
	Sodium        *float64 `json:"sodium,omitempty"`
}

// FoodRecord is a row in the food_items table.
type FoodRecord struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Calories     float64 `json:"calories"`
	Proteins     float64 `json:"proteins"`
	Fat          float64 `json:"fat"`
	Carbohydrate float64 `json:"carbohydrate"`
	Image        string  `json:"image,omitempty"`
}

// Profile converts the flat row into a per-100g nutrition profile.
func (f FoodRecord) Profile() NutritionProfile {
	return NutritionProfile{
		Calories:      f.Calories,
		Protein:       f.Proteins,
		Carbohydrates: f.Carbohydrate,
		Fat:           f.Fat,
	}
}

// ResolvedFood is a food mention that made it through resolution with a
// nutrition profile attached, ready for aggregation.
type ResolvedFood struct {
	Name               string           `json:"name"`
	Query              string           `json:"query"`
	MealType           MealType         `json:"meal_type"`
	Quantity           float64          `json:"quantity"`
	PortionGrams       float64          `json:"portion_grams,omitempty"`
	PortionDescription string           `json:"portion_description,omitempty"`
	MatchScore         int              `json:"match_score,omitempty"`
	Nutrition          NutritionProfile `json:"nutrition_per_100g"`
	// Source is "database" or "scraped".
	Source string `json:"source,omitempty"`
}

// DailyMealData groups resolved foods by meal type — the payload handed
// to the advice-generation capability.
type DailyMealData struct {
	Breakfast []ResolvedFood `json:"breakfast"`
	Lunch     []ResolvedFood `json:"lunch"`
	Dinner    []ResolvedFood `json:"dinner"`
	Snack     []ResolvedFood `json:"snack"`
}

// Add places a food into its meal bucket, defaulting to snack.
func (d *DailyMealData) Add(f ResolvedFood) {
	switch f.MealType {
	case MealBreakfast:
		d.Breakfast = append(d.Breakfast, f)
	case MealLunch:
		d.Lunch = append(d.Lunch, f)
	case MealDinner:
		d.Dinner = append(d.Dinner, f)
	default:
		d.Snack = append(d.Snack, f)
	}
}

// All returns every food across the meal buckets.
func (d *DailyMealData) All() []ResolvedFood {
	out := make([]ResolvedFood, 0, len(d.Breakfast)+len(d.Lunch)+len(d.Dinner)+len(d.Snack))
	out = append(out, d.Breakfast...)
	out = append(out, d.Lunch...)
	out = append(out, d.Dinner...)
	out = append(out, d.Snack...)
	return out
}

// NutrientTotals is a summed nutrient block. Unknown optional
// nutrients contribute zero.
type NutrientTotals struct {
	Calories      float64 `json:"calories"`
	Protein       float64 `json:"protein"`
	Carbohydrates float64 `json:"carbohydrates"`
	Fat           float64 `json:"fat"`
	Fiber         float64 `json:"fiber"`
	Sugar         float64 `json:"sugar"`
	Sodium        float64 `json:"sodium"`
}

// DailyNutritionSummary is the aggregator's output: daily totals,
// per-meal breakdown, and the portion assumptions made along the way.
type DailyNutritionSummary struct {
	Total              NutrientTotals              `json:"total"`
	ByMeal             map[MealType]NutrientTotals `json:"by_meal"`
	PortionAssumptions []string                    `json:"portion_assumptions,omitempty"`
}

// NutritionAdvice is the advisor capability's qualitative output.
type NutritionAdvice struct {
	OverallAssessment   string   `json:"overall_assessment"`
	Strengths           []string `json:"strengths,omitempty"`
	AreasForImprovement []string `json:"areas_for_improvement,omitempty"`
	Recommendations     []string `json:"recommendations,omitempty"`
	// 1-10 scores.
	MacroBalanceScore     int `json:"macro_balance_score"`
	MealDistributionScore int `json:"meal_distribution_score"`
}

// NutritionAnalysis is the complete analysis stored on an advised session.
type NutritionAnalysis struct {
	Summary DailyNutritionSummary `json:"summary"`
	Advice  NutritionAdvice       `json:"advice"`
}

// ── Session State ────────────────────────────────────────────

// SessionState is the persisted workflow state for one conversation.
// Exactly one exists per session id; last write wins on save.
type SessionState struct {
	SessionID             string              `json:"session_id"`
	Stage                 Stage               `json:"stage"`
	RawMessage            string              `json:"raw_message,omitempty"`
	ExtractedItems        []ExtractedFoodItem `json:"extracted_items,omitempty"`
	PendingClarifications []ClarificationItem `json:"pending_clarifications,omitempty"`
	ClarificationAnswers  map[string]string   `json:"clarification_answers,omitempty"`
	AnalysisResult        *NutritionAnalysis  `json:"analysis_result,omitempty"`
	CreatedAt             time.Time           `json:"created_at"`
	UpdatedAt             time.Time           `json:"updated_at"`
}

// NewSessionState creates a fresh INITIAL-stage state.
func NewSessionState(sessionID string) *SessionState {
	now := time.Now().UTC()
	return &SessionState{
		SessionID:            sessionID,
		Stage:                StageInitial,
		ClarificationAnswers: make(map[string]string),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// ResetCycle clears everything except identity and creation time,
// returning the session to the start of a tracking cycle.
func (s *SessionState) ResetCycle() {
	s.Stage = StageInitial
	s.RawMessage = ""
	s.ExtractedItems = nil
	s.PendingClarifications = nil
	s.ClarificationAnswers = make(map[string]string)
	s.AnalysisResult = nil
}

// Summary projects the state for status display and listing.
func (s *SessionState) Summary() SessionSummary {
	return SessionSummary{
		SessionID:             s.SessionID,
		Stage:                 s.Stage,
		ExtractedCount:        len(s.ExtractedItems),
		PendingClarifications: len(s.PendingClarifications),
		HasAnalysis:           s.AnalysisResult != nil,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

// SessionSummary is the lightweight projection returned by list/info calls.
type SessionSummary struct {
	SessionID             string    `json:"session_id"`
	Stage                 Stage     `json:"stage"`
	ExtractedCount        int       `json:"extracted_count"`
	PendingClarifications int       `json:"pending_clarifications"`
	HasAnalysis           bool      `json:"has_analysis"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// ── Workflow Results ─────────────────────────────────────────

// Result statuses returned by the workflow engine.
const (
	StatusNeedsClarification = "needs_clarification"
	StatusAdviceProvided     = "advice_provided"
	StatusFollowUp           = "follow_up"
	StatusNoFoodsFound       = "no_foods_found"
)

// WorkflowResult is what one processed chat turn returns: the resulting
// stage, a human-readable response, and a stage-dependent payload.
type WorkflowResult struct {
	SessionID      string              `json:"session_id"`
	Stage          Stage               `json:"stage"`
	Status         string              `json:"status"`
	Message        string              `json:"message"`
	ExtractedItems []ExtractedFoodItem `json:"extracted_items,omitempty"`
	Clarifications []ClarificationItem `json:"clarifications,omitempty"`
	Analysis       *NutritionAnalysis  `json:"analysis,omitempty"`
	Unmatched      []UnmatchedItem     `json:"unmatched,omitempty"`
	NextActions    []string            `json:"next_actions"`
}

// StreamEvent is one increment of a streamed chat turn. Token events
// carry advice text as it is generated; exactly one terminal event
// (Done=true) closes every stream, carrying either the final result or
// an error.
type StreamEvent struct {
	Token  string          `json:"token,omitempty"`
	Result *WorkflowResult `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Done   bool            `json:"done"`
}
