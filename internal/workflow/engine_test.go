package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/resolve"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// ── Fakes ───────────────────────────────────────────────────

type fakeExtractor struct {
	items []models.ExtractedFoodItem
	err   error
	calls int
}

func (f *fakeExtractor) Extract(ctx context.Context, message string) ([]models.ExtractedFoodItem, error) {
	f.calls++
	return f.items, f.err
}

type fakeAdvisor struct {
	advice *models.NutritionAdvice
	err    error
	tokens []string
}

func (f *fakeAdvisor) Advise(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary) (*models.NutritionAdvice, error) {
	return f.advice, f.err
}

func (f *fakeAdvisor) AdviseStream(ctx context.Context, meals models.DailyMealData, summary models.DailyNutritionSummary, fn func(string) error) (*models.NutritionAdvice, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, tok := range f.tokens {
		if err := fn(tok); err != nil {
			return nil, err
		}
	}
	return f.advice, nil
}

type fakeClassifier struct {
	kind models.OutcomeKind
}

func (f *fakeClassifier) ClassifyMatch(ctx context.Context, query string, candidates []string) (models.OutcomeKind, error) {
	return f.kind, nil
}

type fakeLookup struct {
	profile *models.NutritionProfile
	err     error
}

func (f *fakeLookup) FetchByName(ctx context.Context, name string) (*models.NutritionProfile, error) {
	return f.profile, f.err
}

// ── Fixture ─────────────────────────────────────────────────

type fixture struct {
	store     *store.MemoryStore
	extractor *fakeExtractor
	advisor   *fakeAdvisor
	engine    *Engine
}

func goodAdvice() *models.NutritionAdvice {
	return &models.NutritionAdvice{
		OverallAssessment:     "A balanced day overall.",
		MacroBalanceScore:     7,
		MealDistributionScore: 6,
	}
}

func newFixture(t *testing.T, foods []string, classifier resolve.Classifier, lookup NutritionLookup) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	for _, n := range foods {
		if err := s.UpsertFood(context.Background(), &models.FoodRecord{Name: n, Calories: 100, Proteins: 5}); err != nil {
			t.Fatalf("UpsertFood: %v", err)
		}
	}
	cfg := config.ResolutionConfig{MatchThreshold: 80, ExactMatchBound: 85, MaxOptions: 5}
	ex := &fakeExtractor{}
	ad := &fakeAdvisor{advice: goodAdvice(), tokens: []string{"A balanced ", "day overall."}}
	eng := NewEngine(s, resolve.NewResolver(s, classifier, cfg), ex, ad, lookup)
	return &fixture{store: s, extractor: ex, advisor: ad, engine: eng}
}

// ── Tests ───────────────────────────────────────────────────

func TestProcessInputValidation(t *testing.T) {
	f := newFixture(t, nil, &fakeClassifier{}, nil)

	if _, err := f.engine.ProcessInput(context.Background(), "", "hello"); err == nil {
		t.Error("expected error for empty session id")
	}
	if _, err := f.engine.ProcessInput(context.Background(), "s1", "   "); err == nil {
		t.Error("expected error for empty message")
	}
	// input errors must not create session state
	if _, err := f.store.GetSessionInfo(context.Background(), "s1"); !store.IsNotFound(err) {
		t.Errorf("validation failure created session state: %v", err)
	}
}

func TestExactMatchReachesAdvised(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "chicken porridge", LocalName: "bubur ayam", MealType: models.MealBreakfast, Quantity: 1},
	}

	got, err := f.engine.ProcessInput(context.Background(), "s1", "sarapan bubur ayam")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Stage != models.StageAdvised {
		t.Fatalf("stage = %q, want advised (no clarification detour)", got.Stage)
	}
	if got.Status != models.StatusAdviceProvided {
		t.Errorf("status = %q", got.Status)
	}
	if got.Analysis == nil {
		t.Fatal("missing analysis payload")
	}
	if got.Analysis.Summary.Total.Calories == 0 {
		t.Error("analysis has zero calories")
	}
	if len(got.NextActions) == 0 {
		t.Error("missing next actions")
	}

	// the advised state is durable
	info, err := f.store.GetSessionInfo(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSessionInfo: %v", err)
	}
	if info.Stage != models.StageAdvised || !info.HasAnalysis {
		t.Errorf("persisted summary = %+v", info)
	}
}

func TestFlaggedItemStopsAtClarifying(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "porridge", LocalName: "bubur", NeedsClarification: true},
	}

	got, err := f.engine.ProcessInput(context.Background(), "s1", "makan bubur")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Stage != models.StageClarifying {
		t.Fatalf("stage = %q, want clarifying", got.Stage)
	}
	if got.Status != models.StatusNeedsClarification {
		t.Errorf("status = %q", got.Status)
	}
	if len(got.Clarifications) != 1 {
		t.Fatalf("clarifications = %d, want 1", len(got.Clarifications))
	}
	if got.Analysis != nil {
		t.Error("flagged extraction must not auto-advance to analysis")
	}
}

func TestClarificationAnswerAdvancesToAdvised(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "porridge", LocalName: "bubur", MealType: models.MealBreakfast, NeedsClarification: true},
	}

	ctx := context.Background()
	if _, err := f.engine.ProcessInput(ctx, "s1", "makan bubur"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	got, err := f.engine.ProcessInput(ctx, "s1", "bubur ayam")
	if err != nil {
		t.Fatalf("answer turn: %v", err)
	}
	if got.Stage != models.StageAdvised {
		t.Fatalf("stage = %q, want advised", got.Stage)
	}
	if got.Analysis == nil {
		t.Fatal("missing analysis after clarification answer")
	}
	// the answered item keeps the original meal framing
	if len(got.ExtractedItems) != 1 || got.ExtractedItems[0].MealType != models.MealBreakfast {
		t.Errorf("extracted items = %+v", got.ExtractedItems)
	}
}

func TestAmbiguityDetour(t *testing.T) {
	f := newFixture(t,
		[]string{"Bubur", "Bubur Sagu", "Bubur Tinotuan"},
		&fakeClassifier{kind: models.OutcomeNeedsClarification}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "porridge", LocalName: "bubur"},
	}

	got, err := f.engine.ProcessInput(context.Background(), "s1", "makan bubur")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Stage != models.StageClarifying {
		t.Fatalf("stage = %q, want clarifying via resolution ambiguity", got.Stage)
	}
	if len(got.Clarifications) != 1 {
		t.Fatalf("clarifications = %d, want 1", len(got.Clarifications))
	}
	if len(got.Clarifications[0].Options) != 3 {
		t.Errorf("options = %v, want all 3 candidates", got.Clarifications[0].Options)
	}
}

func TestNoMatchReportedNotDropped(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "xyz-unknown-food"},
	}

	got, err := f.engine.ProcessInput(context.Background(), "s1", "makan xyz-unknown-food")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Status != models.StatusNoFoodsFound {
		t.Errorf("status = %q", got.Status)
	}
	if got.Stage != models.StageInitial {
		t.Errorf("stage = %q, want back to initial", got.Stage)
	}
	if len(got.Unmatched) != 1 {
		t.Fatalf("unmatched = %d, want 1", len(got.Unmatched))
	}
	if got.Unmatched[0].Reason != models.ReasonNoDatabaseMatches {
		t.Errorf("reason = %q", got.Unmatched[0].Reason)
	}
}

func TestDeeperSearchScrapesAndPersists(t *testing.T) {
	f := newFixture(t,
		[]string{"Sate Ayam", "Sate Kambing"},
		&fakeClassifier{kind: models.OutcomeNeedsDeeperSearch},
		&fakeLookup{profile: &models.NutritionProfile{Calories: 250, Protein: 18}})
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "satay", LocalName: "sate"},
	}

	ctx := context.Background()
	got, err := f.engine.ProcessInput(ctx, "s1", "makan sate")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Stage != models.StageAdvised {
		t.Fatalf("stage = %q, want advised via deeper search", got.Stage)
	}

	// the scraped food is now in the database
	food, err := f.store.GetFoodByName(ctx, "sate")
	if err != nil {
		t.Fatalf("scraped food not persisted: %v", err)
	}
	if food.Calories != 250 {
		t.Errorf("persisted calories = %v, want 250", food.Calories)
	}
}

func TestDeeperSearchMissFallsBackToClarification(t *testing.T) {
	f := newFixture(t,
		[]string{"Sate Ayam", "Sate Kambing"},
		&fakeClassifier{kind: models.OutcomeNeedsDeeperSearch},
		&fakeLookup{err: &store.ErrNotFound{Entity: "scraped food", Key: "sate"}})
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "satay", LocalName: "sate"},
	}

	got, err := f.engine.ProcessInput(context.Background(), "s1", "makan sate")
	if err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if got.Stage != models.StageClarifying {
		t.Fatalf("stage = %q, want clarifying fallback", got.Stage)
	}
	if len(got.Clarifications) != 1 || len(got.Clarifications[0].Options) == 0 {
		t.Errorf("clarifications = %+v, want candidate options", got.Clarifications)
	}
}

func TestForgetSessionEvictsLock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{{Name: "bubur ayam"}}

	if _, err := f.engine.ProcessInput(ctx, "s-lock", "sarapan bubur ayam"); err != nil {
		t.Fatalf("ProcessInput: %v", err)
	}
	if _, ok := f.engine.locks["s-lock"]; !ok {
		t.Fatal("expected a lock entry after processing a turn")
	}

	f.engine.ForgetSession("s-lock")
	if _, ok := f.engine.locks["s-lock"]; ok {
		t.Error("lock entry survived ForgetSession")
	}
}

func TestUnknownStageIsAnExplicitError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, &fakeClassifier{}, nil)

	state, err := f.store.GetOrCreateSession(ctx, "s-stage")
	if err != nil {
		t.Fatalf("GetOrCreateSession: %v", err)
	}
	state.Stage = models.Stage("dormant")
	if err := f.store.SaveSession(ctx, state); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	_, err = f.engine.ProcessInput(ctx, "s-stage", "saya makan nasi goreng")
	if err == nil {
		t.Fatal("expected error for unrecognized stage")
	}
	if !strings.Contains(err.Error(), "dormant") {
		t.Errorf("error %q does not name the stage", err)
	}
	// extraction must never have run
	if f.extractor.calls != 0 {
		t.Errorf("extractor called %d times on a broken session", f.extractor.calls)
	}
}

func TestAdvisedFollowUpReturnsCachedAnalysis(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "bubur ayam", LocalName: "bubur ayam", Quantity: 1},
	}

	ctx := context.Background()
	if _, err := f.engine.ProcessInput(ctx, "s1", "makan bubur ayam"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	got, err := f.engine.ProcessInput(ctx, "s1", "how did I do today?")
	if err != nil {
		t.Fatalf("follow-up turn: %v", err)
	}
	if got.Status != models.StatusFollowUp {
		t.Errorf("status = %q, want follow_up", got.Status)
	}
	if got.Stage != models.StageAdvised {
		t.Errorf("stage = %q, want advised", got.Stage)
	}
	if got.Analysis == nil {
		t.Error("follow-up should carry the cached analysis")
	}
}

func TestAdvisedNewTrackingStartsFreshCycle(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam", "Nasi Goreng"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "bubur ayam", LocalName: "bubur ayam", Quantity: 1},
	}

	ctx := context.Background()
	if _, err := f.engine.ProcessInput(ctx, "s1", "makan bubur ayam"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "nasi goreng", LocalName: "nasi goreng", Quantity: 1},
	}
	got, err := f.engine.ProcessInput(ctx, "s1", "makan nasi goreng")
	if err != nil {
		t.Fatalf("new tracking turn: %v", err)
	}
	if got.Status != models.StatusAdviceProvided {
		t.Errorf("status = %q, want fresh advice", got.Status)
	}
	if len(got.ExtractedItems) != 1 || got.ExtractedItems[0].Name != "nasi goreng" {
		t.Errorf("old cycle leaked into new one: %+v", got.ExtractedItems)
	}
}

func TestAdvisorErrorLeavesDurableState(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "bubur ayam", LocalName: "bubur ayam"},
	}
	f.advisor.err = errors.New("capability timeout")

	ctx := context.Background()
	if _, err := f.engine.ProcessInput(ctx, "s1", "makan bubur ayam"); err == nil {
		t.Fatal("expected advisor error to surface")
	}

	// last durable state is RESOLVING, so the next call retries the
	// failed stage from scratch
	info, err := f.store.GetSessionInfo(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSessionInfo: %v", err)
	}
	if info.Stage != models.StageResolving {
		t.Fatalf("persisted stage = %q, want resolving", info.Stage)
	}
	if info.HasAnalysis {
		t.Error("failed advice call persisted an analysis")
	}

	f.advisor.err = nil
	got, err := f.engine.ProcessInput(ctx, "s1", "retry please")
	if err != nil {
		t.Fatalf("retry turn: %v", err)
	}
	if got.Stage != models.StageAdvised {
		t.Errorf("retry stage = %q, want advised", got.Stage)
	}
}

func TestStreamEmitsTokensAndOneTerminalEvent(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.items = []models.ExtractedFoodItem{
		{Name: "bubur ayam", LocalName: "bubur ayam"},
	}

	var events []*models.StreamEvent
	err := f.engine.ProcessInputStream(context.Background(), "s1", "makan bubur ayam", func(ev *models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("ProcessInputStream: %v", err)
	}

	terminals := 0
	var tokens []string
	for i, ev := range events {
		if ev.Done {
			terminals++
			if i != len(events)-1 {
				t.Error("events followed the terminal event")
			}
		} else {
			tokens = append(tokens, ev.Token)
		}
	}
	if terminals != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", terminals)
	}
	last := events[len(events)-1]
	if last.Result == nil || last.Result.Stage != models.StageAdvised {
		t.Errorf("terminal result = %+v", last.Result)
	}
	if strings.Join(tokens, "") != "A balanced day overall." {
		t.Errorf("streamed tokens = %q", strings.Join(tokens, ""))
	}
}

func TestStreamErrorTerminalEvent(t *testing.T) {
	f := newFixture(t, []string{"Bubur Ayam"}, &fakeClassifier{}, nil)
	f.extractor.err = errors.New("extractor down")

	var events []*models.StreamEvent
	err := f.engine.ProcessInputStream(context.Background(), "s1", "makan bubur", func(ev *models.StreamEvent) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream with capability error should still terminate cleanly: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want the lone error terminal", len(events))
	}
	if !events[0].Done || events[0].Error == "" {
		t.Errorf("terminal = %+v, want Done with Error set", events[0])
	}
}
