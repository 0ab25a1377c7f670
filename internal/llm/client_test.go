package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// newTestClient returns a Client pointed at a fake chat-completions
// endpoint that replies with content.
func newTestClient(t *testing.T, content string) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"id": "test",
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(config.LLMConfig{Endpoint: srv.URL, Model: "test-model", TimeoutSecs: 5})
}

func TestExtract(t *testing.T) {
	c := newTestClient(t, `[
		{"name": "chicken porridge", "local_name": "bubur ayam", "meal_type": "breakfast", "quantity": 1},
		{"name": "iced tea", "local_name": "es teh", "quantity": 1, "needs_clarification": false}
	]`)

	items, err := c.Extract(context.Background(), "sarapan bubur ayam sama es teh")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].LocalName != "bubur ayam" {
		t.Errorf("local name = %q", items[0].LocalName)
	}
	if items[0].MealType != models.MealBreakfast {
		t.Errorf("meal type = %q", items[0].MealType)
	}
}

func TestExtractStripsCodeFence(t *testing.T) {
	c := newTestClient(t, "```json\n[{\"name\": \"nasi goreng\"}]\n```")

	items, err := c.Extract(context.Background(), "nasi goreng")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(items) != 1 || items[0].Name != "nasi goreng" {
		t.Errorf("items = %+v", items)
	}
}

func TestExtractMalformedResponse(t *testing.T) {
	c := newTestClient(t, "I could not find any foods, sorry!")
	if _, err := c.Extract(context.Background(), "hello"); err == nil {
		t.Fatal("expected parse error for non-JSON response")
	}
}

func TestClassifyMatch(t *testing.T) {
	cases := []struct {
		reply string
		want  models.OutcomeKind
	}{
		{"exact_match", models.OutcomeExactMatch},
		{"  Needs_Deeper_Search  ", models.OutcomeNeedsDeeperSearch},
		{"needs_clarification", models.OutcomeNeedsClarification},
		// anything unrecognized falls back to asking the user
		{"hmm, not sure", models.OutcomeNeedsClarification},
	}
	for _, tc := range cases {
		c := newTestClient(t, tc.reply)
		got, err := c.ClassifyMatch(context.Background(), "bubur", []string{"Bubur", "Bubur Sagu"})
		if err != nil {
			t.Fatalf("ClassifyMatch(%q): %v", tc.reply, err)
		}
		if got != tc.want {
			t.Errorf("ClassifyMatch(%q) = %q, want %q", tc.reply, got, tc.want)
		}
	}
}

func TestAdvise(t *testing.T) {
	c := newTestClient(t, `{
		"overall_assessment": "A solid day with good protein.",
		"strengths": ["protein intake"],
		"recommendations": ["add vegetables"],
		"macro_balance_score": 7,
		"meal_distribution_score": 15
	}`)

	advice, err := c.Advise(context.Background(), models.DailyMealData{}, models.DailyNutritionSummary{})
	if err != nil {
		t.Fatalf("Advise: %v", err)
	}
	if advice.MacroBalanceScore != 7 {
		t.Errorf("macro score = %d, want 7", advice.MacroBalanceScore)
	}
	// out-of-range scores get clamped into 1-10
	if advice.MealDistributionScore != 10 {
		t.Errorf("distribution score = %d, want clamped 10", advice.MealDistributionScore)
	}
}

func TestAdviseStream(t *testing.T) {
	advice := `{"overall_assessment": "ok", "macro_balance_score": 5, "meal_distribution_score": 5}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		// two tokens, then the stream terminator
		for _, token := range []string{advice[:10], advice[10:]} {
			chunk := map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": token}},
				},
			}
			b, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{Endpoint: srv.URL, Model: "test-model", TimeoutSecs: 5})

	var tokens []string
	got, err := c.AdviseStream(context.Background(), models.DailyMealData{}, models.DailyNutritionSummary{}, func(token string) error {
		tokens = append(tokens, token)
		return nil
	})
	if err != nil {
		t.Fatalf("AdviseStream: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %d, want 2", len(tokens))
	}
	if strings.Join(tokens, "") != advice {
		t.Errorf("accumulated tokens != full content")
	}
	if got.MacroBalanceScore != 5 {
		t.Errorf("parsed advice from accumulated stream: %+v", got)
	}
}

func TestCompleteErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(config.LLMConfig{Endpoint: srv.URL, Model: "test-model", TimeoutSecs: 5})
	if _, err := c.Extract(context.Background(), "nasi"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
