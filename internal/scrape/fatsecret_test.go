package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/store"
)

const searchPage = `<html><body>
<table class="generic searchResult">
<tr><td class="borderBottom">
  <a class="prominent" href="/kalori-gizi/umum/nasi-goreng">Nasi Goreng</a>
  <div class="smallText">per 100 g - Kalori: 168kkal | Lemak: 6,56g | Karb: 20,59g | Prot: 5,51g</div>
</td></tr>
<tr><td class="borderBottom">
  <a class="prominent" href="/kalori-gizi/umum/nasi-goreng-ayam">Nasi Goreng Ayam</a>
  <div class="smallText">per 100 g - Kalori: 1.168kkal | Lemak: 7,20g | Karb: 22,10g | Prot: 8,40g</div>
</td></tr>
</table>
</body></html>`

func newTestScraper(t *testing.T, page string) *FatSecret {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/kalori-gizi/search" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, page)
	}))
	t.Cleanup(srv.Close)
	return NewFatSecret(config.ScraperConfig{BaseURL: srv.URL, TimeoutSecs: 5})
}

func TestSearchParsesResults(t *testing.T) {
	f := newTestScraper(t, searchPage)

	results, err := f.Search(context.Background(), "nasi goreng")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Name != "Nasi Goreng" {
		t.Errorf("name = %q", results[0].Name)
	}
	if results[0].Nutrition.Calories != 168 {
		t.Errorf("calories = %v, want 168", results[0].Nutrition.Calories)
	}
	if results[0].Nutrition.Fat != 6.56 {
		t.Errorf("fat = %v, want 6.56", results[0].Nutrition.Fat)
	}
	// thousands separator
	if results[1].Nutrition.Calories != 1168 {
		t.Errorf("calories = %v, want 1168", results[1].Nutrition.Calories)
	}
}

func TestFetchByName(t *testing.T) {
	f := newTestScraper(t, searchPage)

	profile, err := f.FetchByName(context.Background(), "nasi goreng")
	if err != nil {
		t.Fatalf("FetchByName: %v", err)
	}
	if profile.Protein != 5.51 {
		t.Errorf("protein = %v, want 5.51", profile.Protein)
	}
}

func TestFetchByNameNoResults(t *testing.T) {
	f := newTestScraper(t, `<html><body><p>Tidak ada hasil</p></body></html>`)

	_, err := f.FetchByName(context.Background(), "xyz-unknown-food")
	if !store.IsNotFound(err) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewFatSecret(config.ScraperConfig{BaseURL: srv.URL, TimeoutSecs: 5})
	if _, err := f.Search(context.Background(), "nasi"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}
