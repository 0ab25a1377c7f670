// Package scrape looks up nutrition facts for foods missing from the
// local database by scraping the FatSecret Indonesia search results.
package scrape

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/peupajoh/peupajoh/internal/config"
	"github.com/peupajoh/peupajoh/internal/store"
	"github.com/peupajoh/peupajoh/pkg/models"
)

// FatSecret scrapes fatsecret.co.id search pages.
type FatSecret struct {
	baseURL string
	client  *http.Client
}

// NewFatSecret creates a scraper from configuration.
func NewFatSecret(cfg config.ScraperConfig) *FatSecret {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &FatSecret{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Indonesian-locale nutrition summary, e.g.
// "Kalori: 168kkal | Lemak: 6,56g | Karb: 20,59g | Prot: 5,51g"
var (
	reCalories = regexp.MustCompile(`Kalori:\s*([\d.,]+)\s*kkal`)
	reFat      = regexp.MustCompile(`Lemak:\s*([\d.,]+)\s*g`)
	reCarbs    = regexp.MustCompile(`Karb:\s*([\d.,]+)\s*g`)
	reProtein  = regexp.MustCompile(`Prot:\s*([\d.,]+)\s*g`)
)

// Result is one scraped search hit.
type Result struct {
	Name      string
	Nutrition models.NutritionProfile
}

// FetchByName searches for name and returns the first hit's per-100g
// nutrition profile. Returns *store.ErrNotFound when the search page
// yields no parseable results.
func (f *FatSecret) FetchByName(ctx context.Context, name string) (*models.NutritionProfile, error) {
	results, err := f.Search(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &store.ErrNotFound{Entity: "scraped food", Key: name}
	}

	log.Info().
		Str("query", name).
		Str("matched", results[0].Name).
		Msg("🔎 scraped nutrition facts")
	return &results[0].Nutrition, nil
}

// Search fetches and parses one search results page.
func (f *FatSecret) Search(ctx context.Context, query string) ([]Result, error) {
	u := fmt.Sprintf("%s/kalori-gizi/search?q=%s", f.baseURL, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("scrape: create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; peupajoh/1.0)")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("scrape: parse page: %w", err)
	}

	var results []Result
	doc.Find("table.generic.searchResult td.borderBottom").Each(func(i int, row *goquery.Selection) {
		title := strings.TrimSpace(row.Find("a.prominent").First().Text())
		if title == "" {
			return
		}
		summary := row.Find("div.smallText").Text()

		profile, ok := parseSummary(summary)
		if !ok {
			return
		}
		results = append(results, Result{Name: title, Nutrition: profile})
	})
	return results, nil
}

// parseSummary extracts the four macro values from a result's summary
// text. A summary without a calorie figure is rejected.
func parseSummary(text string) (models.NutritionProfile, bool) {
	cal, ok := matchNumber(reCalories, text)
	if !ok {
		return models.NutritionProfile{}, false
	}
	fat, _ := matchNumber(reFat, text)
	carbs, _ := matchNumber(reCarbs, text)
	protein, _ := matchNumber(reProtein, text)

	return models.NutritionProfile{
		Calories:      cal,
		Fat:           fat,
		Carbohydrates: carbs,
		Protein:       protein,
	}, true
}

// matchNumber applies re and parses the captured Indonesian-locale
// number ("6,56" → 6.56, "1.168" → 1168).
func matchNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := m[1]
	// thousands dot, decimal comma
	raw = strings.ReplaceAll(raw, ".", "")
	raw = strings.ReplaceAll(raw, ",", ".")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
