// Package match scores food-name queries against the candidate
// universe using token-set fuzzy matching. Scores are 0-100; word
// order and duplicate tokens do not affect the score.
package match

import (
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/peupajoh/peupajoh/pkg/models"
)

// Search scores query against every name and returns the candidates at
// or above threshold, highest score first. Ties keep the original name
// order so results are deterministic. An empty or whitespace query
// returns no candidates.
func Search(query string, names []string, threshold int) []models.MatchCandidate {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []models.MatchCandidate
	for i, name := range names {
		score := fuzzy.TokenSetRatio(q, strings.ToLower(name))
		if score >= threshold {
			out = append(out, models.MatchCandidate{Name: name, Score: score, Index: i})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}

// Top returns at most n candidates above threshold, highest first.
func Top(query string, names []string, threshold, n int) []models.MatchCandidate {
	candidates := Search(query, names, threshold)
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
