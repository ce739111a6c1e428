package projection

import (
	"sort"
	"strings"

	"alex/internal/task"
)

// fieldWeight is the contribution of each searchable field to a result's
// overall score (spec.md §4.6).
var fieldWeight = map[string]float64{
	"title":       3.0,
	"tags":        2.0,
	"description": 1.0,
}

// SearchResult is one ranked hit.
type SearchResult struct {
	Task    *task.Task
	Score   float64
	Snippet string
}

// Search performs token scoring: each query term contributes a per-field
// match with score = 0.7*coverage + 0.3*density (coverage is the fraction
// of query terms found in the field, density is matches per token in the
// field). The overall score is the weighted mean across fields. Results
// scoring at least minScore are kept, sorted by score descending, and
// truncated to limit.
func Search(tasks []*task.Task, query string, minScore float64, limit int) []SearchResult {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	var results []SearchResult
	for _, t := range tasks {
		score, bestField := scoreTask(t, terms)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{
			Task:    t,
			Score:   score,
			Snippet: snippet(fieldValue(t, bestField), terms),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}

func scoreTask(t *task.Task, terms []string) (float64, string) {
	var weightedSum, weightTotal float64
	bestField := "title"
	bestFieldScore := -1.0
	for field, weight := range fieldWeight {
		fieldScore := scoreField(fieldValue(t, field), terms)
		weightedSum += weight * fieldScore
		weightTotal += weight
		if fieldScore > bestFieldScore {
			bestFieldScore = fieldScore
			bestField = field
		}
	}
	if weightTotal == 0 {
		return 0, bestField
	}
	return weightedSum / weightTotal, bestField
}

func scoreField(value string, terms []string) float64 {
	tokens := tokenize(value)
	if len(tokens) == 0 {
		return 0
	}
	present := map[string]bool{}
	for _, tok := range tokens {
		present[tok] = true
	}

	matchedTerms := 0
	matchCount := 0
	for _, term := range terms {
		if present[term] {
			matchedTerms++
		}
		for _, tok := range tokens {
			if tok == term {
				matchCount++
			}
		}
	}
	if matchedTerms == 0 {
		return 0
	}
	coverage := float64(matchedTerms) / float64(len(terms))
	density := float64(matchCount) / float64(len(tokens))
	return 0.7*coverage + 0.3*density
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// snippetWindow is the maximum snippet length (spec.md §4.6: ≤100 chars).
const snippetWindow = 100

// snippetMarker wraps matched terms so a UI can render highlights.
const snippetMarker = "**"

// snippet returns a window of value centred on the first matching term,
// with every occurrence of a query term wrapped in snippetMarker.
func snippet(value string, terms []string) string {
	lower := strings.ToLower(value)
	firstIdx := -1
	for _, term := range terms {
		if idx := strings.Index(lower, term); idx >= 0 && (firstIdx == -1 || idx < firstIdx) {
			firstIdx = idx
		}
	}
	if firstIdx == -1 {
		firstIdx = 0
	}

	start := firstIdx - snippetWindow/2
	if start < 0 {
		start = 0
	}
	end := start + snippetWindow
	if end > len(value) {
		end = len(value)
		start = end - snippetWindow
		if start < 0 {
			start = 0
		}
	}
	window := value[start:end]

	for _, term := range terms {
		window = highlightTerm(window, term)
	}
	return window
}

func highlightTerm(window, term string) string {
	if term == "" {
		return window
	}
	lower := strings.ToLower(window)
	var b strings.Builder
	i := 0
	for {
		idx := strings.Index(lower[i:], term)
		if idx < 0 {
			b.WriteString(window[i:])
			break
		}
		matchStart := i + idx
		matchEnd := matchStart + len(term)
		b.WriteString(window[i:matchStart])
		b.WriteString(snippetMarker)
		b.WriteString(window[matchStart:matchEnd])
		b.WriteString(snippetMarker)
		i = matchEnd
	}
	return b.String()
}
