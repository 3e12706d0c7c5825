package tfidf

import "unicode/utf8"

// Match is the best candidate for a query.
//
// Position is -1 when there was no candidate at all (empty index, or a query
// with no indexed terms). When Found is false but Position >= 0, Score is the
// best score that fell below the threshold.
type Match struct {
	Found    bool
	Position int
	ID       string
	Score    float64
}

// Match scores query against every indexed document and returns the best one.
// Ties go to the lowest position. Terms not seen at build time are ignored.
func (x *Index) Match(query string, threshold float64) Match {
	none := Match{Position: -1}
	if x.Len() == 0 || !utf8.ValidString(query) {
		return none
	}

	q := x.weigh(termCounts(x.norm.Normalize(query)))
	if len(q) == 0 {
		return none
	}

	scores := make([]float64, len(x.vectors))
	for _, e := range q {
		for _, p := range x.postings[e.Col] {
			scores[p.doc] += e.Weight * p.weight
		}
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	score := scores[best]
	if score > 1 {
		score = 1
	}
	return Match{
		Found:    score > 0 && score >= threshold,
		Position: best,
		ID:       x.ids[best],
		Score:    score,
	}
}

// Normalize applies the index's normalizer, for callers that key caches on
// the normalized query.
func (x *Index) Normalize(text string) string {
	return x.norm.Normalize(text)
}
