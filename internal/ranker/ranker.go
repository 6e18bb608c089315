// Package ranker scores stored embeddings against a query vector.
//
// Ranking is a full linear scan with no index.
package ranker

import (
	"math"
	"sort"
	"strings"

	"github.com/viant/vec/search"

	"github.com/fyrsmithlabs/ragfus/internal/extract"
)

// DefaultPreviewLength is the number of characters kept in a preview.
const DefaultPreviewLength = 200

// Candidate is a stored document with its decoded embedding.
type Candidate struct {
	ID     int64
	Path   string
	Text   string
	Vector []float32
}

// Result is a scored candidate.
type Result struct {
	ID         int64
	Path       string
	Similarity float32
	Preview    string
}

// Options control filtering and truncation.
type Options struct {
	// TopK is the maximum number of results. Zero or negative returns none.
	TopK int

	// Extensions restricts results to these file extensions,
	// case-insensitive; a missing leading dot is added. Empty means no filter.
	Extensions []string

	// MinSimilarity drops results scoring strictly below it.
	MinSimilarity float32

	// PreviewLength in characters. Defaults to DefaultPreviewLength.
	PreviewLength int
}

// Rank scores candidates by dot product with query, which must be unit
// length. Candidates are re-normalized when their norm is non-zero; a
// zero-norm candidate scores 0. Candidates whose dimension differs from
// the query are skipped, as are candidates scoring NaN or infinity.
// Results are sorted by similarity, descending, with ties kept in input
// order.
func Rank(query []float32, candidates []Candidate, opts Options) []Result {
	if opts.TopK <= 0 {
		return []Result{}
	}
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = DefaultPreviewLength
	}

	allowed := extensionSet(opts.Extensions)

	type scored struct {
		c   *Candidate
		sim float32
	}
	hits := make([]scored, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if allowed != nil && !allowed[extract.Ext(c.Path)] {
			continue
		}
		if len(c.Vector) != len(query) {
			continue
		}
		sim := Similarity(query, c.Vector)
		if !Finite(sim) || sim < opts.MinSimilarity {
			continue
		}
		hits = append(hits, scored{c: c, sim: sim})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].sim > hits[j].sim
	})

	if len(hits) > opts.TopK {
		hits = hits[:opts.TopK]
	}

	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = Result{
			ID:         h.c.ID,
			Path:       h.c.Path,
			Similarity: h.sim,
			Preview:    Preview(h.c.Text, opts.PreviewLength),
		}
	}
	return out
}

// Similarity is the dot product of query with the normalized candidate.
// A zero-norm candidate is used as is.
func Similarity(query, candidate []float32) float32 {
	var dot float64
	for i := range query {
		dot += float64(query[i]) * float64(candidate[i])
	}
	if norm := search.Float32s(candidate).Magnitude(); norm > 0 {
		dot /= float64(norm)
	}
	return float32(dot)
}

// Finite reports whether f is neither NaN nor infinite.
func Finite(f float32) bool {
	return !math.IsNaN(float64(f)) && !math.IsInf(float64(f), 0)
}

// Preview returns the first n characters of text, with "..." appended
// when text was longer.
func Preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func extensionSet(exts []string) map[string]bool {
	if len(exts) == 0 {
		return nil
	}
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		set[e] = true
	}
	return set
}
