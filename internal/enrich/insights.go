package enrich

import (
	"sort"
	"strings"

	"github.com/fieldarchive/ingestor/internal/geo"
)

// Insights is a lightweight, heuristic insights record. Model-based
// enrichment layers on top without changing the shape.
type Insights struct {
	Theme        string      `json:"theme,omitempty"`
	DocType      string      `json:"doc_type,omitempty"`
	HasGeo       bool        `json:"has_geo"`
	CoordCount   int         `json:"coord_count"`
	TopTerms     []string    `json:"top_terms"`
	SampleCoords []geo.Point `json:"sample_coords,omitempty"`
}

// DeriveInsights counts the dominant long tokens and attaches a coordinate
// sample.
func DeriveInsights(text string, md Metadata, coords []geo.Point) Insights {
	counts := map[string]int{}
	order := map[string]int{}
	for i, tok := range strings.Fields(text) {
		if len(tok) <= 3 {
			continue
		}
		if _, seen := counts[tok]; !seen {
			order[tok] = i
		}
		counts[tok]++
	}
	terms := make([]string, 0, len(counts))
	for tok := range counts {
		terms = append(terms, tok)
	}
	// Ties break on first appearance so output is deterministic.
	sort.Slice(terms, func(i, j int) bool {
		if counts[terms[i]] != counts[terms[j]] {
			return counts[terms[i]] > counts[terms[j]]
		}
		return order[terms[i]] < order[terms[j]]
	})
	if len(terms) > 10 {
		terms = terms[:10]
	}

	ins := Insights{
		Theme:      md.Theme,
		DocType:    md.DocType,
		HasGeo:     len(coords) > 0,
		CoordCount: len(coords),
		TopTerms:   terms,
	}
	if len(coords) > 0 {
		sample := coords
		if len(sample) > 5 {
			sample = sample[:5]
		}
		ins.SampleCoords = sample
	}
	return ins
}
