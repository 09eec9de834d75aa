package enrich

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/fieldarchive/ingestor/internal/geo"
)

// PlaceSuggestion is a gazetteer hit emitted as a soft geo suggestion.
type PlaceSuggestion struct {
	Name   string  `json:"name"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
}

// builtinGazetteer keeps place suggestions working offline.
var builtinGazetteer = map[string]geo.Point{
	"vancouver":     {Lat: 49.2827, Lon: -123.1207},
	"victoria":      {Lat: 48.4284, Lon: -123.3656},
	"prince george": {Lat: 53.9171, Lon: -122.7497},
	"calgary":       {Lat: 51.0486, Lon: -114.0708},
	"edmonton":      {Lat: 53.5461, Lon: -113.4938},
	"winnipeg":      {Lat: 49.8951, Lon: -97.1384},
	"toronto":       {Lat: 43.6532, Lon: -79.3832},
	"ottawa":        {Lat: 45.4215, Lon: -75.6972},
	"montreal":      {Lat: 45.5019, Lon: -73.5674},
	"halifax":       {Lat: 44.6488, Lon: -63.5752},
}

// ExtractPlaceSuggestions matches text against a gazetteer (a name,lat,lon
// CSV/TSV file, or the built-in table when the path is empty or unusable).
// Matching is case-insensitive on word boundaries, capped at limit (8 when
// <= 0).
func ExtractPlaceSuggestions(text, gazetteerPath string, limit int) []PlaceSuggestion {
	if limit <= 0 {
		limit = 8
	}
	table := lookupTable(gazetteerPath)
	haystack := strings.ToLower(text)

	// Deterministic scan order for a map-backed table.
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)

	var found []PlaceSuggestion
	for _, name := range names {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(name) + `\b`)
		if err != nil || !re.MatchString(haystack) {
			continue
		}
		p := table[name]
		found = append(found, PlaceSuggestion{
			Name:   titleCase(name),
			Lat:    p.Lat,
			Lon:    p.Lon,
			Score:  1.0,
			Source: "gazetteer",
		})
		if len(found) >= limit {
			break
		}
	}
	return found
}

func lookupTable(path string) map[string]geo.Point {
	if path != "" {
		if parsed := parseGazetteer(path); len(parsed) > 0 {
			return parsed
		}
	}
	return builtinGazetteer
}

// parseGazetteer reads a simple name,lat,lon file. TSV for .tsv/.txt,
// comma otherwise; a header row is skipped heuristically.
func parseGazetteer(path string) map[string]geo.Point {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	sep := ","
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tsv", ".txt":
		sep = "\t"
	}
	entries := map[string]geo.Point{}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Split(line, sep)
		if len(parts) < 3 {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(parts[0]))
		if name == "name" || name == "place" {
			continue
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		lon, err2 := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err1 != nil || err2 != nil {
			continue
		}
		entries[name] = geo.Point{Lat: lat, Lon: lon}
	}
	return entries
}

func titleCase(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
