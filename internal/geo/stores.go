package geo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
)

// Feature is a GeoJSON feature as stored in aoi.json / poi.json.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

func (f Feature) propString(key string) string {
	v, ok := f.Properties[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	// Numbers decode as float64; marshal round-trips "687" without a
	// trailing ".0".
	b, _ := json.Marshal(v)
	return string(b)
}

// fileStore is a small mutex-guarded GeoJSON feature file. Reference
// layers change rarely; a flat file beats a table for operator editing.
type fileStore struct {
	mu   sync.Mutex
	path string
}

func (s *fileStore) load() ([]Feature, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var features []Feature
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, err
	}
	return features, nil
}

func (s *fileStore) save(features []Feature) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}

func mergeProps(props map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		// Core fields cannot be overridden.
		if _, core := props[k]; !core {
			props[k] = v
		}
	}
	return props
}

// AOIStore holds area-of-interest polygons (reserves, treaty areas, SOI
// regions) in <indexDir>/aoi.json.
type AOIStore struct {
	fileStore
}

func NewAOIStore(indexDir string) *AOIStore {
	return &AOIStore{fileStore{path: filepath.Join(indexDir, "aoi.json")}}
}

// Add appends a polygon feature. coords is one outer ring of [lon, lat]
// pairs.
func (s *AOIStore) Add(name, theme string, coords [][]float64, tenantID string, extra map[string]any) (Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal([][][]float64{coords})
	if err != nil {
		return Feature{}, err
	}
	feature := Feature{
		Type:     "Feature",
		Geometry: Geometry{Type: "Polygon", Coordinates: raw},
		Properties: mergeProps(map[string]any{
			"name":      name,
			"theme":     theme,
			"tenant_id": tenantID,
		}, extra),
	}

	features, err := s.load()
	if err != nil {
		return Feature{}, err
	}
	features = append(features, feature)
	if err := s.save(features); err != nil {
		return Feature{}, err
	}
	return feature, nil
}

// Features returns AOI features, optionally filtered by tenant.
func (s *AOIStore) Features(tenantID string) ([]Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	features, err := s.load()
	if err != nil {
		return nil, err
	}
	return filterByTenant(features, tenantID), nil
}

// GeoJSON returns the AOI layer as a feature collection.
func (s *AOIStore) GeoJSON(tenantID string) (FeatureCollection, error) {
	features, err := s.Features(tenantID)
	if err != nil {
		return FeatureCollection{}, err
	}
	return FeatureCollection{Type: "FeatureCollection", Features: features}, nil
}

// POIStore holds point features (band offices and similar) in
// <indexDir>/poi.json.
type POIStore struct {
	fileStore
}

func NewPOIStore(indexDir string) *POIStore {
	return &POIStore{fileStore{path: filepath.Join(indexDir, "poi.json")}}
}

// Add appends a point feature.
func (s *POIStore) Add(name string, lat, lon float64, theme, tenantID string, extra map[string]any) (Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal([]float64{lon, lat})
	if err != nil {
		return Feature{}, err
	}
	feature := Feature{
		Type:     "Feature",
		Geometry: Geometry{Type: "Point", Coordinates: raw},
		Properties: mergeProps(map[string]any{
			"name":      name,
			"theme":     theme,
			"tenant_id": tenantID,
		}, extra),
	}

	features, err := s.load()
	if err != nil {
		return Feature{}, err
	}
	features = append(features, feature)
	if err := s.save(features); err != nil {
		return Feature{}, err
	}
	return feature, nil
}

// Features returns POI features filtered by tenant and theme ("" matches
// all).
func (s *POIStore) Features(tenantID, theme string) ([]Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	features, err := s.load()
	if err != nil {
		return nil, err
	}
	features = filterByTenant(features, tenantID)
	if theme == "" {
		return features, nil
	}
	var out []Feature
	for _, f := range features {
		if f.propString("theme") == theme {
			out = append(out, f)
		}
	}
	return out, nil
}

func filterByTenant(features []Feature, tenantID string) []Feature {
	if tenantID == "" {
		return features
	}
	var out []Feature
	for _, f := range features {
		if f.propString("tenant_id") == tenantID {
			out = append(out, f)
		}
	}
	return out
}
