package geo

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// HaversineKM is the approximate great-circle distance between two WGS84
// points in kilometers.
func HaversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371.0
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlambda := (lon2 - lon1) * math.Pi / 180
	a := math.Pow(math.Sin(dphi/2), 2) + math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dlambda/2), 2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return r * c
}

// pointInRing is ray-casting point-in-polygon for a single ring.
// ring is a list of [lon, lat] pairs (GeoJSON order).
func pointInRing(lat, lon float64, ring [][]float64) bool {
	inside := false
	n := len(ring)
	if n < 3 {
		return false
	}
	for i := 0; i < n; i++ {
		x1, y1 := ring[i][0], ring[i][1]
		x2, y2 := ring[(i+1)%n][0], ring[(i+1)%n][1]
		if (y1 > lat) != (y2 > lat) && lon < (x2-x1)*(lat-y1)/(y2-y1+1e-12)+x1 {
			inside = !inside
		}
	}
	return inside
}

// PointInPolygon checks membership in a polygon with hole support: inside
// the outer ring and outside every hole.
func PointInPolygon(lat, lon float64, polygon [][][]float64) bool {
	if len(polygon) == 0 {
		return false
	}
	if !pointInRing(lat, lon, polygon[0]) {
		return false
	}
	for _, hole := range polygon[1:] {
		if pointInRing(lat, lon, hole) {
			return false
		}
	}
	return true
}

// PointInMultiPolygon checks membership in any polygon of a MultiPolygon.
func PointInMultiPolygon(lat, lon float64, multi [][][][]float64) bool {
	for _, polygon := range multi {
		if PointInPolygon(lat, lon, polygon) {
			return true
		}
	}
	return false
}

// Geometry is a GeoJSON geometry with lazily-decoded coordinates.
type Geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (g Geometry) Polygon() ([][][]float64, bool) {
	var coords [][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, false
	}
	return coords, true
}

func (g Geometry) MultiPolygon() ([][][][]float64, bool) {
	var coords [][][][]float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil {
		return nil, false
	}
	return coords, true
}

func (g Geometry) Point() (lat, lon float64, ok bool) {
	var coords []float64
	if err := json.Unmarshal(g.Coordinates, &coords); err != nil || len(coords) < 2 {
		return 0, 0, false
	}
	return coords[1], coords[0], true
}

// PointInGeometry checks membership in a Polygon or MultiPolygon geometry.
func PointInGeometry(lat, lon float64, g Geometry) bool {
	switch g.Type {
	case "Polygon":
		if coords, ok := g.Polygon(); ok {
			return PointInPolygon(lat, lon, coords)
		}
	case "MultiPolygon":
		if coords, ok := g.MultiPolygon(); ok {
			return PointInMultiPolygon(lat, lon, coords)
		}
	}
	return false
}

var wktPolygonRe = regexp.MustCompile(`(?is)^POLYGON\s*\(\s*\(\s*(.*?)\s*\)\s*\)`)

// ParseGeometry parses a GeoJSON Polygon/MultiPolygon or a simple WKT
// POLYGON string. Returns (Geometry, false) when the input is neither.
func ParseGeometry(s string) (Geometry, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Geometry{}, false
	}

	if strings.HasPrefix(s, "{") {
		var g Geometry
		if err := json.Unmarshal([]byte(s), &g); err == nil {
			if g.Type == "Polygon" || g.Type == "MultiPolygon" {
				return g, true
			}
		}
		return Geometry{}, false
	}

	// POLYGON((-123.0 49.0, -122.0 49.0, -122.0 50.0, -123.0 50.0, -123.0 49.0))
	m := wktPolygonRe.FindStringSubmatch(s)
	if m == nil {
		return Geometry{}, false
	}
	var ring [][]float64
	for _, pair := range strings.Split(m[1], ",") {
		parts := strings.Fields(strings.TrimSpace(pair))
		if len(parts) < 2 {
			continue
		}
		lon, err1 := strconv.ParseFloat(parts[0], 64)
		lat, err2 := strconv.ParseFloat(parts[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		ring = append(ring, []float64{lon, lat})
	}
	if len(ring) < 3 {
		return Geometry{}, false
	}
	raw, err := json.Marshal([][][]float64{ring})
	if err != nil {
		return Geometry{}, false
	}
	return Geometry{Type: "Polygon", Coordinates: raw}, true
}
