package geo

import (
	"regexp"
	"strconv"
)

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Matches decimal degrees like 49.123, -123.456. At least three decimal
// places keeps page numbers and dollar amounts out.
var coordRe = regexp.MustCompile(`([-+]?\d{1,2}\.\d{3,})(?:[^\d\-\+]{0,3})([-+]?\d{2,3}\.\d{3,})`)

// ExtractCoords scans text for decimal-degree coordinate pairs, capped at
// limit (10 when <= 0).
func ExtractCoords(text string, limit int) []Point {
	if limit <= 0 {
		limit = 10
	}
	var coords []Point
	for _, match := range coordRe.FindAllStringSubmatch(text, -1) {
		lat, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		lon, err := strconv.ParseFloat(match[2], 64)
		if err != nil {
			continue
		}
		coords = append(coords, Point{Lat: lat, Lon: lon})
		if len(coords) >= limit {
			break
		}
	}
	return coords
}
