package geo

import (
	"sort"
	"strings"
)

// AOI themes that contribute to document geo context.
var contextThemes = map[string]struct{}{
	"ALC_Confirmed": {},
	"ALC_Modified":  {},
	"Modern_Treaty": {},
	"BC_SOI":        {},
}

// OfficeTheme marks POI features that represent band offices.
const OfficeTheme = "First_Nation_Office"

// AOIHit is one area of interest containing a document point.
type AOIHit struct {
	Name   string `json:"name"`
	Theme  string `json:"theme"`
	ALCode string `json:"alcode,omitempty"`
	ALType string `json:"altype,omitempty"`
	TagID  string `json:"tag_id,omitempty"`
	SBType string `json:"sb_type,omitempty"`
	SOIID  string `json:"soi_id,omitempty"`
	Jur1   string `json:"jur1,omitempty"`
}

// Office is a band office ranked by distance to the nearest document point.
type Office struct {
	Name       string  `json:"name"`
	BandName   string  `json:"band_name,omitempty"`
	BandNbr    string  `json:"band_nbr,omitempty"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	DistanceKM float64 `json:"distance_km"`
}

// Context is the per-document geo summary: the document's points, the AOIs
// containing at least one of them, and the nearest band offices.
type Context struct {
	DocID   int64    `json:"doc_id"`
	Points  []Point  `json:"points"`
	AOIs    []AOIHit `json:"aois"`
	Offices []Office `json:"offices"`
}

// BuildContext computes the geo context for one document's points against
// the AOI and POI reference layers. maxOffices <= 0 defaults to 3.
func BuildContext(docID int64, points []Point, aois, pois []Feature, maxOffices int) Context {
	if maxOffices <= 0 {
		maxOffices = 3
	}
	ctx := Context{DocID: docID, Points: points}

	for _, f := range aois {
		theme := f.propString("theme")
		if _, ok := contextThemes[theme]; !ok {
			continue
		}
		for _, p := range points {
			if !PointInGeometry(p.Lat, p.Lon, f.Geometry) {
				continue
			}
			ctx.AOIs = append(ctx.AOIs, AOIHit{
				Name:   f.propString("name"),
				Theme:  theme,
				ALCode: f.propString("alcode"),
				ALType: f.propString("altype"),
				TagID:  f.propString("tag_id"),
				SBType: f.propString("sb_type"),
				SOIID:  f.propString("soi_id"),
				Jur1:   f.propString("jur1"),
			})
			break
		}
	}

	for _, f := range pois {
		if f.Geometry.Type != "Point" || len(points) == 0 {
			continue
		}
		lat, lon, ok := f.Geometry.Point()
		if !ok {
			continue
		}
		minDist := -1.0
		for _, p := range points {
			d := HaversineKM(p.Lat, p.Lon, lat, lon)
			if minDist < 0 || d < minDist {
				minDist = d
			}
		}
		name := f.propString("name")
		if name == "" {
			name = f.propString("band_name")
		}
		ctx.Offices = append(ctx.Offices, Office{
			Name:       name,
			BandName:   f.propString("band_name"),
			BandNbr:    f.propString("band_nbr"),
			Lat:        lat,
			Lon:        lon,
			DistanceKM: minDist,
		})
	}
	sort.Slice(ctx.Offices, func(i, j int) bool {
		return ctx.Offices[i].DistanceKM < ctx.Offices[j].DistanceKM
	})
	if len(ctx.Offices) > maxOffices {
		ctx.Offices = ctx.Offices[:maxOffices]
	}

	return ctx
}

// Scope restricts which AOIs and offices contribute to tags, so a project
// can focus on particular treaties, reserves, or band offices without
// losing raw context detail.
type Scope struct {
	AOIThemes   []string
	AOICodes    []string
	AOINames    []string
	BandNumbers []string
}

func (s Scope) empty() bool {
	return len(s.AOIThemes) == 0 && len(s.AOICodes) == 0 && len(s.AOINames) == 0
}

func (s Scope) aoiInScope(a AOIHit) bool {
	if s.empty() {
		return true
	}
	if len(s.AOIThemes) > 0 && !containsString(s.AOIThemes, a.Theme) {
		return false
	}
	if len(s.AOICodes) > 0 {
		found := false
		for _, code := range []string{a.ALCode, a.TagID, a.SOIID} {
			if code != "" && containsFold(s.AOICodes, code) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(s.AOINames) > 0 {
		name := strings.ToLower(a.Name)
		found := false
		for _, term := range s.AOINames {
			if strings.Contains(name, strings.ToLower(term)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Tags are the coarse, stable geo tags persisted with document metadata.
type Tags struct {
	InReserve      bool     `json:"in_reserve"`
	InTreaty       []string `json:"in_treaty"`
	InSOI          []string `json:"in_soi"`
	NearestOffices []string `json:"nearest_offices"`
}

// DeriveTags reduces a context to indexable tags, honoring the project
// scope.
func DeriveTags(ctx Context, scope Scope) Tags {
	tags := Tags{InTreaty: []string{}, InSOI: []string{}, NearestOffices: []string{}}

	treatySeen := map[string]struct{}{}
	soiSeen := map[string]struct{}{}
	for _, a := range ctx.AOIs {
		if !scope.aoiInScope(a) {
			continue
		}
		switch a.Theme {
		case "ALC_Confirmed", "ALC_Modified":
			if strings.ToLower(strings.TrimSpace(a.ALType)) != "land claim" {
				tags.InReserve = true
			}
		case "Modern_Treaty":
			if a.TagID != "" {
				treatySeen[a.TagID] = struct{}{}
			}
		case "BC_SOI":
			if a.SOIID != "" {
				soiSeen[a.SOIID] = struct{}{}
			}
		}
	}
	for id := range treatySeen {
		tags.InTreaty = append(tags.InTreaty, id)
	}
	for id := range soiSeen {
		tags.InSOI = append(tags.InSOI, id)
	}
	sort.Strings(tags.InTreaty)
	sort.Strings(tags.InSOI)

	for _, o := range ctx.Offices {
		if o.BandNbr == "" {
			continue
		}
		if len(scope.BandNumbers) > 0 && !containsString(scope.BandNumbers, o.BandNbr) {
			continue
		}
		tags.NearestOffices = append(tags.NearestOffices, o.BandNbr)
	}

	return tags
}

func containsString(list []string, want string) bool {
	for _, s := range list {
		if strings.TrimSpace(s) == want {
			return true
		}
	}
	return false
}

func containsFold(list []string, want string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), want) {
			return true
		}
	}
	return false
}
