package domain

import (
	"image/color"
	"strings"

	"transitty/internal/geo"
)

// RouteType distinguishes transport modes. Values follow the basic GTFS
// route_type codes.
type RouteType int

const (
	RouteTypeOther      RouteType = -1
	RouteTypeTram       RouteType = 0
	RouteTypeSubway     RouteType = 1
	RouteTypeRail       RouteType = 2
	RouteTypeBus        RouteType = 3
	RouteTypeFerry      RouteType = 4
	RouteTypeTrolleybus RouteType = 11
)

// RouteTypes lists every known type in drawing order.
var RouteTypes = []RouteType{
	RouteTypeTram,
	RouteTypeSubway,
	RouteTypeRail,
	RouteTypeBus,
	RouteTypeFerry,
	RouteTypeTrolleybus,
	RouteTypeOther,
}

func (t RouteType) String() string {
	switch t {
	case RouteTypeTram:
		return "tram"
	case RouteTypeSubway:
		return "subway"
	case RouteTypeRail:
		return "rail"
	case RouteTypeBus:
		return "bus"
	case RouteTypeFerry:
		return "ferry"
	case RouteTypeTrolleybus:
		return "trolleybus"
	default:
		return "other"
	}
}

// RouteTypeFromGTFS maps basic and extended GTFS route_type codes.
func RouteTypeFromGTFS(code int) RouteType {
	switch {
	case code == 0, code >= 900 && code < 1000:
		return RouteTypeTram
	case code == 1, code >= 400 && code < 500:
		return RouteTypeSubway
	case code == 2, code >= 100 && code < 200:
		return RouteTypeRail
	case code == 3, code >= 200 && code < 300, code >= 700 && code < 800:
		return RouteTypeBus
	case code == 4, code >= 1000 && code < 1100, code == 1200:
		return RouteTypeFerry
	case code == 11, code == 800:
		return RouteTypeTrolleybus
	default:
		return RouteTypeOther
	}
}

// ParseRouteType maps mode names, including upstream spellings such as
// "metroA" or "train", to a RouteType.
func ParseRouteType(s string) RouteType {
	s = strings.ToLower(strings.TrimSpace(s))
	if strings.HasPrefix(s, "metro") {
		return RouteTypeSubway
	}
	switch s {
	case "tram":
		return RouteTypeTram
	case "subway":
		return RouteTypeSubway
	case "rail", "train":
		return RouteTypeRail
	case "bus":
		return RouteTypeBus
	case "ferry":
		return RouteTypeFerry
	case "trolleybus":
		return RouteTypeTrolleybus
	default:
		return RouteTypeOther
	}
}

// Route is the drawable geometry of one line. It is not modified after
// NewRoute returns.
type Route struct {
	ID           string
	Name         string
	LongName     string
	Type         RouteType
	Color        color.RGBA
	IsNight      bool
	IsSubstitute bool
	IsRegional   bool
	Lines        [][]geo.Coordinate
	Bounds       geo.BoundingBox
}

// NewRoute computes the route bounds from its polylines. Empty polylines are
// dropped.
func NewRoute(r Route) *Route {
	lines := make([][]geo.Coordinate, 0, len(r.Lines))
	for _, l := range r.Lines {
		if len(l) > 0 {
			lines = append(lines, l)
		}
	}
	r.Lines = lines

	first := true
	for _, l := range lines {
		for _, p := range l {
			if first {
				r.Bounds = geo.BoundingBox{Min: p, Max: p}
				first = false
				continue
			}
			r.Bounds = r.Bounds.Extend(p)
		}
	}
	return &r
}

// HasColor reports whether the upstream supplied a display color.
func (r *Route) HasColor() bool {
	return r.Color.A != 0
}

// RouteSet groups routes by type, then by line name.
type RouteSet map[RouteType]map[string]*Route

// Add stores r under its type and name. A second route with the same name has
// its polylines merged into the first.
func (s RouteSet) Add(r *Route) {
	byName, ok := s[r.Type]
	if !ok {
		byName = make(map[string]*Route)
		s[r.Type] = byName
	}
	existing, ok := byName[r.Name]
	if !ok {
		byName[r.Name] = r
		return
	}
	merged := *existing
	merged.Lines = append(append([][]geo.Coordinate{}, existing.Lines...), r.Lines...)
	byName[r.Name] = NewRoute(merged)
}

func (s RouteSet) Count() int {
	n := 0
	for _, byName := range s {
		n += len(byName)
	}
	return n
}

// WithoutRegional returns a copy of the set without regional routes.
func (s RouteSet) WithoutRegional() RouteSet {
	out := make(RouteSet, len(s))
	for t, byName := range s {
		for name, r := range byName {
			if r.IsRegional {
				continue
			}
			if out[t] == nil {
				out[t] = make(map[string]*Route)
			}
			out[t][name] = r
		}
	}
	return out
}

// Request is what a provider needs to fetch data for one view.
type Request struct {
	BBox         geo.BoundingBox
	HideRegional bool
}
