package pid

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"transitty/internal/cache"
	"transitty/internal/domain"
	"transitty/internal/geo"
)

// Routes returns every PID line keyed by its short name, regional lines
// included. The dataset changes once a day, so it is parsed at most once per
// day.
func (c *Client) Routes(ctx context.Context, _ domain.Request) (domain.RouteSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := c.today()
	if c.routes != nil && c.routesDay == today {
		return c.routes, nil
	}

	data, err := c.dailyBody(ctx, c.geodataURL, cache.KeyGeodata(c.now()))
	if err != nil {
		return nil, fmt.Errorf("fetching geodata: %w", err)
	}
	routes, err := parseRoutes(data)
	if err != nil {
		return nil, err
	}

	c.routes = routes
	c.routesDay = today
	c.logger.Info("parsed routes", "routes", routes.Count())
	return routes, nil
}

func parseRoutes(data []byte) (domain.RouteSet, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decoding geodata: %w", err)
	}

	routes := make(domain.RouteSet)
	for _, f := range fc.Features {
		name := stringProp(f.Properties, "route_short_name")
		if name == "" {
			continue
		}

		routeType := domain.RouteTypeOther
		if code, err := strconv.Atoi(stringProp(f.Properties, "route_type")); err == nil {
			routeType = domain.RouteTypeFromGTFS(code)
		}

		longName := stringProp(f.Properties, "route_long_name")
		if longName == "" {
			longName = name
		}

		r := domain.Route{
			ID:           stringProp(f.Properties, "route_id"),
			Name:         name,
			LongName:     longName,
			Type:         routeType,
			IsNight:      stringProp(f.Properties, "is_night") == "1",
			IsRegional:   stringProp(f.Properties, "is_regional") == "1",
			IsSubstitute: stringProp(f.Properties, "is_substitute_transport") == "1",
			Lines:        lines(f.Geometry),
		}
		// Only metro lines have distinct official colors.
		if routeType == domain.RouteTypeSubway {
			if c, ok := parseColor(stringProp(f.Properties, "route_color")); ok {
				r.Color = c
			}
		}
		routes.Add(domain.NewRoute(r))
	}
	return routes, nil
}

// stringProp reads a property that upstream may encode as a string, number or
// boolean.
func stringProp(props geojson.Properties, key string) string {
	switch v := props[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return ""
	}
}

func lines(g orb.Geometry) [][]geo.Coordinate {
	switch g := g.(type) {
	case orb.LineString:
		return [][]geo.Coordinate{coordinates(g)}
	case orb.MultiLineString:
		out := make([][]geo.Coordinate, 0, len(g))
		for _, ls := range g {
			out = append(out, coordinates(ls))
		}
		return out
	default:
		return nil
	}
}

func coordinates(ls orb.LineString) []geo.Coordinate {
	out := make([]geo.Coordinate, len(ls))
	for i, p := range ls {
		out[i] = geo.FromPoint(p)
	}
	return out
}

func parseColor(s string) (color.RGBA, bool) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.RGBA{}, false
	}
	n, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{}, false
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, true
}
