package render

import (
	"image"
	"image/color"
	"sort"

	"github.com/paulmach/orb"

	"transitty/internal/canvas"
	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/query"
)

// frame is the projection state of a single RenderMap call.
type frame struct {
	cv     *canvas.Canvas
	bbox   geo.BoundingBox
	size   geo.Size
	scheme ColorScheme
	query  *query.Query

	hideRegional bool
}

func (f *frame) project(c geo.Coordinate) image.Point {
	x, y := geo.PixelFromCoord(c, f.bbox, f.size)
	return image.Pt(x, y)
}

func (f *frame) pixel(p orb.Point) image.Point {
	return f.project(geo.FromPoint(p))
}

func (f *frame) pixels(ls orb.LineString) []image.Point {
	out := make([]image.Point, len(ls))
	for i, p := range ls {
		out[i] = f.pixel(p)
	}
	return out
}

func (f *frame) rings(poly orb.Polygon) [][]image.Point {
	out := make([][]image.Point, 0, len(poly))
	for _, ring := range poly {
		out = append(out, f.pixels(orb.LineString(ring)))
	}
	return out
}

func (f *frame) inside(p image.Point) bool {
	return f.size.Contains(p.X, p.Y)
}

func (f *frame) drawRoutes(routes domain.RouteSet) {
	for _, t := range domain.RouteTypes {
		byName := routes[t]
		for _, name := range sortedKeys(byName) {
			route := byName[name]
			if f.hideRegional && route.IsRegional {
				continue
			}
			if !route.Bounds.Overlaps(f.bbox) || !f.query.MatchRoute(t, name, route) {
				continue
			}

			col := f.scheme.ForType(t)
			if route.HasColor() {
				col = route.Color
			}
			for _, line := range route.Lines {
				pts := make([]image.Point, len(line))
				for i, c := range line {
					pts[i] = f.project(c)
				}
				f.cv.AddPolyline(pts, col)
			}
		}
	}
}

func (f *frame) drawVehicles(vehicles domain.VehicleSet) {
	for _, t := range domain.RouteTypes {
		byTrip := vehicles[t]
		for _, tripID := range sortedKeys(byTrip) {
			v := byTrip[tripID]
			if !v.State.Visible() || !f.query.MatchVehicle(t, tripID, v) {
				continue
			}
			p := f.project(v.Location)
			if !f.inside(p) {
				continue
			}
			f.cv.SetSubPixel(p.X, p.Y, f.scheme.ForType(t))
			f.cv.AddText(canvas.Label{Column: p.X + 1, Row: p.Y, Text: v.LineName})
		}
	}
}

func (f *frame) drawStops(stops []*domain.Stop) {
	for _, s := range stops {
		if !f.bbox.Contains(s.Location) || !f.query.MatchStop(s) {
			continue
		}
		p := f.project(s.Location)
		if !f.inside(p) {
			continue
		}
		col := s.Color
		if col == (color.RGBA{}) {
			col = f.scheme.ForType(s.MainType)
		}
		f.cv.Set(p.X, p.Y, col)
		f.cv.AddText(canvas.Label{Column: p.X + 1, Row: p.Y, Text: s.Name})
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
