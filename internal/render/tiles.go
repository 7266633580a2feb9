package render

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"transitty/internal/geo"
)

// drawTiles fetches the tile neighbourhood around center concurrently and
// draws it in tile order. Fetch failures are returned as non-fatal errors.
func (r *Renderer) drawTiles(ctx context.Context, f *frame, center geo.Coordinate, zoom int) ([]error, error) {
	if zoom > MaxTileZoom {
		zoom = MaxTileZoom
	}
	coords := geo.NeighborTiles(center, zoom, TileRadius)

	layers := make([]mvt.Layers, len(coords))
	fetchErrs := make([]error, len(coords))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, tc := range coords {
		g.Go(func() error {
			l, err := r.tiles.Tile(gctx, tc)
			if err != nil {
				fetchErrs[i] = fmt.Errorf("tile %s: %w", tc, err)
				return nil
			}
			layers[i] = l
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs []error
	for i, tc := range coords {
		if fetchErrs[i] != nil {
			r.logger.Warn("tile fetch failed", "tile", tc.String(), "error", fetchErrs[i])
			errs = append(errs, fetchErrs[i])
			continue
		}
		if err := f.drawLayers(layers[i]); err != nil {
			return nil, fmt.Errorf("drawing tile %s: %w", tc, err)
		}
	}
	return errs, nil
}

func (f *frame) drawLayers(layers mvt.Layers) error {
	for _, layer := range layers {
		name := strings.ToLower(layer.Name)
		switch {
		case strings.HasPrefix(name, "water"):
			for _, feat := range layer.Features {
				if truthy(feat.Properties, "intermittent") || truthy(feat.Properties, "tunnel") {
					continue
				}
				if err := f.drawGeometry(feat.Geometry, f.scheme.Water()); err != nil {
					return fmt.Errorf("layer %s: %w", layer.Name, err)
				}
			}
		case strings.HasPrefix(name, "greenspace"), strings.HasPrefix(name, "park"):
			for _, feat := range layer.Features {
				if err := f.drawGeometry(feat.Geometry, f.scheme.Grass()); err != nil {
					return fmt.Errorf("layer %s: %w", layer.Name, err)
				}
			}
		}
	}
	return nil
}

func (f *frame) drawGeometry(g orb.Geometry, col color.RGBA) error {
	switch g := g.(type) {
	case orb.Point:
		f.cv.FillCircle(f.pixel(g), 1, col)
	case orb.MultiPoint:
		for _, p := range g {
			f.cv.FillCircle(f.pixel(p), 1, col)
		}
	case orb.LineString:
		if len(g) >= 2 {
			f.cv.AddPolyline(f.pixels(g), col)
		}
	case orb.MultiLineString:
		for _, ls := range g {
			if err := f.drawGeometry(ls, col); err != nil {
				return err
			}
		}
	case orb.Polygon:
		f.fillPolygon(g, col)
	case orb.MultiPolygon:
		for _, poly := range g {
			f.fillPolygon(poly, col)
		}
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedGeometry, g)
	}
	return nil
}

// fillPolygon needs an outer ring of at least three points. Its inner rings
// are holes.
func (f *frame) fillPolygon(poly orb.Polygon, col color.RGBA) {
	if len(poly) == 0 || len(poly[0]) < 3 {
		return
	}
	f.cv.FillPolygon(f.rings(poly), col)
}

func truthy(props geojson.Properties, key string) bool {
	v, ok := props[key]
	if !ok || v == nil {
		return false
	}
	switch v := v.(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
		return strings.EqualFold(v, "yes")
	case float64:
		return v != 0
	case int64:
		return v != 0
	case uint64:
		return v != 0
	case int:
		return v != 0
	}
	return false
}
