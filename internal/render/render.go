// Package render composes vector tiles, routes, live vehicles and stops into
// a terminal canvas.
package render

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paulmach/orb/encoding/mvt"

	"transitty/internal/canvas"
	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/query"
)

const (
	MaxTileZoom  = 14
	TileRadius   = 1
	MinRouteZoom = 9
	MinLiveZoom  = 12
	MinStopZoom  = 13
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry type")

type TileSource interface {
	Tile(ctx context.Context, t geo.TileCoord) (mvt.Layers, error)
}

type RouteSource interface {
	Name() string
	Get(ctx context.Context, req domain.Request) (domain.RouteSet, error)
}

type StopSource interface {
	Name() string
	Get(ctx context.Context, req domain.Request) ([]*domain.Stop, error)
}

type LiveSource interface {
	Name() string
	Get(ctx context.Context, req domain.Request) (domain.VehicleSet, error)
}

// Params describe one frame.
type Params struct {
	Center       geo.Coordinate
	Zoom         int
	Size         geo.Size
	Scheme       ColorScheme
	HideRegional bool
	Query        *query.Query
	ShowLive     bool
}

type Renderer struct {
	tiles       TileSource
	routes      []RouteSource
	stops       []StopSource
	live        []LiveSource
	concurrency int
	logger      *slog.Logger
}

type Option func(*Renderer)

// WithTileConcurrency bounds the number of tiles fetched at once.
func WithTileConcurrency(n int) Option {
	return func(r *Renderer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// New creates a renderer. Any source may be nil or empty.
func New(tiles TileSource, routes []RouteSource, stops []StopSource, live []LiveSource, logger *slog.Logger, opts ...Option) *Renderer {
	r := &Renderer{
		tiles:       tiles,
		routes:      routes,
		stops:       stops,
		live:        live,
		concurrency: 4,
		logger:      logger.With("component", "renderer"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderMap draws one frame into cv, reusing it when its size matches. A
// failing provider does not stop the others from drawing; its error is
// returned joined with the rest alongside the canvas. An unsupported tile
// geometry aborts the frame and returns a nil canvas.
func (r *Renderer) RenderMap(ctx context.Context, cv *canvas.Canvas, p Params) (*canvas.Canvas, error) {
	start := time.Now()
	scheme := p.Scheme
	if scheme == nil {
		scheme = DefaultColorScheme()
	}

	if cv == nil || cv.Size() != p.Size {
		cv = canvas.New(p.Size.Width, p.Size.Height, scheme.Land())
	} else {
		cv.Clear(scheme.Land())
	}
	if p.Size.Empty() {
		return cv, nil
	}

	bbox := geo.BoundingBoxFromCenter(p.Center, p.Zoom, p.Size)
	f := &frame{cv: cv, bbox: bbox, size: p.Size, scheme: scheme, query: p.Query, hideRegional: p.HideRegional}
	// Sources are shared between views, so per-view filters are applied while
	// drawing and never sent upstream.
	req := domain.Request{BBox: bbox}

	var errs []error

	if r.tiles != nil {
		tileErrs, err := r.drawTiles(ctx, f, p.Center, p.Zoom)
		if err != nil {
			return nil, err
		}
		errs = append(errs, tileErrs...)
	}

	if p.Zoom > MinRouteZoom {
		for _, src := range r.routes {
			routes, err := src.Get(ctx, req)
			if err != nil {
				errs = append(errs, r.providerError(src.Name(), err))
				continue
			}
			f.drawRoutes(routes)
		}
	}

	if p.ShowLive && p.Zoom >= MinLiveZoom {
		for _, src := range r.live {
			vehicles, err := src.Get(ctx, req)
			if err != nil {
				errs = append(errs, r.providerError(src.Name(), err))
				continue
			}
			f.drawVehicles(vehicles)
		}
	}

	if p.Zoom >= MinStopZoom {
		for _, src := range r.stops {
			stops, err := src.Get(ctx, req)
			if err != nil {
				errs = append(errs, r.providerError(src.Name(), err))
				continue
			}
			f.drawStops(stops)
		}
	}

	r.logger.Debug("rendered frame",
		"center", p.Center.String(),
		"zoom", p.Zoom,
		"width", p.Size.Width,
		"height", p.Size.Height,
		"labels", len(cv.Labels()),
		"errors", len(errs),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return cv, errors.Join(errs...)
}

func (r *Renderer) providerError(name string, err error) error {
	r.logger.Warn("provider failed", "provider", name, "error", err)
	return fmt.Errorf("provider %s: %w", name, err)
}
