package location

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

var ErrLineNotFound = errors.New("line not found")

// searchArea is wide enough to cover every supported network.
var searchArea = geo.BoundingBox{
	Min: geo.Coordinate{Lat: 48, Lng: 12},
	Max: geo.Coordinate{Lat: 52, Lng: 16},
}

// RouteGetter is satisfied by route refreshers.
type RouteGetter interface {
	Get(ctx context.Context, req domain.Request) (domain.RouteSet, error)
}

// LineFinder centres the map on the line whose name equals the current
// query.
type LineFinder struct {
	routes []RouteGetter
	query  atomic.Pointer[string]
}

func NewLineFinder(routes ...RouteGetter) *LineFinder {
	return &LineFinder{routes: routes}
}

func (f *LineFinder) SetQuery(q string) {
	q = strings.TrimSpace(q)
	f.query.Store(&q)
}

func (f *LineFinder) Query() string {
	if q := f.query.Load(); q != nil {
		return *q
	}
	return ""
}

// Locate returns the centre and bounds of the first route named like the
// query. Providers that fail are skipped.
func (f *LineFinder) Locate(ctx context.Context, _ domain.Request) (domain.Location, error) {
	name := f.Query()
	if name == "" {
		return domain.Location{}, ErrLineNotFound
	}

	var errs []error
	for _, src := range f.routes {
		routes, err := src.Get(ctx, domain.Request{BBox: searchArea})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, t := range domain.RouteTypes {
			for key, r := range routes[t] {
				if !strings.EqualFold(key, name) {
					continue
				}
				bounds := r.Bounds
				rotation := 0.0
				return domain.Location{
					Coordinate: bounds.Center(),
					Bounds:     &bounds,
					Rotation:   &rotation,
				}, nil
			}
		}
	}
	return domain.Location{}, errors.Join(append([]error{ErrLineNotFound}, errs...)...)
}
