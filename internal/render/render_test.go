package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitty/internal/cache"
	"transitty/internal/canvas"
	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/query"
)

var (
	prague = geo.Coordinate{Lat: 50.0753684, Lng: 14.4050773}
	size   = geo.Size{Width: 40, Height: 20}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// coordAt returns a coordinate that projects onto pixel (px, py) of the
// default view with a quarter pixel of margin against rounding.
func coordAt(t *testing.T, zoom, px, py int) geo.Coordinate {
	t.Helper()
	bbox := geo.BoundingBoxFromCenter(prague, zoom, size)
	span := bbox.Span()
	c := geo.Coordinate{
		Lat: bbox.Min.Lat + span.Lat*(float64(size.Height-py)+0.25)/float64(size.Height),
		Lng: bbox.Min.Lng + span.Lng*(float64(px)+0.25)/float64(size.Width),
	}
	x, y := geo.PixelFromCoord(c, bbox, size)
	require.Equal(t, px, x)
	require.Equal(t, py, y)
	return c
}

type fakeTiles struct {
	mu     sync.Mutex
	layers mvt.Layers
	fail   map[geo.TileCoord]error
	seen   []geo.TileCoord
}

func (f *fakeTiles) Tile(_ context.Context, tc geo.TileCoord) (mvt.Layers, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, tc)
	if err := f.fail[tc]; err != nil {
		return nil, err
	}
	return f.layers, nil
}

type fakeRoutes struct {
	name  string
	set   domain.RouteSet
	err   error
	calls int
	last  domain.Request
}

func (f *fakeRoutes) Name() string { return f.name }

func (f *fakeRoutes) Get(_ context.Context, req domain.Request) (domain.RouteSet, error) {
	f.calls++
	f.last = req
	return f.set, f.err
}

type fakeStops struct {
	stops []*domain.Stop
	err   error
}

func (f *fakeStops) Name() string { return "stops" }

func (f *fakeStops) Get(context.Context, domain.Request) ([]*domain.Stop, error) {
	return f.stops, f.err
}

type fakeLive struct {
	set   domain.VehicleSet
	calls int
}

func (f *fakeLive) Name() string { return "live" }

func (f *fakeLive) Get(context.Context, domain.Request) (domain.VehicleSet, error) {
	f.calls++
	return f.set, nil
}

func layer(name string, features ...*geojson.Feature) *mvt.Layer {
	return &mvt.Layer{Name: name, Version: 2, Extent: 4096, Features: features}
}

func polygonAt(t *testing.T, zoom int, pts ...image.Point) orb.Polygon {
	ring := make(orb.Ring, 0, len(pts)+1)
	for _, p := range pts {
		ring = append(ring, coordAt(t, zoom, p.X, p.Y).Point())
	}
	ring = append(ring, ring[0])
	return orb.Polygon{ring}
}

func pixelsOf(cv *canvas.Canvas, col color.RGBA) []image.Point {
	var pts []image.Point
	for y := 0; y < cv.Height(); y++ {
		for x := 0; x < cv.Width(); x++ {
			if cv.At(x, y) == col {
				pts = append(pts, image.Pt(x, y))
			}
		}
	}
	return pts
}

func sortPoints(pts []image.Point) []image.Point {
	sort.Slice(pts, func(i, j int) bool {
		if pts[i].Y != pts[j].Y {
			return pts[i].Y < pts[j].Y
		}
		return pts[i].X < pts[j].X
	})
	return pts
}

func TestRenderMapWaterAndTram(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()

	water := geojson.NewFeature(polygonAt(t, zoom,
		image.Pt(5, 5), image.Pt(15, 5), image.Pt(15, 12), image.Pt(5, 12)))
	tiles := &fakeTiles{layers: mvt.Layers{layer("water", water)}}

	tram := domain.NewRoute(domain.Route{
		ID:   "L22",
		Name: "22",
		Type: domain.RouteTypeTram,
		Lines: [][]geo.Coordinate{{
			coordAt(t, zoom, 20, 3),
			coordAt(t, zoom, 30, 3),
			coordAt(t, zoom, 30, 15),
		}},
	})
	routes := &fakeRoutes{name: "pid", set: domain.RouteSet{}}
	routes.set.Add(tram)

	r := New(tiles, []RouteSource{routes}, nil, nil, testLogger())
	cv, err := r.RenderMap(context.Background(), nil, Params{
		Center: prague,
		Zoom:   zoom,
		Size:   size,
		Scheme: scheme,
	})
	require.NoError(t, err)
	require.NotNil(t, cv)

	var wantWater []image.Point
	for y := 5; y < 12; y++ {
		for x := 5; x < 15; x++ {
			wantWater = append(wantWater, image.Pt(x, y))
		}
	}
	assert.Equal(t, wantWater, pixelsOf(cv, scheme.Water()))

	var wantTram []image.Point
	for x := 20; x <= 30; x++ {
		wantTram = append(wantTram, image.Pt(x, 3))
	}
	for y := 4; y <= 15; y++ {
		wantTram = append(wantTram, image.Pt(30, y))
	}
	assert.Equal(t, sortPoints(wantTram), pixelsOf(cv, scheme.ForType(domain.RouteTypeTram)))

	land := len(pixelsOf(cv, scheme.Land()))
	assert.Equal(t, size.Width*size.Height-len(wantWater)-len(wantTram), land)

	assert.Len(t, tiles.seen, 9)
	assert.Equal(t, geo.BoundingBoxFromCenter(prague, zoom, size), routes.last.BBox)
}

func TestRenderMapLayerRules(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()

	tunnel := geojson.NewFeature(polygonAt(t, zoom, image.Pt(0, 0), image.Pt(4, 0), image.Pt(4, 4), image.Pt(0, 4)))
	tunnel.Properties["tunnel"] = int64(1)
	intermittent := geojson.NewFeature(polygonAt(t, zoom, image.Pt(0, 10), image.Pt(4, 10), image.Pt(4, 14), image.Pt(0, 14)))
	intermittent.Properties["intermittent"] = "yes"
	river := geojson.NewFeature(orb.LineString{coordAt(t, zoom, 10, 1).Point(), coordAt(t, zoom, 13, 1).Point()})
	park := geojson.NewFeature(polygonAt(t, zoom, image.Pt(20, 10), image.Pt(22, 10), image.Pt(22, 12), image.Pt(20, 12)))
	building := geojson.NewFeature(polygonAt(t, zoom, image.Pt(30, 10), image.Pt(35, 10), image.Pt(35, 15), image.Pt(30, 15)))
	spring := geojson.NewFeature(coordAt(t, zoom, 36, 2).Point())
	sliver := geojson.NewFeature(orb.Polygon{{coordAt(t, zoom, 25, 1).Point(), coordAt(t, zoom, 27, 1).Point()}})

	tiles := &fakeTiles{layers: mvt.Layers{
		layer("water", tunnel, intermittent, river, sliver),
		layer("water-point", spring),
		layer("greenspace", park),
		layer("building", building),
	}}

	r := New(tiles, nil, nil, nil, testLogger())
	cv, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: zoom, Size: size, Scheme: scheme})
	require.NoError(t, err)

	assert.Equal(t, sortPoints([]image.Point{
		{10, 1}, {11, 1}, {12, 1}, {13, 1},
		{36, 1}, {35, 2}, {36, 2}, {37, 2}, {36, 3},
	}), pixelsOf(cv, scheme.Water()))
	assert.Equal(t, []image.Point{{20, 10}, {21, 10}, {20, 11}, {21, 11}}, pixelsOf(cv, scheme.Grass()))
}

func TestRenderMapUnsupportedGeometryIsFatal(t *testing.T) {
	bad := geojson.NewFeature(orb.Collection{orb.Point{14.4, 50.07}})
	tiles := &fakeTiles{layers: mvt.Layers{layer("water", bad)}}
	routes := &fakeRoutes{name: "pid", set: domain.RouteSet{}}

	r := New(tiles, []RouteSource{routes}, nil, nil, testLogger())
	cv, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: 14, Size: size})

	assert.Nil(t, cv)
	assert.ErrorIs(t, err, ErrUnsupportedGeometry)
	assert.Zero(t, routes.calls, "the frame is aborted before routes are drawn")
}

func TestRenderMapUnknownLayerGeometryIgnored(t *testing.T) {
	bad := geojson.NewFeature(orb.Collection{orb.Point{14.4, 50.07}})
	tiles := &fakeTiles{layers: mvt.Layers{layer("roads", bad)}}

	r := New(tiles, nil, nil, nil, testLogger())
	_, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: 14, Size: size})
	assert.NoError(t, err)
}

func TestRenderMapProviderErrorsAreIsolated(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()
	upstream := errors.New("connection refused")

	broken := &fakeRoutes{name: "broken", err: upstream}
	working := &fakeRoutes{name: "working", set: domain.RouteSet{}}
	working.set.Add(domain.NewRoute(domain.Route{
		Name:  "B",
		Type:  domain.RouteTypeSubway,
		Lines: [][]geo.Coordinate{{coordAt(t, zoom, 2, 2), coordAt(t, zoom, 6, 2)}},
	}))

	centerTile := geo.TileFromCoord(prague, zoom)
	tiles := &fakeTiles{fail: map[geo.TileCoord]error{centerTile: errors.New("tile server down")}}

	r := New(tiles, []RouteSource{broken, working}, nil, nil, testLogger())
	cv, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: zoom, Size: size, Scheme: scheme})

	require.NotNil(t, cv)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)
	assert.Contains(t, err.Error(), "provider broken")
	assert.Contains(t, err.Error(), "tile server down")
	assert.Len(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeSubway)), 5)
}

func TestRenderMapRouteFilters(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()

	routes := &fakeRoutes{name: "pid", set: domain.RouteSet{}}
	routes.set.Add(domain.NewRoute(domain.Route{
		Name:  "22",
		Type:  domain.RouteTypeTram,
		Lines: [][]geo.Coordinate{{coordAt(t, zoom, 1, 1), coordAt(t, zoom, 4, 1)}},
	}))
	routes.set.Add(domain.NewRoute(domain.Route{
		Name:  "136",
		Type:  domain.RouteTypeBus,
		Color: color.RGBA{R: 1, G: 2, B: 3, A: 255},
		Lines: [][]geo.Coordinate{{coordAt(t, zoom, 1, 5), coordAt(t, zoom, 4, 5)}},
	}))
	routes.set.Add(domain.NewRoute(domain.Route{
		Name:  "far",
		Type:  domain.RouteTypeBus,
		Lines: [][]geo.Coordinate{{{Lat: 10, Lng: 10}, {Lat: 10.1, Lng: 10.1}}},
	}))

	r := New(nil, []RouteSource{routes}, nil, nil, testLogger())

	cv, err := r.RenderMap(context.Background(), nil, Params{
		Center: prague, Zoom: zoom, Size: size, Scheme: scheme,
		Query: query.MustParse("all !tram"),
	})
	require.NoError(t, err)
	assert.Empty(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeTram)))
	assert.Len(t, pixelsOf(cv, color.RGBA{R: 1, G: 2, B: 3, A: 255}), 4, "upstream colors win over the scheme")
	assert.Empty(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeBus)))

	cv, err = r.RenderMap(context.Background(), cv, Params{
		Center: prague, Zoom: MinRouteZoom, Size: size, Scheme: scheme,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, routes.calls, "routes are skipped at low zoom")
	assert.Len(t, pixelsOf(cv, scheme.Land()), size.Width*size.Height)
}

func TestRenderMapHideRegionalPerView(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()

	set := domain.RouteSet{}
	set.Add(domain.NewRoute(domain.Route{
		Name:  "22",
		Type:  domain.RouteTypeTram,
		Lines: [][]geo.Coordinate{{coordAt(t, zoom, 1, 1), coordAt(t, zoom, 4, 1)}},
	}))
	set.Add(domain.NewRoute(domain.Route{
		Name:       "300",
		Type:       domain.RouteTypeBus,
		IsRegional: true,
		Lines:      [][]geo.Coordinate{{coordAt(t, zoom, 1, 5), coordAt(t, zoom, 7, 5)}},
	}))

	var requests []domain.Request
	shared := cache.NewRefresher("pid", time.Hour, func(_ context.Context, req domain.Request) (domain.RouteSet, error) {
		requests = append(requests, req)
		if req.HideRegional {
			return set.WithoutRegional(), nil
		}
		return set, nil
	}, testLogger())
	defer shared.Stop()

	hidden := New(nil, []RouteSource{shared}, nil, nil, testLogger())
	shown := New(nil, []RouteSource{shared}, nil, nil, testLogger())

	cv, err := hidden.RenderMap(context.Background(), nil, Params{
		Center: prague, Zoom: zoom, Size: size, Scheme: scheme, HideRegional: true,
	})
	require.NoError(t, err)
	assert.Empty(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeBus)))
	assert.Len(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeTram)), 4)

	cv, err = shown.RenderMap(context.Background(), nil, Params{
		Center: prague, Zoom: zoom, Size: size, Scheme: scheme,
	})
	require.NoError(t, err)
	assert.Len(t, pixelsOf(cv, scheme.ForType(domain.RouteTypeBus)), 7, "another view hiding regional lines does not affect this one")

	require.Len(t, requests, 1)
	assert.False(t, requests[0].HideRegional)
}

func TestRenderMapLiveVehicles(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()

	live := &fakeLive{set: domain.VehicleSet{}}
	live.set.Add(&domain.Vehicle{Location: coordAt(t, zoom, 10, 10), LineName: "136", TripID: "t1", State: domain.TripStateActive, Type: domain.RouteTypeBus})
	live.set.Add(&domain.Vehicle{Location: coordAt(t, zoom, 12, 12), LineName: "9", TripID: "t2", State: domain.TripStateInactive, Type: domain.RouteTypeTram})
	live.set.Add(&domain.Vehicle{Location: coordAt(t, zoom, 14, 14), LineName: "X", TripID: "t3", State: domain.TripStateNotPublic, Type: domain.RouteTypeTram})
	live.set.Add(&domain.Vehicle{Location: geo.Coordinate{Lat: 0, Lng: 0}, LineName: "far", TripID: "t4", State: domain.TripStateActive, Type: domain.RouteTypeBus})

	r := New(nil, nil, nil, []LiveSource{live}, testLogger())

	cv, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: zoom, Size: size, Scheme: scheme})
	require.NoError(t, err)
	assert.Zero(t, live.calls, "live data is opt-in")
	assert.Empty(t, cv.Labels())

	cv, err = r.RenderMap(context.Background(), cv, Params{Center: prague, Zoom: zoom, Size: size, Scheme: scheme, ShowLive: true})
	require.NoError(t, err)

	col, ok := cv.SubPixelAt(10, 10)
	assert.True(t, ok)
	assert.Equal(t, scheme.ForType(domain.RouteTypeBus), col)
	_, ok = cv.SubPixelAt(12, 12)
	assert.False(t, ok)
	assert.Equal(t, []canvas.Label{{Column: 11, Row: 10, Text: "136"}}, cv.Labels())

	_, err = r.RenderMap(context.Background(), cv, Params{Center: prague, Zoom: MinLiveZoom - 1, Size: size, ShowLive: true})
	require.NoError(t, err)
	assert.Equal(t, 1, live.calls)
}

func TestRenderMapStops(t *testing.T) {
	const zoom = 14
	scheme := DefaultColorScheme()
	red := color.RGBA{R: 255, A: 255}

	stops := &fakeStops{stops: []*domain.Stop{
		{Name: "Anděl", Location: coordAt(t, zoom, 8, 8), Color: red, MainType: domain.RouteTypeSubway},
		{Name: "Lihovar", Location: coordAt(t, zoom, 20, 15), MainType: domain.RouteTypeTram},
		{Name: "Far away", Location: geo.Coordinate{Lat: 1, Lng: 1}},
	}}

	r := New(nil, nil, []StopSource{stops}, nil, testLogger())
	cv, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: zoom, Size: size, Scheme: scheme})
	require.NoError(t, err)

	assert.Equal(t, red, cv.At(8, 8))
	assert.Equal(t, scheme.ForType(domain.RouteTypeTram), cv.At(20, 15))
	assert.Equal(t, []canvas.Label{
		{Column: 9, Row: 8, Text: "Anděl"},
		{Column: 21, Row: 15, Text: "Lihovar"},
	}, cv.Labels())

	cv, err = r.RenderMap(context.Background(), cv, Params{
		Center: prague, Zoom: zoom, Size: size, Scheme: scheme,
		Query: query.MustParse("tram"),
	})
	require.NoError(t, err)
	assert.Empty(t, cv.Labels(), "stops without a matching line are hidden")

	cv, err = r.RenderMap(context.Background(), cv, Params{Center: prague, Zoom: MinStopZoom - 1, Size: size, Scheme: scheme})
	require.NoError(t, err)
	assert.Empty(t, cv.Labels())
}

func TestRenderMapReusesCanvas(t *testing.T) {
	r := New(nil, nil, nil, nil, testLogger())
	first, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: 14, Size: size})
	require.NoError(t, err)
	first.AddText(canvas.Label{Column: 0, Row: 0, Text: "stale"})

	second, err := r.RenderMap(context.Background(), first, Params{Center: prague, Zoom: 14, Size: size})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Empty(t, second.Labels())

	third, err := r.RenderMap(context.Background(), second, Params{Center: prague, Zoom: 14, Size: geo.Size{Width: 10, Height: 10}})
	require.NoError(t, err)
	assert.NotSame(t, second, third)
	assert.Equal(t, 10, third.Width())
}

func TestRenderMapCapsTileZoom(t *testing.T) {
	tiles := &fakeTiles{}
	r := New(tiles, nil, nil, nil, testLogger(), WithTileConcurrency(2))

	_, err := r.RenderMap(context.Background(), nil, Params{Center: prague, Zoom: 17, Size: size})
	require.NoError(t, err)

	require.Len(t, tiles.seen, 9)
	for _, tc := range tiles.seen {
		assert.Equal(t, MaxTileZoom, tc.Z)
	}
}

func TestColorSchemeFallbacks(t *testing.T) {
	custom := ColorScheme{ColorWater: color.RGBA{R: 1, A: 255}}
	def := DefaultColorScheme()

	assert.Equal(t, color.RGBA{R: 1, A: 255}, custom.Water())
	assert.Equal(t, def.Land(), custom.Land())
	assert.Equal(t, def[domain.RouteTypeTram.String()], custom.ForType(domain.RouteTypeTram))
	assert.Equal(t, def[domain.RouteTypeOther.String()], custom.ForType(domain.RouteType(99)))
}
