package handler

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transitty/internal/cache"
	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/hub"
	"transitty/internal/ingestor"
	"transitty/pkg/vectortile"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFrames struct {
	mu      sync.Mutex
	tracked []ingestor.View
	err     error
}

func (f *fakeFrames) Track(v ingestor.View) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, v)
	return v.Key()
}

func (f *fakeFrames) Render(_ context.Context, v ingestor.View) (hub.Frame, error) {
	if f.err != nil {
		return hub.Frame{}, f.err
	}
	return hub.Frame{
		View:   v.Key(),
		ANSI:   "\x1b[0mmap",
		Width:  v.Width,
		Height: v.Height,
		Errors: []string{"provider pid-live: timeout"},
	}, nil
}

type fakeVehicles struct {
	set domain.VehicleSet
	err error
}

func (f *fakeVehicles) FetchVehicles(context.Context, domain.Request) (domain.VehicleSet, error) {
	return f.set, f.err
}

func pt(lat, lng float64) geo.Coordinate {
	return geo.Coordinate{Lat: lat, Lng: lng}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestFrameJSON(t *testing.T) {
	h := NewHTTPHandler(&fakeFrames{}, &fakeVehicles{}, testLogger())
	rec := httptest.NewRecorder()
	h.Frame(rec, httptest.NewRequest(http.MethodGet, "/v1/frame?lat=50.07&lng=14.40&zoom=15&width=40&height=10&showLive=true", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode[hub.FramePayload](t, rec)
	assert.Equal(t, 40, payload.Width)
	assert.Equal(t, 10, payload.Height)
	assert.Equal(t, "\x1b[0mmap", payload.ANSI)
	assert.Equal(t, []string{"provider pid-live: timeout"}, payload.Errors)
	assert.Contains(t, payload.View, "/15/40x10/false/true/")
}

func TestFrameANSIAndDefaults(t *testing.T) {
	h := NewHTTPHandler(&fakeFrames{}, &fakeVehicles{}, testLogger())
	rec := httptest.NewRecorder()
	h.Frame(rec, httptest.NewRequest(http.MethodGet, "/v1/frame?lat=50.07&lng=14.40&format=ansi", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x1b[0mmap", rec.Body.String())
}

func TestFrameBadRequests(t *testing.T) {
	h := NewHTTPHandler(&fakeFrames{}, &fakeVehicles{}, testLogger())
	for _, target := range []string{
		"/v1/frame",
		"/v1/frame?lat=50&lng=x",
		"/v1/frame?lat=50&lng=14&zoom=abc",
		"/v1/frame?lat=50&lng=14&zoom=30",
		"/v1/frame?lat=50&lng=14&showLive=maybe",
		"/v1/frame?lat=50&lng=14&width=1000",
	} {
		rec := httptest.NewRecorder()
		h.Frame(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestFrameRenderFailure(t *testing.T) {
	h := NewHTTPHandler(&fakeFrames{err: errors.New("unsupported geometry type")}, &fakeVehicles{}, testLogger())
	rec := httptest.NewRecorder()
	h.Frame(rec, httptest.NewRequest(http.MethodGet, "/v1/frame?lat=50&lng=14", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListVehicles(t *testing.T) {
	set := domain.VehicleSet{}
	set.Add(&domain.Vehicle{TripID: "b", LineName: "22", Type: domain.RouteTypeTram, Location: pt(50.07, 14.41)})
	set.Add(&domain.Vehicle{TripID: "a", LineName: "A", Type: domain.RouteTypeSubway, Location: pt(50.08, 14.42)})
	set.Add(&domain.Vehicle{TripID: "far", Type: domain.RouteTypeBus, Location: pt(49.0, 16.0)})

	h := NewHTTPHandler(&fakeFrames{}, &fakeVehicles{set: set}, testLogger())
	rec := httptest.NewRecorder()
	h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles?bbox=50,14.3,50.1,14.5", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[VehiclesResponse](t, rec)
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "a", resp.Vehicles[0].TripID)
	assert.Equal(t, "b", resp.Vehicles[1].TripID)
}

func TestListVehiclesErrors(t *testing.T) {
	h := NewHTTPHandler(&fakeFrames{}, &fakeVehicles{set: domain.VehicleSet{}, err: errors.New("provider pid-live: 502")}, testLogger())

	rec := httptest.NewRecorder()
	h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles?bbox=51,14,50,15", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.ListVehicles(rec, httptest.NewRequest(http.MethodGet, "/v1/vehicles?bbox=50,14,51,15", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode[VehiclesResponse](t, rec)
	assert.Equal(t, []string{"provider pid-live: 502"}, resp.Errors)
	assert.NotNil(t, resp.Vehicles)
}

type fakeRoutes struct {
	name string
	set  domain.RouteSet
	err  error
}

func (f *fakeRoutes) Name() string { return f.name }

func (f *fakeRoutes) Get(context.Context, domain.Request) (domain.RouteSet, error) {
	return f.set, f.err
}

type fakeStops struct {
	stops []*domain.Stop
}

func (f *fakeStops) Name() string { return "stops" }

func (f *fakeStops) Get(_ context.Context, req domain.Request) ([]*domain.Stop, error) {
	var out []*domain.Stop
	for _, s := range f.stops {
		if req.BBox.Contains(s.Location) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStops) Lookup(_ context.Context, id string) (*domain.Stop, bool, error) {
	for _, s := range f.stops {
		if s.ID == id {
			return s, true, nil
		}
	}
	return nil, false, nil
}

func networkHandler() *NetworkHandler {
	routes := domain.RouteSet{}
	routes.Add(domain.NewRoute(domain.Route{ID: "L22", Name: "22", LongName: "Bílá Hora - Nádraží Hostivař", Type: domain.RouteTypeTram, Lines: [][]geo.Coordinate{{pt(50.07, 14.40), pt(50.08, 14.42)}}}))
	routes.Add(domain.NewRoute(domain.Route{ID: "L991", Name: "A", Type: domain.RouteTypeSubway, Color: color.RGBA{R: 0, G: 0xA5, B: 0x62, A: 255}, Lines: [][]geo.Coordinate{{pt(50.07, 14.30), pt(50.08, 14.50)}}}))
	routes.Add(domain.NewRoute(domain.Route{ID: "L300", Name: "300", Type: domain.RouteTypeBus, IsRegional: true, Lines: [][]geo.Coordinate{{pt(49.9, 14.9), pt(49.95, 15.0)}}}))

	stops := &fakeStops{stops: []*domain.Stop{
		{ID: "Anděl", Name: "Anděl", Location: pt(50.0706, 14.4036), Lines: []domain.StopLine{{Type: domain.RouteTypeTram, Name: "9"}}},
		{ID: "Muzeum", Name: "Muzeum", Location: pt(50.0793, 14.4308), Lines: []domain.StopLine{{Type: domain.RouteTypeSubway, Name: "A"}}},
	}}
	return NewNetworkHandler(
		[]RouteSource{&fakeRoutes{name: "pid-routes", set: routes}, &fakeRoutes{name: "broken", err: errors.New("down")}},
		[]StopSource{stops},
		testLogger(),
	)
}

func TestListRoutes(t *testing.T) {
	h := networkHandler()

	rec := httptest.NewRecorder()
	h.ListRoutes(rec, httptest.NewRequest(http.MethodGet, "/v1/routes", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RoutesResponse](t, rec)
	require.Equal(t, 3, resp.Count)
	assert.Equal(t, "300", resp.Routes[0].Name, "sorted by type name, bus first")

	rec = httptest.NewRecorder()
	h.ListRoutes(rec, httptest.NewRequest(http.MethodGet, "/v1/routes?bbox=50,14.35,50.1,14.45&hideRegional=true", nil))
	resp = decode[RoutesResponse](t, rec)
	require.Equal(t, 2, resp.Count)

	rec = httptest.NewRecorder()
	h.ListRoutes(rec, httptest.NewRequest(http.MethodGet, "/v1/routes?query=subway", nil))
	resp = decode[RoutesResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "A", resp.Routes[0].Name)
	assert.Equal(t, "#00A562", resp.Routes[0].Color)
	assert.Equal(t, "pid-routes", resp.Routes[0].Source)
}

func TestGetRoute(t *testing.T) {
	h := networkHandler()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/routes/{line}", h.GetRoute)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/22", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[RoutesResponse](t, rec)
	require.Len(t, resp.Routes, 1)
	assert.Equal(t, "tram", resp.Routes[0].Type)
	assert.Empty(t, resp.Routes[0].Color)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/routes/99", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStops(t *testing.T) {
	h := networkHandler()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stops", h.ListStops)
	mux.HandleFunc("GET /v1/stops/{id}", h.GetStop)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stops", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stops?bbox=50,14.3,50.1,14.5&query=subway%20A", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StopsResponse](t, rec)
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "Muzeum", resp.Stops[0].ID)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stops/And%C4%9Bl", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Anděl", decode[domain.Stop](t, rec).Name)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stops/Nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type flag bool

func (f flag) IsReady() bool { return bool(f) }
func (f flag) Ready() bool   { return bool(f) }

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler(flag(true), flag(true)).Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	NewHealthHandler(flag(true), flag(true)).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	NewHealthHandler(flag(true), flag(false)).Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[ReadyResponse](t, rec)
	assert.True(t, resp.IngestorUp)
	assert.False(t, resp.SourcesReady)
}

type fakeSourceStats struct{}

func (fakeSourceStats) Stats() []cache.RefresherStats {
	return []cache.RefresherStats{{Name: "pid-routes", Ready: true, Fetches: 3, LastUpdate: time.Unix(0, 0).UTC()}}
}

func (fakeSourceStats) TileStats() (vectortile.Stats, bool) {
	return vectortile.Stats{Cached: 4, CacheHits: 3, CacheMisses: 1}, true
}

type counts int

func (c counts) ViewCount() int   { return int(c) }
func (c counts) ClientCount() int { return int(c) }

func TestStats(t *testing.T) {
	h := NewStatsHandler(fakeSourceStats{}, counts(2), counts(5), nil)
	rec := httptest.NewRecorder()
	h.GetStats(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[StatsResponse](t, rec)
	assert.Equal(t, 2, resp.Server.Views)
	assert.Equal(t, 5, resp.WebSocket.Clients)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "pid-routes", resp.Providers[0].Name)
	require.NotNil(t, resp.Tiles)
	assert.Equal(t, 4, resp.Tiles.Cached)
	assert.InDelta(t, 0.75, resp.Tiles.HitRatio, 1e-9)
	assert.Nil(t, resp.RateLimit)
}

func TestCORSMiddleware(t *testing.T) {
	called := false
	h := CORSMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/frame", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.False(t, called)
}
