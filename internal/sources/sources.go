// Package sources builds the data providers named by the configuration and
// wraps them in refreshers the renderer can draw from.
package sources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"transitty/internal/cache"
	"transitty/internal/config"
	"transitty/internal/domain"
	"transitty/internal/location"
	"transitty/internal/render"
	"transitty/pkg/gtfs"
	"transitty/pkg/gtfsrt"
	"transitty/pkg/pid"
	"transitty/pkg/vectortile"
)

const liveRequestScale = 2

type liveFetcher struct {
	name  string
	fetch cache.FetchFunc[domain.VehicleSet]
}

// Sources owns every provider of one process.
type Sources struct {
	cfg    *config.Config
	logger *slog.Logger

	Tiles    *vectortile.Provider
	Routes   []*cache.Refresher[domain.RouteSet]
	Stops    []*IndexedStops
	Location *cache.Refresher[domain.Location]
	// Lines is set when the location follows a line named by the query.
	Lines *location.LineFinder

	live      []liveFetcher
	bodyCache cache.BodyCache
	tileStore *vectortile.Store
	closers   []func() error
}

// Build creates the providers enabled in cfg. Nothing is fetched until a
// refresher is first asked for data.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Sources, error) {
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	s := &Sources{cfg: cfg, logger: logger.With("component", "sources")}

	if err := s.buildBodyCache(cfg, logger); err != nil {
		return nil, err
	}
	s.buildTiles(ctx, cfg, logger)

	if cfg.PIDEnabled {
		client := pid.New(pid.Options{
			GeodataURL: cfg.PIDGeodataURL,
			StopsURL:   cfg.PIDStopsURL,
			LiveURL:    cfg.PIDLiveURL,
			Cache:      s.bodyCache,
			CacheTTL:   cfg.CacheTTL,
		}, logger)
		s.Routes = append(s.Routes, cache.NewRefresher("pid-routes", cfg.RoutesRefreshInterval, client.Routes, logger))
		s.Stops = append(s.Stops, NewIndexedStops(cache.NewRefresher("pid-stops", cfg.StopsRefreshInterval, client.Stops, logger)))
		s.live = append(s.live, liveFetcher{name: "pid-live", fetch: client.Vehicles})
	}

	var resolver gtfsrt.RouteResolver
	if cfg.GTFSEnabled() {
		feed := gtfs.NewSource(cfg.GTFSURL, filepath.Join(cfg.CacheDir, "gtfs"), cfg.GTFSUpdateInterval, logger)
		s.Routes = append(s.Routes, cache.NewRefresher("gtfs-routes", cfg.RoutesRefreshInterval, feed.Routes, logger))
		s.Stops = append(s.Stops, NewIndexedStops(cache.NewRefresher("gtfs-stops", cfg.StopsRefreshInterval, feed.Stops, logger)))
		resolver = feed
	}
	if cfg.GTFSRTURL != "" {
		client := gtfsrt.New(cfg.GTFSRTURL, resolver, logger)
		s.live = append(s.live, liveFetcher{name: "gtfsrt-live", fetch: client.Vehicles})
	}

	switch cfg.LocationSource {
	case config.LocationCDWiFi:
		cd := location.NewCDWiFi(cfg.CDWiFiURL, logger)
		s.Location = cache.NewRefresher("cdwifi", cfg.LocationRefreshInterval, cd.Locate, logger)
	case config.LocationLine:
		getters := make([]location.RouteGetter, 0, len(s.Routes))
		for _, r := range s.Routes {
			getters = append(getters, r)
		}
		s.Lines = location.NewLineFinder(getters...)
		s.Location = cache.NewRefresher("line", cfg.LocationRefreshInterval, s.Lines.Locate, logger)
	}

	s.logger.Info("sources ready",
		"routes", len(s.Routes),
		"stops", len(s.Stops),
		"live", len(s.live),
		"tiles", s.Tiles != nil,
		"location", cfg.LocationSource,
	)
	return s, nil
}

func (s *Sources) buildBodyCache(cfg *config.Config, logger *slog.Logger) error {
	if cfg.RedisEnabled {
		rc, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
		if err == nil {
			s.bodyCache = rc
			s.closers = append(s.closers, rc.Close)
			return nil
		}
		s.logger.Warn("redis unavailable, using file cache", "addr", cfg.RedisAddr, "error", err)
	}

	fc, err := cache.NewFileCache(filepath.Join(cfg.CacheDir, "bodies"), logger)
	if err != nil {
		return fmt.Errorf("creating file cache: %w", err)
	}
	s.bodyCache = fc
	return nil
}

func (s *Sources) buildTiles(ctx context.Context, cfg *config.Config, logger *slog.Logger) {
	store, err := vectortile.OpenStore(ctx, cfg.TileStorePath, logger)
	if err != nil {
		s.logger.Warn("tile store unavailable, tiles will not persist", "path", cfg.TileStorePath, "error", err)
		store = nil
	} else {
		s.tileStore = store
		s.closers = append(s.closers, store.Close)
	}

	client := vectortile.NewClient(cfg.TileURL, cfg.ThunderforestAPIKey, logger)
	s.Tiles = vectortile.NewProvider(client, store, cfg.TileCacheSize, logger)
}

// NewLive creates one live refresher per live provider. Each follows the
// requests of a single view, so every view needs its own set.
func (s *Sources) NewLive() []*cache.Refresher[domain.VehicleSet] {
	out := make([]*cache.Refresher[domain.VehicleSet], 0, len(s.live))
	for _, l := range s.live {
		out = append(out, cache.NewRefresher(l.name, s.cfg.LiveRefreshInterval, l.fetch, s.logger, cache.WithRequestScale(liveRequestScale)))
	}
	return out
}

// Renderer returns a renderer drawing from these sources and the given live
// refreshers.
func (s *Sources) Renderer(live []*cache.Refresher[domain.VehicleSet], logger *slog.Logger, opts ...render.Option) *render.Renderer {
	routes := make([]render.RouteSource, 0, len(s.Routes))
	for _, r := range s.Routes {
		routes = append(routes, r)
	}
	stops := make([]render.StopSource, 0, len(s.Stops))
	for _, st := range s.Stops {
		stops = append(stops, st)
	}
	liveSources := make([]render.LiveSource, 0, len(live))
	for _, l := range live {
		liveSources = append(liveSources, l)
	}

	var tiles render.TileSource
	if s.Tiles != nil {
		tiles = s.Tiles
	}
	return render.New(tiles, routes, stops, liveSources, logger, opts...)
}

// Warm loads every route and stop provider once, so the server reports ready
// before the first client asks for a frame.
func (s *Sources) Warm(ctx context.Context, req domain.Request) {
	for _, r := range s.Routes {
		if _, err := r.Get(ctx, req); err != nil {
			s.logger.Warn("warming routes failed", "provider", r.Name(), "error", err)
		}
	}
	for _, st := range s.Stops {
		if _, err := st.Get(ctx, req); err != nil {
			s.logger.Warn("warming stops failed", "provider", st.Name(), "error", err)
		}
	}
}

// FetchVehicles asks every live provider directly, bypassing the refreshers.
// A failing provider does not hide the vehicles of the others.
func (s *Sources) FetchVehicles(ctx context.Context, req domain.Request) (domain.VehicleSet, error) {
	result := make(domain.VehicleSet)
	var errs []error
	for _, l := range s.live {
		vehicles, err := l.fetch(ctx, req)
		if err != nil {
			errs = append(errs, fmt.Errorf("provider %s: %w", l.name, err))
			continue
		}
		for _, v := range vehicles.All() {
			result.Add(v)
		}
	}
	return result, errors.Join(errs...)
}

// TileStats reports the tile cache counters, or false when tiles are disabled.
func (s *Sources) TileStats() (vectortile.Stats, bool) {
	if s.Tiles == nil {
		return vectortile.Stats{}, false
	}
	return s.Tiles.Stats(), true
}

// StartMaintenance purges stale daily datasets from the body cache after
// every midnight until ctx is done.
func (s *Sources) StartMaintenance(ctx context.Context) {
	go cache.NewPurger(s.bodyCache, s.logger).ScheduleMidnightPurge(ctx)
}

func (s *Sources) Stats() []cache.RefresherStats {
	var stats []cache.RefresherStats
	for _, r := range s.Routes {
		stats = append(stats, r.Stats())
	}
	for _, st := range s.Stops {
		stats = append(stats, st.Stats())
	}
	if s.Location != nil {
		stats = append(stats, s.Location.Stats())
	}
	return stats
}

// Ready reports whether every route provider has data.
func (s *Sources) Ready() bool {
	for _, r := range s.Routes {
		if !r.IsReady() {
			return false
		}
	}
	return true
}

// Close stops the refreshers and releases stores.
func (s *Sources) Close() error {
	for _, r := range s.Routes {
		r.Stop()
	}
	for _, st := range s.Stops {
		st.Stop()
	}
	if s.Location != nil {
		s.Location.Stop()
	}

	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
