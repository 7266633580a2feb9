// Package gtfs loads route geometry and stops from a static GTFS archive.
package gtfs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"transitty/internal/domain"
)

// Feed is the part of a GTFS archive the map needs.
type Feed struct {
	Routes     domain.RouteSet
	Stops      []*domain.Stop
	RouteTypes map[string]domain.RouteType // route_id -> type
	RouteNames map[string]string           // route_id -> display name
	TripRoutes map[string]string           // trip_id -> route_id
}

// RouteFor returns the type and display name of the route running tripID, or
// of routeID when the trip is unknown.
func (f *Feed) RouteFor(tripID, routeID string) (domain.RouteType, string, bool) {
	if id, ok := f.TripRoutes[tripID]; ok {
		routeID = id
	}
	t, ok := f.RouteTypes[routeID]
	if !ok {
		return domain.RouteTypeOther, "", false
	}
	return t, f.RouteNames[routeID], true
}

// Source downloads the archive at most once per update interval and keeps the
// last parsed feed.
type Source struct {
	downloader     *Downloader
	parser         *Parser
	cache          *parseCache
	updateInterval time.Duration
	logger         *slog.Logger
	now            func() time.Time

	mu       sync.Mutex
	feed     *Feed
	cached   *cachedFeed
	restored bool
	loadedAt time.Time
}

func NewSource(url, cacheDir string, updateInterval time.Duration, logger *slog.Logger) *Source {
	return &Source{
		downloader:     NewDownloader(url, logger),
		parser:         NewParser(logger),
		cache:          newParseCache(cacheDir, url),
		updateInterval: updateInterval,
		logger:         logger.With("component", "gtfs_source"),
		now:            time.Now,
	}
}

// Feed returns the current feed, downloading a new one when the last is older
// than the update interval. When an update fails the previous feed is kept.
func (s *Source) Feed(ctx context.Context) (*Feed, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.feed != nil && s.now().Sub(s.loadedAt) < s.updateInterval {
		return s.feed, nil
	}

	if !s.restored {
		s.restored = true
		s.restore()
	}

	feed, err := s.load(ctx)
	if errors.Is(err, ErrNotModified) && s.feed != nil {
		s.loadedAt = s.now()
		return s.feed, nil
	}
	if err != nil {
		if s.feed != nil {
			s.logger.Warn("GTFS update failed, keeping previous feed", "error", err)
			return s.feed, nil
		}
		return nil, err
	}

	s.feed = feed
	s.loadedAt = s.now()
	return feed, nil
}

// restore serves the feed saved by a previous run until the first download
// completes and lets that download be conditional.
func (s *Source) restore() {
	entry, err := s.cache.load()
	if err != nil {
		s.logger.Info("no parsed GTFS cache", "path", s.cache.path, "error", err)
		return
	}
	s.cached = entry
	s.feed = entry.Feed
	s.downloader.SetValidators(entry.ETag, entry.LastModified)
	s.logger.Info("restored parsed GTFS cache", "path", s.cache.path, "saved_at", entry.SavedAt)
}

func (s *Source) load(ctx context.Context) (*Feed, error) {
	start := time.Now()

	archive, err := s.downloader.Download(ctx)
	if err != nil {
		return nil, err
	}

	var feed *Feed
	if s.cached != nil && s.cached.Fingerprint == archive.Fingerprint {
		s.logger.Info("GTFS archive unchanged, reusing parsed feed", "fingerprint", archive.Fingerprint[:12])
		feed = s.cached.Feed
	} else {
		feed, err = s.parser.Parse(archive.Zip)
		if err != nil {
			return nil, fmt.Errorf("parse gtfs: %w", err)
		}
	}

	entry := &cachedFeed{
		Fingerprint:  archive.Fingerprint,
		ETag:         archive.ETag,
		LastModified: archive.LastModified,
		SavedAt:      s.now(),
		Feed:         feed,
	}
	if err := s.cache.save(entry); err != nil {
		s.logger.Warn("failed to persist parsed GTFS cache", "error", err)
	}
	s.cached = entry

	s.logger.Info("GTFS update completed",
		"routes", feed.Routes.Count(),
		"stops", len(feed.Stops),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return feed, nil
}

func (s *Source) Routes(ctx context.Context, _ domain.Request) (domain.RouteSet, error) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return feed.Routes, nil
}

func (s *Source) Stops(ctx context.Context, _ domain.Request) ([]*domain.Stop, error) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return nil, err
	}
	return feed.Stops, nil
}

// ResolveRoute looks up the route of a realtime trip in the current feed.
func (s *Source) ResolveRoute(ctx context.Context, tripID, routeID string) (domain.RouteType, string, bool) {
	feed, err := s.Feed(ctx)
	if err != nil {
		return domain.RouteTypeOther, "", false
	}
	return feed.RouteFor(tripID, routeID)
}
