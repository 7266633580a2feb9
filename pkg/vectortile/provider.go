package vectortile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bluele/gcache"
	"github.com/paulmach/orb/encoding/mvt"
	"golang.org/x/sync/singleflight"

	"transitty/internal/geo"
)

// loadTimeout bounds a shared tile load once it no longer follows any caller.
const loadTimeout = 30 * time.Second

// Downloader fetches the uncompressed protobuf of one tile.
type Downloader interface {
	Download(ctx context.Context, t geo.TileCoord) ([]byte, error)
}

type Stats struct {
	Cached      int    `json:"cached"`
	CacheHits   uint64 `json:"cacheHits"`
	CacheMisses uint64 `json:"cacheMisses"`
	StoreHits   uint64 `json:"storeHits"`
	Downloads   uint64 `json:"downloads"`
}

// Provider serves decoded tiles projected to WGS84. Decoded tiles are kept in
// an LRU, raw tiles in the optional store, and concurrent requests for the
// same tile share one load.
type Provider struct {
	client Downloader
	store  *Store
	cache  gcache.Cache
	group  singleflight.Group
	logger *slog.Logger

	storeHits atomic.Uint64
	downloads atomic.Uint64
}

// NewProvider creates a provider. store may be nil.
func NewProvider(client Downloader, store *Store, cacheSize int, logger *slog.Logger) *Provider {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	return &Provider{
		client: client,
		store:  store,
		cache:  gcache.New(cacheSize).LRU().Build(),
		logger: logger.With("component", "tile_provider"),
	}
}

// Tile returns the layers of t. The result is shared between callers and must
// not be modified. A caller whose ctx ends stops waiting, but the load goes on
// for the other callers of the same tile.
func (p *Provider) Tile(ctx context.Context, t geo.TileCoord) (mvt.Layers, error) {
	key := t.String()
	if v, err := p.cache.Get(key); err == nil {
		return v.(mvt.Layers), nil
	}

	ch := p.group.DoChan(key, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()

		data, err := p.raw(loadCtx, t)
		if err != nil {
			return nil, err
		}

		layers, err := mvt.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("decoding tile: %w", err)
		}
		layers.ProjectToWGS84(t.Tile())

		if err := p.cache.Set(key, layers); err != nil {
			p.logger.Warn("failed to cache tile", "tile", key, "error", err)
		}
		return layers, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(mvt.Layers), nil
	}
}

func (p *Provider) raw(ctx context.Context, t geo.TileCoord) ([]byte, error) {
	if p.store != nil {
		data, err := p.store.Get(ctx, t)
		if err != nil {
			p.logger.Warn("tile store read failed", "tile", t.String(), "error", err)
		} else if data != nil {
			p.storeHits.Add(1)
			return data, nil
		}
	}

	data, err := p.client.Download(ctx, t)
	if err != nil {
		return nil, err
	}
	p.downloads.Add(1)

	if p.store != nil {
		if err := p.store.Put(ctx, t, data); err != nil {
			p.logger.Warn("tile store write failed", "tile", t.String(), "error", err)
		}
	}
	return data, nil
}

func (p *Provider) Stats() Stats {
	return Stats{
		Cached:      p.cache.Len(false),
		CacheHits:   p.cache.HitCount(),
		CacheMisses: p.cache.MissCount(),
		StoreHits:   p.storeHits.Load(),
		Downloads:   p.downloads.Load(),
	}
}
