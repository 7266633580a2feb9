package cache

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Purger removes dated entries left over from previous days.
type Purger struct {
	cache    BodyCache
	patterns []string
	now      func() time.Time
	logger   *slog.Logger
}

func NewPurger(cache BodyCache, logger *slog.Logger) *Purger {
	return &Purger{
		cache:    cache,
		patterns: []string{PatternGeodata, PatternStops},
		now:      time.Now,
		logger:   logger.With("component", "cache_purger"),
	}
}

// PurgeStale deletes every dated entry whose date is not today. It returns
// the number of deleted keys.
func (p *Purger) PurgeStale(ctx context.Context) (int, error) {
	start := time.Now()
	today := p.now().Format(dateLayout)
	deleted := 0

	for _, pattern := range p.patterns {
		keys, err := p.cache.Keys(ctx, pattern)
		if err != nil {
			return deleted, err
		}
		for _, key := range keys {
			if strings.HasSuffix(key, ":"+today) {
				continue
			}
			if err := p.cache.Delete(ctx, key); err != nil {
				p.logger.Warn("failed to delete stale entry", "key", key, "error", err)
				continue
			}
			deleted++
		}
	}

	p.logger.Info("purged stale cache entries",
		"deleted", deleted,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return deleted, nil
}

// ScheduleMidnightPurge purges once at start and then shortly after every
// midnight until ctx is cancelled.
func (p *Purger) ScheduleMidnightPurge(ctx context.Context) {
	if _, err := p.PurgeStale(ctx); err != nil {
		p.logger.Error("cache purge failed", "error", err)
	}

	for {
		now := p.now()
		midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 5, 0, 0, now.Location())
		waitDuration := midnight.Sub(now)

		p.logger.Info("scheduled next cache purge", "at", midnight, "in", waitDuration)

		select {
		case <-ctx.Done():
			return
		case <-time.After(waitDuration):
			p.logger.Info("midnight cache purge starting")
			if _, err := p.PurgeStale(ctx); err != nil {
				p.logger.Error("midnight cache purge failed", "error", err)
			}
		}
	}
}
