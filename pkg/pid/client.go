// Package pid reads route geometry, stops and live vehicle positions of
// Prague Integrated Transport (PID).
package pid

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"transitty/internal/cache"
	"transitty/internal/domain"
)

const (
	DefaultGeodataURL = "https://data.pid.cz/geodata/Linky_WGS84.json"
	DefaultStopsURL   = "https://data.pid.cz/stops/json/stops.json"
	DefaultLiveURL    = "https://mapa.pid.cz/getData.php"
)

type Options struct {
	GeodataURL string
	StopsURL   string
	LiveURL    string
	// Cache keeps the daily datasets across restarts. It may be nil.
	Cache    cache.BodyCache
	CacheTTL time.Duration
}

type Client struct {
	geodataURL string
	stopsURL   string
	liveURL    string
	cache      cache.BodyCache
	cacheTTL   time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	routesDay string
	routes    domain.RouteSet
	stopsDay  string
	stops     []*domain.Stop
}

func New(opts Options, logger *slog.Logger) *Client {
	c := &Client{
		geodataURL: opts.GeodataURL,
		stopsURL:   opts.StopsURL,
		liveURL:    opts.LiveURL,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "pid_client"),
		now:    time.Now,
	}
	if c.geodataURL == "" {
		c.geodataURL = DefaultGeodataURL
	}
	if c.stopsURL == "" {
		c.stopsURL = DefaultStopsURL
	}
	if c.liveURL == "" {
		c.liveURL = DefaultLiveURL
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = 24 * time.Hour
	}
	return c
}

func (c *Client) today() string {
	return c.now().Format("2006-01-02")
}

// dailyBody returns the body of url, reading it from the cache under key when
// it was already fetched today.
func (c *Client) dailyBody(ctx context.Context, url, key string) ([]byte, error) {
	if c.cache != nil {
		data, err := c.cache.Get(ctx, key)
		if err != nil {
			c.logger.Warn("cache read failed", "key", key, "error", err)
		} else if data != nil {
			return data, nil
		}
	}

	start := time.Now()
	data, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	c.logger.Info("downloaded dataset",
		"url", url,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, data, c.cacheTTL); err != nil {
			c.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return data, nil
}
