// Package vectortile downloads, stores and decodes Mapbox vector tiles.
package vectortile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"transitty/internal/geo"
)

const (
	DefaultURL = "https://a.tile.thunderforest.com/thunderforest.transport-v2/{z}/{x}/{y}.vector.pbf?apikey={key}"
	MaxZoom    = 14
)

var (
	ErrZoomTooHigh = errors.New("zoom level is too high")
	ErrEmptyTile   = errors.New("empty tile response")
)

type Client struct {
	urlTemplate string
	apiKey      string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a tile client. urlTemplate may contain {z}, {x}, {y} and
// {key} placeholders; an empty template selects DefaultURL.
func NewClient(urlTemplate, apiKey string, logger *slog.Logger) *Client {
	if urlTemplate == "" {
		urlTemplate = DefaultURL
	}
	return &Client{
		urlTemplate: urlTemplate,
		apiKey:      apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.With("component", "tile_client"),
	}
}

func (c *Client) tileURL(t geo.TileCoord) string {
	return strings.NewReplacer(
		"{z}", strconv.Itoa(t.Z),
		"{x}", strconv.Itoa(t.X),
		"{y}", strconv.Itoa(t.Y),
		"{key}", c.apiKey,
	).Replace(c.urlTemplate)
}

// Download returns the uncompressed protobuf of tile t.
func (c *Client) Download(ctx context.Context, t geo.TileCoord) ([]byte, error) {
	if t.Z > MaxZoom {
		return nil, fmt.Errorf("%w: %d", ErrZoomTooHigh, t.Z)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tileURL(t), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/x-protobuf")

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
	if len(data) == 0 {
		return nil, ErrEmptyTile
	}

	data, err = gunzip(data)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("downloaded tile",
		"tile", t.String(),
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return data, nil
}

func isGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}

// gunzip decompresses data when it carries a gzip header and returns it
// unchanged otherwise.
func gunzip(data []byte) ([]byte, error) {
	if !isGzip(data) {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip: %w", err)
	}
	defer zr.Close()

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompressing tile: %w", err)
	}
	return out, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
