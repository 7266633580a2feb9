package gtfs

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ErrNotModified is returned by Download when the server reports the archive
// unchanged since the last successful download.
var ErrNotModified = errors.New("gtfs archive not modified")

// Downloader fetches a GTFS archive. It remembers the validators of the last
// download and sends them with the next request.
type Downloader struct {
	url    string
	client *http.Client
	logger *slog.Logger

	mu           sync.Mutex
	etag         string
	lastModified string
}

// Archive is one downloaded GTFS zip.
type Archive struct {
	Zip          *zip.Reader
	Fingerprint  string
	ETag         string
	LastModified string
}

func NewDownloader(url string, logger *slog.Logger) *Downloader {
	return &Downloader{
		url: url,
		client: &http.Client{
			Timeout: 2 * time.Minute,
		},
		logger: logger.With("component", "gtfs_downloader"),
	}
}

// SetValidators primes the validators sent with the next request, for example
// from a feed restored from disk.
func (d *Downloader) SetValidators(etag, lastModified string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.etag = etag
	d.lastModified = lastModified
}

// Download fetches and opens the archive.
func (d *Downloader) Download(ctx context.Context) (*Archive, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "transitty/1.0")

	d.mu.Lock()
	if d.etag != "" {
		req.Header.Set("If-None-Match", d.etag)
	}
	if d.lastModified != "" {
		req.Header.Set("If-Modified-Since", d.lastModified)
	}
	d.mu.Unlock()

	d.logger.Info("starting GTFS download", "url", d.url, "conditional", req.Header.Get("If-None-Match") != "" || req.Header.Get("If-Modified-Since") != "")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("downloading gtfs: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotModified:
		d.logger.Info("GTFS archive not modified", "duration_ms", time.Since(start).Milliseconds())
		return nil, ErrNotModified
	default:
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body: %w", err)
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	archive := &Archive{
		Zip:          reader,
		Fingerprint:  archiveFingerprint(data),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
	}
	d.SetValidators(archive.ETag, archive.LastModified)

	d.logger.Info("GTFS download completed",
		"size_mb", fmt.Sprintf("%.2f", float64(len(data))/(1024*1024)),
		"files_in_archive", len(reader.File),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return archive, nil
}
