package gtfs

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
)

// parseCacheVersion is bumped whenever Feed changes shape.
const parseCacheVersion = 2

var errStaleParseCache = errors.New("parsed feed cache is stale")

// cachedFeed is the parsed feed of one URL together with what is needed to
// ask the server whether it changed.
type cachedFeed struct {
	Version      int
	URL          string
	Fingerprint  string
	ETag         string
	LastModified string
	SavedAt      time.Time
	Feed         *Feed
}

// parseCache keeps the last parsed feed of a single URL on disk, so a restart
// can serve it at once and revalidate with a conditional request.
type parseCache struct {
	url  string
	path string
}

func newParseCache(dir, url string) *parseCache {
	sum := sha256.Sum256([]byte(url))
	name := "feed_" + hex.EncodeToString(sum[:8]) + ".gob.gz"
	return &parseCache{url: url, path: filepath.Join(dir, name)}
}

func archiveFingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *parseCache) load() (*cachedFeed, error) {
	f, err := os.Open(c.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening parsed feed: %w", err)
	}
	defer zr.Close()

	var entry cachedFeed
	if err := gob.NewDecoder(zr).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decoding parsed feed: %w", err)
	}
	if entry.Version != parseCacheVersion || entry.URL != c.url {
		return nil, errStaleParseCache
	}
	if entry.Feed == nil || entry.Feed.Routes == nil || entry.Feed.RouteTypes == nil {
		return nil, fmt.Errorf("parsed feed is incomplete")
	}
	return &entry, nil
}

// save replaces the entry through a temporary file in the same directory.
func (c *parseCache) save(entry *cachedFeed) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	entry.Version = parseCacheVersion
	entry.URL = c.url

	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return err
	}
	zw, _ := gzip.NewWriterLevel(tmp, gzip.BestSpeed)
	err = errors.Join(gob.NewEncoder(zw).Encode(entry), zw.Close(), tmp.Close())
	if err == nil {
		err = os.Rename(tmp.Name(), c.path)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("saving parsed feed: %w", err)
	}
	return nil
}
