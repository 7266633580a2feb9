package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CACHE_DIR", dir)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, dir, cfg.CacheDir)
	assert.Equal(t, filepath.Join(dir, "transitty.log"), cfg.LogFile)
	assert.Equal(t, filepath.Join(dir, "view.yaml"), cfg.ViewConfig)
	assert.Equal(t, 30*time.Second, cfg.RoutesRefreshInterval)
	assert.Equal(t, 60*time.Second, cfg.StopsRefreshInterval)
	assert.Equal(t, time.Second, cfg.LiveRefreshInterval)
	assert.Equal(t, 3*time.Second, cfg.LocationRefreshInterval)
	assert.True(t, cfg.PIDEnabled)
	assert.False(t, cfg.GTFSEnabled())
	assert.Equal(t, LocationNone, cfg.LocationSource)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LIVE_REFRESH_INTERVAL", "250ms")
	t.Setenv("TILE_CACHE_SIZE", "64")
	t.Setenv("PID_ENABLED", "false")
	t.Setenv("GTFS_URL", "https://example.com/gtfs.zip")
	t.Setenv("LOCATION_SOURCE", "CDWiFi")
	t.Setenv("RATE_LIMIT_WHITELIST", " 10.0.0.1, ,127.0.0.1 ")
	t.Setenv("ROUTES_REFRESH_INTERVAL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, 250*time.Millisecond, cfg.LiveRefreshInterval)
	assert.Equal(t, 64, cfg.TileCacheSize)
	assert.False(t, cfg.PIDEnabled)
	assert.True(t, cfg.GTFSEnabled())
	assert.Equal(t, LocationCDWiFi, cfg.LocationSource)
	assert.Equal(t, []string{"10.0.0.1", "127.0.0.1"}, cfg.RateLimitWhitelist)
	assert.Equal(t, 30*time.Second, cfg.RoutesRefreshInterval, "invalid values fall back to the default")
}

func TestLoadRejectsUnknownLocationSource(t *testing.T) {
	t.Setenv("CACHE_DIR", t.TempDir())
	t.Setenv("LOCATION_SOURCE", "gps")

	_, err := Load()
	assert.ErrorContains(t, err, "LOCATION_SOURCE")
}
