package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	LocationNone   = ""
	LocationCDWiFi = "cdwifi"
	LocationLine   = "line"
)

type Config struct {
	LogLevel   slog.Level
	LogFile    string
	CacheDir   string
	ViewConfig string

	ThunderforestAPIKey string
	TileURL             string
	TileCacheSize       int
	TileStorePath       string

	PIDEnabled    bool
	PIDGeodataURL string
	PIDStopsURL   string
	PIDLiveURL    string

	GTFSURL            string
	GTFSRTURL          string
	GTFSUpdateInterval time.Duration

	RoutesRefreshInterval time.Duration
	StopsRefreshInterval  time.Duration
	LiveRefreshInterval   time.Duration

	LocationSource          string
	LocationRefreshInterval time.Duration
	CDWiFiURL               string

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	FrameInterval   time.Duration
	ViewIdleTimeout time.Duration

	RateLimitPerWindow int
	RateLimitWindow    time.Duration
	RateLimitWhitelist []string
}

// GTFSEnabled reports whether a static GTFS feed is configured.
func (c *Config) GTFSEnabled() bool {
	return c.GTFSURL != ""
}

// Load reads the configuration from the environment, after applying a .env
// file from the working directory if there is one.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cacheDir := os.Getenv("CACHE_DIR")
	if cacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			return nil, fmt.Errorf("CACHE_DIR is not set and no user cache dir: %w", err)
		}
		cacheDir = filepath.Join(base, "transitty")
	}

	cfg := &Config{
		LogLevel:   getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		LogFile:    getEnv("LOG_FILE", filepath.Join(cacheDir, "transitty.log")),
		CacheDir:   cacheDir,
		ViewConfig: getEnv("VIEW_CONFIG", filepath.Join(cacheDir, "view.yaml")),

		ThunderforestAPIKey: getEnv("THUNDERFOREST_API_KEY", ""),
		TileURL:             getEnv("TILE_URL", "https://a.tile.thunderforest.com/thunderforest.transport-v2/{z}/{x}/{y}.vector.pbf?apikey={key}"),
		TileCacheSize:       getIntEnv("TILE_CACHE_SIZE", 256),
		TileStorePath:       getEnv("TILE_STORE", filepath.Join(cacheDir, "tiles.mbtiles")),

		PIDEnabled:    getBoolEnv("PID_ENABLED", true),
		PIDGeodataURL: getEnv("PID_GEODATA_URL", "https://data.pid.cz/geodata/Linky_WGS84.json"),
		PIDStopsURL:   getEnv("PID_STOPS_URL", "https://data.pid.cz/stops/json/stops.json"),
		PIDLiveURL:    getEnv("PID_LIVE_URL", "https://mapa.pid.cz/getData.php"),

		GTFSURL:            getEnv("GTFS_URL", ""),
		GTFSRTURL:          getEnv("GTFS_RT_URL", ""),
		GTFSUpdateInterval: getDurationEnv("GTFS_UPDATE_INTERVAL", 24*time.Hour),

		RoutesRefreshInterval: getDurationEnv("ROUTES_REFRESH_INTERVAL", 30*time.Second),
		StopsRefreshInterval:  getDurationEnv("STOPS_REFRESH_INTERVAL", 60*time.Second),
		LiveRefreshInterval:   getDurationEnv("LIVE_REFRESH_INTERVAL", time.Second),

		LocationSource:          strings.ToLower(getEnv("LOCATION_SOURCE", LocationNone)),
		LocationRefreshInterval: getDurationEnv("LOCATION_REFRESH_INTERVAL", 3*time.Second),
		CDWiFiURL:               getEnv("CDWIFI_URL", "http://cdwifi.cz/portal/api/vehicle/info"),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 24*time.Hour),

		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		FrameInterval:   getDurationEnv("FRAME_INTERVAL", time.Second),
		ViewIdleTimeout: getDurationEnv("VIEW_IDLE_TIMEOUT", 2*time.Minute),

		RateLimitPerWindow: getIntEnv("RATE_LIMIT_PER_WINDOW", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnv("RATE_LIMIT_WHITELIST"),
	}

	switch cfg.LocationSource {
	case LocationNone, LocationCDWiFi, LocationLine:
	default:
		return nil, fmt.Errorf("LOCATION_SOURCE must be %q or %q, got %q", LocationCDWiFi, LocationLine, cfg.LocationSource)
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnv(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
