package handler

import (
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"transitty/internal/cache"
	"transitty/pkg/vectortile"
)

// Stats tracks server-wide metrics
type Stats struct {
	startTime     time.Time
	requestCount  atomic.Int64
	wsConnections atomic.Int64
	wsMessagesIn  atomic.Int64
	wsMessagesOut atomic.Int64
}

// Global stats instance
var ServerStats = &Stats{
	startTime: time.Now(),
}

func (s *Stats) IncRequests()      { s.requestCount.Add(1) }
func (s *Stats) IncWSConnections() { s.wsConnections.Add(1) }
func (s *Stats) DecWSConnections() { s.wsConnections.Add(-1) }
func (s *Stats) IncWSMessagesIn()  { s.wsMessagesIn.Add(1) }
func (s *Stats) IncWSMessagesOut() { s.wsMessagesOut.Add(1) }

type SourceStats interface {
	Stats() []cache.RefresherStats
	TileStats() (vectortile.Stats, bool)
}

type ViewCounter interface {
	ViewCount() int
}

type ClientCounter interface {
	ClientCount() int
}

type RateLimitStats interface {
	Stats() map[string]interface{}
}

type StatsHandler struct {
	sources   SourceStats
	views     ViewCounter
	clients   ClientCounter
	rateLimit RateLimitStats
}

func NewStatsHandler(sources SourceStats, views ViewCounter, clients ClientCounter, rateLimit RateLimitStats) *StatsHandler {
	return &StatsHandler{
		sources:   sources,
		views:     views,
		clients:   clients,
		rateLimit: rateLimit,
	}
}

type StatsResponse struct {
	Server    ServerStatsResponse    `json:"server"`
	Providers []cache.RefresherStats `json:"providers"`
	Tiles     *TileStatsResponse     `json:"tiles,omitempty"`
	WebSocket WebSocketStatsResponse `json:"websocket"`
	RateLimit map[string]interface{} `json:"rate_limit,omitempty"`
	Go        GoStatsResponse        `json:"go"`
}

type ServerStatsResponse struct {
	Uptime        string    `json:"uptime"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartTime     time.Time `json:"start_time"`
	RequestCount  int64     `json:"request_count"`
	Views         int       `json:"views"`
	Version       string    `json:"version"`
}

type TileStatsResponse struct {
	vectortile.Stats
	HitRatio float64 `json:"hit_ratio"`
}

type WebSocketStatsResponse struct {
	Connections int64 `json:"connections"`
	Clients     int   `json:"clients"`
	MessagesIn  int64 `json:"messages_in"`
	MessagesOut int64 `json:"messages_out"`
}

type GoStatsResponse struct {
	Goroutines  int     `json:"goroutines"`
	HeapAlloc   uint64  `json:"heap_alloc_bytes"`
	HeapAllocMB float64 `json:"heap_alloc_mb"`
	NumGC       uint32  `json:"num_gc"`
	GoVersion   string  `json:"go_version"`
}

func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	uptime := time.Since(ServerStats.startTime)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	providers := h.sources.Stats()
	if providers == nil {
		providers = []cache.RefresherStats{}
	}

	response := StatsResponse{
		Server: ServerStatsResponse{
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			StartTime:     ServerStats.startTime,
			RequestCount:  ServerStats.requestCount.Load(),
			Views:         h.views.ViewCount(),
			Version:       "1.0.0",
		},
		Providers: providers,
		WebSocket: WebSocketStatsResponse{
			Connections: ServerStats.wsConnections.Load(),
			Clients:     h.clients.ClientCount(),
			MessagesIn:  ServerStats.wsMessagesIn.Load(),
			MessagesOut: ServerStats.wsMessagesOut.Load(),
		},
		Go: GoStatsResponse{
			Goroutines:  runtime.NumGoroutine(),
			HeapAlloc:   mem.HeapAlloc,
			HeapAllocMB: float64(mem.HeapAlloc) / 1024 / 1024,
			NumGC:       mem.NumGC,
			GoVersion:   runtime.Version(),
		},
	}

	if tiles, ok := h.sources.TileStats(); ok {
		resp := &TileStatsResponse{Stats: tiles}
		if total := tiles.CacheHits + tiles.CacheMisses; total > 0 {
			resp.HitRatio = float64(tiles.CacheHits) / float64(total)
		}
		response.Tiles = resp
	}
	if h.rateLimit != nil {
		response.RateLimit = h.rateLimit.Stats()
	}

	w.Header().Set("Cache-Control", "no-cache")
	respondJSON(w, http.StatusOK, response)
}
