package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"transitty/internal/canvas"
	"transitty/internal/config"
	"transitty/internal/geo"
	"transitty/internal/handler"
	"transitty/internal/hub"
	"transitty/internal/ingestor"
	"transitty/internal/middleware"
	"transitty/internal/sources"
)

// warmFrameSize is the canvas of an 80x40 character frame, the default of
// GET /v1/frame.
var warmFrameSize = geo.Size{Width: 80 / canvas.CellWidth, Height: 40}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("starting transitty server",
		"log_level", cfg.LogLevel.String(),
		"http_addr", cfg.HTTPAddr,
		"pid_enabled", cfg.PIDEnabled,
		"gtfs_enabled", cfg.GTFSEnabled(),
		"redis_enabled", cfg.RedisEnabled,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src, err := sources.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build sources", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Error("closing sources failed", "error", err)
		}
	}()

	wsHub := hub.NewHub(logger)
	newView := func() (ingestor.MapRenderer, func()) {
		live := src.NewLive()
		release := func() {
			for _, l := range live {
				l.Stop()
			}
		}
		return src.Renderer(live, logger), release
	}
	ing := ingestor.New(newView, wsHub, cfg, logger)

	routes := make([]handler.RouteSource, 0, len(src.Routes))
	for _, r := range src.Routes {
		routes = append(routes, r)
	}
	stops := make([]handler.StopSource, 0, len(src.Stops))
	for _, s := range src.Stops {
		stops = append(stops, s)
	}

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimitPerWindow, cfg.RateLimitWindow, cfg.RateLimitWhitelist, logger)
	defer rateLimiter.Close()

	httpHandler := handler.NewHTTPHandler(ing, src, logger)
	networkHandler := handler.NewNetworkHandler(routes, stops, logger)
	wsHandler := handler.NewWSHandler(wsHub, ing, logger)
	healthHandler := handler.NewHealthHandler(ing, src)
	statsHandler := handler.NewStatsHandler(src, ing, wsHub, rateLimiter)

	gzip := func(h http.HandlerFunc) http.Handler {
		return handler.GzipMiddleware(h)
	}

	mux := http.NewServeMux()

	mux.Handle("GET /v1/frame", rateLimiter.Middleware(gzip(httpHandler.Frame)))
	mux.Handle("GET /v1/vehicles", rateLimiter.Middleware(gzip(httpHandler.ListVehicles)))
	mux.HandleFunc("/v1/ws", wsHandler.ServeWS)

	mux.Handle("GET /v1/routes", gzip(networkHandler.ListRoutes))
	mux.Handle("GET /v1/routes/{line}", gzip(networkHandler.GetRoute))
	mux.Handle("GET /v1/stops", gzip(networkHandler.ListStops))
	mux.HandleFunc("GET /v1/stops/{id}", networkHandler.GetStop)

	mux.HandleFunc("GET /v1/stats", statsHandler.GetStats)
	mux.HandleFunc("GET /healthz", healthHandler.Healthz)
	mux.HandleFunc("GET /readyz", healthHandler.Readyz)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.LoggingMiddleware(logger)(handler.CORSMiddleware(mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go wsHub.Run(ctx)

	go ing.Run(ctx)

	initial, err := config.LoadView(cfg.ViewConfig)
	if err != nil {
		logger.Warn("loading view config failed, warming with defaults", "path", cfg.ViewConfig, "error", err)
		initial = config.DefaultView()
	}
	go src.Warm(ctx, initial.Request(warmFrameSize))
	src.StartMaintenance(ctx)

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
