// Package ingestor renders the views clients are subscribed to and broadcasts
// the frames through the hub.
package ingestor

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"transitty/internal/canvas"
	"transitty/internal/config"
	"transitty/internal/hub"
	"transitty/internal/render"
)

const renderConcurrency = 4

type MapRenderer interface {
	RenderMap(ctx context.Context, cv *canvas.Canvas, p render.Params) (*canvas.Canvas, error)
}

// ViewFactory returns a renderer for a new view and a function releasing
// whatever it holds, such as its live refreshers.
type ViewFactory func() (MapRenderer, func())

type Broadcaster interface {
	Broadcast(frames []hub.Frame)
	Subscribers(key string) int
}

type viewState struct {
	view     View
	renderer MapRenderer
	release  func()

	// lastSeen is guarded by the ingestor's mu.
	lastSeen time.Time

	mu sync.Mutex
	cv *canvas.Canvas
}

type Ingestor struct {
	newView     ViewFactory
	broadcaster Broadcaster
	scheme      render.ColorScheme
	interval    time.Duration
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu    sync.Mutex
	views map[string]*viewState

	ready   bool
	readyMu sync.RWMutex
}

func New(newView ViewFactory, broadcaster Broadcaster, cfg *config.Config, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		newView:     newView,
		broadcaster: broadcaster,
		scheme:      render.DefaultColorScheme(),
		interval:    cfg.FrameInterval,
		idleTimeout: cfg.ViewIdleTimeout,
		logger:      logger.With("component", "ingestor"),
		now:         time.Now,
		views:       make(map[string]*viewState),
	}
}

func (i *Ingestor) Run(ctx context.Context) {
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	defer i.Close()

	i.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			i.tick(ctx)
		}
	}
}

// Track registers the view, creating its renderer on first use, and returns
// its key.
func (i *Ingestor) Track(v View) string {
	i.track(v)
	return v.Key()
}

func (i *Ingestor) track(v View) *viewState {
	key := v.Key()
	i.mu.Lock()
	defer i.mu.Unlock()

	st, ok := i.views[key]
	if !ok {
		renderer, release := i.newView()
		st = &viewState{view: v, renderer: renderer, release: release}
		i.views[key] = st
		i.logger.Debug("view created", "view", key, "total", len(i.views))
	}
	st.lastSeen = i.now()
	return st
}

// Render draws one frame of v. Provider failures are reported in the frame;
// the error is set only when nothing could be drawn.
func (i *Ingestor) Render(ctx context.Context, v View) (hub.Frame, error) {
	return i.track(v).render(ctx, i.scheme)
}

func (s *viewState) render(ctx context.Context, scheme render.ColorScheme) (hub.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cv, err := s.renderer.RenderMap(ctx, s.cv, s.view.params(scheme))
	if cv == nil {
		return hub.Frame{}, err
	}
	s.cv = cv

	var b strings.Builder
	if werr := cv.Serialize(s.view.Width).WriteANSI(&b); werr != nil {
		return hub.Frame{}, werr
	}
	return hub.Frame{
		View:       s.view.Key(),
		ANSI:       b.String(),
		Width:      s.view.Width,
		Height:     s.view.Height,
		Errors:     errorMessages(err),
		RenderedAt: time.Now(),
	}, nil
}

func errorMessages(err error) []string {
	if err == nil {
		return nil
	}
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		msgs := make([]string, 0, len(joined.Unwrap()))
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, e.Error())
		}
		return msgs
	}
	return []string{err.Error()}
}

// tick renders every subscribed view and releases views that have had no
// subscribers for longer than the idle timeout.
func (i *Ingestor) tick(ctx context.Context) {
	start := i.now()

	i.mu.Lock()
	active := make([]*viewState, 0, len(i.views))
	for key, st := range i.views {
		if i.broadcaster.Subscribers(key) > 0 {
			st.lastSeen = start
			active = append(active, st)
		} else if start.Sub(st.lastSeen) > i.idleTimeout {
			delete(i.views, key)
			st.release()
			i.logger.Debug("view released", "view", key)
		}
	}
	total := len(i.views)
	i.mu.Unlock()

	frames := make([]hub.Frame, len(active))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(renderConcurrency)
	for n, st := range active {
		g.Go(func() error {
			f, err := st.render(gctx, i.scheme)
			if err != nil {
				i.logger.Error("rendering view failed", "view", st.view.Key(), "error", err)
				return nil
			}
			frames[n] = f
			return nil
		})
	}
	_ = g.Wait()

	out := frames[:0]
	for _, f := range frames {
		if f.View != "" {
			out = append(out, f)
		}
	}
	i.broadcaster.Broadcast(out)

	if !i.IsReady() {
		i.setReady(true)
		i.logger.Info("ingestor ready")
	}

	i.logger.Debug("tick completed",
		"views", total,
		"rendered", len(out),
		"duration_ms", i.now().Sub(start).Milliseconds(),
	)
}

func (i *Ingestor) ViewCount() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.views)
}

// Close releases every view.
func (i *Ingestor) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for key, st := range i.views {
		st.release()
		delete(i.views, key)
	}
}

func (i *Ingestor) IsReady() bool {
	i.readyMu.RLock()
	defer i.readyMu.RUnlock()
	return i.ready
}

func (i *Ingestor) setReady(ready bool) {
	i.readyMu.Lock()
	defer i.readyMu.Unlock()
	i.ready = ready
}
