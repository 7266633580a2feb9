package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"transitty/internal/domain"
)

// FetchFunc loads a fresh value for the given request.
type FetchFunc[T any] func(ctx context.Context, req domain.Request) (T, error)

// Refresher keeps the most recent result of a fetch and refreshes it in the
// background once per interval. The first Get fetches synchronously; later
// calls return the cached value immediately and only update the request the
// next refresh will use.
type Refresher[T any] struct {
	name     string
	interval time.Duration
	fetch    FetchFunc[T]
	scale    float64
	logger   *slog.Logger
	now      func() time.Time

	value      atomic.Pointer[T]
	lastUpdate atomic.Int64
	latest     atomic.Pointer[domain.Request]

	mu       sync.Mutex
	started  bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	fetches atomic.Int64
	errors  atomic.Int64
}

type RefresherOption func(*refresherOptions)

type refresherOptions struct {
	scale float64
	now   func() time.Time
}

// WithRequestScale grows the bounding box of background refreshes by f around
// its centre, so small pans stay inside the cached area.
func WithRequestScale(f float64) RefresherOption {
	return func(o *refresherOptions) {
		o.scale = f
	}
}

func withClock(now func() time.Time) RefresherOption {
	return func(o *refresherOptions) {
		o.now = now
	}
}

func NewRefresher[T any](name string, interval time.Duration, fetch FetchFunc[T], logger *slog.Logger, opts ...RefresherOption) *Refresher[T] {
	o := refresherOptions{scale: 1, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Refresher[T]{
		name:     name,
		interval: interval,
		fetch:    fetch,
		scale:    o.scale,
		logger:   logger.With("component", "refresher", "source", name),
		now:      o.now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (r *Refresher[T]) Name() string {
	return r.name
}

// Get returns the cached value, fetching it first if there is none yet.
func (r *Refresher[T]) Get(ctx context.Context, req domain.Request) (T, error) {
	r.latest.Store(&req)

	if v := r.value.Load(); v != nil {
		return *v, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v := r.value.Load(); v != nil {
		return *v, nil
	}

	var zero T
	if r.ctx.Err() != nil {
		return zero, fmt.Errorf("%s: refresher stopped", r.name)
	}

	v, err := r.safeFetch(ctx, req)
	if err != nil {
		r.errors.Add(1)
		return zero, err
	}
	r.store(v)

	if !r.started {
		r.started = true
		go r.loop()
	}
	return v, nil
}

// Fetch bypasses the cache.
func (r *Refresher[T]) Fetch(ctx context.Context, req domain.Request) (T, error) {
	return r.safeFetch(ctx, req)
}

// Value returns the cached value and whether there is one.
func (r *Refresher[T]) Value() (T, bool) {
	if v := r.value.Load(); v != nil {
		return *v, true
	}
	var zero T
	return zero, false
}

func (r *Refresher[T]) LastUpdate() time.Time {
	ns := r.lastUpdate.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// IsReady reports whether a value has been fetched at least once.
func (r *Refresher[T]) IsReady() bool {
	return r.value.Load() != nil
}

type RefresherStats struct {
	Name       string    `json:"name"`
	Ready      bool      `json:"ready"`
	Fetches    int64     `json:"fetches"`
	Errors     int64     `json:"errors"`
	LastUpdate time.Time `json:"last_update"`
}

func (r *Refresher[T]) Stats() RefresherStats {
	return RefresherStats{
		Name:       r.name,
		Ready:      r.IsReady(),
		Fetches:    r.fetches.Load(),
		Errors:     r.errors.Load(),
		LastUpdate: r.LastUpdate(),
	}
}

// Stop ends the background loop and waits for it to exit. It is safe to call
// more than once.
func (r *Refresher[T]) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		r.cancel()
		r.mu.Unlock()

		if started {
			<-r.done
		}
		r.logger.Debug("refresher stopped")
	})
}

func (r *Refresher[T]) store(v T) {
	r.value.Store(&v)
	r.lastUpdate.Store(r.now().UnixNano())
}

func (r *Refresher[T]) loop() {
	defer close(r.done)

	for {
		wait := r.LastUpdate().Add(r.interval).Sub(r.now())
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		r.refresh()
	}
}

func (r *Refresher[T]) refresh() {
	req := domain.Request{}
	if latest := r.latest.Load(); latest != nil {
		req = *latest
	}
	if r.scale != 1 {
		req.BBox = req.BBox.Scale(r.scale)
	}

	start := time.Now()
	v, err := r.safeFetch(r.ctx, req)
	if err != nil {
		if r.ctx.Err() != nil {
			return
		}
		r.errors.Add(1)
		// Keep the previous value and retry after a full interval.
		r.lastUpdate.Store(r.now().UnixNano())
		r.logger.Warn("refresh failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return
	}

	r.store(v)
	r.logger.Debug("refreshed", "duration_ms", time.Since(start).Milliseconds())
}

func (r *Refresher[T]) safeFetch(ctx context.Context, req domain.Request) (v T, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s: fetch panicked: %v", r.name, p)
		}
	}()

	r.fetches.Add(1)
	v, err = r.fetch(ctx, req)
	if err != nil {
		return v, fmt.Errorf("%s: %w", r.name, err)
	}
	return v, nil
}
