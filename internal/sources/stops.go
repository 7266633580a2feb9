package sources

import (
	"context"
	"sync"
	"time"

	"transitty/internal/cache"
	"transitty/internal/domain"
	"transitty/internal/store"
)

// IndexedStops serves the stops of one provider filtered to the requested
// box. The provider returns its whole network; the spatial index is rebuilt
// whenever the refresher publishes a new result.
type IndexedStops struct {
	*cache.Refresher[[]*domain.Stop]

	mu      sync.Mutex
	index   *store.StopIndex
	indexed time.Time
}

func NewIndexedStops(r *cache.Refresher[[]*domain.Stop]) *IndexedStops {
	return &IndexedStops{Refresher: r, index: store.NewStopIndex()}
}

func (s *IndexedStops) Get(ctx context.Context, req domain.Request) ([]*domain.Stop, error) {
	if _, err := s.Refresher.Get(ctx, req); err != nil {
		return nil, err
	}

	s.mu.Lock()
	// The timestamp is read before the value, so a concurrent refresh can
	// only cause one extra rebuild.
	if updated := s.Refresher.LastUpdate(); !updated.Equal(s.indexed) {
		stops, _ := s.Refresher.Value()
		s.index.Replace(stops)
		s.indexed = updated
	}
	s.mu.Unlock()

	return s.index.Within(req.BBox), nil
}

// Index exposes the current index for lookups by id.
func (s *IndexedStops) Index() *store.StopIndex {
	return s.index
}

// Lookup returns the stop with the given id, loading the network first if
// needed.
func (s *IndexedStops) Lookup(ctx context.Context, id string) (*domain.Stop, bool, error) {
	if _, err := s.Get(ctx, domain.Request{}); err != nil {
		return nil, false, err
	}
	stop, ok := s.index.Get(id)
	return stop, ok, nil
}
