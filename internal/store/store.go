package store

import (
	"sort"
	"sync"
	"time"

	"github.com/tidwall/rtree"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

// StopIndex is a spatial index over a set of stops. It is safe for concurrent
// use; Replace swaps the whole set at once.
type StopIndex struct {
	mu        sync.RWMutex
	tree      *rtree.RTreeG[*domain.Stop]
	byID      map[string]*domain.Stop
	updatedAt time.Time
}

func NewStopIndex() *StopIndex {
	return &StopIndex{
		tree: &rtree.RTreeG[*domain.Stop]{},
		byID: make(map[string]*domain.Stop),
	}
}

// Replace rebuilds the index from stops.
func (s *StopIndex) Replace(stops []*domain.Stop) {
	tree := &rtree.RTreeG[*domain.Stop]{}
	byID := make(map[string]*domain.Stop, len(stops))
	for _, stop := range stops {
		p := [2]float64{stop.Location.Lat, stop.Location.Lng}
		tree.Insert(p, p, stop)
		byID[stop.ID] = stop
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tree = tree
	s.byID = byID
	s.updatedAt = time.Now()
}

// Within returns the stops strictly inside bbox, ordered by id.
func (s *StopIndex) Within(bbox geo.BoundingBox) []*domain.Stop {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Stop
	s.tree.Search(
		[2]float64{bbox.Min.Lat, bbox.Min.Lng},
		[2]float64{bbox.Max.Lat, bbox.Max.Lng},
		func(_, _ [2]float64, stop *domain.Stop) bool {
			if bbox.Contains(stop.Location) {
				result = append(result, stop)
			}
			return true
		},
	)

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *StopIndex) Get(id string) (*domain.Stop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stop, ok := s.byID[id]
	return stop, ok
}

func (s *StopIndex) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *StopIndex) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}
