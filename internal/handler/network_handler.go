package handler

import (
	"context"
	"fmt"
	"image/color"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/query"
)

type RouteSource interface {
	Name() string
	Get(ctx context.Context, req domain.Request) (domain.RouteSet, error)
}

type StopSource interface {
	Name() string
	Get(ctx context.Context, req domain.Request) ([]*domain.Stop, error)
	Lookup(ctx context.Context, id string) (*domain.Stop, bool, error)
}

// NetworkHandler serves the routes and stops the map is drawn from.
type NetworkHandler struct {
	routes []RouteSource
	stops  []StopSource
	logger *slog.Logger
}

func NewNetworkHandler(routes []RouteSource, stops []StopSource, logger *slog.Logger) *NetworkHandler {
	return &NetworkHandler{
		routes: routes,
		stops:  stops,
		logger: logger.With("handler", "network"),
	}
}

type RouteSummary struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	LongName     string          `json:"longName,omitempty"`
	Type         string          `json:"type"`
	Color        string          `json:"color,omitempty"`
	IsNight      bool            `json:"isNight,omitempty"`
	IsRegional   bool            `json:"isRegional,omitempty"`
	IsSubstitute bool            `json:"isSubstitute,omitempty"`
	Bounds       geo.BoundingBox `json:"bounds"`
	Source       string          `json:"source"`
}

type RoutesResponse struct {
	Routes     []RouteSummary `json:"routes"`
	Count      int            `json:"count"`
	ServerTime time.Time      `json:"server_time"`
}

func summarizeRoute(source string, r *domain.Route) RouteSummary {
	s := RouteSummary{
		ID:           r.ID,
		Name:         r.Name,
		LongName:     r.LongName,
		Type:         r.Type.String(),
		IsNight:      r.IsNight,
		IsRegional:   r.IsRegional,
		IsSubstitute: r.IsSubstitute,
		Bounds:       r.Bounds,
		Source:       source,
	}
	if r.HasColor() {
		s.Color = hexColor(r.Color)
	}
	return s
}

func hexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}

// ListRoutes lists routes, optionally limited to those overlapping bbox and
// matching query.
func (h *NetworkHandler) ListRoutes(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()
	start := time.Now()

	req, q, ok := h.parseFilters(w, r)
	if !ok {
		return
	}
	bboxSet := r.URL.Query().Get("bbox") != ""

	routes := make([]RouteSummary, 0)
	for _, src := range h.routes {
		set, err := src.Get(r.Context(), req)
		if err != nil {
			h.logger.Warn("route provider failed", "provider", src.Name(), "error", err)
			continue
		}
		if req.HideRegional {
			set = set.WithoutRegional()
		}
		for t, byName := range set {
			for name, route := range byName {
				if bboxSet && !route.Bounds.Overlaps(req.BBox) {
					continue
				}
				if !q.MatchRoute(t, name, route) {
					continue
				}
				routes = append(routes, summarizeRoute(src.Name(), route))
			}
		}
	}
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Type != routes[j].Type {
			return routes[i].Type < routes[j].Type
		}
		return routes[i].Name < routes[j].Name
	})

	h.logger.Debug("ListRoutes response",
		"count", len(routes),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     routes,
		Count:      len(routes),
		ServerTime: time.Now(),
	})
}

// GetRoute returns every route named line, one per provider and type.
func (h *NetworkHandler) GetRoute(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()
	line := r.PathValue("line")
	if line == "" {
		respondError(w, http.StatusBadRequest, "missing line parameter")
		return
	}

	var found []RouteSummary
	for _, src := range h.routes {
		set, err := src.Get(r.Context(), domain.Request{})
		if err != nil {
			h.logger.Warn("route provider failed", "provider", src.Name(), "error", err)
			continue
		}
		for _, byName := range set {
			if route, ok := byName[line]; ok {
				found = append(found, summarizeRoute(src.Name(), route))
			}
		}
	}
	if len(found) == 0 {
		respondError(w, http.StatusNotFound, "route not found")
		return
	}
	respondJSON(w, http.StatusOK, RoutesResponse{
		Routes:     found,
		Count:      len(found),
		ServerTime: time.Now(),
	})
}

type StopsResponse struct {
	Stops      []*domain.Stop `json:"stops"`
	Count      int            `json:"count"`
	ServerTime time.Time      `json:"server_time"`
}

// ListStops lists the stops inside bbox that match query.
func (h *NetworkHandler) ListStops(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	if r.URL.Query().Get("bbox") == "" {
		respondError(w, http.StatusBadRequest, "missing bbox parameter")
		return
	}
	req, q, ok := h.parseFilters(w, r)
	if !ok {
		return
	}

	stops := make([]*domain.Stop, 0)
	for _, src := range h.stops {
		got, err := src.Get(r.Context(), req)
		if err != nil {
			h.logger.Warn("stop provider failed", "provider", src.Name(), "error", err)
			continue
		}
		for _, s := range got {
			if q.MatchStop(s) {
				stops = append(stops, s)
			}
		}
	}

	respondJSON(w, http.StatusOK, StopsResponse{
		Stops:      stops,
		Count:      len(stops),
		ServerTime: time.Now(),
	})
}

func (h *NetworkHandler) GetStop(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()
	id := r.PathValue("id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing stop id")
		return
	}

	for _, src := range h.stops {
		stop, ok, err := src.Lookup(r.Context(), id)
		if err != nil {
			h.logger.Warn("stop provider failed", "provider", src.Name(), "error", err)
			continue
		}
		if ok {
			respondJSON(w, http.StatusOK, stop)
			return
		}
	}
	respondError(w, http.StatusNotFound, "stop not found")
}

func (h *NetworkHandler) parseFilters(w http.ResponseWriter, r *http.Request) (domain.Request, *query.Query, bool) {
	var req domain.Request
	params := r.URL.Query()

	if s := params.Get("bbox"); s != "" {
		bbox, err := parseBBox(s)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid bbox: "+err.Error())
			return req, nil, false
		}
		req.BBox = bbox
	}
	req.HideRegional = params.Get("hideRegional") == "true"

	q, err := query.Parse(params.Get("query"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid query")
		return req, nil, false
	}
	return req, q, true
}
