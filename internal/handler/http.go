package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/hub"
	"transitty/internal/ingestor"
)

// FrameRenderer renders views on demand and keeps them warm for streaming.
type FrameRenderer interface {
	Track(v ingestor.View) string
	Render(ctx context.Context, v ingestor.View) (hub.Frame, error)
}

type VehicleFetcher interface {
	FetchVehicles(ctx context.Context, req domain.Request) (domain.VehicleSet, error)
}

type HTTPHandler struct {
	frames   FrameRenderer
	vehicles VehicleFetcher
	logger   *slog.Logger
}

func NewHTTPHandler(frames FrameRenderer, vehicles VehicleFetcher, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{
		frames:   frames,
		vehicles: vehicles,
		logger:   logger.With("handler", "http"),
	}
}

// Frame renders one view. The response is JSON unless format=ansi.
func (h *HTTPHandler) Frame(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()
	start := time.Now()

	view, err := parseView(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	frame, err := h.frames.Render(r.Context(), view)
	if err != nil {
		h.logger.Error("rendering frame failed", "view", view.Key(), "error", err)
		respondError(w, http.StatusInternalServerError, "rendering frame failed")
		return
	}

	h.logger.Debug("frame rendered",
		"view", frame.View,
		"errors", len(frame.Errors),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if r.URL.Query().Get("format") == "ansi" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		io.WriteString(w, frame.ANSI)
		return
	}
	respondJSON(w, http.StatusOK, hub.FramePayload{
		View:       frame.View,
		Width:      frame.Width,
		Height:     frame.Height,
		ANSI:       frame.ANSI,
		Errors:     frame.Errors,
		RenderedAt: frame.RenderedAt,
	})
}

type VehiclesResponse struct {
	Vehicles   []*domain.Vehicle `json:"vehicles"`
	Count      int               `json:"count"`
	Errors     []string          `json:"errors,omitempty"`
	ServerTime time.Time         `json:"serverTime"`
}

// ListVehicles fetches live vehicles in the bbox straight from the providers.
func (h *HTTPHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	ServerStats.IncRequests()

	bboxStr := r.URL.Query().Get("bbox")
	if bboxStr == "" {
		respondError(w, http.StatusBadRequest, "missing bbox parameter")
		return
	}
	bbox, err := parseBBox(bboxStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid bbox: "+err.Error())
		return
	}

	set, err := h.vehicles.FetchVehicles(r.Context(), domain.Request{BBox: bbox})
	resp := VehiclesResponse{
		Vehicles:   set.Within(bbox),
		ServerTime: time.Now(),
	}
	if resp.Vehicles == nil {
		resp.Vehicles = []*domain.Vehicle{}
	}
	sort.Slice(resp.Vehicles, func(i, j int) bool {
		return resp.Vehicles[i].TripID < resp.Vehicles[j].TripID
	})
	resp.Count = len(resp.Vehicles)
	if err != nil {
		h.logger.Warn("fetching vehicles failed", "error", err)
		resp.Errors = []string{err.Error()}
		if resp.Count == 0 {
			respondJSON(w, http.StatusBadGateway, resp)
			return
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func parseView(r *http.Request) (ingestor.View, error) {
	q := r.URL.Query()
	v := ingestor.View{
		Width:  80,
		Height: 40,
		Zoom:   14,
		Query:  q.Get("query"),
	}

	var err error
	if v.Lat, err = floatParam(q.Get("lat")); err != nil {
		return v, fmt.Errorf("invalid lat: %w", err)
	}
	if v.Lng, err = floatParam(q.Get("lng")); err != nil {
		return v, fmt.Errorf("invalid lng: %w", err)
	}
	for name, dst := range map[string]*int{"zoom": &v.Zoom, "width": &v.Width, "height": &v.Height} {
		if s := q.Get(name); s != "" {
			if *dst, err = strconv.Atoi(s); err != nil {
				return v, fmt.Errorf("invalid %s: %w", name, err)
			}
		}
	}
	for name, dst := range map[string]*bool{"hideRegional": &v.HideRegional, "showLive": &v.ShowLive} {
		if s := q.Get(name); s != "" {
			if *dst, err = strconv.ParseBool(s); err != nil {
				return v, fmt.Errorf("invalid %s: %w", name, err)
			}
		}
	}

	if err := v.Validate(); err != nil {
		return v, err
	}
	return v, nil
}

func floatParam(s string) (float64, error) {
	if s == "" {
		return 0, errors.New("missing")
	}
	return strconv.ParseFloat(s, 64)
}

// parseBBox reads "minLat,minLng,maxLat,maxLng".
func parseBBox(s string) (geo.BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return geo.BoundingBox{}, errors.New("expected minLat,minLng,maxLat,maxLng")
	}
	var vals [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return geo.BoundingBox{}, err
		}
		vals[i] = f
	}
	bbox := geo.BoundingBox{
		Min: geo.Coordinate{Lat: vals[0], Lng: vals[1]},
		Max: geo.Coordinate{Lat: vals[2], Lng: vals[3]},
	}
	if bbox.Min.Lat > bbox.Max.Lat || bbox.Min.Lng > bbox.Max.Lng {
		return geo.BoundingBox{}, errors.New("min must not exceed max")
	}
	return bbox, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
