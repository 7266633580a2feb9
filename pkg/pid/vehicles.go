package pid

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"transitty/internal/domain"
	"transitty/internal/geo"
)

type liveRequest struct {
	Action string     `json:"action"`
	Bounds [4]float64 `json:"bounds"`
}

type liveResponse struct {
	Trips map[string]liveTrip `json:"trips"`
}

type liveTrip struct {
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	TripID        string  `json:"tripId"`
	Route         string  `json:"route"`
	RouteType     int     `json:"routeType"`
	Bearing       *int    `json:"bearing"`
	Delay         int     `json:"delay"`
	Inactive      bool    `json:"inactive"`
	StatePosition string  `json:"statePosition"`
	Vehicle       string  `json:"vehicle"`
}

// Vehicles returns the live positions reported inside req.BBox.
func (c *Client) Vehicles(ctx context.Context, req domain.Request) (domain.VehicleSet, error) {
	body, err := json.Marshal(liveRequest{
		Action: "getData",
		Bounds: [4]float64{req.BBox.Min.Lng, req.BBox.Min.Lat, req.BBox.Max.Lng, req.BBox.Max.Lat},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	data, err := c.do(ctx, http.MethodPost, c.liveURL, body)
	if err != nil {
		return nil, err
	}

	var resp liveResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	set := make(domain.VehicleSet)
	for key, trip := range resp.Trips {
		tripID := trip.TripID
		if tripID == "" {
			tripID = key
		}
		set.Add(&domain.Vehicle{
			Location:  geo.Coordinate{Lat: trip.Lat, Lng: trip.Lon},
			LineName:  trip.Route,
			TripID:    tripID,
			VehicleID: trip.Vehicle,
			State:     tripState(trip),
			Type:      domain.RouteTypeFromGTFS(trip.RouteType),
			Delay:     trip.Delay,
			Bearing:   trip.Bearing,
		})
	}
	return set, nil
}

func tripState(t liveTrip) domain.TripState {
	if t.Inactive {
		return domain.TripStateInactive
	}
	switch t.StatePosition {
	case "at_stop":
		return domain.TripStateAtStop
	case "not_public":
		return domain.TripStateNotPublic
	case "on_track":
		return domain.TripStateActive
	default:
		return domain.TripStateUnknown
	}
}
