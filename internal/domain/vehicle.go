package domain

import (
	"image/color"

	"transitty/internal/geo"
)

// TripState is the live status of a vehicle.
type TripState int

const (
	TripStateUnknown TripState = iota
	TripStateActive
	TripStateAtStop
	TripStateNotPublic
	TripStateInactive
)

func (s TripState) String() string {
	switch s {
	case TripStateActive:
		return "active"
	case TripStateAtStop:
		return "at_stop"
	case TripStateNotPublic:
		return "not_public"
	case TripStateInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Visible reports whether vehicles in this state are drawn on the map.
func (s TripState) Visible() bool {
	return s != TripStateInactive && s != TripStateNotPublic
}

// Vehicle represents a single live vehicle position
type Vehicle struct {
	Location  geo.Coordinate `json:"location"`
	LineName  string         `json:"line"`
	TripID    string         `json:"tripId"`
	VehicleID string         `json:"vehicleId,omitempty"`
	State     TripState      `json:"state"`
	Type      RouteType      `json:"type"`
	Delay     int            `json:"delay"`
	Bearing   *int           `json:"bearing,omitempty"`
}

// VehicleSet groups vehicles by type, then by trip id.
type VehicleSet map[RouteType]map[string]*Vehicle

func (s VehicleSet) Add(v *Vehicle) {
	byTrip, ok := s[v.Type]
	if !ok {
		byTrip = make(map[string]*Vehicle)
		s[v.Type] = byTrip
	}
	byTrip[v.TripID] = v
}

func (s VehicleSet) Count() int {
	n := 0
	for _, byTrip := range s {
		n += len(byTrip)
	}
	return n
}

// Within returns the vehicles strictly inside bbox.
func (s VehicleSet) Within(bbox geo.BoundingBox) []*Vehicle {
	var result []*Vehicle
	for _, byTrip := range s {
		for _, v := range byTrip {
			if bbox.Contains(v.Location) {
				result = append(result, v)
			}
		}
	}
	return result
}

// StopLine is a line serving a stop.
type StopLine struct {
	Type RouteType `json:"type"`
	Name string    `json:"name"`
}

// Stop is a named stop or stop group.
type Stop struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Location     geo.Coordinate `json:"location"`
	Municipality string         `json:"municipality"`
	MainType     RouteType      `json:"mainType"`
	Lines        []StopLine     `json:"lines"`
	Color        color.RGBA     `json:"-"`
}

// Location is a followed position, such as the train the user sits in.
type Location struct {
	Coordinate geo.Coordinate
	Bounds     *geo.BoundingBox
	Rotation   *float64
	Speed      *float64
	Altitude   *float64
}

// All returns every vehicle in the set.
func (s VehicleSet) All() []*Vehicle {
	result := make([]*Vehicle, 0, s.Count())
	for _, byTrip := range s {
		for _, v := range byTrip {
			result = append(result, v)
		}
	}
	return result
}
