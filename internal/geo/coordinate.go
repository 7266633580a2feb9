package geo

import (
	"fmt"

	"github.com/paulmach/orb"
)

// Coordinate is a WGS84 position in degrees.
type Coordinate struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (c Coordinate) Add(o Coordinate) Coordinate {
	return Coordinate{Lat: c.Lat + o.Lat, Lng: c.Lng + o.Lng}
}

func (c Coordinate) Sub(o Coordinate) Coordinate {
	return Coordinate{Lat: c.Lat - o.Lat, Lng: c.Lng - o.Lng}
}

func (c Coordinate) Scale(f float64) Coordinate {
	return Coordinate{Lat: c.Lat * f, Lng: c.Lng * f}
}

func (c Coordinate) Div(f float64) Coordinate {
	return Coordinate{Lat: c.Lat / f, Lng: c.Lng / f}
}

// Point converts to orb's [lng, lat] order.
func (c Coordinate) Point() orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

func FromPoint(p orb.Point) Coordinate {
	return Coordinate{Lat: p.Lat(), Lng: p.Lon()}
}

func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Lat, c.Lng)
}

// Size is a raster size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (s Size) Ratio() float64 {
	return float64(s.Width) / float64(s.Height)
}

func (s Size) Contains(x, y int) bool {
	return x >= 0 && x < s.Width && y >= 0 && y < s.Height
}

func (s Size) Empty() bool {
	return s.Width <= 0 || s.Height <= 0
}
