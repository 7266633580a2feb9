package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// BoundingBox is a geographic rectangle with Min <= Max on both axes.
//
// Longitude wraparound is not modelled: a box crossing the antimeridian has
// Min.Lng > Max.Lng and every method below gives meaningless results for it.
type BoundingBox struct {
	Min Coordinate `json:"min"`
	Max Coordinate `json:"max"`
}

// NewBoundingBox returns the smallest box containing all points.
func NewBoundingBox(points []Coordinate) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	b := BoundingBox{Min: points[0], Max: points[0]}
	for _, p := range points[1:] {
		b = b.Extend(p)
	}
	return b
}

// BoundingBoxFromCenter returns the box covering one tile around center at the
// given zoom, stretched to the aspect ratio of size.
func BoundingBoxFromCenter(center Coordinate, zoom int, size Size) BoundingBox {
	t := TileFromCoord(center, zoom)
	southwest := CoordFromTile(t.X, t.Y+1, zoom)
	northeast := CoordFromTile(t.X+1, t.Y, zoom)

	diff := northeast.Sub(southwest)
	if size.Width > size.Height {
		diff.Lat /= float64(size.Width) / float64(size.Height)
	} else {
		diff.Lng /= float64(size.Height) / float64(size.Width)
	}

	half := diff.Div(2)
	return BoundingBox{Min: center.Sub(half), Max: center.Add(half)}
}

// Extend grows the box to include p.
func (b BoundingBox) Extend(p Coordinate) BoundingBox {
	return BoundingBox{
		Min: Coordinate{Lat: math.Min(b.Min.Lat, p.Lat), Lng: math.Min(b.Min.Lng, p.Lng)},
		Max: Coordinate{Lat: math.Max(b.Max.Lat, p.Lat), Lng: math.Max(b.Max.Lng, p.Lng)},
	}
}

// Union returns the smallest box containing both boxes.
func (b BoundingBox) Union(o BoundingBox) BoundingBox {
	return b.Extend(o.Min).Extend(o.Max)
}

func (b BoundingBox) Center() Coordinate {
	return Coordinate{
		Lat: (b.Min.Lat + b.Max.Lat) / 2,
		Lng: (b.Min.Lng + b.Max.Lng) / 2,
	}
}

func (b BoundingBox) Span() Coordinate {
	return b.Max.Sub(b.Min)
}

// Ratio is the longitude span over the latitude span.
func (b BoundingBox) Ratio() float64 {
	s := b.Span()
	return s.Lng / s.Lat
}

// Zoom estimates the slippy-map zoom at which the box fits on one tile.
func (b BoundingBox) Zoom() float64 {
	s := b.Span()
	return math.Log2(360 / math.Max(s.Lat, s.Lng))
}

// Contains reports whether p lies strictly inside the box.
func (b BoundingBox) Contains(p Coordinate) bool {
	return b.Min.Lat < p.Lat && b.Min.Lng < p.Lng &&
		b.Max.Lat > p.Lat && b.Max.Lng > p.Lng
}

// Overlaps reports whether the interiors of the boxes intersect.
func (b BoundingBox) Overlaps(o BoundingBox) bool {
	return b.Min.Lng < o.Max.Lng && b.Max.Lng > o.Min.Lng &&
		b.Min.Lat < o.Max.Lat && b.Max.Lat > o.Min.Lat
}

// Scale resizes the box by factor around its center.
func (b BoundingBox) Scale(factor float64) BoundingBox {
	center := b.Center()
	half := b.Span().Scale(factor / 2)
	return BoundingBox{Min: center.Sub(half), Max: center.Add(half)}
}

func (b BoundingBox) Div(factor float64) BoundingBox {
	return b.Scale(1 / factor)
}

// Add translates the box by offset.
func (b BoundingBox) Add(offset Coordinate) BoundingBox {
	return BoundingBox{Min: b.Min.Add(offset), Max: b.Max.Add(offset)}
}

func (b BoundingBox) Sub(offset Coordinate) BoundingBox {
	return BoundingBox{Min: b.Min.Sub(offset), Max: b.Max.Sub(offset)}
}

// ExpandToRatio pads the shorter axis so that Ratio() == ratio.
func (b BoundingBox) ExpandToRatio(ratio float64) BoundingBox {
	s := b.Span()
	if s.Lng/s.Lat < ratio {
		s.Lng = s.Lat * ratio
	} else {
		s.Lat = s.Lng / ratio
	}
	return withSpan(b.Center(), s)
}

// ShrinkToRatio trims the longer axis so that Ratio() == ratio.
func (b BoundingBox) ShrinkToRatio(ratio float64) BoundingBox {
	s := b.Span()
	if s.Lng/s.Lat > ratio {
		s.Lng = s.Lat * ratio
	} else {
		s.Lat = s.Lng / ratio
	}
	return withSpan(b.Center(), s)
}

func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: b.Min.Point(), Max: b.Max.Point()}
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("(%s) - (%s)", b.Min, b.Max)
}

func withSpan(center, span Coordinate) BoundingBox {
	half := span.Div(2)
	return BoundingBox{Min: center.Sub(half), Max: center.Add(half)}
}

// PixelFromCoord maps c inside bbox onto a raster of the given size. Row 0 is
// the northern edge. Results outside [0,w)x[0,h) mean c is off-screen.
func PixelFromCoord(c Coordinate, bbox BoundingBox, size Size) (x, y int) {
	span := bbox.Span()
	x = int((c.Lng - bbox.Min.Lng) / span.Lng * float64(size.Width))
	y = size.Height - int((c.Lat-bbox.Min.Lat)/span.Lat*float64(size.Height))
	return x, y
}
