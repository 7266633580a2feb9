package geo

import (
	"fmt"
	"math"

	"github.com/paulmach/orb/maptile"
)

// TileCoord addresses a slippy-map tile.
type TileCoord struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Z, t.X, t.Y)
}

func (t TileCoord) Tile() maptile.Tile {
	return maptile.New(uint32(t.X), uint32(t.Y), maptile.Zoom(t.Z))
}

// Bounds returns the geographic extent of the tile.
func (t TileCoord) Bounds() BoundingBox {
	return BoundingBox{
		Min: CoordFromTile(t.X, t.Y+1, t.Z),
		Max: CoordFromTile(t.X+1, t.Y, t.Z),
	}
}

// ParseTileCoord extracts zoom, x, y from a "z/x/y" string
func ParseTileCoord(s string) (TileCoord, bool) {
	var t TileCoord
	n, err := fmt.Sscanf(s, "%d/%d/%d", &t.Z, &t.X, &t.Y)
	if err != nil || n != 3 {
		return TileCoord{}, false
	}
	return t, true
}

// TileFromCoord calculates the tile containing c at the given zoom level.
// Uses Web Mercator (slippy map) tile scheme
func TileFromCoord(c Coordinate, zoom int) TileCoord {
	n := math.Pow(2, float64(zoom))
	x := int(math.Floor((c.Lng + 180.0) / 360.0 * n))
	latRad := c.Lat * math.Pi / 180.0
	y := int(math.Floor((1.0 - math.Log(math.Tan(latRad)+1.0/math.Cos(latRad))/math.Pi) / 2.0 * n))

	maxTile := int(n) - 1
	return TileCoord{X: clamp(x, 0, maxTile), Y: clamp(y, 0, maxTile), Z: zoom}
}

// CoordFromTile returns the north-west corner of tile (x, y).
func CoordFromTile(x, y, zoom int) Coordinate {
	n := math.Pow(2, float64(zoom))
	lng := float64(x)/n*360.0 - 180.0
	latRad := math.Atan(math.Sinh(math.Pi * (1 - 2*float64(y)/n)))
	return Coordinate{Lat: latRad * 180.0 / math.Pi, Lng: lng}
}

// NeighborTiles returns the (2*radius+1)^2 tiles around the tile containing
// center, row by row from the north-west. Tiles past the edge of the world are
// left out.
func NeighborTiles(center Coordinate, zoom, radius int) []TileCoord {
	origin := TileFromCoord(center, zoom)
	maxTile := int(math.Pow(2, float64(zoom))) - 1
	side := 2*radius + 1
	tiles := make([]TileCoord, 0, side*side)

	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			nx, ny := origin.X+dx, origin.Y+dy
			if nx < 0 || nx > maxTile || ny < 0 || ny > maxTile {
				continue
			}
			tiles = append(tiles, TileCoord{X: nx, Y: ny, Z: zoom})
		}
	}
	return tiles
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
