package render

import (
	"image/color"

	"transitty/internal/domain"
)

const (
	ColorWater = "water"
	ColorLand  = "land"
	ColorGrass = "grass"
)

// ColorScheme maps layer names and route type names to colors. Missing keys
// fall back to the default scheme.
type ColorScheme map[string]color.RGBA

func rgb(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// DefaultColorScheme returns a fresh copy of the built-in colors.
func DefaultColorScheme() ColorScheme {
	return ColorScheme{
		ColorWater: rgb(0x00, 0x00, 0x8B),
		ColorLand:  rgb(0x80, 0x80, 0x80),
		ColorGrass: rgb(0x00, 0x80, 0x00),

		domain.RouteTypeTram.String():       rgb(0x7A, 0x06, 0x03),
		domain.RouteTypeSubway.String():     rgb(0x80, 0x00, 0x80),
		domain.RouteTypeRail.String():       rgb(0x25, 0x1E, 0x62),
		domain.RouteTypeBus.String():        rgb(0x00, 0x7D, 0xA8),
		domain.RouteTypeTrolleybus.String(): rgb(0x80, 0x16, 0x6F),
		domain.RouteTypeFerry.String():      rgb(0x00, 0xB3, 0xCB),
		domain.RouteTypeOther.String():      rgb(0x00, 0xFF, 0x00),
	}
}

var defaultScheme = DefaultColorScheme()

func (s ColorScheme) lookup(name string) color.RGBA {
	if c, ok := s[name]; ok {
		return c
	}
	return defaultScheme[name]
}

func (s ColorScheme) Water() color.RGBA {
	return s.lookup(ColorWater)
}

func (s ColorScheme) Land() color.RGBA {
	return s.lookup(ColorLand)
}

func (s ColorScheme) Grass() color.RGBA {
	return s.lookup(ColorGrass)
}

// ForType returns the color of a route type, or the "other" color for types
// without an entry.
func (s ColorScheme) ForType(t domain.RouteType) color.RGBA {
	if c, ok := s[t.String()]; ok {
		return c
	}
	if c, ok := defaultScheme[t.String()]; ok {
		return c
	}
	return s.lookup(domain.RouteTypeOther.String())
}
