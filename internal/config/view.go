package config

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/render"
)

var ErrInvalidView = errors.New("invalid view config")

var hexColorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Center is the map centre as stored in the view file.
type Center struct {
	Lat float64 `yaml:"lat" validate:"gte=-85.0511,lte=85.0511"`
	Lng float64 `yaml:"lng" validate:"gte=-180,lte=180"`
}

// View is the user's map state, persisted as YAML between sessions.
type View struct {
	Center       Center            `yaml:"center"`
	Zoom         int               `yaml:"zoom" validate:"gte=0,lte=20"`
	ColorScheme  map[string]string `yaml:"colorScheme" validate:"dive,keys,required,endkeys,rgbhex"`
	HideRegional bool              `yaml:"hideRegional"`
	ShowLive     bool              `yaml:"showLive"`
	Query        string            `yaml:"query,omitempty"`
}

func DefaultView() *View {
	scheme := render.DefaultColorScheme()
	colors := make(map[string]string, len(scheme))
	for name, c := range scheme {
		colors[name] = FormatHexColor(c)
	}
	return &View{
		Center:      Center{Lat: 50.0753684, Lng: 14.4050773},
		Zoom:        14,
		ColorScheme: colors,
	}
}

func (v *View) Coordinate() geo.Coordinate {
	return geo.Coordinate{Lat: v.Center.Lat, Lng: v.Center.Lng}
}

func (v *View) SetCoordinate(c geo.Coordinate) {
	v.Center = Center{Lat: c.Lat, Lng: c.Lng}
}

// Request is what the providers are asked for when the view is drawn at
// size pixels.
func (v *View) Request(size geo.Size) domain.Request {
	return domain.Request{BBox: geo.BoundingBoxFromCenter(v.Coordinate(), v.Zoom, size)}
}

// Scheme parses the color scheme. Names without an entry use the defaults.
func (v *View) Scheme() (render.ColorScheme, error) {
	scheme := render.DefaultColorScheme()
	for name, hex := range v.ColorScheme {
		c, err := ParseHexColor(hex)
		if err != nil {
			return nil, fmt.Errorf("color %s: %w", name, err)
		}
		scheme[name] = c
	}
	return scheme, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("rgbhex", func(fl validator.FieldLevel) bool {
		return hexColorPattern.MatchString(fl.Field().String())
	})
	return v
}

func (v *View) Validate() error {
	if err := newValidator().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidView, err)
	}
	return nil
}

// LoadView reads the view file at path. A missing file is created with the
// defaults. Fields absent from the file keep their default values.
func LoadView(path string) (*View, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		v := DefaultView()
		if err := SaveView(path, v); err != nil {
			return nil, err
		}
		return v, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading view config: %w", err)
	}

	v := DefaultView()
	if err := yaml.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidView, err)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// SaveView writes v to path, replacing any previous file atomically.
func SaveView(path string, v *View) error {
	if err := v.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal view config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".view-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing view config: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing view config: %w", err)
	}
	return nil
}

// ParseHexColor parses "#RRGGBB".
func ParseHexColor(s string) (color.RGBA, error) {
	if !hexColorPattern.MatchString(s) {
		return color.RGBA{}, fmt.Errorf("invalid color %q", s)
	}
	n, err := strconv.ParseUint(s[1:], 16, 32)
	if err != nil {
		return color.RGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.RGBA{R: uint8(n >> 16), G: uint8(n >> 8), B: uint8(n), A: 0xff}, nil
}

func FormatHexColor(c color.RGBA) string {
	return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
}
