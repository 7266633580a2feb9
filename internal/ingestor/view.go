package ingestor

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"transitty/internal/canvas"
	"transitty/internal/geo"
	"transitty/internal/query"
	"transitty/internal/render"
)

var ErrInvalidView = errors.New("invalid view")

var validate = validator.New()

// View is a map viewport requested by a client. Width and Height are in
// terminal characters.
type View struct {
	Lat          float64 `json:"lat" validate:"gte=-85.0511,lte=85.0511"`
	Lng          float64 `json:"lng" validate:"gte=-180,lte=180"`
	Zoom         int     `json:"zoom" validate:"gte=1,lte=20"`
	Width        int     `json:"width" validate:"gte=2,lte=400"`
	Height       int     `json:"height" validate:"gte=1,lte=200"`
	Query        string  `json:"query,omitempty" validate:"max=128"`
	HideRegional bool    `json:"hideRegional,omitempty"`
	ShowLive     bool    `json:"showLive,omitempty"`
}

func (v View) Validate() error {
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidView, err)
	}
	if _, err := query.Parse(v.Query); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidView, err)
	}
	return nil
}

// Key identifies views that render to the same frame.
func (v View) Key() string {
	return fmt.Sprintf("%.5f,%.5f/%d/%dx%d/%t/%t/%s",
		v.Lat, v.Lng, v.Zoom, v.Width, v.Height, v.HideRegional, v.ShowLive, v.Query)
}

func (v View) params(scheme render.ColorScheme) render.Params {
	q, err := query.Parse(v.Query)
	if err != nil {
		q = nil
	}
	return render.Params{
		Center:       geo.Coordinate{Lat: v.Lat, Lng: v.Lng},
		Zoom:         v.Zoom,
		Size:         geo.Size{Width: v.Width / canvas.CellWidth, Height: v.Height},
		Scheme:       scheme,
		HideRegional: v.HideRegional,
		Query:        q,
		ShowLive:     v.ShowLive,
	}
}
