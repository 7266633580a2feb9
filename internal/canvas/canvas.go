// Package canvas holds the raster, highlight overlay and text labels of one
// map frame and turns them into rows of terminal cells.
package canvas

import (
	"image"
	"image/color"
	"math"
	"sort"

	"transitty/internal/geo"
)

// CellWidth is the number of characters one pixel occupies in a terminal row.
const CellWidth = 2

// Label is text anchored to one cell. A zero Color renders in the default
// foreground.
type Label struct {
	Column int
	Row    int
	Text   string
	Color  color.RGBA
}

// Canvas is a pixel grid with a parallel highlight grid and a list of labels.
// All three always share the same dimensions. A Canvas is not safe for
// concurrent use.
type Canvas struct {
	img    *image.RGBA
	sub    []color.RGBA
	labels []Label
}

func New(width, height int, bg color.RGBA) *Canvas {
	c := &Canvas{}
	c.Resize(width, height, bg)
	return c
}

// Resize reallocates every grid and fills the pixels with bg.
func (c *Canvas) Resize(width, height int, bg color.RGBA) {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
	c.sub = make([]color.RGBA, width*height)
	c.labels = nil
	c.fill(bg)
}

func (c *Canvas) Width() int {
	return c.img.Rect.Dx()
}

func (c *Canvas) Height() int {
	return c.img.Rect.Dy()
}

func (c *Canvas) Size() geo.Size {
	return geo.Size{Width: c.Width(), Height: c.Height()}
}

func (c *Canvas) inBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < c.Width() && y < c.Height()
}

// At returns the pixel at (x, y), or the zero color outside the grid.
func (c *Canvas) At(x, y int) color.RGBA {
	if !c.inBounds(x, y) {
		return color.RGBA{}
	}
	return c.img.RGBAAt(x, y)
}

// Set paints one pixel. Coordinates outside the grid are ignored.
func (c *Canvas) Set(x, y int, col color.RGBA) {
	if !c.inBounds(x, y) {
		return
	}
	c.img.SetRGBA(x, y, col)
}

// SubPixelAt returns the highlight at (x, y) and whether one is set.
func (c *Canvas) SubPixelAt(x, y int) (color.RGBA, bool) {
	if !c.inBounds(x, y) {
		return color.RGBA{}, false
	}
	col := c.sub[y*c.Width()+x]
	return col, col.A != 0
}

func (c *Canvas) SetSubPixel(x, y int, col color.RGBA) {
	if !c.inBounds(x, y) {
		return
	}
	col.A = 0xff
	c.sub[y*c.Width()+x] = col
}

// AddText adds a label. Labels anchored outside the grid are dropped. A later
// label at the same cell hides earlier ones.
func (c *Canvas) AddText(l Label) {
	if !c.inBounds(l.Column, l.Row) {
		return
	}
	c.labels = append(c.labels, l)
}

// Labels returns the labels in insertion order.
func (c *Canvas) Labels() []Label {
	return append([]Label(nil), c.labels...)
}

func (c *Canvas) ClearTexts() {
	c.labels = c.labels[:0]
}

func (c *Canvas) ClearSubPixels() {
	clear(c.sub)
}

// Clear fills the pixels with bg and drops every highlight and label.
func (c *Canvas) Clear(bg color.RGBA) {
	c.fill(bg)
	c.ClearSubPixels()
	c.ClearTexts()
}

func (c *Canvas) fill(bg color.RGBA) {
	pix := c.img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		pix[i], pix[i+1], pix[i+2], pix[i+3] = bg.R, bg.G, bg.B, 0xff
	}
}

// AddLine draws a 1px line between p0 and p1 inclusive.
func (c *Canvas) AddLine(p0, p1 image.Point, col color.RGBA) {
	bresenham(p0, p1, c.img.Rect, func(x, y int) {
		c.Set(x, y, col)
	})
}

// AddPolyline draws consecutive segments through points.
func (c *Canvas) AddPolyline(points []image.Point, col color.RGBA) {
	if len(points) == 1 {
		c.Set(points[0].X, points[0].Y, col)
		return
	}
	for i := 1; i < len(points); i++ {
		c.AddLine(points[i-1], points[i], col)
	}
}

// AddSubPixelLine draws a polyline into the highlight grid.
func (c *Canvas) AddSubPixelLine(points []image.Point, col color.RGBA) {
	plot := func(x, y int) {
		c.SetSubPixel(x, y, col)
	}
	if len(points) == 1 {
		plot(points[0].X, points[0].Y)
		return
	}
	for i := 1; i < len(points); i++ {
		bresenham(points[i-1], points[i], c.img.Rect, plot)
	}
}

// bresenham steps the part of the segment that lies within bounds.
func bresenham(p0, p1 image.Point, bounds image.Rectangle, plot func(x, y int)) {
	p0, p1, ok := clipSegment(p0, p1, bounds)
	if !ok {
		return
	}
	x0, y0 := p0.X, p0.Y
	x1, y1 := p1.X, p1.Y

	dx, sx := abs(x1-x0), 1
	if x0 > x1 {
		sx = -1
	}
	dy, sy := -abs(y1-y0), 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	for {
		plot(x0, y0)
		if x0 == x1 && y0 == y1 {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

// clipSegment trims the segment to r with Liang-Barsky. Segments already
// inside r are returned unchanged so their pixels do not move.
func clipSegment(p0, p1 image.Point, r image.Rectangle) (image.Point, image.Point, bool) {
	if r.Empty() {
		return p0, p1, false
	}
	if p0.In(r) && p1.In(r) {
		return p0, p1, true
	}

	x0, y0 := float64(p0.X), float64(p0.Y)
	dx, dy := float64(p1.X-p0.X), float64(p1.Y-p0.Y)
	minX, minY := float64(r.Min.X), float64(r.Min.Y)
	maxX, maxY := float64(r.Max.X-1), float64(r.Max.Y-1)

	t0, t1 := 0.0, 1.0
	for _, e := range [4][2]float64{
		{-dx, x0 - minX},
		{dx, maxX - x0},
		{-dy, y0 - minY},
		{dy, maxY - y0},
	} {
		p, q := e[0], e[1]
		if p == 0 {
			if q < 0 {
				return p0, p1, false
			}
			continue
		}
		t := q / p
		if p < 0 {
			if t > t1 {
				return p0, p1, false
			}
			t0 = math.Max(t0, t)
		} else {
			if t < t0 {
				return p0, p1, false
			}
			t1 = math.Min(t1, t)
		}
	}

	a := image.Pt(int(math.Round(x0+t0*dx)), int(math.Round(y0+t0*dy)))
	b := image.Pt(int(math.Round(x0+t1*dx)), int(math.Round(y0+t1*dy)))
	return a, b, true
}

// FillPolygon fills every pixel whose centre lies inside the rings under the
// even-odd rule, so inner rings cut holes. Rings need not be closed.
func (c *Canvas) FillPolygon(rings [][]image.Point, col color.RGBA) {
	w, h := c.Width(), c.Height()
	var xs []float64

	for y := 0; y < h; y++ {
		yc := float64(y) + 0.5
		xs = xs[:0]

		for _, ring := range rings {
			n := len(ring)
			if n < 3 {
				continue
			}
			for i := 0; i < n; i++ {
				a, b := ring[i], ring[(i+1)%n]
				ay, by := float64(a.Y), float64(b.Y)
				if (ay <= yc) == (by <= yc) {
					continue
				}
				t := (yc - ay) / (by - ay)
				xs = append(xs, float64(a.X)+t*float64(b.X-a.X))
			}
		}

		sort.Float64s(xs)
		for i := 0; i+1 < len(xs); i += 2 {
			start := int(math.Ceil(xs[i] - 0.5))
			end := int(math.Ceil(xs[i+1]-0.5)) - 1
			if start < 0 {
				start = 0
			}
			if end >= w {
				end = w - 1
			}
			for x := start; x <= end; x++ {
				c.img.SetRGBA(x, y, col)
			}
		}
	}
}

// FillCircle fills the pixels within radius r of center.
func (c *Canvas) FillCircle(center image.Point, r int, col color.RGBA) {
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			if dx*dx+dy*dy <= r*r {
				c.Set(center.X+dx, center.Y+dy, col)
			}
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
