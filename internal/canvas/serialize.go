package canvas

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

var defaultForeground = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Cell is one run of characters sharing a foreground and background.
type Cell struct {
	Text string
	Fg   color.RGBA
	Bg   color.RGBA
}

type Row []Cell

// Frame is a serialized canvas, top row first.
type Frame []Row

// Serialize turns the canvas into terminal rows. When the canvas is wider than
// maxWidth characters it is downsampled first; maxWidth <= 0 disables that.
func (c *Canvas) Serialize(maxWidth int) Frame {
	img, sub, labels := c.img, c.sub, c.labels
	width, height := c.Width(), c.Height()

	if maxWidth > 0 && width*CellWidth > maxWidth {
		img, sub, labels = c.downsample(maxWidth)
		width, height = img.Rect.Dx(), img.Rect.Dy()
	}

	byRow := make([][]Label, height)
	for _, l := range labels {
		byRow[l.Row] = append(byRow[l.Row], l)
	}

	frame := make(Frame, 0, height)
	for y := 0; y < height; y++ {
		row := byRow[y]
		sort.SliceStable(row, func(i, j int) bool {
			return row[i].Column < row[j].Column
		})

		cells := make(Row, 0, width)
		var active *Label
		var runes []rune
		remaining, next := 0, 0

		for x := 0; x < width; x++ {
			for next < len(row) && row[next].Column == x {
				active = &row[next]
				runes = []rune(active.Text)
				remaining = (len(runes) + CellWidth - 1) / CellWidth
				next++
			}

			fg := defaultForeground
			text := make([]rune, CellWidth)
			for i := range text {
				text[i] = ' '
			}
			if active != nil && remaining > 0 {
				if active.Color.A != 0 {
					fg = active.Color
				}
				for i := 0; i < CellWidth; i++ {
					idx := (x-active.Column)*CellWidth + i
					if idx >= len(runes) {
						break
					}
					text[i] = runes[idx]
				}
				remaining--
				if remaining == 0 {
					active = nil
				}
			}

			bg := img.RGBAAt(x, y)
			bg.A = 0xff
			highlight := sub[y*width+x]
			if highlight.A == 0 {
				cells = append(cells, Cell{Text: string(text), Fg: fg, Bg: bg})
				continue
			}
			for i, r := range text {
				cellBg := bg
				if i%2 == 0 {
					cellBg = highlight
				}
				cells = append(cells, Cell{Text: string(r), Fg: fg, Bg: cellBg})
			}
		}
		frame = append(frame, cells)
	}
	return frame
}

// downsample scales the pixels to fit maxWidth characters and maps highlights
// and labels onto the smaller grid.
func (c *Canvas) downsample(maxWidth int) (*image.RGBA, []color.RGBA, []Label) {
	w, h := c.Width(), c.Height()
	newW := maxWidth / CellWidth
	if newW < 1 {
		newW = 1
	}
	newH := int(float64(h) * float64(maxWidth) / float64(w*CellWidth))
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	draw.BiLinear.Scale(dst, dst.Bounds(), c.img, c.img.Bounds(), draw.Src, nil)

	sub := make([]color.RGBA, newW*newH)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			col := c.sub[y*w+x]
			if col.A == 0 {
				continue
			}
			nx, ny := scaleIndex(x, w, newW), scaleIndex(y, h, newH)
			sub[ny*newW+nx] = col
		}
	}

	labels := make([]Label, 0, len(c.labels))
	for _, l := range c.labels {
		l.Column = scaleIndex(l.Column, w, newW)
		l.Row = scaleIndex(l.Row, h, newH)
		labels = append(labels, l)
	}
	return dst, sub, labels
}

func scaleIndex(i, from, to int) int {
	n := i * to / from
	if n >= to {
		n = to - 1
	}
	return n
}

// Text returns the characters of the frame, one line per row.
func (f Frame) Text() string {
	var b strings.Builder
	for i, row := range f {
		if i > 0 {
			b.WriteByte('\n')
		}
		for _, cell := range row {
			b.WriteString(cell.Text)
		}
	}
	return b.String()
}

// WriteANSI writes the frame with 24-bit color escape sequences. Each row ends
// with a reset and CRLF so it also renders correctly in raw mode.
func (f Frame) WriteANSI(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, row := range f {
		var fg, bg color.RGBA
		first := true
		for _, cell := range row {
			if first || cell.Fg != fg {
				fmt.Fprintf(bw, "\x1b[38;2;%d;%d;%dm", cell.Fg.R, cell.Fg.G, cell.Fg.B)
				fg = cell.Fg
			}
			if first || cell.Bg != bg {
				fmt.Fprintf(bw, "\x1b[48;2;%d;%d;%dm", cell.Bg.R, cell.Bg.G, cell.Bg.B)
				bg = cell.Bg
			}
			first = false
			bw.WriteString(cell.Text)
		}
		bw.WriteString("\x1b[0m\r\n")
	}
	return bw.Flush()
}
