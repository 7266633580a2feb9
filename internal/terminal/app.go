package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"transitty/internal/canvas"
	"transitty/internal/config"
	"transitty/internal/domain"
	"transitty/internal/geo"
	"transitty/internal/render"
)

const (
	cursorHome  = "\x1b[H"
	clearScreen = "\x1b[2J"

	defaultRefresh = time.Second
)

type MapRenderer interface {
	RenderMap(ctx context.Context, cv *canvas.Canvas, p render.Params) (*canvas.Canvas, error)
}

type Locator interface {
	Get(ctx context.Context, req domain.Request) (domain.Location, error)
}

// QuerySetter receives the query text whenever it changes, so a line-following
// locator can track the searched line.
type QuerySetter interface {
	SetQuery(q string)
}

// SizeFunc reports the terminal size in characters.
type SizeFunc func() (width, height int, err error)

type Options struct {
	Renderer MapRenderer
	Out      io.Writer
	Size     SizeFunc
	View     *config.View
	ViewPath string
	Locator  Locator
	Lines    QuerySetter
	Refresh  time.Duration
}

// App redraws the map on every key press and once per refresh interval.
type App struct {
	renderer MapRenderer
	out      io.Writer
	size     SizeFunc
	viewPath string
	locator  Locator
	lines    QuerySetter
	refresh  time.Duration
	scheme   render.ColorScheme
	logger   *slog.Logger

	state *State
	cv    *canvas.Canvas
	fps   float64
}

func New(opts Options, logger *slog.Logger) *App {
	refresh := opts.Refresh
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	logger = logger.With("component", "terminal")

	scheme, err := opts.View.Scheme()
	if err != nil {
		logger.Warn("invalid color scheme, using defaults", "error", err)
		scheme = render.DefaultColorScheme()
	}

	a := &App{
		renderer: opts.Renderer,
		out:      opts.Out,
		size:     opts.Size,
		viewPath: opts.ViewPath,
		locator:  opts.Locator,
		lines:    opts.Lines,
		refresh:  refresh,
		scheme:   scheme,
		logger:   logger,
		state:    NewState(opts.View),
	}
	if a.lines != nil {
		a.lines.SetQuery(opts.View.Query)
	}
	return a
}

func (a *App) State() *State {
	return a.state
}

// Run draws frames until the user quits, events is closed or ctx is done.
func (a *App) Run(ctx context.Context, events <-chan Event) error {
	if _, err := io.WriteString(a.out, clearScreen); err != nil {
		return err
	}
	a.draw(ctx)

	ticker := time.NewTicker(a.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.draw(ctx)
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch a.state.Apply(ev) {
			case ActionQuit:
				return nil
			case ActionSave:
				a.save()
			case ActionQueryChanged:
				if a.lines != nil {
					a.lines.SetQuery(a.state.View.Query)
				}
				a.draw(ctx)
			case ActionRedraw:
				a.draw(ctx)
			}
		}
	}
}

func (a *App) save() {
	if a.viewPath == "" {
		return
	}
	if err := config.SaveView(a.viewPath, a.state.View); err != nil {
		a.logger.Error("saving view failed", "path", a.viewPath, "error", err)
		return
	}
	a.logger.Info("view saved", "path", a.viewPath)
}

func (a *App) draw(ctx context.Context) {
	width, height, err := a.size()
	if err != nil {
		a.logger.Warn("reading terminal size failed", "error", err)
		return
	}
	size := geo.Size{Width: width / canvas.CellWidth, Height: height - 1}
	if size.Width < 0 || size.Height < 0 {
		size = geo.Size{}
	}

	if a.state.Follow && a.locator != nil {
		a.follow(ctx, size)
	}

	start := time.Now()
	cv, err := a.renderer.RenderMap(ctx, a.cv, a.params(size))
	if cv == nil {
		a.logger.Error("rendering frame failed", "error", err)
		return
	}
	if err != nil {
		a.logger.Debug("frame rendered with errors", "error", err)
	}
	a.cv = cv
	if elapsed := time.Since(start); elapsed > 0 {
		a.fps = float64(time.Second) / float64(elapsed)
	}

	if err := a.write(cv.Serialize(width), width); err != nil {
		a.logger.Error("writing frame failed", "error", err)
	}
}

func (a *App) follow(ctx context.Context, size geo.Size) {
	bbox := geo.BoundingBoxFromCenter(a.state.View.Coordinate(), a.state.View.Zoom, size)
	loc, err := a.locator.Get(ctx, domain.Request{BBox: bbox})
	if err != nil {
		a.logger.Debug("location unavailable", "error", err)
		return
	}
	a.state.View.SetCoordinate(loc.Coordinate)
}

func (a *App) params(size geo.Size) render.Params {
	return render.Params{
		Center:       a.state.View.Coordinate(),
		Zoom:         a.state.View.Zoom,
		Size:         size,
		Scheme:       a.scheme,
		HideRegional: a.state.View.HideRegional,
		Query:        a.state.Query,
		ShowLive:     a.state.View.ShowLive,
	}
}

func (a *App) write(frame canvas.Frame, width int) error {
	bw := bufio.NewWriter(a.out)
	bw.WriteString(cursorHome)
	if err := frame.WriteANSI(bw); err != nil {
		return err
	}
	bw.WriteString("\x1b[0m")
	bw.WriteString(StatusLine(a.state, a.fps, width))
	return bw.Flush()
}

// RenderOnce draws a single frame of the given size without any terminal
// control sequences, for output that is not a terminal.
func RenderOnce(ctx context.Context, r MapRenderer, view *config.View, width, height int, w io.Writer) error {
	scheme, err := view.Scheme()
	if err != nil {
		return fmt.Errorf("parsing color scheme: %w", err)
	}
	state := NewState(view)
	size := geo.Size{Width: width / canvas.CellWidth, Height: height}
	cv, err := r.RenderMap(ctx, nil, render.Params{
		Center:       view.Coordinate(),
		Zoom:         view.Zoom,
		Size:         size,
		Scheme:       scheme,
		HideRegional: view.HideRegional,
		Query:        state.Query,
		ShowLive:     view.ShowLive,
	})
	if cv == nil {
		if err == nil {
			err = errors.New("renderer returned no canvas")
		}
		return err
	}
	if err := cv.Serialize(width).WriteANSI(w); err != nil {
		return err
	}
	return err
}
