package terminal

import (
	"strings"
	"unicode/utf8"

	"transitty/internal/config"
	"transitty/internal/query"
)

type Mode int

const (
	ModeMap Mode = iota
	ModeSearch
)

type Action int

const (
	ActionNone Action = iota
	ActionRedraw
	ActionQuit
	ActionSave
	ActionQueryChanged
)

const (
	minZoom = 1
	maxZoom = 20
)

// State is what the user controls: the view, the query being typed and the
// toggles. It holds no I/O and is driven by Apply.
type State struct {
	View     *config.View
	Mode     Mode
	Input    string
	Query    *query.Query
	Follow   bool
	ShowHelp bool
}

func NewState(view *config.View) *State {
	s := &State{View: view, Input: view.Query}
	if q, err := query.Parse(view.Query); err == nil {
		s.Query = q
	}
	return s
}

// PanStep is how far one arrow press moves the centre, in degrees.
func PanStep(zoom int) float64 {
	return 32 / float64(int(2)<<zoom)
}

// Apply updates the state for one key press and reports what the caller
// should do next.
func (s *State) Apply(ev Event) Action {
	if ev.Key == KeyInterrupt {
		return ActionQuit
	}
	if s.Mode == ModeSearch {
		return s.applySearch(ev)
	}
	return s.applyMap(ev)
}

func (s *State) applyMap(ev Event) Action {
	step := PanStep(s.View.Zoom)
	switch ev.Key {
	case KeyUp:
		s.View.Center.Lat += step
	case KeyDown:
		s.View.Center.Lat -= step
	case KeyLeft:
		s.View.Center.Lng -= step
	case KeyRight:
		s.View.Center.Lng += step
	case KeyTab:
		s.Mode = ModeSearch
	case KeyRune:
		return s.applyMapRune(ev.Rune)
	default:
		return ActionNone
	}
	return ActionRedraw
}

func (s *State) applyMapRune(r rune) Action {
	switch r {
	case 'q', 'Q':
		return ActionQuit
	case '+', '=':
		if s.View.Zoom < maxZoom {
			s.View.Zoom++
		}
	case '-', '_':
		if s.View.Zoom > minZoom {
			s.View.Zoom--
		}
	case '/':
		s.Mode = ModeSearch
	case 'l', 'L':
		s.View.ShowLive = !s.View.ShowLive
	case 'f', 'F':
		s.Follow = !s.Follow
	case 'r', 'R':
		s.View.HideRegional = !s.View.HideRegional
	case 'h', 'H', '?':
		s.ShowHelp = !s.ShowHelp
	case 's', 'S':
		return ActionSave
	default:
		return ActionNone
	}
	return ActionRedraw
}

func (s *State) applySearch(ev Event) Action {
	switch ev.Key {
	case KeyEnter, KeyEscape, KeyTab:
		s.Mode = ModeMap
		return ActionRedraw
	case KeyBackspace:
		if s.Input == "" {
			return ActionNone
		}
		_, size := utf8.DecodeLastRuneInString(s.Input)
		s.Input = s.Input[:len(s.Input)-size]
	case KeyRune:
		s.Input += string(ev.Rune)
	default:
		return ActionNone
	}

	q, err := query.Parse(s.Input)
	if err != nil {
		return ActionRedraw
	}
	s.Query = q
	s.View.Query = strings.TrimSpace(s.Input)
	return ActionQueryChanged
}
