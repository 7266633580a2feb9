package terminal

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const helpText = "arrows move  +/- zoom  / search  l live  f follow  r regional  s save  h help  q quit"

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// StatusLine renders the bottom line of the screen, cut to width characters.
func StatusLine(s *State, fps float64, width int) string {
	var line string
	switch {
	case s.Mode == ModeSearch:
		line = fmt.Sprintf(" search: %s_", s.Input)
	case s.ShowHelp:
		line = " " + helpText
	default:
		parts := []string{
			fmt.Sprintf(" %.5f, %.5f z%d", s.View.Center.Lat, s.View.Center.Lng, s.View.Zoom),
			"live " + onOff(s.View.ShowLive),
			"follow " + onOff(s.Follow),
		}
		if s.View.HideRegional {
			parts = append(parts, "regional hidden")
		}
		if s.Input != "" {
			parts = append(parts, "query: "+s.Input)
		}
		parts = append(parts, fmt.Sprintf("%.0f fps", fps))
		line = strings.Join(parts, " | ")
	}
	return fit(line, width)
}

func fit(s string, width int) string {
	if width <= 0 {
		return ""
	}
	n := utf8.RuneCountInString(s)
	if n > width {
		return string([]rune(s)[:width])
	}
	return s + strings.Repeat(" ", width-n)
}
