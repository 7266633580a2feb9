// Package terminal runs the interactive map in a raw-mode terminal.
package terminal

import (
	"context"
	"io"
	"unicode/utf8"
)

type Key int

const (
	KeyRune Key = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyEnter
	KeyEscape
	KeyBackspace
	KeyTab
	KeyInterrupt
)

// Event is one key press. Rune is set for KeyRune only.
type Event struct {
	Key  Key
	Rune rune
}

// ParseKeys decodes the key presses in buf. Bytes that may start an
// incomplete sequence are returned as rest to be prefixed to the next read.
func ParseKeys(buf []byte) (events []Event, rest []byte) {
	for len(buf) > 0 {
		b := buf[0]
		switch {
		case b == 0x1b:
			if len(buf) == 1 {
				return append(events, Event{Key: KeyEscape}), nil
			}
			if buf[1] != '[' && buf[1] != 'O' {
				events = append(events, Event{Key: KeyEscape})
				buf = buf[1:]
				continue
			}
			if len(buf) < 3 {
				return events, buf
			}
			n := csiLength(buf)
			if n == 0 {
				return events, buf
			}
			if ev, ok := arrow(buf[n-1]); ok {
				events = append(events, ev)
			}
			buf = buf[n:]
		case b == 0x03:
			events = append(events, Event{Key: KeyInterrupt})
			buf = buf[1:]
		case b == '\r' || b == '\n':
			events = append(events, Event{Key: KeyEnter})
			buf = buf[1:]
		case b == '\t':
			events = append(events, Event{Key: KeyTab})
			buf = buf[1:]
		case b == 0x7f || b == 0x08:
			events = append(events, Event{Key: KeyBackspace})
			buf = buf[1:]
		case b < 0x20:
			buf = buf[1:]
		default:
			if !utf8.FullRune(buf) {
				return events, buf
			}
			r, size := utf8.DecodeRune(buf)
			if r != utf8.RuneError {
				events = append(events, Event{Key: KeyRune, Rune: r})
			}
			buf = buf[size:]
		}
	}
	return events, nil
}

// csiLength returns the length of the escape sequence at the start of buf, or
// 0 when it is not complete yet.
func csiLength(buf []byte) int {
	for i := 2; i < len(buf); i++ {
		if buf[i] >= 0x40 && buf[i] <= 0x7e {
			return i + 1
		}
	}
	return 0
}

func arrow(final byte) (Event, bool) {
	switch final {
	case 'A':
		return Event{Key: KeyUp}, true
	case 'B':
		return Event{Key: KeyDown}, true
	case 'C':
		return Event{Key: KeyRight}, true
	case 'D':
		return Event{Key: KeyLeft}, true
	default:
		return Event{}, false
	}
}

// ReadEvents decodes key presses from r until it fails or ctx is done. The
// channel is closed when reading stops.
func ReadEvents(ctx context.Context, r io.Reader, out chan<- Event) error {
	defer close(out)
	buf := make([]byte, 256)
	var pending []byte
	for {
		n, err := r.Read(buf)
		if n > 0 {
			var events []Event
			events, pending = ParseKeys(append(pending, buf[:n]...))
			for _, ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
