// Package filter implements incremental delimiter filters over streamed
// text. An Extract filter emits only the text between a start/stop
// delimiter pair and collects each region; a Hide filter emits only the
// text outside the pair. Both accept arbitrary chunk splits: a delimiter
// arriving across chunk boundaries is held back until it can be decided.
package filter

import (
	"fmt"
	"strings"
)

// Extract emits text between start and stop delimiters.
type Extract struct {
	start, stop string
	enumerate   bool
	passthrough bool

	shown   bool
	buffer  string
	outputs []string
}

// NewExtract returns a filter that extracts the regions between start and
// stop. With enumerate set, each region is prefixed with "<n>. " in the
// emitted text (and regions after the first with a blank line).
// If either delimiter is empty the filter degenerates to a pass-through
// that accumulates a single output.
func NewExtract(start, stop string, enumerate bool) *Extract {
	return &Extract{
		start:       start,
		stop:        stop,
		enumerate:   enumerate,
		passthrough: start == "" || stop == "",
	}
}

// Feed accepts the next chunk and returns the text that became visible.
func (f *Extract) Feed(chunk string) string {
	if f.passthrough {
		if len(f.outputs) == 0 {
			f.outputs = append(f.outputs, "")
		}
		f.outputs[len(f.outputs)-1] += chunk
		return chunk
	}

	f.buffer += chunk
	var out strings.Builder
	for {
		next := f.stop
		if !f.shown {
			next = f.start
		}
		if strings.HasPrefix(f.buffer, next) {
			f.buffer = f.buffer[len(next):]
			f.shown = !f.shown
			if f.shown {
				f.outputs = append(f.outputs, "")
				if f.enumerate {
					if len(f.outputs) > 1 {
						out.WriteString("\n\n")
					}
					fmt.Fprintf(&out, "%d. ", len(f.outputs))
				}
			}
			continue
		}
		safe := safeIndex(f.buffer, next)
		if safe == 0 {
			break
		}
		delta := f.buffer[:safe]
		f.buffer = f.buffer[safe:]
		if f.shown {
			out.WriteString(delta)
			f.outputs[len(f.outputs)-1] += delta
		}
		if f.buffer == "" {
			break
		}
	}
	return out.String()
}

// Outputs returns the regions extracted so far.
func (f *Extract) Outputs() []string {
	return f.outputs
}

// Hide emits text outside the start/stop delimiter pair.
type Hide struct {
	start, stop string
	passthrough bool

	shown  bool
	buffer string
}

// NewHide returns a filter that suppresses everything between start and
// stop. Empty delimiters degenerate to a pass-through.
func NewHide(start, stop string) *Hide {
	return &Hide{
		start:       start,
		stop:        stop,
		passthrough: start == "" || stop == "",
		shown:       true,
	}
}

// Feed accepts the next chunk and returns the text that remains visible.
func (f *Hide) Feed(chunk string) string {
	if f.passthrough {
		return chunk
	}

	f.buffer += chunk
	var out strings.Builder
	for {
		next := f.stop
		if f.shown {
			next = f.start
		}
		if strings.HasPrefix(f.buffer, next) {
			f.buffer = f.buffer[len(next):]
			f.shown = !f.shown
			continue
		}
		safe := safeIndex(f.buffer, next)
		if safe == 0 {
			break
		}
		delta := f.buffer[:safe]
		f.buffer = f.buffer[safe:]
		if f.shown {
			out.WriteString(delta)
		}
		if f.buffer == "" {
			break
		}
	}
	return out.String()
}

// safeIndex returns the length of the longest prefix of buf that cannot
// be part of a later occurrence of next. Bytes from the returned index on
// must be retained until more input arrives.
func safeIndex(buf, next string) int {
	for i := 0; i < len(buf); i++ {
		rest := buf[i:]
		if len(rest) > len(next) {
			rest = rest[:len(next)]
		}
		if strings.HasPrefix(next, rest) {
			return i
		}
	}
	return len(buf)
}
