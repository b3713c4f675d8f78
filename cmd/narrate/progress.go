package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const barWidth = 30

// progressBar draws a single updating line on a terminal. On anything
// else it prints a line per ten percent so logs stay readable.
type progressBar struct {
	mu     sync.Mutex
	w      io.Writer
	redraw bool
	last   int
	drawn  bool
}

func newProgressBar(w io.Writer, redraw bool) *progressBar {
	return &progressBar{w: w, redraw: redraw, last: -1}
}

func (b *progressBar) Update(label string, percent int, detail string) {
	percent = max(0, min(percent, 100))
	b.mu.Lock()
	defer b.mu.Unlock()
	if percent == b.last {
		return
	}
	if !b.redraw && b.last >= 0 && percent/10 == b.last/10 && percent != 100 {
		return
	}
	b.last = percent
	line := renderBar(label, percent, detail)
	if b.redraw {
		fmt.Fprintf(b.w, "\r%s", line)
		b.drawn = true
		return
	}
	fmt.Fprintln(b.w, line)
}

// Done ends the redrawn line.
func (b *progressBar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.redraw && b.drawn {
		fmt.Fprintln(b.w)
		b.drawn = false
	}
}

func renderBar(label string, percent int, detail string) string {
	filled := percent * barWidth / 100
	line := fmt.Sprintf("%-10s [%s%s] %3d%%", label, strings.Repeat("#", filled), strings.Repeat(".", barWidth-filled), percent)
	if detail != "" {
		line += " " + detail
	}
	return line
}
