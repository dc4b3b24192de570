package display

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/muesli/termenv"
)

var _ Screen = &Frame{}

type FrameOpts struct {
	Cols    int
	Rows    int
	Origin  int
	Profile termenv.Profile
}

type FrameOpt func(*FrameOpts)

// WithSize sets the number of character columns and rows.
func WithSize(cols, rows int) FrameOpt {
	return func(o *FrameOpts) {
		o.Cols = cols
		o.Rows = rows
	}
}

// WithOrigin places the first frame row at the given terminal row (0-based).
func WithOrigin(row int) FrameOpt {
	return func(o *FrameOpts) {
		o.Origin = row
	}
}

func WithProfile(p termenv.Profile) FrameOpt {
	return func(o *FrameOpts) {
		o.Profile = p
	}
}

// Frame is a text framebuffer drawn on a terminal. The default size matches
// a 128x64 OLED in its normal font: 21 columns by 8 rows.
type Frame struct {
	mx     sync.Mutex
	out    *termenv.Output
	config FrameOpts
	cells  cells
}

func NewFrame(w io.Writer, opts ...FrameOpt) *Frame {
	config := FrameOpts{
		Cols:    21,
		Rows:    8,
		Profile: termenv.Ascii,
	}
	for _, opt := range opts {
		opt(&config)
	}
	return &Frame{
		out:    termenv.NewOutput(w, termenv.WithProfile(config.Profile)),
		config: config,
		cells:  newCells(config.Cols, config.Rows),
	}
}

func (f *Frame) SetCursor(col, row int) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.cells.setCursor(col, row)
}

func (f *Frame) Print(s string) {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.cells.print(s)
}

// Clear blanks the frame; the terminal is updated on the next Commit.
func (f *Frame) Clear() {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.cells.clear()
}

// Commit redraws the rows changed since the previous commit.
func (f *Frame) Commit() error {
	f.mx.Lock()
	defer f.mx.Unlock()
	for row, dirty := range f.cells.dirty {
		if !dirty {
			continue
		}
		f.out.MoveCursor(f.config.Origin+row+1, 1)
		if _, err := f.out.WriteString(f.cells.line(row)); err != nil {
			return fmt.Errorf("display: frame write failed: %w", err)
		}
		f.cells.dirty[row] = false
	}
	return nil
}

// Line returns the content of a row.
func (f *Frame) Line(row int) string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return f.cells.line(row)
}

func (f *Frame) String() string {
	f.mx.Lock()
	defer f.mx.Unlock()
	lines := make([]string, f.cells.rows)
	for i := range lines {
		lines[i] = strings.TrimRight(f.cells.line(i), " ")
	}
	return strings.Join(lines, "\n")
}
