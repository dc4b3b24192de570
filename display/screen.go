// Package display renders text screens: a terminal framebuffer and a
// character LCD.
package display

// Screen is a character-cell display. Text is drawn into a buffer and becomes
// visible on Commit.
type Screen interface {
	SetCursor(col, row int)
	Print(s string)
	Commit() error
}

// cells is a rune grid with a cursor and per-row change tracking, shared by
// the screen implementations.
type cells struct {
	cols, rows int
	grid       [][]rune
	dirty      []bool
	col, row   int
}

func newCells(cols, rows int) cells {
	c := cells{
		cols:  cols,
		rows:  rows,
		grid:  make([][]rune, rows),
		dirty: make([]bool, rows),
	}
	for i := range c.grid {
		c.grid[i] = []rune(blank(cols))
		c.dirty[i] = true
	}
	return c
}

func blank(n int) string {
	b := make([]rune, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func (c *cells) setCursor(col, row int) {
	c.col = col
	c.row = row
}

// print writes s at the cursor and moves the cursor. Text past the right
// edge or outside the grid is clipped.
func (c *cells) print(s string) {
	for _, r := range s {
		if c.row >= 0 && c.row < c.rows && c.col >= 0 && c.col < c.cols {
			if c.grid[c.row][c.col] != r {
				c.grid[c.row][c.col] = r
				c.dirty[c.row] = true
			}
		}
		c.col++
	}
}

func (c *cells) clear() {
	for i := range c.grid {
		c.grid[i] = []rune(blank(c.cols))
		c.dirty[i] = true
	}
	c.col, c.row = 0, 0
}

func (c *cells) line(row int) string {
	if row < 0 || row >= c.rows {
		return ""
	}
	return string(c.grid[row])
}
