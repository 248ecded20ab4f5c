// grid.go is a dirty-tracking snapshot of a Page. This kernel is pure
// VGA text mode, so Cell is the two-byte cell shape Page.CellAt already
// returns (one ASCII byte plus one packed attribute byte) behind a
// dirty bitmap a renderer iterates over to redraw only what changed.
//
// Nothing in the kernel core needs this (a Page already holds its own
// cells via the vt emulator); it exists for cmd/kernel's render loop,
// which snapshots a Page into a Grid every frame and diffs it against the
// previous frame's Grid instead of re-emitting all Cols*Rows bytes every
// tick.
package screen

// Cell is one VGA-style text cell: a character and its packed
// background/foreground attribute nibble, matching Page.CellAt's return
// shape.
type Cell struct {
	Ch   byte
	Attr uint8
}

// Grid is a dirty-tracked Cols x Rows array of Cells.
type Grid struct {
	cells []Cell
	dirty []bool
	cols  int
	rows  int

	cursorX, cursorY int
}

// NewGrid returns a Grid of the given size, every cell blank (space,
// attribute 0x07, light grey on black, the VGA text-mode default).
func NewGrid(cols, rows int) *Grid {
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}
	size := cols * rows
	g := &Grid{
		cells:   make([]Cell, size),
		dirty:   make([]bool, size),
		cols:    cols,
		rows:    rows,
		cursorX: -1,
		cursorY: -1,
	}
	for i := range g.cells {
		g.cells[i] = Cell{Ch: ' ', Attr: 0x07}
	}
	return g
}

// Size returns the grid dimensions.
func (g *Grid) Size() (cols, rows int) {
	return g.cols, g.rows
}

// CellAt returns a pointer to the cell at (x, y), or nil if out of bounds.
func (g *Grid) CellAt(x, y int) *Cell {
	if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
		return nil
	}
	return &g.cells[y*g.cols+x]
}

// SetCell updates a cell and marks it dirty if it changed. Returns true if
// the cell was actually modified.
func (g *Grid) SetCell(x, y int, ch byte, attr uint8) bool {
	if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
		return false
	}
	idx := y*g.cols + x
	next := Cell{Ch: ch, Attr: attr}
	if g.cells[idx] == next {
		return false
	}
	g.cells[idx] = next
	g.dirty[idx] = true
	return true
}

// IsDirty returns true if the cell at (x, y) needs re-rendering.
func (g *Grid) IsDirty(x, y int) bool {
	if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
		return false
	}
	return g.dirty[y*g.cols+x]
}

// MarkAllDirty marks every cell as needing re-rendering, used the first
// time a Grid is rendered and after a terminal swaps onto the physical
// frame.
func (g *Grid) MarkAllDirty() {
	for i := range g.dirty {
		g.dirty[i] = true
	}
}

// ClearDirty clears every dirty flag, called once a renderer has drawn
// every cell IterateDirty reported.
func (g *Grid) ClearDirty() {
	for i := range g.dirty {
		g.dirty[i] = false
	}
}

// DirtyCount returns the number of dirty cells.
func (g *Grid) DirtyCount() int {
	count := 0
	for _, d := range g.dirty {
		if d {
			count++
		}
	}
	return count
}

// UpdateCursor marks the old and new cursor cells dirty and records the
// new position.
func (g *Grid) UpdateCursor(x, y int) {
	if g.cursorX >= 0 && g.cursorY >= 0 {
		g.markDirty(g.cursorX, g.cursorY)
	}
	if x >= 0 && y >= 0 {
		g.markDirty(x, y)
	}
	g.cursorX, g.cursorY = x, y
}

// CursorPosition returns the current cursor position.
func (g *Grid) CursorPosition() (x, y int) {
	return g.cursorX, g.cursorY
}

func (g *Grid) markDirty(x, y int) {
	if x < 0 || x >= g.cols || y < 0 || y >= g.rows {
		return
	}
	g.dirty[y*g.cols+x] = true
}

// IterateDirty calls fn for each dirty cell with its coordinates, in
// row-major order so a renderer can batch consecutive dirty cells on one
// row into a single cursor move.
func (g *Grid) IterateDirty(fn func(x, y int, cell Cell)) {
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			idx := y*g.cols + x
			if g.dirty[idx] {
				fn(x, y, g.cells[idx])
			}
		}
	}
}

// Sync copies every cell of page into the Grid, marking changed cells
// dirty: the snapshot step a renderer calls once per frame before
// IterateDirty/ClearDirty.
func (g *Grid) Sync(page Page) {
	cx, cy := page.Cursor()
	for y := 0; y < g.rows; y++ {
		for x := 0; x < g.cols; x++ {
			ch, attr := page.CellAt(x, y)
			if ch == 0 {
				ch = ' '
			}
			g.SetCell(x, y, ch, attr)
		}
	}
	g.UpdateCursor(cx, cy)
}
