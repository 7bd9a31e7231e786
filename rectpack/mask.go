package rectpack

import "fmt"

// Mask tracks which cells of the canvas are covered by placed rectangles.
// Cells are stored row-major (index y*width+x). The width is fixed for the
// lifetime of the mask, the height only grows.
type Mask struct {
	cells  []bool
	width  int
	height int
}

// NewMask allocates a mask of width x height free cells.
// It panics if either dimension is negative.
func NewMask(width, height int) *Mask {
	if width < 0 || height < 0 {
		panic(fmt.Sprintf("rectpack: invalid mask size %dx%d", width, height))
	}
	return &Mask{
		cells:  make([]bool, width*height),
		width:  width,
		height: height,
	}
}

// Width returns the fixed width of the mask.
func (m *Mask) Width() int { return m.width }

// Height returns the current height of the mask.
func (m *Mask) Height() int { return m.height }

// At reports whether the cell at (x, y) is occupied.
func (m *Mask) At(x, y int) bool {
	return m.cells[y*m.width+x]
}

// Grow extends the mask to newHeight rows. Existing cells keep their value
// and the appended rows are free. Shrinking is a no-op.
func (m *Mask) Grow(newHeight int) {
	if newHeight <= m.height {
		return
	}
	cells := make([]bool, m.width*newHeight)
	copy(cells, m.cells)
	m.cells = cells
	m.height = newHeight
}

// Fill marks every cell of the box [x, x+w) x [y, y+h) as occupied.
func (m *Mask) Fill(x, y, w, h int) {
	for row := y; row < y+h; row++ {
		line := m.cells[row*m.width+x : row*m.width+x+w]
		for i := range line {
			line[i] = true
		}
	}
}

// Free reports whether the box [x, x+w) x [y, y+h) is entirely free.
// When it is not, blocked is the column of the first occupied cell found,
// scanning each row left to right.
func (m *Mask) Free(x, y, w, h int) (free bool, blocked int) {
	for row := y; row < y+h; row++ {
		line := m.cells[row*m.width+x : row*m.width+x+w]
		for i, set := range line {
			if set {
				return false, x + i
			}
		}
	}
	return true, 0
}

// Count returns the number of occupied cells.
func (m *Mask) Count() int {
	n := 0
	for _, set := range m.cells {
		if set {
			n++
		}
	}
	return n
}
