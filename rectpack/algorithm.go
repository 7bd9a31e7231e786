package rectpack

import (
	"log/slog"
	"math"
)

// maskPack is a single packing session: a canvas of fixed width whose height
// grows on demand, and the occupancy mask covering it.
//
// Placement is greedy first-fit. Rows are scanned top to bottom and columns
// left to right; the first position where the box is entirely free wins.
type maskPack struct {
	mask     *Mask
	packed   []Rect
	width    int
	height   int
	usedArea int
	growths  int
	logger   *slog.Logger
}

// canvasWidth returns the smallest power of two, starting at 2, that is at
// least floor(sqrt(total area)) and at least the widest size.
func canvasWidth(sizes []Size) int {
	totalArea, maxWidth := 0, 0
	for _, size := range sizes {
		totalArea += size.Area()
		maxWidth = max(maxWidth, size.Width)
	}
	desired := max(isqrt(totalArea), maxWidth)
	width := 2
	for width < desired {
		width <<= 1
	}
	return width
}

// isqrt returns floor(sqrt(n)) for n >= 0.
func isqrt(n int) int {
	r := int(math.Sqrt(float64(n)))
	// float rounding can be off by one for large n
	for r*r > n {
		r--
	}
	for (r+1)*(r+1) <= n {
		r++
	}
	return r
}

// Reset starts a new session on a square canvas of the given width.
func (p *maskPack) Reset(width int) {
	p.width = width
	p.height = width
	p.mask = NewMask(width, width)
	p.packed = p.packed[:0]
	p.usedArea = 0
	p.growths = 0
}

// grow extends the canvas height by dy rows.
func (p *maskPack) grow(dy int) {
	p.height += dy
	p.mask.Grow(p.height)
	p.growths++
	p.logger.Debug("resize canvas", "width", p.width, "height", p.height)
}

// Insert places size at the first free position and returns the placement.
// It reports false only when size is wider than the canvas.
func (p *maskPack) Insert(size Size) (Rect, bool) {
	w, h := size.Width, size.Height
	if w > p.width {
		return Rect{}, false
	}
	for y := 0; ; y++ {
		// Grows one row earlier than strictly needed; kept so canvas
		// heights stay reproducible.
		if y+h >= p.height {
			p.grow(h)
		}
		for x := 0; x <= p.width-w; {
			free, blocked := p.mask.Free(x, y, w, h)
			if !free {
				x = blocked + 1
				continue
			}
			p.mask.Fill(x, y, w, h)
			rect := Rect{Point: NewPoint(x, y), Size: size}
			p.packed = append(p.packed, rect)
			p.usedArea += size.Area()
			return rect, true
		}
	}
}

// Rects returns the placements in placement order.
func (p *maskPack) Rects() []Rect {
	return p.packed
}

// Canvas returns the current canvas extent.
func (p *maskPack) Canvas() Size {
	return NewSize(p.width, p.height)
}

// Used returns the placed area as a fraction of the canvas area.
func (p *maskPack) Used() float64 {
	if p.width == 0 || p.height == 0 {
		return 0
	}
	return float64(p.usedArea) / float64(p.width*p.height)
}
