package rectpack

import "fmt"

// Point describes a position in 2D space.
type Point struct {
	// X is the position on the horizontal axis.
	X int `json:"x"`
	// Y is the position on the vertical axis.
	Y int `json:"y"`
}

// NewPoint creates a point at the given coordinates.
func NewPoint(x, y int) Point {
	return Point{X: x, Y: y}
}

// String returns the point formatted as [x, y].
func (p Point) String() string {
	return fmt.Sprintf("[%v, %v]", p.X, p.Y)
}

// Size describes the dimensions of an item to place.
type Size struct {
	// Width is the extent on the horizontal axis.
	Width int `json:"w"`
	// Height is the extent on the vertical axis.
	Height int `json:"h"`
	// ID is a caller defined identifier. The packer never interprets it,
	// it is only carried through to placements and failures.
	ID int `json:"-"`
}

// NewSize creates a size with the given dimensions.
func NewSize(width, height int) Size {
	return Size{Width: width, Height: height}
}

// NewSizeID creates a size with the given dimensions and identifier.
func NewSizeID(id, width, height int) Size {
	return Size{ID: id, Width: width, Height: height}
}

// String returns the size formatted as [w, h].
func (sz Size) String() string {
	return fmt.Sprintf("[%v, %v]", sz.Width, sz.Height)
}

// Area returns width * height.
func (sz Size) Area() int {
	return sz.Width * sz.Height
}

// Rect is a placed item: a top-left position plus its size.
type Rect struct {
	Point
	Size
}

// NewRect creates a rectangle from a position and dimensions.
func NewRect(x, y, w, h int) Rect {
	return Rect{
		Point: Point{X: x, Y: y},
		Size:  Size{Width: w, Height: h},
	}
}

// String returns the rectangle formatted as [x, y, w, h].
func (r Rect) String() string {
	return fmt.Sprintf("[%v, %v, %v, %v]", r.X, r.Y, r.Width, r.Height)
}

// Right returns the x coordinate one past the right edge.
func (r Rect) Right() int {
	return r.X + r.Width
}

// Bottom returns the y coordinate one past the bottom edge.
func (r Rect) Bottom() int {
	return r.Y + r.Height
}

// ContainsRect reports whether rect lies entirely within r.
func (r Rect) ContainsRect(rect Rect) bool {
	return r.X <= rect.X &&
		rect.X+rect.Width <= r.X+r.Width &&
		r.Y <= rect.Y &&
		rect.Y+rect.Height <= r.Y+r.Height
}

// Intersects reports whether r and rect share any cell.
func (r Rect) Intersects(rect Rect) bool {
	return rect.X < r.X+r.Width &&
		r.X < rect.X+rect.Width &&
		rect.Y < r.Y+r.Height &&
		r.Y < rect.Y+rect.Height
}
