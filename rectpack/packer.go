package rectpack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultSize is the default widest input size, based on the maximum
// texture size of modern GPUs.
const DefaultSize = 4096

var (
	// ErrTooWide is reported for a size wider than the input width limit.
	ErrTooWide = errors.New("rectpack: too wide")
	// ErrInvalidSize is reported for a size with a non-positive side.
	ErrInvalidSize = errors.New("rectpack: invalid size")
)

// PlacementError describes why a size could not be placed.
type PlacementError struct {
	Size  Size
	Width int // canvas width decided by the Pack that reported the failure
	Err   error
}

func (e *PlacementError) Error() string {
	return fmt.Sprintf("cannot place %v (id %d) on a canvas %d wide: %v", e.Size.String(), e.Size.ID, e.Width, e.Err)
}

func (e *PlacementError) Unwrap() error {
	return e.Err
}

// Packer holds the state of an atlas packer.
//
// Sizes are staged with Insert and placed by Pack. Every staged size ends up
// in exactly one of Rects or Failures. A Packer is not safe for concurrent
// use; independent Packers share nothing.
type Packer struct {
	// unpacked holds the staged sizes until Pack runs
	unpacked []Size

	algo maskPack

	failures []*PlacementError

	// sortFunc orders the staged sizes before packing
	//
	// Default: SortArea
	sortFunc SortFunc

	// maxInputWidth is the widest size the packer accepts
	//
	// Default: DefaultSize
	maxInputWidth int

	logger *slog.Logger
}

// Option configures a Packer.
type Option func(*Packer)

// WithMaxInputWidth sets the widest size the packer accepts. Sizes wider
// than this fail with ErrTooWide and are left out of the canvas sizing.
// It does not cap the canvas: the canvas width is still derived from the
// accepted sizes and may exceed the limit. Values below 1 are ignored.
func WithMaxInputWidth(width int) Option {
	return func(p *Packer) {
		if width > 0 {
			p.maxInputWidth = width
		}
	}
}

// WithSorter sets the ordering applied before packing. A nil compare packs
// sizes in insertion order.
func WithSorter(compare SortFunc) Option {
	return func(p *Packer) {
		p.sortFunc = compare
	}
}

// WithLogger sets the logger used for resize, placement and failure
// messages. A nil logger discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(p *Packer) {
		if l == nil {
			l = newNopLogger()
		}
		p.logger = l
	}
}

// NewPacker creates a packer. Without options it sorts by descending area,
// rejects sizes wider than DefaultSize and logs nothing.
func NewPacker(opts ...Option) *Packer {
	p := &Packer{
		sortFunc:      SortArea,
		maxInputWidth: DefaultSize,
		logger:        newNopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.algo.logger = p.logger
	p.algo.Reset(2)
	return p
}

// Insert stages sizes for the next call to Pack.
func (p *Packer) Insert(sizes ...Size) {
	p.unpacked = append(p.unpacked, sizes...)
}

// InsertSize stages a size with the given identifier and dimensions.
func (p *Packer) InsertSize(id, width, height int) {
	p.Insert(NewSizeID(id, width, height))
}

// Pack places every staged size on a fresh canvas. It reports whether all
// of them were placed; the rest are available from Failures.
func (p *Packer) Pack() bool {
	sizes := OrderFunc(p.unpacked, p.sortFunc)
	p.unpacked = p.unpacked[:0]
	p.failures = p.failures[:0]

	fits := make([]Size, 0, len(sizes))
	var rejected []*PlacementError
	for _, size := range sizes {
		switch {
		case size.Width <= 0 || size.Height <= 0:
			rejected = append(rejected, &PlacementError{Size: size, Err: ErrInvalidSize})
		case size.Width > p.maxInputWidth:
			rejected = append(rejected, &PlacementError{Size: size, Err: ErrTooWide})
		default:
			fits = append(fits, size)
		}
	}

	p.algo.Reset(canvasWidth(fits))
	for _, e := range rejected {
		p.fail(e.Size, p.algo.width, e.Err)
	}
	p.logger.Debug("start packing", "count", len(fits), "width", p.algo.width)
	for _, size := range fits {
		rect, ok := p.algo.Insert(size)
		if !ok {
			p.fail(size, p.algo.width, ErrTooWide)
			continue
		}
		p.logger.Debug("placed", "id", size.ID, "x", rect.X, "y", rect.Y, "w", size.Width, "h", size.Height)
	}
	return len(p.failures) == 0
}

func (p *Packer) fail(size Size, width int, err error) {
	e := &PlacementError{Size: size, Width: width, Err: err}
	p.failures = append(p.failures, e)
	p.logger.Warn("cannot fit", "id", size.ID, "w", size.Width, "h", size.Height, "err", err)
}

// Rects returns the placements of the last Pack in placement order.
// The slice is owned by the packer; copy it before modifying.
func (p *Packer) Rects() []Rect {
	return p.algo.Rects()
}

// Failures returns the sizes the last Pack could not place.
func (p *Packer) Failures() []*PlacementError {
	return p.failures
}

// Unpacked returns the sizes the last Pack could not place, in the order
// they were attempted.
func (p *Packer) Unpacked() []Size {
	sizes := make([]Size, len(p.failures))
	for i, f := range p.failures {
		sizes[i] = f.Size
	}
	return sizes
}

// Canvas returns the canvas decided by the last Pack: the power-of-two
// width and the accumulated height.
func (p *Packer) Canvas() Size {
	return p.algo.Canvas()
}

// Size returns the smallest size that contains every placement.
func (p *Packer) Size() Size {
	var size Size
	for _, rect := range p.algo.Rects() {
		size.Width = max(size.Width, rect.Right())
		size.Height = max(size.Height, rect.Bottom())
	}
	return size
}

// Used returns the placed area as a fraction of the canvas area.
func (p *Packer) Used() float64 {
	return p.algo.Used()
}

// Growths returns how many times the last Pack grew the canvas height.
func (p *Packer) Growths() int {
	return p.algo.growths
}

// Map returns the placements of the last Pack keyed by size ID.
func (p *Packer) Map() map[int]Rect {
	rects := p.algo.Rects()
	mapping := make(map[int]Rect, len(rects))
	for _, rect := range rects {
		mapping[rect.ID] = rect
	}
	return mapping
}

// Result is the outcome of a packing run.
type Result struct {
	Canvas   Size
	Rects    []Rect
	Failures []*PlacementError
}

// Pack is a shorthand for packing sizes with a new Packer.
func Pack(sizes []Size, opts ...Option) Result {
	p := NewPacker(opts...)
	p.Insert(sizes...)
	p.Pack()
	return Result{
		Canvas:   p.Canvas(),
		Rects:    append([]Rect(nil), p.Rects()...),
		Failures: append([]*PlacementError(nil), p.Failures()...),
	}
}

type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }
