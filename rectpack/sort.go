package rectpack

import (
	"cmp"
	"slices"
)

// SortFunc compares two sizes.
// Returns:
//
//	-1: a sorts before b
//	 0: a and b are equal
//	 1: a sorts after b
type SortFunc func(a, b Size) int

// SortArea orders sizes by descending area.
func SortArea(a, b Size) int {
	return cmp.Compare(b.Area(), a.Area())
}

// SortHeight orders sizes by descending height, then by descending width.
func SortHeight(a, b Size) int {
	if c := cmp.Compare(b.Height, a.Height); c != 0 {
		return c
	}
	return cmp.Compare(b.Width, a.Width)
}

// Order returns a copy of sizes sorted by descending area. The sort is
// stable, so sizes with equal area keep their input order.
func Order(sizes []Size) []Size {
	return OrderFunc(sizes, SortArea)
}

// OrderFunc returns a copy of sizes stably sorted by compare. A nil compare
// returns the copy unchanged.
func OrderFunc(sizes []Size, compare SortFunc) []Size {
	ordered := slices.Clone(sizes)
	if compare != nil {
		slices.SortStableFunc(ordered, compare)
	}
	return ordered
}
