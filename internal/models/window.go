package models

import "fmt"

// Window is a contiguous half-open column range [Start, End) of the global
// sample index reserved for one curve.
type Window struct {
	Start int
	End   int
}

// Len returns the number of columns in the window.
func (w Window) Len() int {
	return w.End - w.Start
}

// String implements fmt.Stringer.
func (w Window) String() string {
	return fmt.Sprintf("[%d,%d)", w.Start, w.End)
}

// Windows builds the partition of [0, sum(counts)) in the given order.
func Windows(counts []int) []Window {
	windows := make([]Window, len(counts))
	offset := 0
	for i, n := range counts {
		windows[i] = Window{Start: offset, End: offset + n}
		offset += n
	}
	return windows
}
