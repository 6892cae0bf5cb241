// Package binning aggregates weighted samples at scattered 2-D positions onto
// a regular pixel grid.
package binning

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
)

// Binner maps samples onto a Bins[0] × Bins[1] grid covering
// Range[0] = [xmin, xmax] and Range[1] = [ymin, ymax].
type Binner struct {
	Bins  [2]int
	Range [2][2]float64
}

// New validates the grid and returns a Binner.
func New(bins [2]int, rng [2][2]float64) (*Binner, error) {
	b := &Binner{Bins: bins, Range: rng}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Binner) validate() error {
	for axis := 0; axis < 2; axis++ {
		if b.Bins[axis] <= 0 {
			return serrors.NewConfiguration("bins on axis %d must be positive, got %d", axis, b.Bins[axis])
		}
		if !(b.Range[axis][1] > b.Range[axis][0]) {
			return serrors.NewConfiguration("range on axis %d is empty: [%g, %g]",
				axis, b.Range[axis][0], b.Range[axis][1])
		}
	}
	return nil
}

// Edges returns the bins+1 bin edges along an axis.
func (b *Binner) Edges(axis int) []float64 {
	edges := make([]float64, b.Bins[axis]+1)
	floats.Span(edges, b.Range[axis][0], b.Range[axis][1])
	return edges
}

// Bin returns the mean weight of the samples falling in each pixel, as a
// (y bins × x bins) matrix. Pixels with no samples are 0. Bins are half-open
// except the last on each axis, which includes its right edge; samples
// outside the range are ignored.
func (b *Binner) Bin(x, y, weights []float64) (*mat.Dense, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if len(x) != len(y) || len(x) != len(weights) {
		return nil, serrors.NewConfiguration("binning inputs differ in length: x=%d y=%d weights=%d",
			len(x), len(y), len(weights))
	}

	nx, ny := b.Bins[0], b.Bins[1]
	xEdges, yEdges := b.Edges(0), b.Edges(1)
	sum := mat.NewDense(ny, nx, nil)
	count := mat.NewDense(ny, nx, nil)

	for k := range x {
		i, ok := binIndex(xEdges, x[k])
		if !ok {
			continue
		}
		j, ok := binIndex(yEdges, y[k])
		if !ok {
			continue
		}
		sum.Set(j, i, sum.At(j, i)+weights[k])
		count.Set(j, i, count.At(j, i)+1)
	}

	out := mat.NewDense(ny, nx, nil)
	out.Apply(func(j, i int, _ float64) float64 {
		c := count.At(j, i)
		if c == 0 {
			return 0
		}
		return sum.At(j, i) / c
	}, out)
	return out, nil
}

// BinPositions bins using the first two columns of an (N × ≥2) position
// matrix as x and y.
func (b *Binner) BinPositions(positions mat.Matrix, weights []float64) (*mat.Dense, error) {
	_, cols := positions.Dims()
	if cols < 2 {
		return nil, serrors.NewConfiguration("positions need at least 2 columns, got %d", cols)
	}
	return b.Bin(mat.Col(nil, 0, positions), mat.Col(nil, 1, positions), weights)
}

// binIndex locates v among sorted edges. The last bin is closed on the
// right; anything outside [edges[0], edges[n]] or NaN is rejected.
func binIndex(edges []float64, v float64) (int, bool) {
	last := len(edges) - 1
	if !(v >= edges[0] && v <= edges[last]) {
		return 0, false
	}
	if v == edges[last] {
		return last - 1, true
	}
	// Number of edges <= v, minus one.
	i := sort.Search(len(edges), func(k int) bool { return edges[k] > v }) - 1
	return i, true
}
