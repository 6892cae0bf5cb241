// Package interpolation resamples curve geometry onto a shared spatial
// resolution and interpolates curve quantities onto the global
// (time × sample) grid of a chunked store.
package interpolation

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("interpolation")

// Resampled is the global sample set shared by every instrument store.
type Resampled struct {
	// Coordinates holds N rows of (x, y, z), curve after curve
	Coordinates *mat.Dense

	// Unit is the length unit of Coordinates
	Unit string

	// Local holds, per curve, the field-aligned coordinates of the new samples
	Local [][]float64

	// Windows holds, per curve, the reserved column window in [0, N)
	Windows []models.Window
}

// N returns the total number of global samples.
func (r *Resampled) N() int {
	if len(r.Windows) == 0 {
		return 0
	}
	return r.Windows[len(r.Windows)-1].End
}

// Counts returns the per-curve resampled point counts.
func (r *Resampled) Counts() []int {
	counts := make([]int, len(r.Windows))
	for i, w := range r.Windows {
		counts[i] = w.Len()
	}
	return counts
}

// MedianCount returns the median per-curve point count, used as the default
// chunk width of the store datasets.
func (r *Resampled) MedianCount() int {
	counts := r.Counts()
	if len(counts) == 0 {
		return 0
	}
	sort.Ints(counts)
	mid := len(counts) / 2
	if len(counts)%2 == 1 {
		return counts[mid]
	}
	return (counts[mid-1] + counts[mid]) / 2
}

// Resample interpolates every curve to a spacing no coarser than ds so the
// binned image is not patchy. Each curve i gets ceil(L_i/ds) samples.
func Resample(curves []*models.Curve, ds float64) (*Resampled, error) {
	if !(ds > 0) {
		return nil, serrors.NewConfiguration("resampling step must be positive, got %g", ds)
	}
	if len(curves) == 0 {
		return nil, serrors.NewConfiguration("no curves to resample")
	}

	counts := make([]int, len(curves))
	for i, c := range curves {
		counts[i] = int(math.Ceil(c.Length() / ds))
		if counts[i] < 1 {
			counts[i] = 1
		}
	}
	windows := models.Windows(counts)
	total := windows[len(windows)-1].End

	out := &Resampled{
		Coordinates: mat.NewDense(total, 3, nil),
		Unit:        curves[0].PositionUnit,
		Local:       make([][]float64, len(curves)),
		Windows:     windows,
	}

	for i, c := range curves {
		if c.PositionUnit != out.Unit {
			return nil, serrors.NewConfiguration("curve %q position unit %q differs from %q",
				c.Name, c.PositionUnit, out.Unit)
		}
		s := c.FieldAlignedCoordinate()
		n := counts[i]
		out.Local[i] = linspace(s[0], s[len(s)-1], n)

		block := out.Coordinates.Slice(windows[i].Start, windows[i].End, 0, 3).(*mat.Dense)
		if err := fitCurve(c, linspace(0, 1, n), block); err != nil {
			return nil, serrors.Wrapf(err, "resample curve %q", c.Name)
		}
	}

	log.Debug("resampled curves", "curves", len(curves), "samples", total, "ds", ds)
	return out, nil
}

// fitCurve fits a smooth interpolant through the native positions,
// parameterized by normalized arc length, and evaluates it at params.
func fitCurve(c *models.Curve, params []float64, dst *mat.Dense) error {
	s := c.FieldAlignedCoordinate()
	u := make([]float64, len(s))
	floats.ScaleTo(u, 1/c.Length(), s)
	u[len(u)-1] = 1

	column := make([]float64, len(s))
	for axis := 0; axis < 3; axis++ {
		mat.Col(column, axis, c.Positions)
		spline := newSpline(len(s))
		if err := spline.Fit(u, column); err != nil {
			return serrors.NewConfiguration("fit axis %d: %v", axis, err)
		}
		for j, p := range params {
			dst.Set(j, axis, spline.Predict(p))
		}
	}
	return nil
}

// newSpline picks a natural cubic spline, or a linear one when there are too
// few points for a cubic.
func newSpline(points int) interp.FittablePredictor {
	if points < 3 {
		return &interp.PiecewiseLinear{}
	}
	return &interp.NaturalCubic{}
}

// linspace returns n evenly spaced values over [start, stop]. The endpoints
// are exact.
func linspace(start, stop float64, n int) []float64 {
	out := make([]float64, n)
	if n == 1 {
		out[0] = start
		return out
	}
	floats.Span(out, start, stop)
	return out
}
