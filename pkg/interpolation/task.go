package interpolation

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/interp"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
)

// Writer commits a (T × window) block into a store dataset.
type Writer interface {
	Write(name string, window models.Window, values *mat.Dense, unit string) error
}

// Task interpolates one quantity of one curve onto the global grid.
type Task struct {
	// Quantity is the curve quantity and store dataset name
	Quantity string

	// Curve is the source of the samples
	Curve *models.Curve

	// Local are the target field-aligned coordinates from Resample
	Local []float64

	// Window is the curve's reserved column window
	Window models.Window

	// TargetTime is the instrument observing time grid
	TargetTime []float64

	// TimeUnit is the unit of TargetTime; the curve time axis is converted
	// to it. Empty means the curve's own unit.
	TimeUnit string
}

// Name identifies the task in scheduler errors.
func (t Task) Name() string {
	return fmt.Sprintf("interpolate %s curve=%s window=%s", t.Quantity, t.Curve.Name, t.Window)
}

// Interpolate resamples the quantity in space, then in time. The result has
// one row per target time and one column per local sample.
func (t Task) Interpolate() (*mat.Dense, string, error) {
	series, err := t.Curve.Quantity(t.Quantity)
	if err != nil {
		return nil, "", err
	}
	if len(t.Local) != t.Window.Len() {
		return nil, "", serrors.NewConfiguration("curve %q: %d local samples for window %s",
			t.Curve.Name, len(t.Local), t.Window)
	}

	spatial, err := interpolateSpace(t.Curve.FieldAlignedCoordinate(), series.Values, t.Local)
	if err != nil {
		return nil, "", serrors.Wrapf(err, "curve %q quantity %s", t.Curve.Name, t.Quantity)
	}

	times := t.Curve.Time
	if t.TimeUnit != "" {
		if times, err = models.ConvertTime(times, t.Curve.TimeUnit, t.TimeUnit); err != nil {
			return nil, "", serrors.Wrapf(err, "curve %q time axis", t.Curve.Name)
		}
	}

	if t.Curve.IsStatic() {
		if len(t.TargetTime) != 1 || t.TargetTime[0] != times[0] {
			return nil, "", serrors.NewStaticCaseMismatch(t.Curve.Name, times[0], t.TargetTime)
		}
		return spatial, series.Unit, nil
	}

	return interpolateTime(times, spatial, t.TargetTime), series.Unit, nil
}

// Commit interpolates and writes the result at the curve's window.
func (t Task) Commit(w Writer) error {
	values, unit, err := t.Interpolate()
	if err != nil {
		return err
	}
	return w.Write(t.Quantity, t.Window, values, unit)
}

// interpolateSpace evaluates each time row of values, sampled at s, at the
// target coordinates with piecewise-linear interpolation.
func interpolateSpace(s []float64, values *mat.Dense, target []float64) (*mat.Dense, error) {
	rows, _ := values.Dims()
	out := mat.NewDense(rows, len(target), nil)
	var pl interp.PiecewiseLinear
	for r := 0; r < rows; r++ {
		if err := pl.Fit(s, values.RawRowView(r)); err != nil {
			return nil, serrors.NewConfiguration("spatial fit: %v", err)
		}
		dst := out.RawRowView(r)
		for j, x := range target {
			dst[j] = pl.Predict(x)
		}
	}
	return out, nil
}

// interpolateTime linearly interpolates the rows of values, sampled at times,
// onto target, extrapolating linearly beyond either edge.
func interpolateTime(times []float64, values *mat.Dense, target []float64) *mat.Dense {
	_, cols := values.Dims()
	out := mat.NewDense(len(target), cols, nil)
	for k, tt := range target {
		i, w := bracket(times, tt)
		lo, hi := values.RawRowView(i), values.RawRowView(i+1)
		dst := out.RawRowView(k)
		if w == 1 {
			copy(dst, hi)
			continue
		}
		for j := range dst {
			dst[j] = lo[j] + w*(hi[j]-lo[j])
		}
	}
	return out
}

// bracket returns the segment index i in [0, n-2] and the fractional weight
// of x within [xs[i], xs[i+1]]; the weight is outside [0,1] when
// extrapolating. Exact knots get weight 0, or 1 at the last knot.
func bracket(xs []float64, x float64) (int, float64) {
	i := sort.Search(len(xs), func(k int) bool { return xs[k] > x }) - 1
	if i < 0 {
		i = 0
	}
	if i > len(xs)-2 {
		i = len(xs) - 2
	}
	return i, (x - xs[i]) / (xs[i+1] - xs[i])
}
