package interpolation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
)

type recordingWriter struct {
	name   string
	window models.Window
	values *mat.Dense
	unit   string
}

func (w *recordingWriter) Write(name string, window models.Window, values *mat.Dense, unit string) error {
	w.name, w.window, w.values, w.unit = name, window, values, unit
	return nil
}

// quantityCurve builds a 4-point straight curve (s = 0,1,2,3) whose density is
// value(t, s) = 10*t + s sampled at the given times.
func quantityCurve(t *testing.T, times []float64) *models.Curve {
	t.Helper()
	return quantityCurveIn(t, times, "s")
}

func quantityCurveIn(t *testing.T, times []float64, timeUnit string) *models.Curve {
	t.Helper()
	pos := mat.NewDense(4, 3, []float64{
		0, 0, 0,
		1, 0, 0,
		2, 0, 0,
		3, 0, 0,
	})
	vals := mat.NewDense(len(times), 4, nil)
	for r, tt := range times {
		for c := 0; c < 4; c++ {
			vals.Set(r, c, 10*tt+float64(c))
		}
	}
	c, err := models.NewCurve("loop", pos, "Mm", make([]float64, 4), times, timeUnit,
		map[string]models.Series{"density": {Values: vals, Unit: "cm-3"}})
	require.NoError(t, err)
	return c
}

func TestInterpolateStaticIdentity(t *testing.T) {
	t.Parallel()

	c := quantityCurve(t, []float64{5})
	task := Task{
		Quantity:   "density",
		Curve:      c,
		Local:      c.FieldAlignedCoordinate(),
		Window:     models.Window{Start: 0, End: 4},
		TargetTime: []float64{5},
	}

	got, unit, err := task.Interpolate()
	require.NoError(t, err)
	assert.Equal(t, "cm-3", unit)
	assert.Equal(t, []float64{50, 51, 52, 53}, got.RawRowView(0))
}

func TestInterpolateStaticMismatch(t *testing.T) {
	t.Parallel()

	c := quantityCurve(t, []float64{5})
	for _, target := range [][]float64{{6}, {5, 6}} {
		task := Task{Quantity: "density", Curve: c, Local: []float64{0, 3},
			Window: models.Window{Start: 0, End: 2}, TargetTime: target}
		_, _, err := task.Interpolate()
		assert.True(t, serrors.IsStaticCaseMismatch(err), "target %v", target)
	}
}

func TestInterpolateSpaceAndTime(t *testing.T) {
	t.Parallel()

	c := quantityCurve(t, []float64{0, 1, 2})
	task := Task{
		Quantity:   "density",
		Curve:      c,
		Local:      []float64{0, 1.5, 3},
		Window:     models.Window{Start: 7, End: 10},
		TargetTime: []float64{-1, 0.5, 2, 3},
	}

	got, _, err := task.Interpolate()
	require.NoError(t, err)
	rows, cols := got.Dims()
	require.Equal(t, 4, rows)
	require.Equal(t, 3, cols)

	// value(t, s) = 10t + s is linear in both axes, so extrapolated edges
	// follow the same plane.
	want := [][]float64{
		{-10, -8.5, -7},
		{5, 6.5, 8},
		{20, 21.5, 23},
		{30, 31.5, 33},
	}
	for r := range want {
		assert.InDeltaSlice(t, want[r], got.RawRowView(r), 1e-12, "row %d", r)
	}
}

func TestCommitWritesWindow(t *testing.T) {
	t.Parallel()

	c := quantityCurve(t, []float64{0, 1})
	task := Task{Quantity: "density", Curve: c, Local: []float64{0, 3},
		Window: models.Window{Start: 20, End: 22}, TargetTime: []float64{0, 1}}

	w := &recordingWriter{}
	require.NoError(t, task.Commit(w))
	assert.Equal(t, "density", w.name)
	assert.Equal(t, models.Window{Start: 20, End: 22}, w.window)
	assert.Equal(t, "cm-3", w.unit)
	assert.Equal(t, []float64{10, 13}, w.values.RawRowView(1))
	assert.Contains(t, task.Name(), "curve=loop")
}

func TestInterpolateMissingQuantity(t *testing.T) {
	t.Parallel()

	c := quantityCurve(t, []float64{0, 1})
	task := Task{Quantity: "ion_temperature", Curve: c, Local: []float64{0},
		Window: models.Window{Start: 0, End: 1}, TargetTime: []float64{0}}
	_, _, err := task.Interpolate()
	assert.True(t, serrors.IsConfiguration(err))
}

func TestInterpolateConvertsTimeUnit(t *testing.T) {
	t.Parallel()

	// Curve time is in minutes, the target grid in seconds.
	c := quantityCurveIn(t, []float64{0, 1}, "min")
	task := Task{
		Quantity:   "density",
		Curve:      c,
		Local:      []float64{0, 3},
		Window:     models.Window{Start: 0, End: 2},
		TargetTime: []float64{0, 30, 60},
		TimeUnit:   "s",
	}

	got, _, err := task.Interpolate()
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0, 3}, got.RawRowView(0), 1e-12)
	assert.InDeltaSlice(t, []float64{5, 8}, got.RawRowView(1), 1e-12)
	assert.InDeltaSlice(t, []float64{10, 13}, got.RawRowView(2), 1e-12)

	task.TimeUnit = "parsec"
	_, _, err = task.Interpolate()
	assert.True(t, serrors.IsConfiguration(err))
}

func TestInterpolateStaticComparesInTargetUnit(t *testing.T) {
	t.Parallel()

	c := quantityCurveIn(t, []float64{1}, "min")
	task := Task{Quantity: "density", Curve: c, Local: []float64{0, 3},
		Window: models.Window{Start: 0, End: 2}, TargetTime: []float64{60}, TimeUnit: "s"}

	got, _, err := task.Interpolate()
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 13}, got.RawRowView(0))

	task.TargetTime = []float64{1}
	_, _, err = task.Interpolate()
	assert.True(t, serrors.IsStaticCaseMismatch(err))
}
