package interpolation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
)

// lineCurve builds a straight curve of n samples along x with the given spacing
// and a single static time sample.
func lineCurve(t *testing.T, name string, n int, spacing float64) *models.Curve {
	t.Helper()
	pos := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		pos.Set(i, 0, float64(i)*spacing)
		pos.Set(i, 1, 1)
	}
	c, err := models.NewCurve(name, pos, "Mm", make([]float64, n), []float64{0}, "s", nil)
	require.NoError(t, err)
	return c
}

// arcCurve builds a semicircular loop of radius r standing in the x-z plane.
func arcCurve(t *testing.T, name string, n int, r float64) *models.Curve {
	t.Helper()
	pos := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		theta := math.Pi * float64(i) / float64(n-1)
		pos.Set(i, 0, r*math.Cos(theta))
		pos.Set(i, 2, r*math.Sin(theta))
	}
	c, err := models.NewCurve(name, pos, "Mm", make([]float64, n), []float64{0}, "s", nil)
	require.NoError(t, err)
	return c
}

func TestResampleCountsAndWindows(t *testing.T) {
	t.Parallel()

	curves := []*models.Curve{
		lineCurve(t, "loop0", 10, 1.08), // L ~ 9.72 -> 20 samples at ds=0.5
		lineCurve(t, "loop1", 15, 0.88), // L ~ 12.32 -> 25 samples
	}

	r, err := Resample(curves, 0.5)
	require.NoError(t, err)

	assert.Equal(t, []int{20, 25}, r.Counts())
	assert.Equal(t, 45, r.N())
	assert.Equal(t, []models.Window{{Start: 0, End: 20}, {Start: 20, End: 45}}, r.Windows)

	rows, cols := r.Coordinates.Dims()
	assert.Equal(t, 45, rows)
	assert.Equal(t, 3, cols)
	assert.Len(t, r.Local[0], 20)
	assert.Len(t, r.Local[1], 25)
	assert.Equal(t, 0.0, r.Local[1][0])
	assert.InDelta(t, curves[1].Length(), r.Local[1][24], 1e-12)
}

func TestResampleWindowsPartitionAnyCurveSet(t *testing.T) {
	t.Parallel()

	var curves []*models.Curve
	for i := 0; i < 7; i++ {
		curves = append(curves, lineCurve(t, "loop", 3+i*2, 0.3+0.17*float64(i)))
	}
	r, err := Resample(curves, 0.25)
	require.NoError(t, err)

	next := 0
	total := 0
	for i, w := range r.Windows {
		assert.Equal(t, next, w.Start, "window %d must start where the previous ended", i)
		assert.Greater(t, w.End, w.Start)
		next = w.End
		total += r.Counts()[i]
	}
	assert.Equal(t, r.N(), next)
	assert.Equal(t, r.N(), total)
}

func TestResampleFollowsGeometry(t *testing.T) {
	t.Parallel()

	const radius = 10.0
	c := arcCurve(t, "arc", 40, radius)
	r, err := Resample([]*models.Curve{c}, 0.1)
	require.NoError(t, err)

	// Endpoints are reproduced exactly and interior samples stay on the arc.
	n, _ := r.Coordinates.Dims()
	assert.InDelta(t, radius, r.Coordinates.At(0, 0), 1e-9)
	assert.InDelta(t, -radius, r.Coordinates.At(n-1, 0), 1e-9)
	for i := 0; i < n; i++ {
		x, z := r.Coordinates.At(i, 0), r.Coordinates.At(i, 2)
		assert.InDelta(t, radius, math.Hypot(x, z), 0.05, "sample %d off the arc", i)
	}
}

func TestResampleTwoPointCurveIsLinear(t *testing.T) {
	t.Parallel()

	c := lineCurve(t, "short", 2, 4)
	r, err := Resample([]*models.Curve{c}, 1)
	require.NoError(t, err)
	require.Equal(t, 4, r.N())
	for i := 0; i < 4; i++ {
		assert.InDelta(t, 4*float64(i)/3, r.Coordinates.At(i, 0), 1e-12)
	}
}

func TestResampleRejectsBadInput(t *testing.T) {
	t.Parallel()

	_, err := Resample(nil, 1)
	assert.True(t, serrors.IsConfiguration(err))

	_, err = Resample([]*models.Curve{lineCurve(t, "a", 3, 1)}, 0)
	assert.True(t, serrors.IsConfiguration(err))
}

func TestMedianCount(t *testing.T) {
	t.Parallel()

	r := &Resampled{Windows: models.Windows([]int{5, 1, 9, 3})}
	assert.Equal(t, 4, r.MedianCount())
	r = &Resampled{Windows: models.Windows([]int{5, 1, 9})}
	assert.Equal(t, 5, r.MedianCount())
}
