package binning

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
)

func TestBinAllOnesGivesOneInOccupiedBins(t *testing.T) {
	t.Parallel()

	b, err := New([2]int{4, 3}, [2][2]float64{{0, 4}, {0, 3}})
	require.NoError(t, err)

	x := []float64{0.5, 0.6, 0.7, 3.5, 1.2}
	y := []float64{0.5, 0.5, 0.5, 2.5, 1.5}
	w := []float64{1, 1, 1, 1, 1}
	img, err := b.Bin(x, y, w)
	require.NoError(t, err)

	rows, cols := img.Dims()
	assert.Equal(t, 3, rows, "rows follow the y axis")
	assert.Equal(t, 4, cols, "columns follow the x axis")

	occupied := map[[2]int]bool{{0, 0}: true, {2, 3}: true, {1, 1}: true}
	for j := 0; j < rows; j++ {
		for i := 0; i < cols; i++ {
			want := 0.0
			if occupied[[2]int{j, i}] {
				want = 1
			}
			assert.Equal(t, want, img.At(j, i), "pixel (%d,%d)", j, i)
		}
	}
}

func TestBinMeanAndEmptyBinsAreZero(t *testing.T) {
	t.Parallel()

	b := &Binner{Bins: [2]int{2, 2}, Range: [2][2]float64{{0, 2}, {0, 2}}}
	img, err := b.Bin([]float64{0.1, 0.2, 1.5}, []float64{0.1, 0.3, 0.5}, []float64{2, 4, 7})
	require.NoError(t, err)

	want := mat.NewDense(2, 2, []float64{
		3, 7,
		0, 0,
	})
	assert.True(t, mat.Equal(want, img), "got %v", mat.Formatted(img))
	for _, v := range img.RawMatrix().Data {
		assert.False(t, math.IsNaN(v))
	}
}

func TestBinEdges(t *testing.T) {
	t.Parallel()

	b := &Binner{Bins: [2]int{2, 1}, Range: [2][2]float64{{0, 2}, {0, 1}}}
	// x = 1 belongs to the second bin; x = 2 (right edge) is included in
	// the last bin; x = -0.1, x = 2.1 and NaN are dropped.
	img, err := b.Bin(
		[]float64{1, 2, -0.1, 2.1, math.NaN(), 0},
		[]float64{0.5, 1, 0.5, 0.5, 0.5, 0},
		[]float64{10, 20, 99, 99, 99, 5},
	)
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 15}, img.RawRowView(0))
	assert.Equal(t, []float64{0, 1, 2}, b.Edges(0))
}

func TestBinPositions(t *testing.T) {
	t.Parallel()

	b := &Binner{Bins: [2]int{1, 2}, Range: [2][2]float64{{0, 1}, {0, 2}}}
	pos := mat.NewDense(2, 3, []float64{
		0.5, 0.5, 100,
		0.5, 1.5, -100,
	})
	img, err := b.BinPositions(pos, []float64{3, 4})
	require.NoError(t, err)
	assert.Equal(t, 3.0, img.At(0, 0))
	assert.Equal(t, 4.0, img.At(1, 0))

	_, err = b.BinPositions(mat.NewDense(2, 1, nil), []float64{1, 2})
	assert.True(t, serrors.IsConfiguration(err))
}

func TestBinConfigurationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		b    Binner
		x, y []float64
		w    []float64
	}{
		{"zero bins", Binner{Bins: [2]int{0, 1}, Range: [2][2]float64{{0, 1}, {0, 1}}}, nil, nil, nil},
		{"empty range", Binner{Bins: [2]int{1, 1}, Range: [2][2]float64{{1, 1}, {0, 1}}}, nil, nil, nil},
		{"length mismatch", Binner{Bins: [2]int{1, 1}, Range: [2][2]float64{{0, 1}, {0, 1}}},
			[]float64{0.5}, []float64{0.5}, []float64{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Bin(tt.x, tt.y, tt.w)
			assert.True(t, serrors.IsConfiguration(err), "got %v", err)
		})
	}
}
