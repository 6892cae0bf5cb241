package output

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"synthesizar/internal/models"
)

func testImage() *models.Image {
	data := mat.NewDense(3, 4, nil)
	for i := range data.RawMatrix().Data {
		data.RawMatrix().Data[i] = float64(i)
	}
	return &models.Image{
		Instrument: "aia",
		Channel:    "171",
		TimeIndex:  7,
		Data:       data,
		Header:     models.Header{"CRPIX1": "2.5", "BUNIT": "DN", "INSTRUME": "aia"},
	}
}

func TestPath(t *testing.T) {
	a := NewAssembler("/data/run", CompressionNone)
	assert.Equal(t, filepath.Join("/data/run", "aia", "171", "map_t000042.parquet"), a.Path("aia", "171", 42))
}

func TestAssembleRoundTrip(t *testing.T) {
	for _, codec := range []string{"none", "zstd", "snappy", "gzip"} {
		t.Run(codec, func(t *testing.T) {
			root := t.TempDir()
			a := NewAssembler(root, ParseCompressionType(codec))

			img := testImage()
			original := img.Header.Clone()
			observed := time.Date(2026, 3, 1, 12, 0, 30, 500e6, time.UTC)

			path, err := a.Assemble(img, observed)
			require.NoError(t, err)
			assert.Equal(t, a.Path("aia", "171", 7), path)
			assert.Equal(t, path, img.Path)
			assert.NotContains(t, original, "DATE-OBS", "caller header is not mutated")

			got, err := ReadImage(path)
			require.NoError(t, err)
			assert.Equal(t, "aia", got.Instrument)
			assert.Equal(t, "171", got.Channel)
			assert.Equal(t, 7, got.TimeIndex)
			assert.True(t, mat.Equal(img.Data, got.Data))

			assert.Equal(t, "2026-03-01T12:00:30.500", got.Header["DATE-OBS"])
			assert.Equal(t, "DN", got.Header["BUNIT"])
			assert.Equal(t, "2.5", got.Header["CRPIX1"])
			for k, v := range img.Header {
				assert.Equal(t, v, got.Header[k], "card %s", k)
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	h := models.Header{}
	data := make([]float64, 101)
	for i := range data {
		data[i] = float64(i)
	}
	require.NoError(t, addStatistics(h, data))

	lo, _ := h.Float("DATAMIN")
	hi, _ := h.Float("DATAMAX")
	mean, _ := h.Float("DATAMEAN")
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 100.0, hi)
	assert.Equal(t, 50.0, mean)

	p50, ok := h.Float("DATAP50")
	require.True(t, ok)
	assert.InEpsilon(t, 50, p50, 0.02)
	p99, _ := h.Float("DATAP99")
	assert.InEpsilon(t, 99, p99, 0.02)
	for _, key := range []string{"DATAP01", "DATAP10", "DATAP25", "DATAP75", "DATAP90", "DATAP95", "DATAP98"} {
		assert.Contains(t, h, key)
	}
}

func TestEnsureDirConcurrent(t *testing.T) {
	root := t.TempDir()
	a := NewAssembler(root, CompressionZstd)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, a.EnsureDir("aia", "171"))
		}()
	}
	wg.Wait()

	info, err := os.Stat(filepath.Join(root, "aia", "171"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestReadImageErrors(t *testing.T) {
	_, err := ReadImage(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)

	junk := filepath.Join(t.TempDir(), "junk.parquet")
	require.NoError(t, os.WriteFile(junk, []byte("not parquet"), 0o644))
	_, err = ReadImage(junk)
	assert.Error(t, err)
}
