package instruments

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
)

func testInstrument() *Instrument {
	return &Instrument{
		Name:          "aia",
		Cadence:       10,
		ObservingTime: [2]float64{0, 35},
		Resolution:    Resolution{X: 0.5, Y: 0.25},
		Channels: []models.Channel{
			{Name: "171", Wavelength: 171, WavelengthUnit: "Angstrom"},
			{Name: "335", InstrumentLabel: "AIA_4"},
		},
		AdditionalFields: []string{"density", "mach_number"},
	}
}

func TestValidateDefaults(t *testing.T) {
	in := testInstrument()
	require.NoError(t, in.Validate())
	assert.Equal(t, KindImager, in.Kind)
	assert.Equal(t, DefaultPadPixels, in.PadPixels)
	assert.Equal(t, "s", in.TimeUnit)
}

func TestValidateErrors(t *testing.T) {
	tests := map[string]func(*Instrument){
		"kind":         func(in *Instrument) { in.Kind = "spectrograph" },
		"cadence":      func(in *Instrument) { in.Cadence = 0 },
		"window":       func(in *Instrument) { in.ObservingTime = [2]float64{5, 5} },
		"resolution":   func(in *Instrument) { in.Resolution.Y = 0 },
		"channels":     func(in *Instrument) { in.Channels = nil },
		"duplicate":    func(in *Instrument) { in.Channels[1].Name = "171" },
		"time unit":    func(in *Instrument) { in.TimeUnit = "fortnight" },
		"negative pad": func(in *Instrument) { in.PadPixels = -1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := testInstrument()
			mutate(in)
			assert.True(t, serrors.IsConfiguration(in.Validate()))
		})
	}
}

func TestObservingTimeIsHalfOpen(t *testing.T) {
	in := testInstrument()
	assert.Equal(t, []float64{0, 10, 20, 30}, in.Time())

	in.ObservingTime = [2]float64{0, 30}
	assert.Equal(t, []float64{0, 10, 20}, in.Time())
}

func TestDatasets(t *testing.T) {
	in := testInstrument()
	assert.Equal(t, []string{
		"velocity_x", "velocity_y", "velocity_z",
		"electron_temperature", "ion_temperature", "density",
		"mach_number", "los_velocity", "counts_171", "counts_335",
	}, in.Datasets())
}

func TestDetectorArrayPadding(t *testing.T) {
	in := testInstrument()
	require.NoError(t, in.Validate())

	coords := mat.NewDense(3, 3, []float64{
		0, 0, 9,
		4, 1, 9,
		2, 2, 9,
	})
	det, err := in.DetectorArray(coords, "Mm")
	require.NoError(t, err)
	assert.Equal(t, "Mm", det.Unit)

	// Padding is 10 pixels of resolution on each side.
	assert.Equal(t, [2]float64{-5, 9}, det.Range[0])
	assert.Equal(t, [2]float64{-2.5, 4.5}, det.Range[1])
	assert.Equal(t, [2]int{28, 28}, det.Bins)

	_, err = in.DetectorArray(mat.NewDense(1, 1, nil), "Mm")
	assert.True(t, serrors.IsConfiguration(err))

	_, err = in.DetectorArray(coords, "furlong")
	assert.True(t, serrors.IsConfiguration(err))
}

func TestDetectorArrayWholePixels(t *testing.T) {
	in := testInstrument()
	require.NoError(t, in.Validate())

	// x spans 14.6 after padding, which is not a whole number of 0.5 pixels.
	coords := mat.NewDense(2, 3, []float64{
		0, 0, 0,
		4.6, 2, 0,
	})
	det, err := in.DetectorArray(coords, "Mm")
	require.NoError(t, err)

	assert.Equal(t, 30, det.Bins[0])
	assert.InDelta(t, -5, det.Range[0][0], 1e-12)
	assert.InDelta(t, 10, det.Range[0][1], 1e-12)
	for axis, res := range []float64{in.Resolution.X, in.Resolution.Y} {
		width := (det.Range[axis][1] - det.Range[axis][0]) / float64(det.Bins[axis])
		assert.InDelta(t, res, width, 1e-12, "axis %d", axis)
	}
}

func TestHeaderReferencePixel(t *testing.T) {
	in := testInstrument()
	require.NoError(t, in.Validate())
	obs := Observer{Longitude: 10, Latitude: -5, Distance: 150000, Start: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}

	tests := []struct {
		bins           [2]int
		crpix1, crpix2 float64
	}{
		{[2]int{101, 50}, 51, 25.5},
		{[2]int{64, 1}, 32.5, 1},
	}
	for _, tt := range tests {
		h := in.Header(in.Channels[0], Detector{Bins: tt.bins, Range: [2][2]float64{{-1, 1}, {0, 4}}}, obs, "run-1")
		v, ok := h.Float("CRPIX1")
		require.True(t, ok)
		assert.Equal(t, tt.crpix1, v)
		v, _ = h.Float("CRPIX2")
		assert.Equal(t, tt.crpix2, v)
	}

	h := in.Header(in.Channels[0], Detector{Bins: [2]int{4, 4}, Range: [2][2]float64{{-1, 1}, {0, 4}}, Unit: "Mm"}, obs, "run-1")
	assert.Equal(t, "HPLN-TAN", h["CTYPE1"])
	assert.Equal(t, "HPLT-TAN", h["CTYPE2"])
	assert.Equal(t, "arcsec", h["CUNIT1"])
	assert.Equal(t, "171", h["WAVELNTH"])
	assert.Equal(t, "aia", h["INSTRUME"])
	assert.Equal(t, "run-1", h["RUNID"])
	assert.Equal(t, "4", h["NAXIS1"])

	crval1, _ := h.Float("CRVAL1")
	assert.InDelta(t, 0, crval1, 1e-12)
	cdelt1, _ := h.Float("CDELT1")
	assert.InDelta(t, math.Atan(0.5/150000)*180*3600/math.Pi, cdelt1, 1e-9)
	dsun, ok := h.Float("DSUN_OBS")
	require.True(t, ok)
	assert.InDelta(t, 1.5e11, dsun, 1e-3, "observer distance is in metres")

	h = in.Header(in.Channels[1], Detector{Bins: [2]int{4, 4}, Range: [2][2]float64{{-1, 1}, {0, 4}}}, obs, "")
	assert.Equal(t, "AIA_4", h["INSTRUME"])
	assert.NotContains(t, h, "WAVELNTH")
	assert.NotContains(t, h, "RUNID")
	assert.NotContains(t, h, "DSUN_OBS", "no distance card without a coordinate unit")
}

func TestHeaderObserverAnglesOnlyRecorded(t *testing.T) {
	in := testInstrument()
	require.NoError(t, in.Validate())
	det := Detector{Bins: [2]int{8, 6}, Range: [2][2]float64{{2, 6}, {-1, 2}}, Unit: "km"}

	faceOn := in.Header(in.Channels[0], det, Observer{Distance: 150000}, "")
	offset := in.Header(in.Channels[0], det, Observer{Longitude: 40, Latitude: -20, Distance: 150000}, "")

	for _, key := range []string{"CRVAL1", "CRVAL2", "CDELT1", "CDELT2", "CRPIX1", "CRPIX2", "DSUN_OBS"} {
		assert.Equal(t, faceOn[key], offset[key], key)
	}
	assert.Equal(t, "40", offset["HGLN_OBS"])
	assert.Equal(t, "-20", offset["HGLT_OBS"])
	dsun, _ := offset.Float("DSUN_OBS")
	assert.InDelta(t, 1.5e8, dsun, 1e-6)
}

func TestElapsed(t *testing.T) {
	in := testInstrument()
	in.TimeUnit = "min"
	assert.Equal(t, 90*time.Second, in.Elapsed(1.5))
}
