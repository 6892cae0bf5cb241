// Package instruments describes the synthetic detectors: their observing time
// grid, channels, pixel grid and image headers, and the detection routines
// that turn stored counts into images.
package instruments

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("instruments")

// Kind selects the detection routine of an instrument.
type Kind string

const (
	// KindImager bins channel counts.
	KindImager Kind = "imager"

	// KindDoppler bins the count-weighted line-of-sight velocity.
	KindDoppler Kind = "doppler"
)

// DefaultPadPixels is the detector padding used when none is configured.
const DefaultPadPixels = 10

// Hydrodynamic quantities interpolated for every instrument.
var DefaultQuantities = []string{
	"velocity_x", "velocity_y", "velocity_z",
	"electron_temperature", "ion_temperature", "density",
}

// LOSVelocity is the dataset holding the line-of-sight velocity.
const LOSVelocity = "los_velocity"

// Resolution is the pixel size on each axis, in coordinate length units.
type Resolution struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// Instrument is one synthetic detector.
type Instrument struct {
	Name string `yaml:"name"`
	Kind Kind   `yaml:"kind"`

	// Label is the default INSTRUME card; channels may override it
	Label string `yaml:"label,omitempty"`

	// Cadence is the spacing of the observing time grid
	Cadence float64 `yaml:"cadence"`

	// ObservingTime is the half-open window [t0, t1)
	ObservingTime [2]float64 `yaml:"observingTime"`

	// TimeUnit is the unit of Cadence and ObservingTime
	TimeUnit string `yaml:"timeUnit"`

	Resolution Resolution `yaml:"resolution"`

	// PadPixels pads the field of view on every side; 0 means DefaultPadPixels
	PadPixels int `yaml:"padPixels,omitempty"`

	Channels []models.Channel `yaml:"channels"`

	// AdditionalFields are extra curve quantities to interpolate
	AdditionalFields []string `yaml:"additionalFields,omitempty"`
}

// Validate checks the instrument and fills defaults.
func (in *Instrument) Validate() error {
	if in.Name == "" {
		return serrors.NewConfiguration("instrument has no name")
	}
	switch in.Kind {
	case "":
		in.Kind = KindImager
	case KindImager, KindDoppler:
	default:
		return serrors.NewConfiguration("instrument %s: unknown kind %q", in.Name, in.Kind)
	}
	if in.TimeUnit == "" {
		in.TimeUnit = models.DefaultTimeUnit
	}
	if _, ok := models.TimeUnits[in.TimeUnit]; !ok {
		return serrors.NewConfiguration("instrument %s: unsupported time unit %q", in.Name, in.TimeUnit)
	}
	if !(in.Cadence > 0) {
		return serrors.NewConfiguration("instrument %s: cadence must be positive", in.Name)
	}
	if !(in.ObservingTime[1] > in.ObservingTime[0]) {
		return serrors.NewConfiguration("instrument %s: empty observing window [%g, %g)",
			in.Name, in.ObservingTime[0], in.ObservingTime[1])
	}
	if !(in.Resolution.X > 0 && in.Resolution.Y > 0) {
		return serrors.NewConfiguration("instrument %s: resolution must be positive", in.Name)
	}
	if in.PadPixels < 0 {
		return serrors.NewConfiguration("instrument %s: negative padding", in.Name)
	}
	if in.PadPixels == 0 {
		in.PadPixels = DefaultPadPixels
	}
	if len(in.Channels) == 0 {
		return serrors.NewConfiguration("instrument %s has no channels", in.Name)
	}
	seen := make(map[string]bool, len(in.Channels))
	for _, ch := range in.Channels {
		if ch.Name == "" || seen[ch.Name] {
			return serrors.NewConfiguration("instrument %s: channel names must be unique and non-empty", in.Name)
		}
		seen[ch.Name] = true
	}
	return nil
}

// Time returns the observing time grid arange(t0, t1, cadence).
func (in *Instrument) Time() []float64 {
	t0, t1 := in.ObservingTime[0], in.ObservingTime[1]
	n := int(math.Ceil((t1 - t0) / in.Cadence))
	out := make([]float64, n)
	for i := range out {
		out[i] = t0 + float64(i)*in.Cadence
	}
	return out
}

// Quantities returns every curve quantity interpolated for this instrument.
func (in *Instrument) Quantities() []string {
	out := append([]string(nil), DefaultQuantities...)
	for _, f := range in.AdditionalFields {
		if !contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// Datasets returns every (T × N) dataset of the instrument store: the
// interpolated quantities, the line-of-sight velocity and one counts dataset
// per channel.
func (in *Instrument) Datasets() []string {
	out := append(in.Quantities(), LOSVelocity)
	for _, ch := range in.Channels {
		out = append(out, ch.CountsDataset())
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Elapsed converts a value on the observing time grid to a duration.
func (in *Instrument) Elapsed(t float64) time.Duration {
	unit, ok := models.TimeUnits[in.TimeUnit]
	if !ok {
		unit = time.Second
	}
	return time.Duration(t * float64(unit))
}

// Detector is the pixel grid of an instrument.
type Detector struct {
	Bins  [2]int
	Range [2][2]float64

	// Unit is the length unit of Range and of the observer distance
	Unit string
}

// DetectorArray sizes the pixel grid to the bounding box of the projected
// sample positions, padded by PadPixels on every side. The upper edge is
// widened so every pixel is exactly one resolution element wide.
func (in *Instrument) DetectorArray(coordinates mat.Matrix, unit string) (Detector, error) {
	rows, cols := coordinates.Dims()
	if rows == 0 || cols < 2 {
		return Detector{}, serrors.NewConfiguration("instrument %s: no coordinates to size the detector", in.Name)
	}
	if _, ok := models.LengthUnits[unit]; !ok {
		return Detector{}, serrors.NewConfiguration("instrument %s: unsupported coordinate unit %q", in.Name, unit)
	}
	res := [2]float64{in.Resolution.X, in.Resolution.Y}
	pad := in.PadPixels
	if pad == 0 {
		pad = DefaultPadPixels
	}

	det := Detector{Unit: unit}
	col := make([]float64, rows)
	for axis := 0; axis < 2; axis++ {
		mat.Col(col, axis, coordinates)
		lo := floats.Min(col) - res[axis]*float64(pad)
		hi := floats.Max(col) + res[axis]*float64(pad)
		bins := int(math.Ceil((hi - lo) / res[axis]))
		det.Bins[axis] = bins
		det.Range[axis] = [2]float64{lo, lo + float64(bins)*res[axis]}
	}
	log.Debug("detector array", "instrument", in.Name, "bins", det.Bins, "range", det.Range)
	return det, nil
}

// Observer is the vantage point the images are taken from.
//
// Curve coordinates arrive already in the observer frame: x and y span the
// plane of the sky and +z points at the observer. Longitude and Latitude are
// only recorded in the HGLN_OBS/HGLT_OBS cards and never rotate the geometry.
type Observer struct {
	// Longitude and Latitude are heliographic, in degrees
	Longitude float64
	Latitude  float64

	// Distance is in coordinate length units
	Distance float64

	// Start is the wall-clock time of simulation time zero
	Start time.Time
}

const arcsecPerRadian = 180 * 3600 / math.Pi

// angle converts a length at the observer distance to arcseconds.
func (o Observer) angle(length float64) float64 {
	return math.Atan2(length, o.Distance) * arcsecPerRadian
}

// Header builds the image header template of one channel.
func (in *Instrument) Header(channel models.Channel, det Detector, obs Observer, runID string) models.Header {
	h := models.Header{}
	h.SetInt("NAXIS", 2)
	h.SetInt("NAXIS1", det.Bins[0])
	h.SetInt("NAXIS2", det.Bins[1])
	h.SetFloat("CRPIX1", float64(det.Bins[0]+1)/2)
	h.SetFloat("CRPIX2", float64(det.Bins[1]+1)/2)
	h.SetFloat("CDELT1", obs.angle(in.Resolution.X))
	h.SetFloat("CDELT2", obs.angle(in.Resolution.Y))
	h.SetFloat("CRVAL1", obs.angle((det.Range[0][0]+det.Range[0][1])/2))
	h.SetFloat("CRVAL2", obs.angle((det.Range[1][0]+det.Range[1][1])/2))
	h["CUNIT1"] = "arcsec"
	h["CUNIT2"] = "arcsec"
	h["CTYPE1"] = "HPLN-TAN"
	h["CTYPE2"] = "HPLT-TAN"
	h.SetFloat("HGLN_OBS", obs.Longitude)
	h.SetFloat("HGLT_OBS", obs.Latitude)
	if dsun, err := models.Metres(obs.Distance, det.Unit); err == nil {
		h.SetFloat("DSUN_OBS", dsun)
	} else {
		log.Warn("observer distance not written", "instrument", in.Name, "error", err)
	}
	if channel.HasWavelength() {
		h.SetFloat("WAVELNTH", channel.Wavelength)
		if channel.WavelengthUnit != "" {
			h["WAVEUNIT"] = channel.WavelengthUnit
		}
	}

	switch {
	case channel.InstrumentLabel != "":
		h["INSTRUME"] = channel.InstrumentLabel
	case in.Label != "":
		h["INSTRUME"] = in.Label
	default:
		h["INSTRUME"] = in.Name
	}
	if runID != "" {
		h["RUNID"] = runID
	}
	return h
}
