// Package emission turns plasma temperature and density into per-channel
// count rates.
//
// The physics of how an emissivity table is computed is outside this module;
// Table only interpolates a precomputed table loaded from YAML.
package emission

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("emission")

// Rates holds one count-rate matrix per channel name, each shaped like the
// temperature and density inputs. Multiplying a rate by the density gives
// counts in Unit.
type Rates struct {
	Values map[string]*mat.Dense
	Unit   string
}

// Provider computes channel count rates.
type Provider interface {
	CountRates(channels []models.Channel, temperature, density *mat.Dense) (*Rates, error)
}

// Transition is one spectral line with its rate grid.
type Transition struct {
	// Wavelength is matched against channel band passes
	Wavelength float64 `yaml:"wavelength"`

	// Rates has one row per temperature node and one column per density node
	Rates [][]float64 `yaml:"rates"`
}

// Table is a count-rate table on a regular (log10 T, log10 n) grid.
//
// A channel's rate comes from Channels when an entry matches the channel
// name. Otherwise the rates of every transition inside the channel band pass
// are summed.
type Table struct {
	// LogTemperature and LogDensity are the strictly increasing grid nodes
	LogTemperature []float64 `yaml:"logTemperature"`
	LogDensity     []float64 `yaml:"logDensity"`

	// Unit is the unit of rate × density
	Unit string `yaml:"unit"`

	// Channels maps a channel name to its rate grid
	Channels map[string][][]float64 `yaml:"channels,omitempty"`

	// Transitions lists line rate grids for band-pass matching
	Transitions []Transition `yaml:"transitions,omitempty"`
}

// LoadTable reads and validates a YAML table.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading emissivity table: %w", err)
	}
	t := &Table{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("error parsing emissivity table: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, serrors.Wrapf(err, "emissivity table %s", path)
	}
	log.Info("emissivity table loaded", "path", path,
		"channels", len(t.Channels), "transitions", len(t.Transitions))
	return t, nil
}

// Validate checks the grid and the shape of every rate grid.
func (t *Table) Validate() error {
	for name, axis := range map[string][]float64{"logTemperature": t.LogTemperature, "logDensity": t.LogDensity} {
		if len(axis) < 2 {
			return serrors.NewConfiguration("%s needs at least 2 nodes, got %d", name, len(axis))
		}
		for i := 1; i < len(axis); i++ {
			if !(axis[i] > axis[i-1]) {
				return serrors.NewConfiguration("%s not increasing at node %d", name, i)
			}
		}
	}
	check := func(label string, grid [][]float64) error {
		if len(grid) != len(t.LogTemperature) {
			return serrors.NewConfiguration("%s has %d temperature rows, want %d", label, len(grid), len(t.LogTemperature))
		}
		for i, row := range grid {
			if len(row) != len(t.LogDensity) {
				return serrors.NewConfiguration("%s row %d has %d density columns, want %d",
					label, i, len(row), len(t.LogDensity))
			}
		}
		return nil
	}
	for name, grid := range t.Channels {
		if err := check("channel "+name, grid); err != nil {
			return err
		}
	}
	for i, tr := range t.Transitions {
		if err := check(fmt.Sprintf("transition %d (%g)", i, tr.Wavelength), tr.Rates); err != nil {
			return err
		}
	}
	return nil
}

// CountRates interpolates each channel's rate at every (temperature, density)
// element. Inputs are in linear units; lookups happen in log10 space and are
// clamped to the table edges. Negative rates are clipped to 0.
func (t *Table) CountRates(channels []models.Channel, temperature, density *mat.Dense) (*Rates, error) {
	tr, tc := temperature.Dims()
	dr, dc := density.Dims()
	if tr != dr || tc != dc {
		return nil, serrors.NewConfiguration("temperature %dx%d and density %dx%d differ in shape", tr, tc, dr, dc)
	}

	grids := make(map[string][][]float64, len(channels))
	for _, ch := range channels {
		grid, err := t.channelGrid(ch)
		if err != nil {
			return nil, err
		}
		grids[ch.Name] = grid
	}

	out := &Rates{Values: make(map[string]*mat.Dense, len(channels)), Unit: t.Unit}
	for name := range grids {
		out.Values[name] = mat.NewDense(tr, tc, nil)
	}
	for r := 0; r < tr; r++ {
		for c := 0; c < tc; c++ {
			it, wt := locate(t.LogTemperature, safeLog10(temperature.At(r, c)))
			in, wn := locate(t.LogDensity, safeLog10(density.At(r, c)))
			for name, grid := range grids {
				v := bilinear(grid, it, wt, in, wn)
				out.Values[name].Set(r, c, math.Max(v, 0))
			}
		}
	}
	return out, nil
}

func (t *Table) channelGrid(ch models.Channel) ([][]float64, error) {
	if grid, ok := t.Channels[ch.Name]; ok {
		return grid, nil
	}
	if len(ch.WavelengthRange) < 2 {
		return nil, serrors.NewConfiguration("no rates for channel %s and it has no band pass", ch.Name)
	}

	sum := make([][]float64, len(t.LogTemperature))
	for i := range sum {
		sum[i] = make([]float64, len(t.LogDensity))
	}
	matched := 0
	for _, tr := range t.Transitions {
		if !ch.InRange(tr.Wavelength) {
			continue
		}
		matched++
		for i := range sum {
			for j := range sum[i] {
				sum[i][j] += tr.Rates[i][j]
			}
		}
	}
	if matched == 0 {
		log.Warn("no transitions in channel band pass", "channel", ch.Name, "range", ch.WavelengthRange)
	}
	return sum, nil
}

// safeLog10 maps non-positive and NaN inputs to -Inf so they clamp to the
// lowest node.
func safeLog10(v float64) float64 {
	if !(v > 0) {
		return math.Inf(-1)
	}
	return math.Log10(v)
}

// locate returns the lower node index and fractional weight of x on a
// strictly increasing axis, clamped to the axis.
func locate(axis []float64, x float64) (int, float64) {
	last := len(axis) - 1
	if x <= axis[0] {
		return 0, 0
	}
	if x >= axis[last] {
		return last - 1, 1
	}
	i := sort.SearchFloat64s(axis, x)
	if axis[i] == x {
		if i == last {
			return last - 1, 1
		}
		return i, 0
	}
	i--
	return i, (x - axis[i]) / (axis[i+1] - axis[i])
}

func bilinear(grid [][]float64, i int, wi float64, j int, wj float64) float64 {
	v00, v01 := grid[i][j], grid[i][j+1]
	v10, v11 := grid[i+1][j], grid[i+1][j+1]
	return (1-wi)*((1-wj)*v00+wj*v01) + wi*((1-wj)*v10+wj*v11)
}
