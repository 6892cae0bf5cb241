package models

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
)

// Series is one physical quantity sampled on a curve's (time × position) grid.
type Series struct {
	// Values has one row per curve time sample and one column per position.
	Values *mat.Dense

	// Unit is the physical unit tag, e.g. "K" or "cm-3".
	Unit string
}

// Curve represents a single loop geometry and the hydrodynamic quantities
// simulated along it. Curves are immutable once constructed.
type Curve struct {
	// Name identifies the curve in logs and errors
	Name string

	// Positions holds one Cartesian (x, y, z) row per sample, in curve order
	Positions *mat.Dense

	// PositionUnit is the length unit of Positions
	PositionUnit string

	// FieldStrength is the scalar magnetic field strength per position
	FieldStrength []float64

	// Time is the simulation time axis of the quantities
	Time []float64

	// TimeUnit is the unit of Time
	TimeUnit string

	// Quantities maps a quantity name to its samples
	Quantities map[string]Series

	s []float64
}

// NewCurve validates the geometry and quantity shapes and computes the
// field-aligned coordinate. Any structural mismatch is a configuration error.
func NewCurve(name string, positions *mat.Dense, positionUnit string, fieldStrength []float64,
	time []float64, timeUnit string, quantities map[string]Series) (*Curve, error) {
	if positions == nil {
		return nil, serrors.NewConfiguration("curve %q: no positions", name)
	}
	n, dims := positions.Dims()
	if dims != 3 {
		return nil, serrors.NewConfiguration("curve %q: positions must have 3 columns, got %d", name, dims)
	}
	if n < 2 {
		return nil, serrors.NewConfiguration("curve %q: need at least 2 positions, got %d", name, n)
	}
	if len(fieldStrength) != n {
		return nil, serrors.NewConfiguration("curve %q: %d positions but %d field strength samples",
			name, n, len(fieldStrength))
	}
	if len(time) == 0 {
		return nil, serrors.NewConfiguration("curve %q: empty time axis", name)
	}
	if timeUnit == "" {
		timeUnit = DefaultTimeUnit
	}
	if _, ok := TimeUnits[timeUnit]; !ok {
		return nil, serrors.NewConfiguration("curve %q: unsupported time unit %q", name, timeUnit)
	}
	for i := 1; i < len(time); i++ {
		if !(time[i] > time[i-1]) {
			return nil, serrors.NewConfiguration("curve %q: time axis not increasing at sample %d", name, i)
		}
	}
	for q, series := range quantities {
		if series.Values == nil {
			return nil, serrors.NewConfiguration("curve %q: quantity %s has no values", name, q)
		}
		r, c := series.Values.Dims()
		if r != len(time) || c != n {
			return nil, serrors.NewConfiguration("curve %q: quantity %s has shape (%d,%d), want (%d,%d)",
				name, q, r, c, len(time), n)
		}
	}

	curve := &Curve{
		Name:          name,
		Positions:     positions,
		PositionUnit:  positionUnit,
		FieldStrength: fieldStrength,
		Time:          time,
		TimeUnit:      timeUnit,
		Quantities:    quantities,
	}
	curve.s = arcLength(positions)
	for i := 1; i < len(curve.s); i++ {
		if !(curve.s[i] > curve.s[i-1]) {
			return nil, serrors.NewConfiguration("curve %q: repeated position at sample %d", name, i)
		}
	}
	return curve, nil
}

// arcLength returns the cumulative segment length starting at 0.
func arcLength(positions *mat.Dense) []float64 {
	n, _ := positions.Dims()
	seg := make([]float64, n)
	for i := 1; i < n; i++ {
		dx := positions.At(i, 0) - positions.At(i-1, 0)
		dy := positions.At(i, 1) - positions.At(i-1, 1)
		dz := positions.At(i, 2) - positions.At(i-1, 2)
		seg[i] = math.Sqrt(dx*dx + dy*dy + dz*dz)
	}
	return floats.CumSum(seg, seg)
}

// FieldAlignedCoordinate returns s such that 0 = s[0] < ... < s[n-1] = L.
// The returned slice must not be modified.
func (c *Curve) FieldAlignedCoordinate() []float64 {
	return c.s
}

// Length returns the full curve length L.
func (c *Curve) Length() float64 {
	return c.s[len(c.s)-1]
}

// NumPoints returns the number of native position samples.
func (c *Curve) NumPoints() int {
	n, _ := c.Positions.Dims()
	return n
}

// IsStatic reports whether the curve has exactly one time sample.
func (c *Curve) IsStatic() bool {
	return len(c.Time) == 1
}

// Quantity returns the named series or a configuration error.
func (c *Curve) Quantity(name string) (Series, error) {
	series, ok := c.Quantities[name]
	if !ok {
		return Series{}, serrors.NewConfiguration("curve %q has no quantity %s", c.Name, name)
	}
	return series, nil
}

// Direction returns the unit tangent (n × 3) of the curve at each position,
// from central differences in the interior and one-sided differences at the
// ends.
func (c *Curve) Direction() *mat.Dense {
	n := c.NumPoints()
	out := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		lo, hi := max(i-1, 0), min(i+1, n-1)
		row := out.RawRowView(i)
		for axis := 0; axis < 3; axis++ {
			row[axis] = (c.Positions.At(hi, axis) - c.Positions.At(lo, axis)) / float64(hi-lo)
		}
		floats.Scale(1/floats.Norm(row, 2), row)
	}
	return out
}
