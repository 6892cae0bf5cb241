// Package geometry supplies the curves an observation is built from.
//
// Tracing loops through an extrapolated magnetic field happens upstream; this
// package reads the result.
package geometry

import (
	"context"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("geometry")

// Provider returns the curves to observe, in processing order.
type Provider interface {
	Curves(ctx context.Context) ([]*models.Curve, error)
}

// Static serves an in-memory curve set.
type Static []*models.Curve

// Curves returns the wrapped curves.
func (s Static) Curves(ctx context.Context) ([]*models.Curve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

// FileProvider reads curves from a YAML loops file.
type FileProvider struct {
	Path string
}

// NewFileProvider returns a provider for the loops file at path.
func NewFileProvider(path string) *FileProvider {
	return &FileProvider{Path: path}
}

// loopsFile is the on-disk layout of a loops file.
type loopsFile struct {
	PositionUnit string       `yaml:"positionUnit"`
	TimeUnit     string       `yaml:"timeUnit"`
	Loops        []loopRecord `yaml:"loops"`
}

type loopRecord struct {
	Name          string                    `yaml:"name"`
	Positions     [][]float64               `yaml:"positions"`
	FieldStrength []float64                 `yaml:"fieldStrength"`
	Time          []float64                 `yaml:"time"`
	Quantities    map[string]quantityRecord `yaml:"quantities"`
}

// quantityRecord holds either a full (time × position) grid or a per-time
// profile that is uniform along the loop.
type quantityRecord struct {
	Unit    string      `yaml:"unit"`
	Values  [][]float64 `yaml:"values,omitempty"`
	Profile []float64   `yaml:"profile,omitempty"`
}

// FieldAlignedVelocity is the optional loops-file quantity holding the
// velocity along the loop. When the Cartesian components are absent they are
// derived from it and the loop direction.
const FieldAlignedVelocity = "velocity"

// Curves parses the loops file and validates every curve.
func (p *FileProvider) Curves(ctx context.Context) ([]*models.Curve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, fmt.Errorf("error reading loops file: %w", err)
	}
	var file loopsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("error parsing loops file: %w", err)
	}
	if len(file.Loops) == 0 {
		return nil, serrors.NewConfiguration("loops file %s has no loops", p.Path)
	}

	curves := make([]*models.Curve, 0, len(file.Loops))
	for i, rec := range file.Loops {
		if rec.Name == "" {
			rec.Name = fmt.Sprintf("loop%06d", i)
		}
		c, err := rec.curve(file.PositionUnit, file.TimeUnit)
		if err != nil {
			return nil, serrors.Wrapf(err, "loops file %s", p.Path)
		}
		curves = append(curves, c)
	}
	log.Info("loaded curves", "path", p.Path, "curves", len(curves))
	return curves, nil
}

func (rec loopRecord) curve(positionUnit, timeUnit string) (*models.Curve, error) {
	n := len(rec.Positions)
	pos := mat.NewDense(max(n, 1), 3, nil)
	for i, row := range rec.Positions {
		if len(row) != 3 {
			return nil, serrors.NewConfiguration("curve %q: position %d has %d components", rec.Name, i, len(row))
		}
		pos.SetRow(i, row)
	}
	if n == 0 {
		return nil, serrors.NewConfiguration("curve %q: no positions", rec.Name)
	}

	quantities := make(map[string]models.Series, len(rec.Quantities))
	for name, q := range rec.Quantities {
		values, err := q.dense(len(rec.Time), n)
		if err != nil {
			return nil, serrors.Wrapf(err, "curve %q quantity %s", rec.Name, name)
		}
		quantities[name] = models.Series{Values: values, Unit: q.Unit}
	}

	fieldStrength := rec.FieldStrength
	if fieldStrength == nil {
		fieldStrength = make([]float64, n)
	}
	c, err := models.NewCurve(rec.Name, pos, positionUnit, fieldStrength, rec.Time, timeUnit, quantities)
	if err != nil {
		return nil, err
	}
	projectVelocity(c)
	return c, nil
}

func (q quantityRecord) dense(times, points int) (*mat.Dense, error) {
	switch {
	case len(q.Values) > 0 && len(q.Profile) > 0:
		return nil, serrors.NewConfiguration("both values and profile given")
	case len(q.Profile) > 0:
		if len(q.Profile) != times {
			return nil, serrors.NewConfiguration("profile has %d samples for %d times", len(q.Profile), times)
		}
		out := mat.NewDense(times, points, nil)
		for r, v := range q.Profile {
			row := out.RawRowView(r)
			for c := range row {
				row[c] = v
			}
		}
		return out, nil
	case len(q.Values) > 0:
		if len(q.Values) != times {
			return nil, serrors.NewConfiguration("values have %d rows for %d times", len(q.Values), times)
		}
		out := mat.NewDense(times, points, nil)
		for r, row := range q.Values {
			if len(row) != points {
				return nil, serrors.NewConfiguration("values row %d has %d samples for %d positions", r, len(row), points)
			}
			out.SetRow(r, row)
		}
		return out, nil
	default:
		return nil, serrors.NewConfiguration("neither values nor profile given")
	}
}

// projectVelocity fills velocity_x/y/z from the field-aligned velocity and the
// loop direction, unless any Cartesian component is already present.
func projectVelocity(c *models.Curve) {
	v, ok := c.Quantities[FieldAlignedVelocity]
	if !ok {
		return
	}
	axes := []string{"velocity_x", "velocity_y", "velocity_z"}
	for _, name := range axes {
		if _, ok := c.Quantities[name]; ok {
			return
		}
	}

	dir := c.Direction()
	rows, cols := v.Values.Dims()
	for axis, name := range axes {
		comp := mat.NewDense(rows, cols, nil)
		comp.Apply(func(r, j int, _ float64) float64 {
			return v.Values.At(r, j) * dir.At(j, axis)
		}, comp)
		c.Quantities[name] = models.Series{Values: comp, Unit: v.Unit}
	}
}
