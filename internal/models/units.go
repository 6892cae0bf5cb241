package models

import (
	"time"

	serrors "synthesizar/internal/errors"
)

// DefaultTimeUnit is assumed when a time axis carries no unit.
const DefaultTimeUnit = "s"

// TimeUnits maps the supported time unit names to their duration.
var TimeUnits = map[string]time.Duration{
	"ms":  time.Millisecond,
	"s":   time.Second,
	"min": time.Minute,
	"h":   time.Hour,
}

// LengthUnits maps the supported length unit names to metres.
var LengthUnits = map[string]float64{
	"m":  1,
	"cm": 1e-2,
	"km": 1e3,
	"Mm": 1e6,
}

// ConvertTime returns values rescaled from one time unit to another. The
// input is returned as is when the units are equal.
func ConvertTime(values []float64, from, to string) ([]float64, error) {
	src, ok := TimeUnits[from]
	if !ok {
		return nil, serrors.NewConfiguration("unsupported time unit %q", from)
	}
	dst, ok := TimeUnits[to]
	if !ok {
		return nil, serrors.NewConfiguration("unsupported time unit %q", to)
	}
	if src == dst {
		return values, nil
	}
	scale := float64(src) / float64(dst)
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = v * scale
	}
	return out, nil
}

// Metres converts a length to metres.
func Metres(v float64, unit string) (float64, error) {
	scale, ok := LengthUnits[unit]
	if !ok {
		return 0, serrors.NewConfiguration("unsupported length unit %q", unit)
	}
	return v * scale, nil
}
