package models

import (
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Header holds the coordinate and observation metadata attached to an image.
// Keys follow FITS card names (CRPIX1, CDELT1, DATE-OBS, ...).
type Header map[string]string

// Clone returns an independent copy of the header.
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// SetFloat stores a float card with full precision.
func (h Header) SetFloat(key string, v float64) {
	h[key] = strconv.FormatFloat(v, 'g', -1, 64)
}

// SetInt stores an integer card.
func (h Header) SetInt(key string, v int) {
	h[key] = strconv.Itoa(v)
}

// SetTime stores a timestamp card in ISO 8601 with millisecond precision.
func (h Header) SetTime(key string, t time.Time) {
	h[key] = t.UTC().Format("2006-01-02T15:04:05.000")
}

// Float parses a float card.
func (h Header) Float(key string) (float64, bool) {
	v, ok := h[key]
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Keys returns the card names in sorted order.
func (h Header) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Image is the aggregated counts of one (channel, timestep).
type Image struct {
	// Instrument and Channel name the source of the image
	Instrument string
	Channel    string

	// TimeIndex is the index into the instrument observing time grid
	TimeIndex int

	// Data has one row per y bin and one column per x bin
	Data *mat.Dense

	// Header carries coordinate and observation metadata
	Header Header

	// Path is where the image was persisted, empty until then
	Path string
}
