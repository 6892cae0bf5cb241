package instruments

import (
	"sync"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
	"synthesizar/pkg/binning"
	"synthesizar/pkg/store"
)

// Reader is the read side of an instrument store.
type Reader interface {
	Read(name string) (*mat.Dense, string, error)
}

// DetectionRoutine turns one timestep of stored channel data into an image.
type DetectionRoutine interface {
	Detect(channel models.Channel, timeIndex int, header models.Header, bins [2]int, rng [2][2]float64) (*models.Image, error)
}

// NewDetectionRoutine returns the routine for the instrument kind.
func NewDetectionRoutine(in *Instrument, r Reader) (DetectionRoutine, error) {
	switch in.Kind {
	case KindImager, "":
		return NewImager(in.Name, r), nil
	case KindDoppler:
		return NewDopplerImager(in.Name, r), nil
	default:
		return nil, serrors.NewConfiguration("instrument %s: unknown kind %q", in.Name, in.Kind)
	}
}

// datasetCache loads each dataset once and shares it between detect calls.
// It must only be used after every writer of the cached datasets is done.
type datasetCache struct {
	r     Reader
	group singleflight.Group

	mu   sync.RWMutex
	data map[string]cached
}

type cached struct {
	values *mat.Dense
	unit   string
}

func newDatasetCache(r Reader) *datasetCache {
	return &datasetCache{r: r, data: make(map[string]cached)}
}

func (c *datasetCache) read(name string) (*mat.Dense, string, error) {
	c.mu.RLock()
	hit, ok := c.data[name]
	c.mu.RUnlock()
	if ok {
		return hit.values, hit.unit, nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		values, unit, err := c.r.Read(name)
		if err != nil {
			return nil, err
		}
		entry := cached{values: values, unit: unit}
		c.mu.Lock()
		c.data[name] = entry
		c.mu.Unlock()
		return entry, nil
	})
	if err != nil {
		return nil, "", err
	}
	entry := v.(cached)
	return entry.values, entry.unit, nil
}

// row returns one time row of a dataset.
func (c *datasetCache) row(name string, timeIndex int) ([]float64, string, error) {
	values, unit, err := c.read(name)
	if err != nil {
		return nil, "", err
	}
	rows, _ := values.Dims()
	if timeIndex < 0 || timeIndex >= rows {
		return nil, "", serrors.NewConfiguration("dataset %s: time index %d outside [0,%d)", name, timeIndex, rows)
	}
	return values.RawRowView(timeIndex), unit, nil
}

func (c *datasetCache) positions() (x, y []float64, err error) {
	coords, _, err := c.read(store.CoordinatesDataset)
	if err != nil {
		return nil, nil, err
	}
	return mat.Col(nil, 0, coords), mat.Col(nil, 1, coords), nil
}

func newImage(instrument string, channel models.Channel, timeIndex int, header models.Header, data *mat.Dense, unit string) *models.Image {
	h := header.Clone()
	h["BUNIT"] = unit
	return &models.Image{
		Instrument: instrument,
		Channel:    channel.Name,
		TimeIndex:  timeIndex,
		Data:       data,
		Header:     h,
	}
}

// Imager bins the channel counts.
type Imager struct {
	instrument string
	cache      *datasetCache
}

// NewImager returns an imager reading from r.
func NewImager(instrument string, r Reader) *Imager {
	return &Imager{instrument: instrument, cache: newDatasetCache(r)}
}

// Detect bins counts_<channel> at the time index.
func (d *Imager) Detect(channel models.Channel, timeIndex int, header models.Header, bins [2]int, rng [2][2]float64) (*models.Image, error) {
	b, err := binning.New(bins, rng)
	if err != nil {
		return nil, err
	}
	x, y, err := d.cache.positions()
	if err != nil {
		return nil, err
	}
	counts, unit, err := d.cache.row(channel.CountsDataset(), timeIndex)
	if err != nil {
		return nil, err
	}
	data, err := b.Bin(x, y, counts)
	if err != nil {
		return nil, err
	}
	return newImage(d.instrument, channel, timeIndex, header, data, unit), nil
}

// DopplerImager maps the count-weighted mean line-of-sight velocity.
type DopplerImager struct {
	instrument string
	cache      *datasetCache
}

// NewDopplerImager returns a Doppler imager reading from r.
func NewDopplerImager(instrument string, r Reader) *DopplerImager {
	return &DopplerImager{instrument: instrument, cache: newDatasetCache(r)}
}

// Detect returns Bin(counts·v) / Bin(counts), 0 where the counts image is 0.
func (d *DopplerImager) Detect(channel models.Channel, timeIndex int, header models.Header, bins [2]int, rng [2][2]float64) (*models.Image, error) {
	b, err := binning.New(bins, rng)
	if err != nil {
		return nil, err
	}
	x, y, err := d.cache.positions()
	if err != nil {
		return nil, err
	}
	counts, _, err := d.cache.row(channel.CountsDataset(), timeIndex)
	if err != nil {
		return nil, err
	}
	velocity, unit, err := d.cache.row(LOSVelocity, timeIndex)
	if err != nil {
		return nil, err
	}

	weighted := make([]float64, len(counts))
	for i := range counts {
		weighted[i] = counts[i] * velocity[i]
	}
	num, err := b.Bin(x, y, weighted)
	if err != nil {
		return nil, err
	}
	den, err := b.Bin(x, y, counts)
	if err != nil {
		return nil, err
	}
	num.Apply(func(j, i int, v float64) float64 {
		c := den.At(j, i)
		if c == 0 {
			return 0
		}
		return v / c
	}, num)
	return newImage(d.instrument, channel, timeIndex, header, num, unit), nil
}
