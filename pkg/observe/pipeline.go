// Package observe assembles synthetic detector images from curve simulations.
//
// The pipeline runs, per instrument:
//  1. Allocating the instrument store and writing the time and coordinate axes
//  2. Interpolating every curve quantity onto the global (time × sample) grid
//  3. Computing channel counts and the line-of-sight velocity per curve
//  4. Binning each (channel, timestep) into an image and persisting it
//
// Phases are separated by barriers: a phase only reads what earlier phases
// wrote. The pipeline logic is written once against scheduler.Scheduler; the
// sequential and concurrent variants differ only in the scheduler they use
// and in the order tasks are submitted.
package observe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
	"synthesizar/pkg/config"
	"synthesizar/pkg/emission"
	"synthesizar/pkg/instruments"
	"synthesizar/pkg/interpolation"
	"synthesizar/pkg/output"
	"synthesizar/pkg/scheduler"
	"synthesizar/pkg/store"
)

var log = logging.Component("observe")

// Params holds the pipeline parameters.
type Params struct {
	// DS is the maximum spacing of resampled curve points
	DS float64

	// ChunkColumns is the store chunk width; 0 uses the median curve length
	ChunkColumns int

	// NumWorkers bounds the concurrent pipeline's worker pool
	NumWorkers int

	// SaveDir receives the instrument stores and the images
	SaveDir string

	// Observer is the vantage point written into image headers
	Observer instruments.Observer

	// Compression is the image codec
	Compression output.CompressionType
}

// ParamsFromConfig extracts pipeline parameters from a validated config.
func ParamsFromConfig(cfg *config.Config) (Params, error) {
	obs, err := cfg.ObserverLocation()
	if err != nil {
		return Params{}, err
	}
	return Params{
		DS:           cfg.Processing.DS,
		ChunkColumns: cfg.Processing.ChunkColumns,
		NumWorkers:   cfg.Processing.NumWorkers,
		SaveDir:      cfg.Output.SaveDir,
		Observer:     obs,
		Compression:  output.ParseCompressionType(cfg.Output.Compression),
	}, nil
}

// Pipeline produces per-instrument, per-channel, per-timestep images.
type Pipeline interface {
	Run(ctx context.Context, curves []*models.Curve, insts []*instruments.Instrument, rates emission.Provider) (*Result, error)
}

// Result locates everything a run produced.
type Result struct {
	// RunID is stamped into every store and image header
	RunID string

	// Stores maps an instrument name to its store file
	Stores map[string]string

	// Images maps instrument, then channel, to image paths by time index
	Images map[string]map[string][]string
}

// New returns the concurrent pipeline when parallel is set and the
// sequential one otherwise.
func New(params Params, parallel bool) Pipeline {
	if parallel {
		return NewConcurrent(params)
	}
	return NewSequential(params)
}

// order selects how interpolation tasks are submitted.
type order int

const (
	// curveMajor submits every quantity of a curve before the next curve
	curveMajor order = iota
	// quantityMajor submits every curve of a quantity before the next quantity
	quantityMajor
)

// Sequential runs every task inline, curve after curve.
type Sequential struct {
	observer
}

// NewSequential returns the sequential pipeline.
func NewSequential(params Params) *Sequential {
	return &Sequential{observer{
		params:       params,
		order:        curveMajor,
		newScheduler: func() scheduler.Scheduler { return scheduler.NewSync() },
	}}
}

// Concurrent runs tasks on a bounded worker pool.
type Concurrent struct {
	observer
}

// NewConcurrent returns the concurrent pipeline.
func NewConcurrent(params Params) *Concurrent {
	return &Concurrent{observer{
		params:       params,
		order:        quantityMajor,
		newScheduler: func() scheduler.Scheduler { return scheduler.NewPool(params.NumWorkers) },
	}}
}

// observer holds the pipeline logic shared by both variants.
type observer struct {
	params       Params
	order        order
	newScheduler func() scheduler.Scheduler
}

// Run observes the curves with every instrument. Instruments are processed
// one after another; a failed phase aborts the run and leaves that
// instrument's store partially written.
func (o *observer) Run(ctx context.Context, curves []*models.Curve, insts []*instruments.Instrument, rates emission.Provider) (*Result, error) {
	if len(insts) == 0 {
		return nil, serrors.NewConfiguration("no instruments to observe with")
	}
	if rates == nil {
		return nil, serrors.NewConfiguration("no emissivity provider")
	}
	for _, in := range insts {
		if err := in.Validate(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(o.params.SaveDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create save directory: %w", err)
	}

	// Step 1: Resample curves onto the shared sample set
	grid, err := interpolation.Resample(curves, o.params.DS)
	if err != nil {
		return nil, err
	}

	result := &Result{
		RunID:  uuid.NewString(),
		Stores: make(map[string]string, len(insts)),
		Images: make(map[string]map[string][]string, len(insts)),
	}
	log.Info("observation started", "run_id", result.RunID, "curves", len(curves),
		"samples", grid.N(), "instruments", len(insts))

	sched := o.newScheduler()
	defer sched.Close()

	for _, in := range insts {
		run := &instrumentRun{
			observer: o,
			sched:    sched,
			in:       in,
			curves:   curves,
			grid:     grid,
			rates:    rates,
			runID:    result.RunID,
		}
		if err := run.execute(ctx); err != nil {
			return nil, serrors.Wrapf(err, "instrument %s", in.Name)
		}
		result.Stores[in.Name] = run.storePath
		result.Images[in.Name] = run.images
	}
	return result, nil
}

// instrumentRun is the state of observing with one instrument.
type instrumentRun struct {
	*observer
	sched  scheduler.Scheduler
	in     *instruments.Instrument
	curves []*models.Curve
	grid   *interpolation.Resampled
	rates  emission.Provider
	runID  string

	st        *store.Store
	storePath string
	times     []float64
	images    map[string][]string
}

func (r *instrumentRun) execute(ctx context.Context) error {
	// Step 2: Allocate the instrument store
	if err := r.allocate(); err != nil {
		return err
	}
	defer r.st.Close()

	// Step 3: Interpolate curve quantities
	if err := r.phase("interpolate", r.interpolate(ctx)); err != nil {
		return err
	}

	// Step 4: Compute channel counts and line-of-sight velocity
	handles, err := r.counts(ctx)
	if err != nil {
		return err
	}
	if err := r.phase("counts", handles); err != nil {
		return err
	}

	// Step 5: Bin and persist images
	handles, err = r.detect(ctx)
	if err != nil {
		return err
	}
	return r.phase("detect", handles)
}

// phase is the barrier closing one phase.
func (r *instrumentRun) phase(name string, handles []*scheduler.Handle) error {
	start := time.Now()
	if err := r.sched.WaitAll(handles); err != nil {
		return serrors.Wrapf(err, "%s phase", name)
	}
	log.Info("phase complete", "instrument", r.in.Name, "phase", name,
		"tasks", len(handles), "wait", time.Since(start))
	return nil
}

func (r *instrumentRun) allocate() error {
	r.storePath = filepath.Join(r.params.SaveDir, r.in.Name+"_counts.db")
	st, err := store.Create(r.storePath)
	if err != nil {
		return err
	}
	r.st = st

	fail := func(err error) error {
		st.Close()
		return err
	}
	if err := st.SetAttribute(store.AttrInstrument, r.in.Name); err != nil {
		return fail(err)
	}
	if err := st.SetAttribute(store.AttrRunID, r.runID); err != nil {
		return fail(err)
	}

	r.times = r.in.Time()
	chunkCols := r.params.ChunkColumns
	if chunkCols <= 0 {
		chunkCols = r.grid.MedianCount()
	}
	shape := store.Shape{Rows: len(r.times), Cols: r.grid.N()}
	chunk := store.Shape{Rows: len(r.times), Cols: chunkCols}
	if err := st.EnsureSchema(r.in.Datasets(), shape, chunk); err != nil {
		return fail(err)
	}
	if err := st.WriteTime(r.times, r.in.TimeUnit); err != nil {
		return fail(err)
	}
	if err := st.WriteCoordinates(r.grid.Coordinates, r.grid.Unit); err != nil {
		return fail(err)
	}
	log.Info("instrument store allocated", "instrument", r.in.Name, "path", r.storePath,
		"times", len(r.times), "samples", r.grid.N(), "chunk_cols", chunkCols)
	return nil
}

// interpolate submits one task per (quantity, curve).
func (r *instrumentRun) interpolate(ctx context.Context) []*scheduler.Handle {
	quantities := r.in.Quantities()
	var handles []*scheduler.Handle
	submit := func(q string, i int) {
		task := interpolation.Task{
			Quantity:   q,
			Curve:      r.curves[i],
			Local:      r.grid.Local[i],
			Window:     r.grid.Windows[i],
			TargetTime: r.times,
			TimeUnit:   r.in.TimeUnit,
		}
		handles = append(handles, r.sched.Submit(ctx, scheduler.Task{
			Name: task.Name(),
			Run:  func(context.Context) error { return task.Commit(r.st) },
		}))
	}

	switch r.order {
	case quantityMajor:
		for _, q := range quantities {
			for i := range r.curves {
				submit(q, i)
			}
		}
	default:
		for i := range r.curves {
			for _, q := range quantities {
				submit(q, i)
			}
		}
	}
	return handles
}

// counts submits one task per curve computing every channel's counts and the
// line-of-sight velocity in the curve's window. The interpolated inputs are
// read once, after the interpolation barrier.
func (r *instrumentRun) counts(ctx context.Context) ([]*scheduler.Handle, error) {
	temperature, _, err := r.st.Read("electron_temperature")
	if err != nil {
		return nil, err
	}
	density, _, err := r.st.Read("density")
	if err != nil {
		return nil, err
	}
	vz, vzUnit, err := r.st.Read("velocity_z")
	if err != nil {
		return nil, err
	}

	rows := len(r.times)
	handles := make([]*scheduler.Handle, 0, len(r.curves))
	for i, c := range r.curves {
		w := r.grid.Windows[i]
		handles = append(handles, r.sched.Submit(ctx, scheduler.Task{
			Name: fmt.Sprintf("counts curve=%s window=%s", c.Name, w),
			Run: func(context.Context) error {
				te := mat.DenseCopyOf(temperature.Slice(0, rows, w.Start, w.End))
				n := mat.DenseCopyOf(density.Slice(0, rows, w.Start, w.End))

				rates, err := r.rates.CountRates(r.in.Channels, te, n)
				if err != nil {
					return err
				}
				for _, ch := range r.in.Channels {
					rate, ok := rates.Values[ch.Name]
					if !ok {
						return serrors.NewMissingData("no count rate for channel %s", ch.Name)
					}
					var counts mat.Dense
					counts.MulElem(rate, n)
					if err := r.st.Write(ch.CountsDataset(), w, &counts, rates.Unit); err != nil {
						return err
					}
				}

				var los mat.Dense
				los.Scale(-1, vz.Slice(0, rows, w.Start, w.End))
				return r.st.Write(instruments.LOSVelocity, w, &los, vzUnit)
			},
		}))
	}
	return handles, nil
}

// detect submits one task per (channel, timestep) that bins the image and
// persists it.
func (r *instrumentRun) detect(ctx context.Context) ([]*scheduler.Handle, error) {
	coords, unit, err := r.st.Coordinates()
	if err != nil {
		return nil, err
	}
	det, err := r.in.DetectorArray(coords, unit)
	if err != nil {
		return nil, err
	}
	routine, err := instruments.NewDetectionRoutine(r.in, r.st)
	if err != nil {
		return nil, err
	}
	assembler := output.NewAssembler(r.params.SaveDir, r.params.Compression)

	r.images = make(map[string][]string, len(r.in.Channels))
	var handles []*scheduler.Handle
	for _, ch := range r.in.Channels {
		ch := ch
		header := r.in.Header(ch, det, r.params.Observer, r.runID)
		if err := assembler.EnsureDir(r.in.Name, ch.Name); err != nil {
			return nil, err
		}
		paths := make([]string, len(r.times))
		r.images[ch.Name] = paths

		for i, t := range r.times {
			i := i
			observed := r.params.Observer.Start.Add(r.in.Elapsed(t))
			handles = append(handles, r.sched.Submit(ctx, scheduler.Task{
				Name: fmt.Sprintf("detect channel=%s t=%d", ch.Name, i),
				Run: func(context.Context) error {
					img, err := routine.Detect(ch, i, header, det.Bins, det.Range)
					if err != nil {
						return err
					}
					path, err := assembler.Assemble(img, observed)
					if err != nil {
						return err
					}
					paths[i] = path
					return nil
				},
			}))
		}
	}
	return handles, nil
}
