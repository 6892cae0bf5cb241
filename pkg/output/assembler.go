// Package output persists detector images as Parquet files, one per
// (instrument, channel, timestep), and reads them back.
//
// Each file holds one row per pixel. The image header travels in the file's
// key/value metadata.
package output

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("output")

// Metadata keys that identify an image; header cards are upper case and never
// collide with them.
const (
	metaInstrument = "instrument"
	metaChannel    = "channel"
	metaTimeIndex  = "time_index"
	metaRows       = "rows"
	metaCols       = "cols"
)

// PixelRow is one pixel of an image.
type PixelRow struct {
	Row   int32   `parquet:"row"`
	Col   int32   `parquet:"col"`
	Value float64 `parquet:"value"`
}

// CompressionType selects the Parquet page codec.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionZstd
	CompressionGzip
)

// ParseCompressionType maps a config string to a codec. Unknown values fall
// back to zstd.
func ParseCompressionType(s string) CompressionType {
	switch s {
	case "snappy":
		return CompressionSnappy
	case "zstd":
		return CompressionZstd
	case "gzip":
		return CompressionGzip
	case "none", "":
		return CompressionNone
	default:
		return CompressionZstd
	}
}

func getCompression(ct CompressionType) compress.Codec {
	switch ct {
	case CompressionSnappy:
		return &parquet.Snappy
	case CompressionZstd:
		return &parquet.Zstd
	case CompressionGzip:
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}

// percentiles are reported as DATAPxx header cards.
var percentiles = []int{1, 10, 25, 50, 75, 90, 95, 98, 99}

// Assembler finalizes and persists images under a root directory.
type Assembler struct {
	root        string
	compression CompressionType
}

// NewAssembler returns an assembler writing below root.
func NewAssembler(root string, compression CompressionType) *Assembler {
	return &Assembler{root: root, compression: compression}
}

// Path returns {root}/{instrument}/{channel}/map_t{index:06d}.parquet.
func (a *Assembler) Path(instrument, channel string, timeIndex int) string {
	return filepath.Join(a.root, instrument, channel, fmt.Sprintf("map_t%06d.parquet", timeIndex))
}

// EnsureDir creates the directory of an (instrument, channel) pair. It is
// safe to call repeatedly and from concurrent goroutines.
func (a *Assembler) EnsureDir(instrument, channel string) error {
	dir := filepath.Join(a.root, instrument, channel)
	if err := os.MkdirAll(dir, 0755); err != nil && !errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("create output directory %s: %w", dir, err)
	}
	return nil
}

// Assemble stamps the observation time and summary statistics into the image
// header and writes the image. It returns the written path, which is also
// stored in img.Path.
func (a *Assembler) Assemble(img *models.Image, observed time.Time) (string, error) {
	if img == nil || img.Data == nil {
		return "", fmt.Errorf("assemble: empty image")
	}
	header := img.Header.Clone()
	header.SetTime("DATE-OBS", observed)
	if err := addStatistics(header, img.Data.RawMatrix().Data); err != nil {
		return "", err
	}

	if err := a.EnsureDir(img.Instrument, img.Channel); err != nil {
		return "", err
	}
	path := a.Path(img.Instrument, img.Channel, img.TimeIndex)
	if err := a.write(path, img, header); err != nil {
		return "", err
	}

	img.Header = header
	img.Path = path
	log.Debug("image written", "path", path, "date_obs", header["DATE-OBS"])
	return path, nil
}

// write writes to a temporary file in the target directory and renames it
// into place so readers never see a partial image.
func (a *Assembler) write(path string, img *models.Image, header models.Header) error {
	rows, cols := img.Data.Dims()

	opts := []parquet.WriterOption{
		parquet.Compression(getCompression(a.compression)),
		parquet.KeyValueMetadata(metaInstrument, img.Instrument),
		parquet.KeyValueMetadata(metaChannel, img.Channel),
		parquet.KeyValueMetadata(metaTimeIndex, strconv.Itoa(img.TimeIndex)),
		parquet.KeyValueMetadata(metaRows, strconv.Itoa(rows)),
		parquet.KeyValueMetadata(metaCols, strconv.Itoa(cols)),
	}
	for _, k := range header.Keys() {
		opts = append(opts, parquet.KeyValueMetadata(k, header[k]))
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".map-*.parquet")
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	tmp := f.Name()
	defer os.Remove(tmp)

	pixels := make([]PixelRow, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c, v := range img.Data.RawRowView(r) {
			pixels = append(pixels, PixelRow{Row: int32(r), Col: int32(c), Value: v})
		}
	}

	writer := parquet.NewGenericWriter[PixelRow](f, opts...)
	if _, err := writer.Write(pixels); err != nil {
		f.Close()
		return fmt.Errorf("write rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// addStatistics sets DATAMIN, DATAMAX, DATAMEAN and the DATAPxx percentiles.
func addStatistics(h models.Header, data []float64) error {
	if len(data) == 0 {
		return nil
	}
	h.SetFloat("DATAMIN", floats.Min(data))
	h.SetFloat("DATAMAX", floats.Max(data))
	h.SetFloat("DATAMEAN", stat.Mean(data, nil))

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return fmt.Errorf("create sketch: %w", err)
	}
	for _, v := range data {
		if err := sketch.Add(v); err != nil {
			return fmt.Errorf("add to sketch: %w", err)
		}
	}
	for _, p := range percentiles {
		v, err := sketch.GetValueAtQuantile(float64(p) / 100)
		if err != nil {
			return fmt.Errorf("percentile %d: %w", p, err)
		}
		h.SetFloat(fmt.Sprintf("DATAP%02d", p), v)
	}
	return nil
}
