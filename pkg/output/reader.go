package output

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/parquet-go/parquet-go"
	"gonum.org/v1/gonum/mat"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/models"
)

// ReadImage loads an image written by Assemble.
func ReadImage(path string) (*models.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat image: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet file %s: %w", path, err)
	}

	img := &models.Image{Header: models.Header{}, Path: path}
	for _, kv := range pf.Metadata().KeyValueMetadata {
		switch kv.Key {
		case metaInstrument:
			img.Instrument = kv.Value
		case metaChannel:
			img.Channel = kv.Value
		case metaTimeIndex, metaRows, metaCols:
		default:
			img.Header[kv.Key] = kv.Value
		}
	}
	dims := [3]int{}
	for i, key := range []string{metaTimeIndex, metaRows, metaCols} {
		v, ok := pf.Lookup(key)
		if !ok {
			return nil, serrors.NewMissingData("image %s has no %s metadata", path, key)
		}
		if dims[i], err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("image %s: bad %s %q: %w", path, key, v, err)
		}
	}
	img.TimeIndex = dims[0]
	rows, cols := dims[1], dims[2]
	if rows <= 0 || cols <= 0 {
		return nil, serrors.NewConfiguration("image %s has shape %dx%d", path, rows, cols)
	}
	img.Data = mat.NewDense(rows, cols, nil)

	reader := parquet.NewGenericReader[PixelRow](f)
	defer reader.Close()

	buf := make([]PixelRow, 4096)
	for {
		n, err := reader.Read(buf)
		for _, p := range buf[:n] {
			if int(p.Row) >= rows || int(p.Col) >= cols || p.Row < 0 || p.Col < 0 {
				return nil, serrors.NewConfiguration("image %s: pixel (%d,%d) outside %dx%d", path, p.Row, p.Col, rows, cols)
			}
			img.Data.Set(int(p.Row), int(p.Col), p.Value)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read rows: %w", err)
		}
	}
	return img, nil
}
