package store

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// chunkBlock is the persisted payload of one chunk, row-major.
type chunkBlock struct {
	Rows int
	Cols int
	Data []float64
}

// encodeChunk compresses a chunk using gob encoding and gzip compression.
func encodeChunk(m *mat.Dense) ([]byte, error) {
	rows, cols := m.Dims()
	block := chunkBlock{Rows: rows, Cols: cols, Data: make([]float64, 0, rows*cols)}
	for r := 0; r < rows; r++ {
		block.Data = append(block.Data, m.RawRowView(r)...)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(&block); err != nil {
		return nil, fmt.Errorf("failed to encode chunk: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeChunk decompresses and decodes a chunk from a gob+gzip blob.
func decodeChunk(blob []byte) (*mat.Dense, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var block chunkBlock
	if err := gob.NewDecoder(gz).Decode(&block); err != nil {
		return nil, fmt.Errorf("failed to decode chunk: %w", err)
	}
	if block.Rows <= 0 || block.Cols <= 0 || len(block.Data) != block.Rows*block.Cols {
		return nil, fmt.Errorf("corrupt chunk: %dx%d with %d values", block.Rows, block.Cols, len(block.Data))
	}
	return mat.NewDense(block.Rows, block.Cols, block.Data), nil
}

// span is a half-open index range.
type span struct{ lo, hi int }

// chunkSpans splits [lo, hi) along an axis of the given length into the
// pieces that fall in each chunk of width size. It returns the chunk index of
// each piece alongside the piece.
func chunkSpans(lo, hi, size int) (idx []int, spans []span) {
	for c := lo / size; c*size < hi; c++ {
		start := max(lo, c*size)
		end := min(hi, (c+1)*size)
		idx = append(idx, c)
		spans = append(spans, span{start, end})
	}
	return idx, spans
}

// chunkExtent returns the shape of chunk (cr, cc) of a dataset; edge chunks
// are truncated to the dataset shape.
func (d Dataset) chunkExtent(cr, cc int) (int, int) {
	rows := min(d.ChunkRows, d.Rows-cr*d.ChunkRows)
	cols := min(d.ChunkCols, d.Cols-cc*d.ChunkCols)
	return rows, cols
}
