// Package store implements the chunked array store shared by every task that
// works on one instrument.
//
// A store is a single SQLite file holding named two-dimensional float64
// datasets. Each dataset is pre-allocated with a fixed shape and split into
// chunks that are persisted as compressed blobs, so concurrent tasks writing
// disjoint column windows only touch the chunks they overlap. Writes to one
// dataset are serialized by a mutex owned by the store handle; different
// datasets may be written concurrently.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"
	"gonum.org/v1/gonum/mat"
	_ "modernc.org/sqlite"

	serrors "synthesizar/internal/errors"
	"synthesizar/internal/logging"
	"synthesizar/internal/models"
)

var log = logging.Component("store")

// Reserved dataset names.
const (
	TimeDataset        = "time"
	CoordinatesDataset = "coordinates"
)

// Store attribute keys.
const (
	AttrInstrument = "instrument"
	AttrRunID      = "run_id"
)

// Shape is a (rows, cols) pair.
type Shape struct {
	Rows int
	Cols int
}

// Dataset describes one named array in the store.
type Dataset struct {
	Name      string
	Rows      int
	Cols      int
	ChunkRows int
	ChunkCols int

	// Unit is recorded by the first write; Written is false until then.
	Unit    string
	Written bool
}

// Store is a handle on one store file. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string

	// locks holds one mutex per dataset name.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	schema singleflight.Group
}

// Create removes any store at path and opens a fresh one. This is the only
// way to recover from a partially written run.
func Create(path string) (*Store, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove previous store %s: %w", path, err)
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_ = os.Remove(path + suffix)
	}
	s, err := Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("store created", "path", path)
	return s, nil
}

// Open opens the store at path, creating the file and applying migrations if
// needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store %s: %w", path, err)
	}
	// One connection: SQLite allows a single writer, and the pragmas below are
	// per connection.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{
		db:    db,
		path:  path,
		locks: make(map[string]*sync.Mutex),
	}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the store file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// lock returns the mutex guarding the named dataset.
func (s *Store) lock(name string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[name] = mu
	}
	return mu
}

// EnsureSchema creates each named dataset with the given shape and chunk
// shape unless it already exists. Existing datasets and their data are left
// untouched; an existing dataset of a different shape is a configuration
// error. Concurrent calls for the same dataset are collapsed into one.
//
// A non-positive chunk dimension means one chunk spans the whole axis.
func (s *Store) EnsureSchema(names []string, shape, chunk Shape) error {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return serrors.NewConfiguration("dataset shape must be positive, got %dx%d", shape.Rows, shape.Cols)
	}
	if chunk.Rows <= 0 || chunk.Rows > shape.Rows {
		chunk.Rows = shape.Rows
	}
	if chunk.Cols <= 0 || chunk.Cols > shape.Cols {
		chunk.Cols = shape.Cols
	}

	for _, name := range names {
		key := fmt.Sprintf("%s/%dx%d/%dx%d", name, shape.Rows, shape.Cols, chunk.Rows, chunk.Cols)
		_, err, _ := s.schema.Do(key, func() (interface{}, error) {
			return nil, s.createDataset(name, shape, chunk)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) createDataset(name string, shape, chunk Shape) error {
	if name == "" {
		return serrors.NewConfiguration("dataset name must not be empty")
	}
	res, err := s.db.Exec(`
		INSERT INTO datasets (name, rows, cols, chunk_rows, chunk_cols)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO NOTHING`,
		name, shape.Rows, shape.Cols, chunk.Rows, chunk.Cols)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		log.Debug("dataset created", "name", name, "rows", shape.Rows, "cols", shape.Cols,
			"chunk_rows", chunk.Rows, "chunk_cols", chunk.Cols)
		return nil
	}

	existing, err := s.Dataset(name)
	if err != nil {
		return err
	}
	if existing.Rows != shape.Rows || existing.Cols != shape.Cols {
		return serrors.NewConfiguration("dataset %s exists with shape %dx%d, requested %dx%d",
			name, existing.Rows, existing.Cols, shape.Rows, shape.Cols)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRow(query string, args ...any) *sql.Row
}

func loadDataset(q queryer, name string) (Dataset, error) {
	d := Dataset{Name: name}
	var unit sql.NullString
	var written int
	err := q.QueryRow(`
		SELECT rows, cols, chunk_rows, chunk_cols, unit, written
		FROM datasets WHERE name = ?`, name).
		Scan(&d.Rows, &d.Cols, &d.ChunkRows, &d.ChunkCols, &unit, &written)
	if err == sql.ErrNoRows {
		return Dataset{}, serrors.NewMissingData("dataset %s does not exist", name)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("failed to load dataset %s: %w", name, err)
	}
	d.Unit = unit.String
	d.Written = written != 0
	return d, nil
}

// Dataset returns the metadata of one dataset.
func (s *Store) Dataset(name string) (Dataset, error) {
	return loadDataset(s.db, name)
}

// Datasets lists every dataset in the store, sorted by name.
func (s *Store) Datasets() ([]Dataset, error) {
	rows, err := s.db.Query(`
		SELECT name, rows, cols, chunk_rows, chunk_cols, unit, written
		FROM datasets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var d Dataset
		var unit sql.NullString
		var written int
		if err := rows.Scan(&d.Name, &d.Rows, &d.Cols, &d.ChunkRows, &d.ChunkCols, &unit, &written); err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		d.Unit = unit.String
		d.Written = written != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

// Write stores values (rows × window width) into every row of the dataset at
// the given column window. The first write records unit; a later write with
// a different unit is rejected. The whole read-modify-write of the touched
// chunks runs in one transaction under the dataset's lock.
func (s *Store) Write(name string, window models.Window, values *mat.Dense, unit string) error {
	mu := s.lock(name)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin write of %s: %w", name, err)
	}
	defer tx.Rollback()

	d, err := loadDataset(tx, name)
	if err != nil {
		return err
	}
	rows, cols := values.Dims()
	if window.Start < 0 || window.End > d.Cols || window.Len() <= 0 {
		return serrors.NewConfiguration("dataset %s: window %s outside [0,%d)", name, window, d.Cols)
	}
	if rows != d.Rows || cols != window.Len() {
		return serrors.NewConfiguration("dataset %s: values have shape %dx%d, window %s needs %dx%d",
			name, rows, cols, window, d.Rows, window.Len())
	}

	if d.Written && d.Unit != unit {
		return serrors.NewConfiguration("dataset %s: unit %q conflicts with recorded unit %q", name, unit, d.Unit)
	}
	if !d.Written {
		if _, err := tx.Exec(`UPDATE datasets SET unit = ?, written = 1 WHERE name = ?`, unit, name); err != nil {
			return fmt.Errorf("failed to record unit of %s: %w", name, err)
		}
	}

	rowIdx, rowSpans := chunkSpans(0, d.Rows, d.ChunkRows)
	colIdx, colSpans := chunkSpans(window.Start, window.End, d.ChunkCols)
	for i, cr := range rowIdx {
		for j, cc := range colIdx {
			if err := s.mergeChunk(tx, d, cr, cc, rowSpans[i], colSpans[j], values, window.Start); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit write of %s: %w", name, err)
	}
	return nil
}

// mergeChunk loads chunk (cr, cc), overwrites the rows/cols spans from values
// (whose column 0 is dataset column colOffset) and stores it back.
func (s *Store) mergeChunk(tx *sql.Tx, d Dataset, cr, cc int, rs, cs span, values *mat.Dense, colOffset int) error {
	var blob []byte
	err := tx.QueryRow(`SELECT data FROM chunks WHERE dataset = ? AND chunk_row = ? AND chunk_col = ?`,
		d.Name, cr, cc).Scan(&blob)

	var chunk *mat.Dense
	switch {
	case err == sql.ErrNoRows:
		r, c := d.chunkExtent(cr, cc)
		chunk = mat.NewDense(r, c, nil)
	case err != nil:
		return fmt.Errorf("failed to load chunk (%d,%d) of %s: %w", cr, cc, d.Name, err)
	default:
		if chunk, err = decodeChunk(blob); err != nil {
			return fmt.Errorf("dataset %s chunk (%d,%d): %w", d.Name, cr, cc, err)
		}
	}

	r0, c0 := cr*d.ChunkRows, cc*d.ChunkCols
	dst := chunk.Slice(rs.lo-r0, rs.hi-r0, cs.lo-c0, cs.hi-c0).(*mat.Dense)
	dst.Copy(values.Slice(rs.lo, rs.hi, cs.lo-colOffset, cs.hi-colOffset))

	if blob, err = encodeChunk(chunk); err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO chunks (dataset, chunk_row, chunk_col, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(dataset, chunk_row, chunk_col) DO UPDATE SET data = excluded.data`,
		d.Name, cr, cc, blob)
	if err != nil {
		return fmt.Errorf("failed to store chunk (%d,%d) of %s: %w", cr, cc, d.Name, err)
	}
	return nil
}

// Read returns the full array of a dataset and its unit. Reading a dataset
// that does not exist or was never written is a missing-data error. Reads
// take no lock; callers only read after the phase that writes the dataset.
func (s *Store) Read(name string) (*mat.Dense, string, error) {
	d, err := s.Dataset(name)
	if err != nil {
		return nil, "", err
	}
	if !d.Written {
		return nil, "", serrors.NewMissingData("dataset %s has not been written", name)
	}

	rows, err := s.db.Query(`SELECT chunk_row, chunk_col, data FROM chunks WHERE dataset = ?`, name)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read chunks of %s: %w", name, err)
	}
	defer rows.Close()

	out := mat.NewDense(d.Rows, d.Cols, nil)
	for rows.Next() {
		var cr, cc int
		var blob []byte
		if err := rows.Scan(&cr, &cc, &blob); err != nil {
			return nil, "", fmt.Errorf("failed to scan chunk of %s: %w", name, err)
		}
		chunk, err := decodeChunk(blob)
		if err != nil {
			return nil, "", fmt.Errorf("dataset %s chunk (%d,%d): %w", name, cr, cc, err)
		}
		r, c := chunk.Dims()
		r0, c0 := cr*d.ChunkRows, cc*d.ChunkCols
		out.Slice(r0, r0+r, c0, c0+c).(*mat.Dense).Copy(chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("failed to read chunks of %s: %w", name, err)
	}
	return out, d.Unit, nil
}

// WriteTime writes the observing time axis as the (T × 1) time dataset,
// creating it if needed.
func (s *Store) WriteTime(values []float64, unit string) error {
	if err := s.EnsureSchema([]string{TimeDataset}, Shape{len(values), 1}, Shape{}); err != nil {
		return err
	}
	col := mat.NewDense(len(values), 1, append([]float64(nil), values...))
	return s.Write(TimeDataset, models.Window{Start: 0, End: 1}, col, unit)
}

// Time returns the time axis and its unit.
func (s *Store) Time() ([]float64, string, error) {
	m, unit, err := s.Read(TimeDataset)
	if err != nil {
		return nil, "", err
	}
	return mat.Col(nil, 0, m), unit, nil
}

// WriteCoordinates writes the (N × 3) global sample positions, creating the
// coordinates dataset if needed.
func (s *Store) WriteCoordinates(positions *mat.Dense, unit string) error {
	rows, cols := positions.Dims()
	if cols != 3 {
		return serrors.NewConfiguration("coordinates must have 3 columns, got %d", cols)
	}
	if err := s.EnsureSchema([]string{CoordinatesDataset}, Shape{rows, 3}, Shape{}); err != nil {
		return err
	}
	return s.Write(CoordinatesDataset, models.Window{Start: 0, End: 3}, positions, unit)
}

// Coordinates returns the (N × 3) global sample positions and their unit.
func (s *Store) Coordinates() (*mat.Dense, string, error) {
	return s.Read(CoordinatesDataset)
}

// SetAttribute stores a string attribute on the store.
func (s *Store) SetAttribute(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO attributes (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set attribute %s: %w", key, err)
	}
	return nil
}

// Attribute returns a store attribute; a missing key is a missing-data error.
func (s *Store) Attribute(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM attributes WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", serrors.NewMissingData("attribute %s is not set", key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read attribute %s: %w", key, err)
	}
	return value, nil
}

// Attributes returns every store attribute key in sorted order.
func (s *Store) Attributes() ([]string, error) {
	rows, err := s.db.Query(`SELECT key FROM attributes`)
	if err != nil {
		return nil, fmt.Errorf("failed to list attributes: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, rows.Err()
}
