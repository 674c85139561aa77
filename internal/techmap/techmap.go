// Package techmap stores the lookup from exclusion pixels to generation
// sites, builds it when it is missing, and gates aggregation on its presence.
package techmap

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/agentic-research/scagg/internal/exclusion"
	"github.com/agentic-research/scagg/internal/sqlitedb"
)

const metaTable = "techmap_meta"

// NoSite marks a pixel with no generation site in range.
const NoSite int32 = -1

// Store is a read-only handle on a tech-map artifact.
// A Store is not safe for concurrent use; each worker opens its own.
type Store struct {
	db    *sql.DB
	shape exclusion.Shape

	band      [][]int32
	bandStart int
	bandEnd   int
}

// Open opens the tech-map at path.
func Open(path string) (*Store, error) {
	db, err := sqlitedb.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	raw, err := sqlitedb.ReadMeta(db, metaTable)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read techmap meta %s: %w", path, err)
	}
	var shape exclusion.Shape
	if shape.Rows, err = raw.Int("rows"); err == nil {
		shape.Cols, err = raw.Int("cols")
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("techmap meta %s: %w", path, err)
	}
	return &Store{db: db, shape: shape, bandStart: -1, bandEnd: -1}, nil
}

// Shape is the raster shape the tech-map was built for.
func (s *Store) Shape() exclusion.Shape { return s.shape }

// Rows returns the generation gid of every pixel in rows [start, end).
// The returned slices are shared with the store's cache.
func (s *Store) Rows(start, end int) ([][]int32, error) {
	if start < 0 || end > s.shape.Rows || start > end {
		return nil, fmt.Errorf("row range [%d, %d) outside techmap of %d rows", start, end, s.shape.Rows)
	}
	if start == s.bandStart && end == s.bandEnd {
		return s.band, nil
	}

	band := make([][]int32, end-start)
	rows, err := s.db.Query("SELECT row, gen_gids FROM techmap_rows WHERE row >= ? AND row < ?", start, end)
	if err != nil {
		return nil, fmt.Errorf("query techmap rows: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var row int
		var blob []byte
		if err := rows.Scan(&row, &blob); err != nil {
			return nil, fmt.Errorf("scan techmap row: %w", err)
		}
		vals, err := decodeRow(blob, s.shape.Cols)
		if err != nil {
			return nil, fmt.Errorf("techmap row %d: %w", row, err)
		}
		band[row-start] = vals
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate techmap rows: %w", err)
	}
	for i := range band {
		if band[i] == nil {
			band[i] = emptyRow(s.shape.Cols)
		}
	}

	s.band, s.bandStart, s.bandEnd = band, start, end
	return band, nil
}

// Close releases the handle.
func (s *Store) Close() error {
	s.band = nil
	return s.db.Close()
}

func emptyRow(cols int) []int32 {
	row := make([]int32, cols)
	for i := range row {
		row[i] = NoSite
	}
	return row
}

func encodeRow(vals []int32) []byte {
	buf := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(buf[4*i:], uint32(v))
	}
	return buf
}

func decodeRow(blob []byte, cols int) ([]int32, error) {
	if len(blob) != 4*cols {
		return nil, fmt.Errorf("expected %d bytes, got %d", 4*cols, len(blob))
	}
	vals := make([]int32, cols)
	for i := range vals {
		vals[i] = int32(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vals, nil
}

// Writer builds a tech-map artifact.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	shape     exclusion.Shape
	batchSize int
	count     int
	mu        sync.Mutex
}

// Create starts a new tech-map at path for a raster of the given shape.
// extra is stored alongside the shape in the meta table.
func Create(path string, shape exclusion.Shape, extra sqlitedb.Meta) (*Writer, error) {
	if shape.Rows <= 0 || shape.Cols <= 0 {
		return nil, fmt.Errorf("invalid techmap shape %dx%d", shape.Rows, shape.Cols)
	}
	db, err := sqlitedb.Create(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS techmap_rows (
		row INTEGER PRIMARY KEY,
		gen_gids BLOB NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db, shape: shape, batchSize: 1000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}

	meta := sqlitedb.Meta{}
	for k, v := range extra {
		meta[k] = v
	}
	meta.SetInt("rows", shape.Rows)
	meta.SetInt("cols", shape.Cols)
	if err := sqlitedb.WriteMeta(w.tx, metaTable, meta); err != nil {
		_ = w.tx.Rollback()
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) beginTx() error {
	var err error
	w.tx, err = w.db.Begin()
	if err != nil {
		return err
	}
	w.stmt, err = w.tx.Prepare(`INSERT OR REPLACE INTO techmap_rows (row, gen_gids) VALUES (?, ?)`)
	return err
}

func (w *Writer) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	return w.tx.Commit()
}

// SetRow records the generation gid of every pixel in one row.
func (w *Writer) SetRow(row int, genGIDs []int32) error {
	if row < 0 || row >= w.shape.Rows {
		return fmt.Errorf("row %d outside techmap of %d rows", row, w.shape.Rows)
	}
	if len(genGIDs) != w.shape.Cols {
		return fmt.Errorf("row %d has %d columns, want %d", row, len(genGIDs), w.shape.Cols)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.stmt.Exec(row, encodeRow(genGIDs)); err != nil {
		return fmt.Errorf("insert row %d: %w", row, err)
	}
	w.count++
	if w.count >= w.batchSize {
		if err := w.commitTx(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		if err := w.beginTx(); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		w.count = 0
	}
	return nil
}

// Close commits pending rows and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}
