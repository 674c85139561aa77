// Package exclusion reads and writes the exclusion raster store.
//
// The raster is kept row by row: each row is a roaring bitmap of the column
// indices that remain developable after exclusions. Rows that were never
// written are fully excluded.
package exclusion

import (
	"bytes"
	"database/sql"
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/scagg/internal/sqlitedb"
)

const metaTable = "exclusion_meta"

// DefaultPixelAreaKm2 is the area of a 90m pixel.
const DefaultPixelAreaKm2 = 0.0081

// Shape is the raster size in pixels.
type Shape struct {
	Rows int
	Cols int
}

// Meta describes the raster grid and its georeference.
// Coordinates refer to the north-west corner of pixel (0, 0).
type Meta struct {
	Shape
	OriginLat    float64
	OriginLon    float64
	PixelHeight  float64 // degrees of latitude per row
	PixelWidth   float64 // degrees of longitude per column
	PixelAreaKm2 float64
}

// Coordinates returns the centre of pixel (row, col).
func (m Meta) Coordinates(row, col int) (lat, lon float64) {
	lat = m.OriginLat - (float64(row)+0.5)*m.PixelHeight
	lon = m.OriginLon + (float64(col)+0.5)*m.PixelWidth
	return lat, lon
}

func (m Meta) encode() sqlitedb.Meta {
	out := sqlitedb.Meta{}
	out.SetInt("rows", m.Rows)
	out.SetInt("cols", m.Cols)
	out.SetFloat("origin_lat", m.OriginLat)
	out.SetFloat("origin_lon", m.OriginLon)
	out.SetFloat("pixel_height", m.PixelHeight)
	out.SetFloat("pixel_width", m.PixelWidth)
	out.SetFloat("pixel_area_km2", m.PixelAreaKm2)
	return out
}

func decodeMeta(raw sqlitedb.Meta) (Meta, error) {
	var m Meta
	var err error
	if m.Rows, err = raw.Int("rows"); err != nil {
		return m, err
	}
	if m.Cols, err = raw.Int("cols"); err != nil {
		return m, err
	}
	if m.OriginLat, err = raw.Float("origin_lat"); err != nil {
		return m, err
	}
	if m.OriginLon, err = raw.Float("origin_lon"); err != nil {
		return m, err
	}
	if m.PixelHeight, err = raw.Float("pixel_height"); err != nil {
		return m, err
	}
	if m.PixelWidth, err = raw.Float("pixel_width"); err != nil {
		return m, err
	}
	if m.PixelAreaKm2, err = raw.FloatOr("pixel_area_km2", DefaultPixelAreaKm2); err != nil {
		return m, err
	}
	if m.Rows <= 0 || m.Cols <= 0 {
		return m, fmt.Errorf("invalid exclusion shape %dx%d", m.Rows, m.Cols)
	}
	return m, nil
}

// Store is a read-only handle on an exclusion raster.
// A Store is not safe for concurrent use; each worker opens its own.
type Store struct {
	db   *sql.DB
	path string
	meta Meta

	// Last fetched row band. Consecutive cells of one grid row share it.
	band      []*roaring.Bitmap
	bandStart int
	bandEnd   int
}

// Open opens the exclusion store at path.
func Open(path string) (*Store, error) {
	db, err := sqlitedb.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	raw, err := sqlitedb.ReadMeta(db, metaTable)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("read exclusion meta %s: %w", path, err)
	}
	meta, err := decodeMeta(raw)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("exclusion meta %s: %w", path, err)
	}
	return &Store{db: db, path: path, meta: meta, bandStart: -1, bandEnd: -1}, nil
}

// ReadMeta opens path just long enough to read its grid description.
func ReadMeta(path string) (Meta, error) {
	s, err := Open(path)
	if err != nil {
		return Meta{}, err
	}
	defer func() { _ = s.Close() }() // safe to ignore
	return s.Meta(), nil
}

// Meta returns the raster description.
func (s *Store) Meta() Meta { return s.meta }

// Shape returns the raster size.
func (s *Store) Shape() Shape { return s.meta.Shape }

// Rows returns the inclusion masks of rows [start, end).
// The returned bitmaps are shared with the store's cache and must not be
// modified by the caller.
func (s *Store) Rows(start, end int) ([]*roaring.Bitmap, error) {
	if start < 0 || end > s.meta.Rows || start > end {
		return nil, fmt.Errorf("row range [%d, %d) outside raster of %d rows", start, end, s.meta.Rows)
	}
	if start == s.bandStart && end == s.bandEnd {
		return s.band, nil
	}

	band := make([]*roaring.Bitmap, end-start)
	rows, err := s.db.Query("SELECT row, mask FROM exclusion_rows WHERE row >= ? AND row < ?", start, end)
	if err != nil {
		return nil, fmt.Errorf("query exclusion rows: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var row int
		var blob []byte
		if err := rows.Scan(&row, &blob); err != nil {
			return nil, fmt.Errorf("scan exclusion row: %w", err)
		}
		bm := roaring.New()
		if err := bm.UnmarshalBinary(blob); err != nil {
			return nil, fmt.Errorf("unmarshal exclusion row %d: %w", row, err)
		}
		band[row-start] = bm
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exclusion rows: %w", err)
	}
	for i := range band {
		if band[i] == nil {
			band[i] = roaring.New()
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

// Writer builds an exclusion store.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	meta      Meta
	batchSize int
	count     int
	mu        sync.Mutex
}

// Create starts a new exclusion store at path, replacing any existing file.
func Create(path string, meta Meta) (*Writer, error) {
	if meta.Rows <= 0 || meta.Cols <= 0 {
		return nil, fmt.Errorf("invalid exclusion shape %dx%d", meta.Rows, meta.Cols)
	}
	if meta.PixelAreaKm2 == 0 {
		meta.PixelAreaKm2 = DefaultPixelAreaKm2
	}
	db, err := sqlitedb.Create(path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS exclusion_rows (
		row INTEGER PRIMARY KEY,
		mask BLOB NOT NULL
	);`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db, meta: meta, batchSize: 1000}
	if err := w.beginTx(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := sqlitedb.WriteMeta(w.tx, metaTable, meta.encode()); err != nil {
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
	w.stmt, err = w.tx.Prepare(`INSERT OR REPLACE INTO exclusion_rows (row, mask) VALUES (?, ?)`)
	return err
}

func (w *Writer) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	return w.tx.Commit()
}

// SetRow records the developable columns of one row.
func (w *Writer) SetRow(row int, included *roaring.Bitmap) error {
	if row < 0 || row >= w.meta.Rows {
		return fmt.Errorf("row %d outside raster of %d rows", row, w.meta.Rows)
	}
	if !included.IsEmpty() && int(included.Maximum()) >= w.meta.Cols {
		return fmt.Errorf("row %d includes column %d outside raster of %d columns", row, included.Maximum(), w.meta.Cols)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var buf bytes.Buffer
	if _, err := included.WriteTo(&buf); err != nil {
		return fmt.Errorf("serialize row %d: %w", row, err)
	}
	if _, err := w.stmt.Exec(row, buf.Bytes()); err != nil {
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

// FullRow returns a mask including every column of the raster.
func (w *Writer) FullRow() *roaring.Bitmap {
	bm := roaring.New()
	bm.AddRange(0, uint64(w.meta.Cols))
	return bm
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
