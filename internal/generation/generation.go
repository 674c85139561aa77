// Package generation reads and writes the generation results store: one row
// per simulated site, keyed by generation gid, with the resource gid it was
// simulated for, its coordinates, and a JSON record of its outputs.
package generation

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/agentic-research/scagg/internal/sqlitedb"
)

// ErrUnknownSite is returned for a generation gid absent from the store.
var ErrUnknownSite = errors.New("unknown generation site")

// ErrInvalidGID is returned for a site whose gids are negative or too large.
// Generation gids must fit the int32 tech-map encoding, resource gids a
// uint32 set.
var ErrInvalidGID = errors.New("invalid site gid")

func validateSite(site Site) error {
	if site.GenGID < 0 || site.GenGID > math.MaxInt32 || site.ResGID < 0 || site.ResGID > math.MaxUint32 {
		return fmt.Errorf("%w: gen gid %d, res gid %d", ErrInvalidGID, site.GenGID, site.ResGID)
	}
	return nil
}

// Site is one generation result location.
type Site struct {
	GenGID    int
	ResGID    int
	Latitude  float64
	Longitude float64
}

// Store is a read-only handle on a generation results store.
// Site metadata is loaded on Open; records are parsed on first use.
// A Store is not safe for concurrent use; each worker opens its own.
type Store struct {
	db      *sql.DB
	path    string
	sites   map[int]Site
	records map[int]any
}

// Open opens the generation store at path and loads its site table.
func Open(path string) (*Store, error) {
	db, err := sqlitedb.OpenReadOnly(path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, path: path, sites: make(map[int]Site), records: make(map[int]any)}

	rows, err := db.Query("SELECT gen_gid, res_gid, latitude, longitude FROM sites")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("query sites %s: %w", path, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.GenGID, &site.ResGID, &site.Latitude, &site.Longitude); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("scan site: %w", err)
		}
		if err := validateSite(site); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("load sites %s: %w", path, err)
		}
		s.sites[site.GenGID] = site
	}
	if err := rows.Err(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("iterate sites: %w", err)
	}
	return s, nil
}

// Len returns the number of sites.
func (s *Store) Len() int { return len(s.sites) }

// Site looks up one site by generation gid.
func (s *Store) Site(genGID int) (Site, bool) {
	site, ok := s.sites[genGID]
	return site, ok
}

// Sites returns every site ordered by generation gid.
func (s *Store) Sites() []Site {
	out := make([]Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GenGID < out[j].GenGID })
	return out
}

// Record returns the parsed output record of a site.
// Records without stored JSON resolve to nil.
func (s *Store) Record(genGID int) (any, error) {
	if rec, ok := s.records[genGID]; ok {
		return rec, nil
	}
	if _, ok := s.sites[genGID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSite, genGID)
	}

	var raw sql.NullString
	if err := s.db.QueryRow("SELECT record FROM sites WHERE gen_gid = ?", genGID).Scan(&raw); err != nil {
		return nil, fmt.Errorf("query record %d: %w", genGID, err)
	}
	var parsed any
	if raw.Valid && raw.String != "" {
		if err := json.Unmarshal([]byte(raw.String), &parsed); err != nil {
			return nil, fmt.Errorf("parse record %d: %w", genGID, err)
		}
	}
	s.records[genGID] = parsed
	return parsed, nil
}

// Close releases the handle.
func (s *Store) Close() error {
	s.records = nil
	return s.db.Close()
}

// StreamSites iterates over all sites of the store at path in gen gid order,
// without loading the table into memory.
func StreamSites(path string, fn func(Site) error) error {
	db, err := sqlitedb.OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }() // safe to ignore

	rows, err := db.Query("SELECT gen_gid, res_gid, latitude, longitude FROM sites ORDER BY gen_gid")
	if err != nil {
		return fmt.Errorf("query sites: %w", err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	for rows.Next() {
		var site Site
		if err := rows.Scan(&site.GenGID, &site.ResGID, &site.Latitude, &site.Longitude); err != nil {
			return fmt.Errorf("scan site: %w", err)
		}
		if err := validateSite(site); err != nil {
			return err
		}
		if err := fn(site); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Writer builds a generation store.
type Writer struct {
	db        *sql.DB
	tx        *sql.Tx
	stmt      *sql.Stmt
	batchSize int
	count     int
	mu        sync.Mutex
}

// Create starts a new generation store at path, replacing any existing file.
func Create(path string) (*Writer, error) {
	db, err := sqlitedb.Create(path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sites (
		gen_gid INTEGER PRIMARY KEY,
		res_gid INTEGER NOT NULL,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		record JSON
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	w := &Writer{db: db, batchSize: 10000}
	if err := w.beginTx(); err != nil {
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
	w.stmt, err = w.tx.Prepare(`
		INSERT OR REPLACE INTO sites (gen_gid, res_gid, latitude, longitude, record)
		VALUES (?, ?, ?, ?, ?)
	`)
	return err
}

func (w *Writer) commitTx() error {
	if w.stmt != nil {
		_ = w.stmt.Close()
	}
	return w.tx.Commit()
}

// Add writes one site with its output record. record may be nil.
func (w *Writer) Add(site Site, record map[string]any) error {
	if err := validateSite(site); err != nil {
		return err
	}

	var blob any
	if record != nil {
		b, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshal record %d: %w", site.GenGID, err)
		}
		blob = string(b)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.stmt.Exec(site.GenGID, site.ResGID, site.Latitude, site.Longitude, blob); err != nil {
		return fmt.Errorf("insert site %d: %w", site.GenGID, err)
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

// Close commits pending sites and closes the database.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.commitTx(); err != nil {
		_ = w.db.Close()
		return err
	}
	return w.db.Close()
}
