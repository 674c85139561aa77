// Package sqlitedb holds the SQLite plumbing shared by the exclusion,
// generation, and tech-map stores.
package sqlitedb

import (
	"database/sql"
	"fmt"
	"os"
	"strconv"

	_ "modernc.org/sqlite"
)

// OpenReadOnly opens an existing database for reads.
// A missing file is reported as an error wrapping os.ErrNotExist instead of
// being created empty.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// One connection per handle: the query_only pragma is per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA query_only = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set query_only on %s: %w", path, err)
	}
	return db, nil
}

// Create opens path for a bulk load, replacing any previous file.
func Create(path string) (*sql.DB, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove %s: %w", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	// Performance tuning for bulk insert
	if _, err := db.Exec("PRAGMA synchronous = OFF"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec("PRAGMA journal_mode = MEMORY"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Meta is a key/value table read into memory.
type Meta map[string]string

// ReadMeta loads every row of a (key, value) table.
func ReadMeta(db *sql.DB, table string) (Meta, error) {
	rows, err := db.Query(fmt.Sprintf("SELECT key, value FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }() // safe to ignore

	m := make(Meta)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		m[k] = v
	}
	return m, rows.Err()
}

// WriteMeta creates a (key, value) table and fills it.
func WriteMeta(tx *sql.Tx, table string, m Meta) error {
	if _, err := tx.Exec(fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (key TEXT PRIMARY KEY, value TEXT NOT NULL)", table)); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf("INSERT OR REPLACE INTO %s (key, value) VALUES (?, ?)", table))
	if err != nil {
		return fmt.Errorf("prepare %s insert: %w", table, err)
	}
	defer func() { _ = stmt.Close() }() // safe to ignore

	for k, v := range m {
		if _, err := stmt.Exec(k, v); err != nil {
			return fmt.Errorf("insert %s.%s: %w", table, k, err)
		}
	}
	return nil
}

// Int reads an integer entry.
func (m Meta) Int(key string) (int, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing meta key %q", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("meta key %q: %w", key, err)
	}
	return n, nil
}

// Float reads a float entry.
func (m Meta) Float(key string) (float64, error) {
	v, ok := m[key]
	if !ok {
		return 0, fmt.Errorf("missing meta key %q", key)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("meta key %q: %w", key, err)
	}
	return f, nil
}

// FloatOr reads a float entry, falling back to def when the key is absent.
func (m Meta) FloatOr(key string, def float64) (float64, error) {
	if _, ok := m[key]; !ok {
		return def, nil
	}
	return m.Float(key)
}

// SetInt stores an integer entry.
func (m Meta) SetInt(key string, v int) { m[key] = strconv.Itoa(v) }

// SetFloat stores a float entry in shortest round-trip form.
func (m Meta) SetFloat(key string, v float64) { m[key] = strconv.FormatFloat(v, 'g', -1, 64) }

// Transaction runs fn inside a transaction, rolling back on error or panic.
func Transaction(db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
