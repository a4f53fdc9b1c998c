// Package store persists classification results in SQLite.
//
// Two drivers are supported: mattn/go-sqlite3 ("sqlite3", cgo) and
// modernc.org/sqlite ("sqlite", pure Go). Similarity queries use the SQL
// function vec_distance_cosine when the connection provides it and fall
// back to scoring in Go otherwise.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"photosort/internal/logging"
)

// ErrNotFound is returned when a photo id does not exist.
var ErrNotFound = errors.New("photo not found")

// Driver names accepted by Options.Driver.
const (
	DriverMattn   = "sqlite3"
	DriverModernc = "sqlite"
)

// Options configures Open.
type Options struct {
	Driver string // DriverMattn (default) or DriverModernc
}

// Store is the photo result database. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	path   string
	driver string
	vecSQL bool // vec_distance_cosine callable
}

const schema = `
CREATE TABLE IF NOT EXISTS photos (
	id TEXT PRIMARY KEY,
	path TEXT NOT NULL,
	file_name TEXT NOT NULL,
	category TEXT NOT NULL,
	top_score REAL DEFAULT 0,
	scores TEXT NOT NULL,
	tags TEXT,
	caption TEXT,
	text_in_image TEXT,
	model TEXT,
	is_valuable INTEGER,
	valuable_score REAL,
	export_status TEXT NOT NULL,
	error_message TEXT,
	analysis_log TEXT,
	analysis_duration_ms INTEGER,
	embedding BLOB,
	fingerprint TEXT DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_photos_created ON photos(created_at);
CREATE INDEX IF NOT EXISTS idx_photos_category ON photos(category);
`

// Open opens (creating if needed) the database at path.
func Open(path string, opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	driver := opts.Driver
	if driver == "" {
		driver = DriverMattn
	}
	if driver != DriverMattn && driver != DriverModernc {
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, path: path, driver: driver}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	s.detectVecFunction()

	logging.Store("opened %s (driver=%s, sql cosine=%t)", path, driver, s.vecSQL)
	return s, nil
}

func (s *Store) initialize() error {
	if tableExists(s.db, "photos") {
		if err := RunMigrations(s.db); err != nil {
			return err
		}
		// Older databases kept created_at as CURRENT_TIMESTAMP text.
		if _, err := s.db.Exec(`UPDATE photos SET created_at = CAST(strftime('%s', created_at) AS INTEGER) * 1000
			WHERE typeof(created_at) = 'text'`); err != nil {
			return fmt.Errorf("failed to convert created_at: %w", err)
		}
	}
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// detectVecFunction probes vec_distance_cosine with two tiny vectors.
func (s *Store) detectVecFunction() {
	probe := encodeEmbedding([]float32{1, 0})
	var d sql.NullFloat64
	err := s.db.QueryRow("SELECT vec_distance_cosine(?, ?)", probe, probe).Scan(&d)
	s.vecSQL = err == nil && d.Valid
	if err != nil {
		logging.StoreDebug("vec_distance_cosine unavailable, using Go scoring: %v", err)
	}
}

// VectorSQL reports whether similarity search runs in SQL.
func (s *Store) VectorSQL() bool { return s.vecSQL }

// Driver returns the database/sql driver name.
func (s *Store) Driver() string { return s.driver }

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
