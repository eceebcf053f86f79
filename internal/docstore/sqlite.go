// Stores each table as one row of a SQLite database.

package docstore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteBackend keeps every table of a store in a single SQLite file, one row
// per table holding the same JSON bytes FileBackend would write.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS tables (
		name TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables table: %w", err)
	}
	return &SQLiteBackend{db: db, path: path}, nil
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// Location implements Backend.
func (b *SQLiteBackend) Location(name string) string {
	return b.path + "#" + name
}

// Load implements Backend.
func (b *SQLiteBackend) Load(name string) ([]byte, bool, error) {
	var payload []byte
	err := b.db.QueryRow(`SELECT payload FROM tables WHERE name = ?`, name).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select %s: %w", name, err)
	}
	return payload, true, nil
}

// Save implements Backend.
func (b *SQLiteBackend) Save(name string, data []byte) error {
	if _, err := b.db.Exec(`INSERT INTO tables (name, payload) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET payload = excluded.payload`, name, data); err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}

// Exists implements Backend.
func (b *SQLiteBackend) Exists(name string) (bool, error) {
	var one int
	err := b.db.QueryRow(`SELECT 1 FROM tables WHERE name = ?`, name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("select %s: %w", name, err)
	}
	return true, nil
}
