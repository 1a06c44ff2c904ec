package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps each document as one row of the documents table.
type SQLiteBackend struct {
	conn *sql.DB
}

// NewSQLiteBackend opens dbPath with the given database/sql driver name:
// "sqlite3" (mattn/go-sqlite3, cgo) or "sqlite" (modernc.org/sqlite).
func NewSQLiteBackend(driver, dbPath string) (*SQLiteBackend, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// Open database connection
	conn, err := sql.Open(driver, dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	conn.SetMaxOpenConns(1) // SQLite works best with single connection
	conn.SetMaxIdleConns(1)

	b := &SQLiteBackend{conn: conn}

	// Run migrations
	if err := b.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return b, nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.conn.Close()
}

// migrate runs database migrations
func (b *SQLiteBackend) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			name TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := b.conn.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, migration)
		}
	}

	return nil
}

// Read returns the stored body of doc, or nil when the document was never written.
func (b *SQLiteBackend) Read(doc string) ([]byte, error) {
	var body string
	err := b.conn.QueryRow("SELECT body FROM documents WHERE name = ?", doc).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", doc, err)
	}
	return []byte(body), nil
}

// Write replaces the body of doc.
func (b *SQLiteBackend) Write(doc string, data []byte) error {
	_, err := b.conn.Exec(
		`INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		doc, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", doc, err)
	}
	return nil
}
