package db

import (
	"fmt"
	"os"
	"path/filepath"

	"companion-agent/utils"
)

// FileBackend stores every document as <dir>/<name>.json.
type FileBackend struct {
	dir string
}

// NewFileBackend creates the directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

func (b *FileBackend) path(doc string) string {
	return filepath.Join(b.dir, doc+".json")
}

// Read returns the file contents, or nil when the file does not exist.
func (b *FileBackend) Read(doc string) ([]byte, error) {
	data, err := os.ReadFile(b.path(doc))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", doc, err)
	}
	return data, nil
}

// Write replaces the file atomically.
func (b *FileBackend) Write(doc string, data []byte) error {
	return utils.WriteFileAtomic(b.path(doc), data)
}

// Close is a no-op.
func (b *FileBackend) Close() error {
	return nil
}
