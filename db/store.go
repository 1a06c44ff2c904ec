package db

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"companion-agent/utils"
)

// Backend persists whole documents by name. Read returns nil, nil for a
// document that has never been written.
type Backend interface {
	Read(doc string) ([]byte, error)
	Write(doc string, data []byte) error
	Close() error
}

// Store is the document layer over a Backend. Every mutation runs as a
// read-modify-write under the document's mutex, so concurrent callers never
// merge into a stale snapshot.
type Store struct {
	backend Backend
	dataDir string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// Now and NewID are replaceable for tests.
	Now   func() time.Time
	NewID func(prefix string) string
}

// NewStore wraps backend. dataDir is the root of the managed attachment tree.
func NewStore(backend Backend, dataDir string) *Store {
	return &Store{
		backend: backend,
		dataDir: dataDir,
		locks:   make(map[string]*sync.Mutex),
		Now:     time.Now,
		NewID:   newID,
	}
}

// Open creates the backend named by driver under dataDir and seeds default documents.
func Open(driver, dataDir string) (*Store, error) {
	var backend Backend
	var err error
	switch driver {
	case utils.DriverJSON, "":
		backend, err = NewFileBackend(filepath.Join(dataDir, "store"))
	case utils.DriverSQLite3, utils.DriverSQLite:
		backend, err = NewSQLiteBackend(driver, filepath.Join(dataDir, "store", "companion.db"))
	default:
		return nil, fmt.Errorf("unknown data driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	s := NewStore(backend, dataDir)
	if err := s.EnsureDefaults(); err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// DataDir returns the root directory for attachments.
func (s *Store) DataDir() string {
	return s.dataDir
}

// EnsureDefaults writes default documents for any that are missing.
func (s *Store) EnsureDefaults() error {
	defaults := map[string]any{
		DocSettings:      DefaultSettings(),
		DocConversations: &ConversationsDoc{Conversations: []*Conversation{}},
		DocMemory:        &MemoryDoc{Items: []*MemoryItem{}},
		DocLogs:          &LogsDoc{Items: []*LogEntry{}},
	}
	for name, value := range defaults {
		unlock := s.lock(name)
		data, err := s.backend.Read(name)
		if err == nil && data == nil {
			err = s.writeDoc(name, value)
		} else if err != nil {
			err = &PersistenceError{Op: "read", Doc: name, Err: err}
		}
		unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) lock(doc string) func() {
	s.locksMu.Lock()
	mu, ok := s.locks[doc]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[doc] = mu
	}
	s.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// readDoc decodes doc into v. The caller must hold the document lock.
func (s *Store) readDoc(doc string, v any) (bool, error) {
	data, err := s.backend.Read(doc)
	if err != nil {
		return false, &PersistenceError{Op: "read", Doc: doc, Err: err}
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, &PersistenceError{Op: "read", Doc: doc, Err: err}
	}
	return true, nil
}

// writeDoc encodes v and replaces doc. The caller must hold the document lock.
func (s *Store) writeDoc(doc string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "write", Doc: doc, Err: err}
	}
	if err := s.backend.Write(doc, data); err != nil {
		return &PersistenceError{Op: "write", Doc: doc, Err: err}
	}
	return nil
}

// loadConversations reads and migrates the conversations document, persisting
// the migration. The caller must hold the lock.
func (s *Store) loadConversations() (*ConversationsDoc, error) {
	doc := &ConversationsDoc{}
	if _, err := s.readDoc(DocConversations, doc); err != nil {
		return nil, err
	}
	if migrateConversations(doc, s.Now(), s.NewID) {
		if err := s.writeDoc(DocConversations, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ReadConversations returns a private copy of the conversations document.
func (s *Store) ReadConversations() (*ConversationsDoc, error) {
	unlock := s.lock(DocConversations)
	defer unlock()
	return s.loadConversations()
}

// UpdateConversations applies fn to the current document and persists it if fn returns nil.
func (s *Store) UpdateConversations(fn func(doc *ConversationsDoc) error) error {
	unlock := s.lock(DocConversations)
	defer unlock()

	doc, err := s.loadConversations()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.writeDoc(DocConversations, doc)
}

func (s *Store) loadMemory() (*MemoryDoc, error) {
	doc := &MemoryDoc{}
	if _, err := s.readDoc(DocMemory, doc); err != nil {
		return nil, err
	}
	if migrateMemory(doc, s.Now(), s.NewID) {
		if err := s.writeDoc(DocMemory, doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// ReadMemory returns a private copy of the memory document.
func (s *Store) ReadMemory() (*MemoryDoc, error) {
	unlock := s.lock(DocMemory)
	defer unlock()
	return s.loadMemory()
}

// UpdateMemory applies fn to the current memory document and persists it.
func (s *Store) UpdateMemory(fn func(doc *MemoryDoc) error) error {
	unlock := s.lock(DocMemory)
	defer unlock()

	doc, err := s.loadMemory()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	return s.writeDoc(DocMemory, doc)
}

func newID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
