package storage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sjsage522/grailworker/internal/crawler"
	"sjsage522/grailworker/logger"
	pkgerrors "sjsage522/grailworker/pkg/errors"
)

type fileDocument struct {
	Items       []crawler.Listing `json:"items"`
	LastScraped *time.Time        `json:"lastScraped"`
	Version     string            `json:"version"`
}

// FileStore keeps the catalog in a single JSON file. Writes go to a temp file
// in the same directory which is synced and renamed over the target, so a crash
// leaves either the old or the new file.
type FileStore struct {
	path string
	mu   sync.Mutex
	log  *logger.Logger
}

// NewFileStore creates a store backed by path
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		log:  logger.ForStorage(),
	}
}

// Path returns the backing file path
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the file; a missing file is an empty snapshot, not an error
func (s *FileStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Info().Str("path", s.path).Msg("No saved catalog, starting empty")
		return Snapshot{}, nil
	}
	if err != nil {
		return Snapshot{}, pkgerrors.NewPersistence(s.path, "read failed", err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, pkgerrors.NewPersistence(s.path, "corrupt catalog file", err)
	}

	snap := Snapshot{Items: doc.Items}
	if doc.LastScraped != nil {
		snap.LastScraped = *doc.LastScraped
	}
	if snap.Items == nil {
		snap.Items = []crawler.Listing{}
	}

	s.log.Info().
		Str("path", s.path).
		Int("items", len(snap.Items)).
		Time("last_scraped", snap.LastScraped).
		Msg("Catalog loaded")
	return snap, nil
}

// Save writes the snapshot atomically
func (s *FileStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fileDocument{
		Items:   snap.Items,
		Version: FormatVersion,
	}
	if doc.Items == nil {
		doc.Items = []crawler.Listing{}
	}
	if !snap.LastScraped.IsZero() {
		t := snap.LastScraped.UTC()
		doc.LastScraped = &t
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return pkgerrors.NewPersistence(s.path, "encode failed", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.NewPersistence(s.path, "create directory failed", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return pkgerrors.NewPersistence(s.path, "create temp file failed", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return pkgerrors.NewPersistence(s.path, "write failed", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return pkgerrors.NewPersistence(s.path, "sync failed", err)
	}
	if err := tmp.Close(); err != nil {
		return pkgerrors.NewPersistence(s.path, "close failed", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return pkgerrors.NewPersistence(s.path, "rename failed", err)
	}

	s.log.Debug().Str("path", s.path).Int("items", len(doc.Items)).Msg("Catalog saved")
	return nil
}
