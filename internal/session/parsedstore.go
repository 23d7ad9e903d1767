package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vital-visualizer/backend/internal/duckstore"
	"github.com/vital-visualizer/backend/internal/logging"
)

// shortID safely truncates an ID for logging.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// ParsedStore manages persistent DuckDB mirrors of decoded recordings,
// keyed by file ID, so a recording decoded once can be queried in SQL
// without decoding it again.
type ParsedStore struct {
	parsedDir string
	mu        sync.RWMutex
	// fileID -> dbPath
	cache map[string]string
}

// NewParsedStore creates a parsed store rooted at parsedDir and indexes
// the databases already there.
func NewParsedStore(parsedDir string) (*ParsedStore, error) {
	if err := os.MkdirAll(parsedDir, 0755); err != nil {
		return nil, fmt.Errorf("creating parsed directory: %w", err)
	}

	ps := &ParsedStore{
		parsedDir: parsedDir,
		cache:     make(map[string]string),
	}
	ps.scanExisting()
	return ps, nil
}

func (ps *ParsedStore) scanExisting() {
	entries, err := os.ReadDir(ps.parsedDir)
	if err != nil {
		logging.Warning("[ParsedStore] failed to scan parsed directory: %v", err)
		return
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "file_") || filepath.Ext(name) != ".duckdb" {
			continue
		}
		fileID := strings.TrimSuffix(strings.TrimPrefix(name, "file_"), ".duckdb")
		ps.cache[fileID] = filepath.Join(ps.parsedDir, name)
	}
	logging.Info("[ParsedStore] scanned %d existing databases", len(ps.cache))
}

// DBPath returns where the database for a file ID lives.
func (ps *ParsedStore) DBPath(fileID string) string {
	return filepath.Join(ps.parsedDir, fmt.Sprintf("file_%s.duckdb", fileID))
}

// IsParsed reports whether a completed database exists for fileID.
func (ps *ParsedStore) IsParsed(fileID string) bool {
	ps.mu.RLock()
	dbPath, ok := ps.cache[fileID]
	ps.mu.RUnlock()
	if !ok {
		return false
	}
	if _, err := os.Stat(dbPath); err != nil {
		ps.mu.Lock()
		delete(ps.cache, fileID)
		ps.mu.Unlock()
		return false
	}
	return true
}

// Open opens the database of an already parsed file. It returns nil, nil
// when the file has not been parsed.
func (ps *ParsedStore) Open(fileID string) (*duckstore.Store, error) {
	if !ps.IsParsed(fileID) {
		return nil, nil
	}
	logging.Debug("[ParsedStore] opening database for file %s", shortID(fileID))

	store, err := duckstore.Open(ps.DBPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to open parsed DB: %w", err)
	}
	return store, nil
}

// CreateForFile creates an empty database for fileID, replacing any
// earlier one. Call MarkComplete once the import succeeded.
func (ps *ParsedStore) CreateForFile(fileID string) (*duckstore.Store, error) {
	ps.mu.Lock()
	delete(ps.cache, fileID)
	ps.mu.Unlock()

	logging.Debug("[ParsedStore] creating database for file %s", shortID(fileID))
	store, err := duckstore.Create(ps.DBPath(fileID))
	if err != nil {
		return nil, fmt.Errorf("failed to create parsed DB: %w", err)
	}
	return store, nil
}

// MarkComplete marks the database of fileID as ready for reuse.
func (ps *ParsedStore) MarkComplete(fileID string) {
	ps.mu.Lock()
	ps.cache[fileID] = ps.DBPath(fileID)
	ps.mu.Unlock()
}

// Delete removes the database of fileID.
func (ps *ParsedStore) Delete(fileID string) error {
	ps.mu.Lock()
	delete(ps.cache, fileID)
	ps.mu.Unlock()

	if err := os.Remove(ps.DBPath(fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete parsed DB: %w", err)
	}
	os.Remove(ps.DBPath(fileID) + ".wal")
	logging.Debug("[ParsedStore] deleted database for file %s", shortID(fileID))
	return nil
}

// Stats returns statistics about the parsed store.
func (ps *ParsedStore) Stats() map[string]interface{} {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	var totalSize int64
	for fileID, dbPath := range ps.cache {
		if info, err := os.Stat(dbPath); err == nil {
			totalSize += info.Size()
		} else {
			delete(ps.cache, fileID)
		}
	}

	return map[string]interface{}{
		"parsedCount": len(ps.cache),
		"totalSize":   totalSize,
		"parsedDir":   ps.parsedDir,
	}
}

// CleanupOrphaned removes databases whose file ID is not in liveIDs.
func (ps *ParsedStore) CleanupOrphaned(liveIDs []string) int {
	valid := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		valid[id] = true
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()

	removed := 0
	for fileID, dbPath := range ps.cache {
		if valid[fileID] {
			continue
		}
		os.Remove(dbPath)
		delete(ps.cache, fileID)
		removed++
		logging.Info("[ParsedStore] removed orphaned database for file %s", shortID(fileID))
	}
	return removed
}
