package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vital-visualizer/backend/internal/duckstore"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/vital"
)

// MaxSessions limits concurrent sessions to prevent memory exhaustion
const MaxSessions = 10

// SessionMaxAge is how long to keep completed sessions before cleanup
const SessionMaxAge = 30 * time.Minute

// SessionKeepAliveWindow is how long to keep sessions that are actively being used
const SessionKeepAliveWindow = 5 * time.Minute

// DefaultMaxConcurrentDecodes bounds decodes when Options leaves it unset.
const DefaultMaxConcurrentDecodes = 2

var (
	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotReady is returned while a session is still decoding or has failed.
	ErrNotReady = errors.New("session not complete")
	// ErrNotPersisted is returned when SQL access is requested but persistence is off.
	ErrNotPersisted = errors.New("recording is not persisted")
)

// FileStatusSetter receives file lifecycle updates.
type FileStatusSetter interface {
	SetStatus(id string, status models.FileStatus) error
}

// Options configures a Manager.
type Options struct {
	MaxConcurrentDecodes int
	// Location is used for datetime views. Nil means UTC.
	Location *time.Location
	// ParsedDir holds the DuckDB mirrors. Empty disables persistence.
	ParsedDir string
	Files     FileStatusSetter
}

// Manager runs decode sessions and keeps their recordings in memory.
type Manager struct {
	sessions  map[string]*SessionState
	mu        sync.RWMutex
	decodeSem chan struct{}
	loc       *time.Location
	files     FileStatusSetter

	parsed   *ParsedStore
	storesMu sync.Mutex
	stores   map[string]*duckstore.Store // fileID -> open mirror
}

// SessionState holds the session metadata and the decoded recording.
type SessionState struct {
	Session      *models.DecodeSession
	Recording    *vital.Recording
	LastAccessed time.Time // Last time the session was accessed (for keep-alive)
}

// NewManager creates a session manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.MaxConcurrentDecodes <= 0 {
		opts.MaxConcurrentDecodes = DefaultMaxConcurrentDecodes
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	m := &Manager{
		sessions:  make(map[string]*SessionState),
		decodeSem: make(chan struct{}, opts.MaxConcurrentDecodes),
		loc:       opts.Location,
		files:     opts.Files,
		stores:    make(map[string]*duckstore.Store),
	}

	if opts.ParsedDir != "" {
		ps, err := NewParsedStore(opts.ParsedDir)
		if err != nil {
			return nil, err
		}
		m.parsed = ps
	}
	return m, nil
}

// Location returns the timezone used for datetime views.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Parsed returns the persistent store, or nil when persistence is off.
func (m *Manager) Parsed() *ParsedStore {
	return m.parsed
}

// StartSession begins decoding the file at filePath.
func (m *Manager) StartSession(fileID, filePath string) (*models.DecodeSession, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, fmt.Errorf("stat %s: %w", filePath, err)
	}

	m.cleanupOldSessionsIfNeeded()

	sessionID := uuid.New().String()
	sess := models.NewDecodeSession(sessionID, fileID)

	state := &SessionState{
		Session:      sess,
		LastAccessed: time.Now(),
	}

	m.mu.Lock()
	m.sessions[sessionID] = state
	snapshot := copySession(sess)
	m.mu.Unlock()

	go m.runDecode(sessionID, fileID, filePath)

	return snapshot, nil
}

// countingReader counts the bytes read from the underlying file, which is
// what progress is measured against for compressed input.
type countingReader struct {
	r io.Reader
	n atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

func (m *Manager) runDecode(sessionID, fileID, filePath string) {
	tag := fmt.Sprintf("[Decode %s]", shortID(sessionID))

	defer func() {
		if r := recover(); r != nil {
			logging.Error("%s PANIC recovered: %v", tag, r)
			m.updateSessionError(sessionID, fileID, fmt.Errorf("decode panicked: %v", r))
		}
	}()

	m.decodeSem <- struct{}{}
	defer func() { <-m.decodeSem }()

	start := time.Now()
	m.setFileStatus(fileID, models.FileStatusDecoding)

	f, err := os.Open(filePath)
	if err != nil {
		m.updateSessionError(sessionID, fileID, err)
		return
	}
	defer f.Close()

	var totalBytes int64
	if info, err := f.Stat(); err == nil {
		totalBytes = info.Size()
		logging.Info("%s starting decode of %s (%d bytes)", tag, filePath, totalBytes)
	}

	m.update(sessionID, func(s *models.DecodeSession) {
		s.Status = models.SessionStatusDecoding
		s.Progress = 10
	})

	cr := &countingReader{r: f}
	progressCb := func(decoded int64) {
		read := cr.n.Load()
		progress := 10.0
		if totalBytes > 0 {
			progress = 10.0 + float64(read)*80.0/float64(totalBytes)
		}
		// 90-100% is for finalization
		if progress > 89.9 {
			progress = 89.9
		}
		m.update(sessionID, func(s *models.DecodeSession) {
			s.Progress = progress
			s.BytesRead = decoded
		})
	}

	rec, err := vital.DecodeAny(cr, vital.WithProgress(progressCb, 50000), vital.WithLogPrefix(tag))
	if err != nil {
		logging.Error("%s decode failed: %v", tag, err)
		m.updateSessionError(sessionID, fileID, err)
		return
	}
	if rec.Truncated {
		logging.Warning("%s recording is truncated, keeping %d records", tag, len(rec.Records))
	}

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)
	logging.Debug("%s decoded in %s, memory %.1f MB (alloc)", tag,
		time.Since(start).Round(time.Millisecond), float64(memStats.Alloc)/1024/1024)

	m.update(sessionID, func(s *models.DecodeSession) { s.Progress = 90 })

	persisted := false
	if m.parsed != nil {
		if err := m.persist(fileID, rec, tag); err != nil {
			// The in-memory recording stays usable.
			logging.Error("%s persisting failed: %v", tag, err)
		} else {
			persisted = true
		}
	}

	m.mu.Lock()
	state, ok := m.sessions[sessionID]
	if ok {
		s := state.Session
		state.Recording = rec
		s.Status = models.SessionStatusComplete
		s.Progress = 100
		s.DeviceCount = len(rec.Devices)
		s.TrackCount = len(rec.Tracks)
		s.RecordCount = len(rec.Records)
		s.Truncated = rec.Truncated
		s.Persisted = persisted
		s.ProcessingTimeMs = time.Since(start).Milliseconds()
		if first, last, ok := rec.TimeRange(); ok {
			s.StartTime = first
			s.EndTime = last
		}
	}
	m.mu.Unlock()

	m.setFileStatus(fileID, models.FileStatusDecoded)
	logging.Info("%s complete: %d devices, %d tracks, %d records", tag, len(rec.Devices), len(rec.Tracks), len(rec.Records))
}

// persist mirrors rec into the file's DuckDB database unless an earlier
// decode already did.
func (m *Manager) persist(fileID string, rec *vital.Recording, tag string) error {
	m.storesMu.Lock()
	defer m.storesMu.Unlock()

	if _, ok := m.stores[fileID]; ok {
		return nil
	}
	if m.parsed.IsParsed(fileID) {
		logging.Debug("%s reusing parsed database", tag)
		return nil
	}

	store, err := m.parsed.CreateForFile(fileID)
	if err != nil {
		return err
	}
	if err := store.Import(context.Background(), rec); err != nil {
		store.Close()
		m.parsed.Delete(fileID)
		return err
	}
	m.parsed.MarkComplete(fileID)
	m.stores[fileID] = store
	logging.Info("%s persisted to %s", tag, store.Path())
	return nil
}

func (m *Manager) setFileStatus(fileID string, status models.FileStatus) {
	if m.files == nil {
		return
	}
	if err := m.files.SetStatus(fileID, status); err != nil {
		logging.Warning("[Manager] setting status of file %s: %v", shortID(fileID), err)
	}
}

func (m *Manager) update(sessionID string, fn func(*models.DecodeSession)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.sessions[sessionID]; ok {
		fn(state.Session)
	}
}

func (m *Manager) updateSessionError(sessionID, fileID string, err error) {
	de := models.DecodeError{Reason: err.Error()}
	var verr *vital.DecodeError
	if errors.As(err, &verr) {
		de.Offset = verr.Offset
		de.Packet = verr.Packet.String()
	}

	m.update(sessionID, func(s *models.DecodeSession) {
		s.Status = models.SessionStatusError
		s.Errors = append(s.Errors, de)
	})
	m.setFileStatus(fileID, models.FileStatusError)
}

func copySession(s *models.DecodeSession) *models.DecodeSession {
	c := *s
	c.Errors = append([]models.DecodeError(nil), s.Errors...)
	return &c
}

// GetSession returns a snapshot of a session by ID.
func (m *Manager) GetSession(id string) (*models.DecodeSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(state.Session), true
}

// TouchSession updates the LastAccessed timestamp for a session.
// This should be called whenever a session is actively being used
// to prevent it from being cleaned up.
func (m *Manager) TouchSession(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return false
	}
	state.LastAccessed = time.Now()
	return true
}

// GetRecording returns the decoded recording of a completed session.
func (m *Manager) GetRecording(id string) (*vital.Recording, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if state.Recording == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotReady, state.Session.Status)
	}
	state.LastAccessed = time.Now()
	return state.Recording, nil
}

// GetStore returns the DuckDB mirror of a completed session's file. The
// store is owned by the manager and must not be closed by the caller.
func (m *Manager) GetStore(id string) (*duckstore.Store, error) {
	if m.parsed == nil {
		return nil, ErrNotPersisted
	}

	m.mu.RLock()
	state, ok := m.sessions[id]
	var fileID string
	var persisted bool
	if ok {
		fileID = state.Session.FileID
		persisted = state.Session.Persisted
	}
	m.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	if !persisted {
		return nil, ErrNotPersisted
	}

	m.storesMu.Lock()
	defer m.storesMu.Unlock()
	if store, ok := m.stores[fileID]; ok {
		return store, nil
	}
	store, err := m.parsed.Open(fileID)
	if err != nil {
		return nil, err
	}
	if store == nil {
		return nil, ErrNotPersisted
	}
	m.stores[fileID] = store
	return store, nil
}

// DeleteParsedFile closes and removes the DuckDB mirror of fileID.
func (m *Manager) DeleteParsedFile(fileID string) error {
	if m.parsed == nil {
		return nil
	}
	m.storesMu.Lock()
	if store, ok := m.stores[fileID]; ok {
		store.Close()
		delete(m.stores, fileID)
	}
	m.storesMu.Unlock()
	return m.parsed.Delete(fileID)
}

// cleanupOldSessionsIfNeeded removes finished sessions when at capacity.
func (m *Manager) cleanupOldSessionsIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) < MaxSessions {
		return
	}

	toFree := len(m.sessions) - MaxSessions + 1
	for id, state := range m.sessions {
		if toFree == 0 {
			break
		}
		if !state.Session.Status.Done() {
			continue
		}
		delete(m.sessions, id)
		toFree--
		logging.Info("[Manager] cleaned up old session %s to free memory", shortID(id))
	}
}

// CleanupOldSessions removes finished sessions older than maxAge, but keeps
// sessions accessed within SessionKeepAliveWindow.
func (m *Manager) CleanupOldSessions(maxAge time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	keepAliveCutoff := time.Now().Add(-SessionKeepAliveWindow)

	for id, state := range m.sessions {
		if !state.Session.Status.Done() {
			continue
		}
		if state.LastAccessed.After(keepAliveCutoff) {
			continue
		}
		if state.LastAccessed.Before(cutoff) {
			delete(m.sessions, id)
			logging.Info("[Manager] cleaned up aged session %s (last accessed: %s ago)",
				shortID(id), time.Since(state.LastAccessed).Round(time.Second))
		}
	}
}

// Close releases every open DuckDB mirror.
func (m *Manager) Close() error {
	m.storesMu.Lock()
	defer m.storesMu.Unlock()

	var errs []error
	for fileID, store := range m.stores {
		if err := store.Close(); err != nil {
			errs = append(errs, err)
		}
		delete(m.stores, fileID)
	}
	return errors.Join(errs...)
}
