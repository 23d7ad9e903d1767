package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/vital"
)

// writeVitalFile writes a small gzip-compressed recording into dir.
func writeVitalFile(t *testing.T, dir string, body func(w *vital.Writer)) string {
	t.Helper()
	path := filepath.Join(dir, "case.vital")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := gzip.NewWriter(f)
	w := vital.NewWriter(zw)
	require.NoError(t, w.WriteHeader(vital.Header{Version: 3}))
	body(w)
	require.NoError(t, w.Close())
	require.NoError(t, zw.Close())
	return path
}

func standardBody(t *testing.T) func(w *vital.Writer) {
	return func(w *vital.Writer) {
		require.NoError(t, w.WriteDevice(vital.Device{ID: 1, TypeName: "Solar8000", DeviceName: "monitor"}))
		require.NoError(t, w.WriteTrackInfo(vital.TrackInfo{
			ID: 1, RecordType: vital.RecordNumber, RecordFormat: vital.FormatFloat,
			Name: "HR", MaxValue: 200, DeviceID: 1,
		}))
		for i := 0; i < 5; i++ {
			require.NoError(t, w.WriteNumber(1, 1000+float64(i), float32(70+i)))
		}
	}
}

type statusRecorder struct {
	mu       sync.Mutex
	statuses map[string][]models.FileStatus
}

func (r *statusRecorder) SetStatus(id string, status models.FileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.statuses == nil {
		r.statuses = make(map[string][]models.FileStatus)
	}
	r.statuses[id] = append(r.statuses[id], status)
	return nil
}

func (r *statusRecorder) last(id string) models.FileStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statuses[id]
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1]
}

func waitDone(t *testing.T, m *Manager, id string) *models.DecodeSession {
	t.Helper()
	var sess *models.DecodeSession
	require.Eventually(t, func() bool {
		s, ok := m.GetSession(id)
		require.True(t, ok, "session not found")
		sess = s
		return s.Status.Done()
	}, 10*time.Second, 20*time.Millisecond)
	return sess
}

func TestSessionManager(t *testing.T) {
	dir := t.TempDir()
	path := writeVitalFile(t, dir, standardBody(t))
	files := &statusRecorder{}

	m, err := NewManager(Options{Files: files})
	require.NoError(t, err)
	defer m.Close()

	sess, err := m.StartSession("file-1", path)
	require.NoError(t, err)
	assert.Equal(t, "file-1", sess.FileID)

	done := waitDone(t, m, sess.ID)
	require.Equal(t, models.SessionStatusComplete, done.Status, "errors: %v", done.Errors)
	assert.Equal(t, 100.0, done.Progress)
	assert.Equal(t, 1, done.DeviceCount)
	assert.Equal(t, 1, done.TrackCount)
	assert.Equal(t, 5, done.RecordCount)
	assert.Equal(t, 1000.0, done.StartTime)
	assert.Equal(t, 1004.0, done.EndTime)
	assert.False(t, done.Persisted)
	assert.Equal(t, models.FileStatusDecoded, files.last("file-1"))

	rec, err := m.GetRecording(sess.ID)
	require.NoError(t, err)
	_, vals, err := rec.NumberValues("Solar8000", "HR")
	require.NoError(t, err)
	assert.Equal(t, []float32{70, 71, 72, 73, 74}, vals)

	_, err = m.GetStore(sess.ID)
	assert.ErrorIs(t, err, ErrNotPersisted)
}

func TestSessionManager_DecodeError(t *testing.T) {
	dir := t.TempDir()
	path := writeVitalFile(t, dir, func(w *vital.Writer) {
		// record for a track that was never declared
		require.NoError(t, w.WriteNumber(7, 1, 1))
	})
	files := &statusRecorder{}

	m, err := NewManager(Options{Files: files})
	require.NoError(t, err)

	sess, err := m.StartSession("file-bad", path)
	require.NoError(t, err)

	done := waitDone(t, m, sess.ID)
	require.Equal(t, models.SessionStatusError, done.Status)
	require.Len(t, done.Errors, 1)
	assert.Equal(t, vital.PacketRecord.String(), done.Errors[0].Packet)
	assert.Positive(t, done.Errors[0].Offset)
	assert.Equal(t, models.FileStatusError, files.last("file-bad"))

	_, err = m.GetRecording(sess.ID)
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestSessionManager_MissingFile(t *testing.T) {
	m, err := NewManager(Options{})
	require.NoError(t, err)

	_, err = m.StartSession("f", filepath.Join(t.TempDir(), "nope.vital"))
	assert.Error(t, err)

	_, ok := m.GetSession("unknown")
	assert.False(t, ok)
	_, err = m.GetRecording("unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionManager_Persist(t *testing.T) {
	dir := t.TempDir()
	path := writeVitalFile(t, dir, standardBody(t))
	parsedDir := filepath.Join(dir, "parsed")

	m, err := NewManager(Options{ParsedDir: parsedDir})
	require.NoError(t, err)
	defer m.Close()

	sess, err := m.StartSession("file-p", path)
	require.NoError(t, err)
	done := waitDone(t, m, sess.ID)
	require.Equal(t, models.SessionStatusComplete, done.Status, "errors: %v", done.Errors)
	assert.True(t, done.Persisted)
	assert.True(t, m.Parsed().IsParsed("file-p"))

	store, err := m.GetStore(sess.ID)
	require.NoError(t, err)
	tr, err := store.FindTrack(context.Background(), "Solar8000", "HR")
	require.NoError(t, err)
	samples, err := store.Interval(context.Background(), tr, 1001, 1003)
	require.NoError(t, err)
	assert.Len(t, samples, 2)

	// a second decode of the same file reuses the mirror
	again, err := m.StartSession("file-p", path)
	require.NoError(t, err)
	done = waitDone(t, m, again.ID)
	assert.True(t, done.Persisted)
	store2, err := m.GetStore(again.ID)
	require.NoError(t, err)
	assert.Same(t, store, store2)

	require.NoError(t, m.DeleteParsedFile("file-p"))
	assert.False(t, m.Parsed().IsParsed("file-p"))
}

func TestParsedStore_ScanAndCleanup(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"file_a.duckdb", "file_b.duckdb", "other.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	ps, err := NewParsedStore(dir)
	require.NoError(t, err)
	assert.True(t, ps.IsParsed("a"))
	assert.True(t, ps.IsParsed("b"))
	assert.False(t, ps.IsParsed("other"))

	removed := ps.CleanupOrphaned([]string{"a"})
	assert.Equal(t, 1, removed)
	assert.False(t, ps.IsParsed("b"))
	assert.Equal(t, 1, ps.Stats()["parsedCount"])
}

func TestCleanupOldSessions(t *testing.T) {
	m, err := NewManager(Options{})
	require.NoError(t, err)

	old := models.NewDecodeSession("old-session", "f")
	old.Status = models.SessionStatusComplete
	running := models.NewDecodeSession("running-session", "f")
	running.Status = models.SessionStatusDecoding
	recent := models.NewDecodeSession("recent-session", "f")
	recent.Status = models.SessionStatusComplete

	stale := time.Now().Add(-2 * SessionMaxAge)
	m.sessions[old.ID] = &SessionState{Session: old, LastAccessed: stale}
	m.sessions[running.ID] = &SessionState{Session: running, LastAccessed: stale}
	m.sessions[recent.ID] = &SessionState{Session: recent, LastAccessed: time.Now()}

	m.CleanupOldSessions(SessionMaxAge)

	_, ok := m.GetSession(old.ID)
	assert.False(t, ok)
	_, ok = m.GetSession(running.ID)
	assert.True(t, ok, "running sessions are kept")
	_, ok = m.GetSession(recent.ID)
	assert.True(t, ok, "recently used sessions are kept")
}
