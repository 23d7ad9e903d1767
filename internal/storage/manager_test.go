package storage

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/vital"
)

func createTestStore(t *testing.T) *LocalStore {
	t.Helper()
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func vitalBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := vital.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(vital.Header{Version: 3}))
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestNewLocalStore(t *testing.T) {
	t.Run("creates upload directory", func(t *testing.T) {
		uploadDir := filepath.Join(t.TempDir(), "uploads")

		_, err := NewLocalStore(uploadDir)
		require.NoError(t, err)

		_, err = os.Stat(uploadDir)
		assert.NoError(t, err)
	})
}

func TestLocalStore_Save(t *testing.T) {
	t.Run("saves file from reader", func(t *testing.T) {
		store := createTestStore(t)
		content := "Hello, World!"

		info, err := store.Save("test.txt", strings.NewReader(content))
		require.NoError(t, err)

		assert.NotEmpty(t, info.ID)
		assert.Equal(t, "test.txt", info.Name)
		assert.Equal(t, int64(len(content)), info.Size)
		assert.Equal(t, models.FileStatusUploaded, info.Status)
		assert.False(t, info.IsVital)

		data, err := os.ReadFile(filepath.Join(store.uploadDir, info.ID))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("detects vital recordings", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.SaveBytes("case1.vital", vitalBytes(t))
		require.NoError(t, err)
		assert.True(t, info.IsVital)
	})

	t.Run("saves empty file", func(t *testing.T) {
		store := createTestStore(t)

		info, err := store.SaveBytes("empty.vital", nil)
		require.NoError(t, err)
		assert.Zero(t, info.Size)
		assert.False(t, info.IsVital)
	})
}

func TestLocalStore_Get(t *testing.T) {
	store := createTestStore(t)
	saved, err := store.SaveBytes("a.vital", []byte("x"))
	require.NoError(t, err)

	got, err := store.Get(saved.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got)

	_, err = store.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_List(t *testing.T) {
	t.Run("sorts by upload time descending and limits", func(t *testing.T) {
		store := createTestStore(t)
		for _, name := range []string{"first", "second", "third"} {
			_, err := store.SaveBytes(name, []byte(name))
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}

		list, err := store.List(2)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "third", list[0].Name)
		assert.Equal(t, "second", list[1].Name)

		all, err := store.List(0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestLocalStore_Delete(t *testing.T) {
	store := createTestStore(t)
	info, err := store.SaveBytes("a.vital", []byte("x"))
	require.NoError(t, err)
	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)

	require.NoError(t, store.Delete(info.ID))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	assert.ErrorIs(t, store.Delete(info.ID), ErrNotFound)
}

func TestLocalStore_RenameAndStatus(t *testing.T) {
	store := createTestStore(t)
	info, err := store.SaveBytes("a.vital", []byte("x"))
	require.NoError(t, err)

	renamed, err := store.Rename(info.ID, "b.vital")
	require.NoError(t, err)
	assert.Equal(t, "b.vital", renamed.Name)

	require.NoError(t, store.SetStatus(info.ID, models.FileStatusDecoded))
	got, _ := store.Get(info.ID)
	assert.Equal(t, models.FileStatusDecoded, got.Status)

	_, err = store.Rename("missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetStatus("missing", models.FileStatusError), ErrNotFound)
}

func TestLocalStore_ChunkedUpload(t *testing.T) {
	t.Run("assembles chunks into final file", func(t *testing.T) {
		store := createTestStore(t)
		data := vitalBytes(t)
		half := len(data) / 2

		require.NoError(t, store.SaveChunk("up-1", 0, bytes.NewReader(data[:half])))
		require.NoError(t, store.SaveChunk("up-1", 1, bytes.NewReader(data[half:])))

		info, err := store.CompleteChunkedUpload("up-1", "chunked.vital", 2)
		require.NoError(t, err)
		assert.Equal(t, int64(len(data)), info.Size)
		assert.True(t, info.IsVital)

		_, err = os.Stat(filepath.Join(store.uploadDir, "chunks", "up-1"))
		assert.True(t, os.IsNotExist(err), "chunk directory is removed")
	})

	t.Run("returns error for missing chunks", func(t *testing.T) {
		store := createTestStore(t)
		require.NoError(t, store.SaveChunk("up-2", 0, strings.NewReader("a")))

		_, err := store.CompleteChunkedUpload("up-2", "broken.vital", 2)
		assert.Error(t, err)

		list, _ := store.List(0)
		assert.Empty(t, list)
	})

	t.Run("rejects path-like upload ids", func(t *testing.T) {
		store := createTestStore(t)
		assert.Error(t, store.SaveChunk("../escape", 0, strings.NewReader("a")))
		assert.Error(t, store.SaveChunk("ok", -1, strings.NewReader("a")))
		_, err := store.CompleteChunkedUpload("..", "x", 1)
		assert.Error(t, err)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestLocalStore_SaveReadError(t *testing.T) {
	store := createTestStore(t)
	_, err := store.Save("bad", failingReader{})
	assert.Error(t, err)

	entries, err := os.ReadDir(store.uploadDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial file is removed")
}

func TestLocalStore_ConcurrentAccess(t *testing.T) {
	store := createTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.SaveBytes("concurrent", []byte("data"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	list, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 10)
}

func TestLocalStore_Refresh(t *testing.T) {
	store := createTestStore(t)
	info, err := store.SaveBytes("late.vital", []byte("placeholder"))
	require.NoError(t, err)
	require.False(t, info.IsVital)

	path, err := store.GetFilePath(info.ID)
	require.NoError(t, err)
	data := vitalBytes(t)
	require.NoError(t, os.WriteFile(path, data, 0644))

	refreshed, err := store.Refresh(info.ID)
	require.NoError(t, err)
	assert.True(t, refreshed.IsVital)
	assert.Equal(t, int64(len(data)), refreshed.Size)
	assert.False(t, info.IsVital, "earlier copy is left untouched")

	_, err = store.Refresh("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStore_Reopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	kept, err := store.SaveBytes("case.vital", vitalBytes(t))
	require.NoError(t, err)
	_, err = store.Rename(kept.ID, "renamed.vital")
	require.NoError(t, err)
	require.NoError(t, store.SetStatus(kept.ID, models.FileStatusDecoding))

	gone, err := store.SaveBytes("gone.vital", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, store.Delete(gone.ID))

	// an upload whose sidecar was lost
	bare := "0b6f5c1e-2a4d-4c3b-9e8f-7a6b5c4d3e2f"
	require.NoError(t, os.WriteFile(filepath.Join(dir, bare), []byte("xyz"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "chunks", "up-1"), 0755))

	reopened, err := NewLocalStore(dir)
	require.NoError(t, err)

	list, err := reopened.List(0)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	got, err := reopened.Get(kept.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed.vital", got.Name)
	assert.True(t, got.IsVital)
	assert.Equal(t, models.FileStatusUploaded, got.Status, "interrupted decode is reset")

	got, err = reopened.Get(bare)
	require.NoError(t, err)
	assert.Equal(t, bare, got.Name)
	assert.Equal(t, int64(3), got.Size)

	_, err = reopened.Get(gone.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
