// mock_storage.go - Mock storage implementation for testing
package testutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/storage"
	"github.com/vital-visualizer/backend/internal/vital"
)

// MockStorage implements storage.Store for testing. File contents are
// written under a temp directory so decode sessions can open them by path.
type MockStorage struct {
	files   map[string]*models.FileInfo
	chunks  map[string]map[int][]byte // uploadID -> chunkIndex -> data
	tempDir string
	mu      sync.RWMutex

	// SaveErr, when set, is returned by every save.
	SaveErr error
}

// NewMockStorage creates a mock storage rooted at tempDir.
func NewMockStorage(tempDir string) *MockStorage {
	return &MockStorage{
		files:   make(map[string]*models.FileInfo),
		chunks:  make(map[string]map[int][]byte),
		tempDir: tempDir,
	}
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", storage.ErrNotFound, id)
}

func (m *MockStorage) Save(name string, r io.Reader) (*models.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return m.SaveBytes(name, data)
}

func (m *MockStorage) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	return m.AddFile(generateTestID(), name, data), nil
}

func (m *MockStorage) Get(id string) (*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	file, ok := m.files[id]
	if !ok {
		return nil, notFound(id)
	}
	return file, nil
}

func (m *MockStorage) List(limit int) ([]*models.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	files := make([]*models.FileInfo, 0, len(m.files))
	for _, file := range m.files {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	return files, nil
}

func (m *MockStorage) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.files[id]; !exists {
		return notFound(id)
	}
	os.Remove(m.path(id))
	delete(m.files, id)
	return nil
}

func (m *MockStorage) Rename(id string, newName string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[id]
	if !ok {
		return nil, notFound(id)
	}
	file.Name = newName
	return file, nil
}

func (m *MockStorage) SetStatus(id string, status models.FileStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[id]
	if !ok {
		return notFound(id)
	}
	file.Status = status
	return nil
}

func (m *MockStorage) path(id string) string {
	return filepath.Join(m.tempDir, id)
}

// GetFilePath returns the file path on disk.
func (m *MockStorage) GetFilePath(id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.files[id]; !ok {
		return "", notFound(id)
	}
	return m.path(id), nil
}

func (m *MockStorage) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.chunks[uploadID] == nil {
		m.chunks[uploadID] = make(map[int][]byte)
	}
	m.chunks[uploadID][chunkIndex] = data
	return nil
}

func (m *MockStorage) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	m.mu.Lock()
	uploadChunks, ok := m.chunks[uploadID]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("upload not found: %s", uploadID)
	}

	var data bytes.Buffer
	for i := 0; i < totalChunks; i++ {
		chunk, ok := uploadChunks[i]
		if !ok {
			m.mu.Unlock()
			return nil, fmt.Errorf("missing chunk %d", i)
		}
		data.Write(chunk)
	}
	delete(m.chunks, uploadID)
	m.mu.Unlock()

	return m.SaveBytes(name, data.Bytes())
}

// Refresh re-reads size and format from disk.
func (m *MockStorage) Refresh(id string) (*models.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	file, ok := m.files[id]
	if !ok {
		return nil, notFound(id)
	}
	st, err := os.Stat(m.path(id))
	if err != nil {
		return nil, err
	}
	isVital, _ := vital.Sniff(m.path(id))
	info := *file
	info.Size = st.Size()
	info.IsVital = isVital
	m.files[id] = &info
	return &info, nil
}

// Ensure MockStorage implements storage.Store
var _ storage.Store = (*MockStorage)(nil)

// AddFile writes a file to disk and registers it under id.
func (m *MockStorage) AddFile(id string, name string, data []byte) *models.FileInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.WriteFile(m.path(id), data, 0644); err != nil {
		panic(fmt.Sprintf("failed to write test file: %v", err))
	}
	isVital, _ := vital.Sniff(m.path(id))

	file := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       int64(len(data)),
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
		IsVital:    isVital,
	}
	m.files[id] = file
	return file
}

// GetFileCount returns the number of stored files
func (m *MockStorage) GetFileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

var (
	testIDCounter int
	testIDMutex   sync.Mutex
)

func generateTestID() string {
	testIDMutex.Lock()
	defer testIDMutex.Unlock()
	testIDCounter++
	return fmt.Sprintf("test-id-%d", testIDCounter)
}
