package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/vital"
)

// Store defines the interface for recording file storage.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	SaveBytes(name string, data []byte) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	Rename(id string, newName string) (*models.FileInfo, error)
	SetStatus(id string, status models.FileStatus) error
	GetFilePath(id string) (string, error)
	SaveChunk(uploadID string, chunkIndex int, r io.Reader) error
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	// Refresh re-reads size and format of a file rewritten in place.
	Refresh(id string) (*models.FileInfo, error)
}

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

// LocalStore implements Store using the local filesystem.
type LocalStore struct {
	mu        sync.RWMutex
	uploadDir string
	files     map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(uploadDir string) (*LocalStore, error) {
	if err := os.MkdirAll(uploadDir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}

	s := &LocalStore{
		uploadDir: uploadDir,
		files:     make(map[string]*models.FileInfo),
	}
	if err := s.scanExisting(); err != nil {
		return nil, fmt.Errorf("scanning upload directory: %w", err)
	}
	return s, nil
}

// metaPath is the JSON sidecar holding a file's metadata across restarts.
func (s *LocalStore) metaPath(id string) string {
	return filepath.Join(s.uploadDir, id+".json")
}

// saveMeta writes the sidecar for info. Callers hold s.mu or own info.
func (s *LocalStore) saveMeta(info *models.FileInfo) {
	data, err := json.Marshal(info)
	if err == nil {
		err = os.WriteFile(s.metaPath(info.ID), data, 0644)
	}
	if err != nil {
		logging.Warning("[Storage] writing metadata for %s: %v", info.ID, err)
	}
}

// scanExisting registers uploads left by a previous run. Files without a
// sidecar are named after their id; a decode that was cut short by the
// restart goes back to uploaded.
func (s *LocalStore) scanExisting() error {
	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		id := e.Name()
		if _, err := uuid.Parse(id); err != nil {
			continue
		}
		st, err := e.Info()
		if err != nil {
			continue
		}

		info := &models.FileInfo{ID: id, Name: id, UploadedAt: st.ModTime(), Status: models.FileStatusUploaded}
		if data, err := os.ReadFile(s.metaPath(id)); err == nil {
			if err := json.Unmarshal(data, info); err != nil {
				logging.Warning("[Storage] ignoring metadata for %s: %v", id, err)
			}
		}
		info.ID = id
		info.Size = st.Size()
		if info.Status == models.FileStatusDecoding {
			info.Status = models.FileStatusUploaded
		}
		info.IsVital, _ = vital.Sniff(filepath.Join(s.uploadDir, id))
		s.files[id] = info
	}
	if len(s.files) > 0 {
		logging.Info("[Storage] found %d existing uploads", len(s.files))
	}
	return nil
}

// Save saves a recording to the local filesystem.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := filepath.Join(s.uploadDir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	size, err := io.Copy(f, r)
	f.Close()
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	return s.register(id, name, size, path), nil
}

// SaveBytes saves an in-memory upload.
func (s *LocalStore) SaveBytes(name string, data []byte) (*models.FileInfo, error) {
	return s.Save(name, bytes.NewReader(data))
}

// register records metadata for a file already written to path.
func (s *LocalStore) register(id, name string, size int64, path string) *models.FileInfo {
	isVital, err := vital.Sniff(path)
	if err != nil {
		logging.Warning("[Storage] sniffing %s: %v", id, err)
	}

	info := &models.FileInfo{
		ID:         id,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
		Status:     models.FileStatusUploaded,
		IsVital:    isVital,
	}

	s.mu.Lock()
	s.files[id] = info
	s.saveMeta(info)
	s.mu.Unlock()

	logging.Info("[Storage] stored %s (%s, %d bytes, vital=%v)", id, name, size, isVital)
	return info
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return info, nil
}

// List returns the most recent files.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*models.FileInfo, 0, len(s.files))
	for _, info := range s.files {
		list = append(list, info)
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.files[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	path := filepath.Join(s.uploadDir, id)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	os.Remove(s.metaPath(id))

	delete(s.files, id)
	return nil
}

// Rename updates the display name of a file.
func (s *LocalStore) Rename(id string, newName string) (*models.FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	info.Name = newName
	s.saveMeta(info)
	return info, nil
}

// SetStatus updates the lifecycle state of a file.
func (s *LocalStore) SetStatus(id string, status models.FileStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info.Status = status
	s.saveMeta(info)
	return nil
}

// Refresh re-stats a stored file and sniffs it again. The metadata is
// replaced, not mutated, so earlier readers keep a consistent copy.
func (s *LocalStore) Refresh(id string) (*models.FileInfo, error) {
	path, err := s.GetFilePath(id)
	if err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", id, err)
	}
	isVital, err := vital.Sniff(path)
	if err != nil {
		logging.Warning("[Storage] sniffing %s: %v", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	info := *old
	info.Size = st.Size()
	info.IsVital = isVital
	s.files[id] = &info
	s.saveMeta(&info)
	return &info, nil
}

// GetFilePath returns the path to a stored file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.files[id]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return filepath.Join(s.uploadDir, id), nil
}

func (s *LocalStore) chunkDir(uploadID string) (string, error) {
	if uploadID == "" || filepath.Base(uploadID) != uploadID || uploadID == "." || uploadID == ".." {
		return "", fmt.Errorf("invalid upload id %q", uploadID)
	}
	return filepath.Join(s.uploadDir, "chunks", uploadID), nil
}

// SaveChunk saves a single chunk to a temporary location.
func (s *LocalStore) SaveChunk(uploadID string, chunkIndex int, r io.Reader) error {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return err
	}
	if chunkIndex < 0 {
		return fmt.Errorf("invalid chunk index %d", chunkIndex)
	}
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("creating chunk directory: %w", err)
	}

	path := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", chunkIndex))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating chunk file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	return nil
}

// CompleteChunkedUpload assembles all chunks into a final file.
func (s *LocalStore) CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error) {
	chunkDir, err := s.chunkDir(uploadID)
	if err != nil {
		return nil, err
	}
	id := uuid.New().String()
	finalPath := filepath.Join(s.uploadDir, id)

	out, err := os.Create(finalPath)
	if err != nil {
		return nil, fmt.Errorf("creating final file: %w", err)
	}

	var totalSize int64
	for i := 0; i < totalChunks; i++ {
		chunkPath := filepath.Join(chunkDir, fmt.Sprintf("chunk_%d", i))
		in, err := os.Open(chunkPath)
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("opening chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			os.Remove(finalPath)
			return nil, fmt.Errorf("copying chunk %d: %w", i, err)
		}
		totalSize += n
	}
	if err := out.Close(); err != nil {
		os.Remove(finalPath)
		return nil, fmt.Errorf("closing final file: %w", err)
	}

	os.RemoveAll(chunkDir)
	return s.register(id, name, totalSize, finalPath), nil
}
