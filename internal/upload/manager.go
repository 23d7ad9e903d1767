// Package upload assembles chunked uploads in the background, strips any
// transfer compression and optionally hands the result to a decode session.
package upload

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/models"
)

// Status represents the upload processing status.
type Status string

const (
	StatusProcessing    Status = "processing"
	StatusAssembling    Status = "assembling"
	StatusDecompressing Status = "decompressing"
	StatusComplete      Status = "complete"
	StatusError         Status = "error"
)

// Done reports whether the job has stopped.
func (s Status) Done() bool {
	return s == StatusComplete || s == StatusError
}

// EncodingGzip marks chunks that were gzip-compressed by the client on top
// of the file's own encoding.
const EncodingGzip = "gzip"

// Request describes a finished chunked upload.
type Request struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
	Encoding    string `json:"encoding,omitempty"`
	// OriginalSize is the expected size after transfer decompression; zero
	// skips the check.
	OriginalSize int64 `json:"originalSize,omitempty"`
	// Decode starts a decode session once the file is stored.
	Decode bool `json:"decode,omitempty"`
}

// Validate checks the request fields.
func (r Request) Validate() error {
	switch {
	case r.UploadID == "":
		return errors.New("uploadId is required")
	case r.Name == "":
		return errors.New("name is required")
	case r.TotalChunks <= 0:
		return errors.New("totalChunks must be positive")
	case r.Encoding != "" && r.Encoding != EncodingGzip:
		return fmt.Errorf("unsupported encoding %q", r.Encoding)
	}
	return nil
}

// Job represents an async upload processing job.
type Job struct {
	ID            string           `json:"id"`
	Request       Request          `json:"request"`
	Status        Status           `json:"status"`
	Progress      float64          `json:"progress"`
	Stage         string           `json:"stage"`
	StageProgress float64          `json:"stageProgress"`
	FileInfo      *models.FileInfo `json:"fileInfo,omitempty"`
	SessionID     string           `json:"sessionId,omitempty"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	CompletedAt   *time.Time       `json:"completedAt,omitempty"`
}

// Store is the part of the storage layer a job needs.
type Store interface {
	CompleteChunkedUpload(uploadID string, name string, totalChunks int) (*models.FileInfo, error)
	GetFilePath(id string) (string, error)
	Refresh(id string) (*models.FileInfo, error)
}

// Decoder starts decode sessions for stored files.
type Decoder interface {
	StartSession(fileID, filePath string) (*models.DecodeSession, error)
}

// Manager handles async upload processing.
type Manager struct {
	jobs    map[string]*Job
	mu      sync.RWMutex
	store   Store
	decoder Decoder
	wg      sync.WaitGroup
}

// NewManager creates a new upload processing manager. decoder may be nil,
// in which case Request.Decode is ignored.
func NewManager(store Store, decoder Decoder) *Manager {
	return &Manager{
		jobs:    make(map[string]*Job),
		store:   store,
		decoder: decoder,
	}
}

// StartJob validates req and begins processing it in the background.
func (m *Manager) StartJob(req Request) (*Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job := &Job{
		ID:        uuid.New().String(),
		Request:   req,
		Status:    StatusProcessing,
		Stage:     "preparing",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	snapshot := *job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.processJob(job)
	}()
	return &snapshot, nil
}

// GetJob returns a copy of the job.
func (m *Manager) GetJob(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// Wait blocks until every running job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func tag(id string) string {
	if len(id) > 8 {
		id = id[:8]
	}
	return "[UploadJob " + id + "]"
}

func (m *Manager) processJob(job *Job) {
	req := job.Request
	logging.Info("%s processing %s (%d chunks)", tag(job.ID), req.Name, req.TotalChunks)

	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 0)
	info, err := m.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		m.markJobError(job, fmt.Sprintf("failed to assemble chunks: %v", err))
		return
	}
	m.updateJobStatus(job, StatusAssembling, "assembling chunks", 100)
	logging.Debug("%s assembled %s (%d bytes)", tag(job.ID), info.ID, info.Size)

	if req.Encoding == EncodingGzip {
		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 0)
		if err := m.decompress(job, info.ID); err != nil {
			m.markJobError(job, fmt.Sprintf("failed to decompress: %v", err))
			return
		}
		if info, err = m.store.Refresh(info.ID); err != nil {
			m.markJobError(job, fmt.Sprintf("failed to refresh file: %v", err))
			return
		}
		m.updateJobStatus(job, StatusDecompressing, "decompressing file", 100)
	}

	var sessionID string
	if req.Decode && m.decoder != nil {
		if !info.IsVital {
			m.markJobError(job, "file is not a vital recording")
			return
		}
		path, err := m.store.GetFilePath(info.ID)
		if err != nil {
			m.markJobError(job, err.Error())
			return
		}
		sess, err := m.decoder.StartSession(info.ID, path)
		if err != nil {
			m.markJobError(job, fmt.Sprintf("failed to start decode: %v", err))
			return
		}
		sessionID = sess.ID
	}

	m.mu.Lock()
	job.FileInfo = info
	job.SessionID = sessionID
	m.mu.Unlock()
	m.markJobComplete(job)
	logging.Info("%s complete: %s (%d bytes)", tag(job.ID), info.ID, info.Size)
}

// decompress strips the transfer gzip layer of a stored file in place.
func (m *Manager) decompress(job *Job, fileID string) error {
	path, err := m.store.GetFilePath(fileID)
	if err != nil {
		return err
	}

	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer zr.Close()

	tempPath := path + ".decompressing"
	out, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	buf := make([]byte, 1<<20)
	var written int64
	lastUpdate := time.Now()
	for {
		n, readErr := zr.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				out.Close()
				os.Remove(tempPath)
				return fmt.Errorf("write error: %w", err)
			}
			written += int64(n)

			if size := job.Request.OriginalSize; size > 0 && time.Since(lastUpdate) > 100*time.Millisecond {
				m.updateJobStatus(job, StatusDecompressing, "decompressing file",
					min(float64(written)/float64(size)*100, 99))
				lastUpdate = time.Now()
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(tempPath)
			return fmt.Errorf("read error: %w", readErr)
		}
	}
	if err := out.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	if size := job.Request.OriginalSize; size > 0 && written != size {
		os.Remove(tempPath)
		return fmt.Errorf("decompressed size mismatch: got %d bytes, expected %d bytes", written, size)
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return err
	}
	return nil
}

// updateJobStatus updates job progress. Assembling covers 0-40%,
// decompressing 40-90%.
func (m *Manager) updateJobStatus(job *Job, status Status, stage string, stageProgress float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = status
	job.Stage = stage
	job.StageProgress = stageProgress

	switch status {
	case StatusAssembling:
		job.Progress = stageProgress * 0.4
	case StatusDecompressing:
		job.Progress = 40 + stageProgress*0.5
	}
}

func (m *Manager) markJobComplete(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusComplete
	job.Stage = "complete"
	job.Progress = 100
	now := time.Now()
	job.CompletedAt = &now
}

func (m *Manager) markJobError(job *Job, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job.Status = StatusError
	job.Error = errMsg
	now := time.Now()
	job.CompletedAt = &now
	logging.Error("%s %s", tag(job.ID), errMsg)
}

// CleanupOldJobs removes finished jobs older than maxAge.
func (m *Manager) CleanupOldJobs(maxAge time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxAge)
	for id, job := range m.jobs {
		if job.Status.Done() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed
}
