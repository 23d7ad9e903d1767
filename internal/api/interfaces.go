// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/duckstore"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/upload"
	"github.com/vital-visualizer/backend/internal/vital"
)

// FileHandler handles file upload and management operations
type FileHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadRaw(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
}

// UploadJobHandler handles background assembly of chunked uploads
type UploadJobHandler interface {
	HandleStartUploadJob(c echo.Context) error
	HandleGetUploadJob(c echo.Context) error
	HandleUploadJobStream(c echo.Context) error
}

// DecodeHandler handles decode session operations
type DecodeHandler interface {
	HandleStartDecode(c echo.Context) error
	HandleDecodeStatus(c echo.Context) error
	HandleDecodeProgressStream(c echo.Context) error
	HandleSessionKeepAlive(c echo.Context) error
}

// RecordingHandler serves queries over decoded recordings
type RecordingHandler interface {
	HandleHeader(c echo.Context) error
	HandleDevices(c echo.Context) error
	HandleTracks(c echo.Context) error
	HandleValidity(c echo.Context) error
	HandleRecords(c echo.Context) error
	HandleNumberTrack(c echo.Context) error
	HandleWaveTrack(c echo.Context) error
	HandleWaveSamples(c echo.Context) error
	HandleWaveMsgpack(c echo.Context) error
	HandleStringTrack(c echo.Context) error
	HandleExport(c echo.Context) error
	HandleDBTracks(c echo.Context) error
	HandleDBInterval(c echo.Context) error
	HandleDBValidity(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// SessionManager defines the interface for session management
// This allows mocking in tests
type SessionManager interface {
	StartSession(fileID, filePath string) (*models.DecodeSession, error)
	GetSession(id string) (*models.DecodeSession, bool)
	TouchSession(id string) bool
	GetRecording(id string) (*vital.Recording, error)
	GetStore(id string) (*duckstore.Store, error)
	DeleteParsedFile(fileID string) error
	Location() *time.Location
}

// UploadJobs runs chunk assembly jobs
type UploadJobs interface {
	StartJob(req upload.Request) (*upload.Job, error)
	GetJob(id string) (*upload.Job, bool)
}
