// routes.go - Route registration helpers
package api

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store      storage.Store
	SessionMgr SessionManager
	// UploadJobs is optional; the job routes are not registered without it.
	UploadJobs UploadJobs
	// Parsed feeds the health endpoint; nil when persistence is off.
	Parsed            StatsProvider
	Version           string
	AllowFileDeletion bool
	// AllowedFileTypes lists accepted upload name suffixes; empty accepts all.
	AllowedFileTypes []string
	WSPollInterval   time.Duration
}

// Handlers holds all handler instances
type Handlers struct {
	Health    HealthHandler
	Files     FileHandler
	Jobs      UploadJobHandler
	Decode    DecodeHandler
	Recording RecordingHandler
	WebSocket *WebSocketHandler

	allowFileDeletion bool
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	return &Handlers{
		Health:            NewHealthHandler(deps.Version, deps.Parsed),
		Files:             NewFileHandler(deps.Store, deps.SessionMgr, deps.AllowedFileTypes),
		Decode:            NewDecodeHandler(deps.Store, deps.SessionMgr),
		Jobs:              newUploadJobHandlerOrNil(deps.UploadJobs, deps.AllowedFileTypes),
		Recording:         NewRecordingHandler(deps.SessionMgr),
		WebSocket:         NewWebSocketHandler(deps.SessionMgr, deps.WSPollInterval),
		allowFileDeletion: deps.AllowFileDeletion,
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	apiGroup := e.Group("/api")

	apiGroup.GET("/health", handlers.Health.HandleHealth)

	// File management
	files := apiGroup.Group("/files")
	files.POST("/upload", handlers.Files.HandleUploadFile)
	files.POST("/upload/binary", handlers.Files.HandleUploadBinary)
	files.POST("/upload/raw", handlers.Files.HandleUploadRaw)
	files.POST("/upload/chunk", handlers.Files.HandleUploadChunk)
	files.POST("/upload/complete", handlers.Files.HandleCompleteUpload)
	if handlers.Jobs != nil {
		files.POST("/upload/jobs", handlers.Jobs.HandleStartUploadJob)
		files.GET("/upload/jobs/:jobId", handlers.Jobs.HandleGetUploadJob)
		files.GET("/upload/jobs/:jobId/stream", handlers.Jobs.HandleUploadJobStream)
	}
	files.GET("/recent", handlers.Files.HandleGetRecentFiles)
	files.GET("/:id", handlers.Files.HandleGetFile)
	files.PUT("/:id", handlers.Files.HandleRenameFile)
	if handlers.allowFileDeletion {
		files.DELETE("/:id", handlers.Files.HandleDeleteFile)
	}

	// Decode sessions
	decode := apiGroup.Group("/decode")
	decode.POST("", handlers.Decode.HandleStartDecode)
	decode.GET("/:sessionId/status", handlers.Decode.HandleDecodeStatus)
	decode.GET("/:sessionId/progress", handlers.Decode.HandleDecodeProgressStream)
	decode.POST("/:sessionId/keepalive", handlers.Decode.HandleSessionKeepAlive)

	// Decoded recordings
	rec := apiGroup.Group("/recordings/:sessionId")
	rec.GET("/header", handlers.Recording.HandleHeader)
	rec.GET("/devices", handlers.Recording.HandleDevices)
	rec.GET("/tracks", handlers.Recording.HandleTracks)
	rec.GET("/validity", handlers.Recording.HandleValidity)
	rec.GET("/records", handlers.Recording.HandleRecords)
	rec.GET("/tracks/number", handlers.Recording.HandleNumberTrack)
	rec.GET("/tracks/wave", handlers.Recording.HandleWaveTrack)
	rec.GET("/tracks/wave/samples", handlers.Recording.HandleWaveSamples)
	rec.GET("/tracks/wave/msgpack", handlers.Recording.HandleWaveMsgpack)
	rec.GET("/tracks/string", handlers.Recording.HandleStringTrack)
	rec.GET("/export/:kind", handlers.Recording.HandleExport)
	rec.GET("/db/tracks", handlers.Recording.HandleDBTracks)
	rec.GET("/db/interval", handlers.Recording.HandleDBInterval)
	rec.GET("/db/validity", handlers.Recording.HandleDBValidity)

	// WebSocket progress push
	apiGroup.GET("/ws/sessions/:sessionId", handlers.WebSocket.HandleSessionProgress)
}

// SetupMiddleware configures the error handler
func SetupMiddleware(e *echo.Echo) {
	e.HTTPErrorHandler = ErrorHandler
}
