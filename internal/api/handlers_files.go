// handlers_files.go - File upload and management handlers
package api

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/storage"
)

// FileHandlerImpl implements the FileHandler interface
type FileHandlerImpl struct {
	store        storage.Store
	sessionMgr   SessionManager
	allowedTypes []string
}

// NewFileHandler creates a new file handler instance. sessionMgr may be nil.
// allowedTypes lists accepted name suffixes such as ".vital"; empty accepts
// any name.
func NewFileHandler(store storage.Store, sessionMgr SessionManager, allowedTypes []string) FileHandler {
	return &FileHandlerImpl{
		store:        store,
		sessionMgr:   sessionMgr,
		allowedTypes: allowedTypes,
	}
}

// checkFileType rejects names whose suffix is not in allowed.
func checkFileType(allowed []string, name string) error {
	if len(allowed) == 0 {
		return nil
	}
	lower := strings.ToLower(name)
	for _, ext := range allowed {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return nil
		}
	}
	return NewBadRequestError(fmt.Sprintf("file type not allowed: %s (allowed: %s)", name, strings.Join(allowed, ", ")), nil)
}

// HandleUploadFile accepts a file as base64 JSON and saves it to storage
func (h *FileHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := checkFileType(h.allowedTypes, req.Name); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	info, err := h.store.SaveBytes(req.Name, decoded)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadBinary accepts a multipart/form-data upload in the "file" field
func (h *FileHandlerImpl) HandleUploadBinary(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}
	if err := checkFileType(h.allowedTypes, file.Filename); err != nil {
		return err
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadRaw streams the request body into storage. The file name is
// taken from the "name" query parameter.
func (h *FileHandlerImpl) HandleUploadRaw(c echo.Context) error {
	name := c.QueryParam("name")
	if name == "" {
		return NewValidationError("name")
	}
	if err := checkFileType(h.allowedTypes, name); err != nil {
		return err
	}

	info, err := h.store.Save(name, c.Request().Body)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}
	return c.JSON(http.StatusCreated, info)
}

// HandleUploadChunk accepts one chunk as multipart form data ("file",
// "uploadId", "chunkIndex").
func (h *FileHandlerImpl) HandleUploadChunk(c echo.Context) error {
	uploadID := c.FormValue("uploadId")
	if uploadID == "" {
		return NewValidationError("uploadId")
	}
	chunkIndex, err := strconv.Atoi(c.FormValue("chunkIndex"))
	if err != nil || chunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no chunk provided", err)
	}
	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open chunk", err)
	}
	defer src.Close()

	if err := h.store.SaveChunk(uploadID, chunkIndex, src); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload assembles the chunks of an upload into one file
func (h *FileHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if err := checkFileType(h.allowedTypes, req.Name); err != nil {
		return err
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		return NewBadRequestError("failed to complete upload", err)
	}
	logging.Info("[API] completed chunked upload %s as %s", req.UploadID, info.ID)
	return c.JSON(http.StatusCreated, info)
}

// HandleGetRecentFiles returns the most recently uploaded files
func (h *FileHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := 20
	if v, err := strconv.Atoi(c.QueryParam("limit")); err == nil && v > 0 {
		limit = v
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}
	return c.JSON(http.StatusOK, files)
}

// HandleGetFile returns metadata for a specific file
func (h *FileHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file and its persisted recording
func (h *FileHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return NewNotFoundError("file", id)
	}

	if h.sessionMgr != nil {
		if err := h.sessionMgr.DeleteParsedFile(id); err != nil {
			logging.Warning("[API] deleting parsed data of %s: %v", id, err)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *FileHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return NewNotFoundError("file", id)
	}
	return c.JSON(http.StatusOK, info)
}

// Request/Response types

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}
