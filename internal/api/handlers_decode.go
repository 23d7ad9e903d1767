// handlers_decode.go - Decode session handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/storage"
)

// DecodeHandlerImpl implements the DecodeHandler interface
type DecodeHandlerImpl struct {
	store        storage.Store
	sessionMgr   SessionManager
	pollInterval time.Duration
}

// NewDecodeHandler creates a new decode handler
func NewDecodeHandler(store storage.Store, sessionMgr SessionManager) DecodeHandler {
	return &DecodeHandlerImpl{
		store:        store,
		sessionMgr:   sessionMgr,
		pollInterval: 100 * time.Millisecond,
	}
}

type startDecodeRequest struct {
	FileID string `json:"fileId"`
}

// HandleStartDecode starts decoding an uploaded file
func (h *DecodeHandlerImpl) HandleStartDecode(c echo.Context) error {
	var req startDecodeRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	info, err := h.store.Get(req.FileID)
	if err != nil {
		return NewNotFoundError("file", req.FileID)
	}
	if !info.IsVital {
		return NewBadRequestError("file is not a vital recording", nil)
	}

	path, err := h.store.GetFilePath(req.FileID)
	if err != nil {
		return NewInternalError("failed to resolve file path", err)
	}

	sess, err := h.sessionMgr.StartSession(info.ID, path)
	if err != nil {
		return NewInternalError("failed to start session", err)
	}
	logging.Info("[API] started decode session %s for file %s", sess.ID, info.ID)
	return c.JSON(http.StatusAccepted, sess)
}

// HandleDecodeStatus returns the status of a decode session
func (h *DecodeHandlerImpl) HandleDecodeStatus(c echo.Context) error {
	id := c.Param("sessionId")
	sess, ok := h.sessionMgr.GetSession(id)
	if !ok {
		return NewNotFoundError("session", id)
	}
	// Touch session to prevent cleanup while being viewed
	h.sessionMgr.TouchSession(id)
	return c.JSON(http.StatusOK, sess)
}

// HandleDecodeProgressStream streams decode progress via SSE until the
// session completes or fails.
func (h *DecodeHandlerImpl) HandleDecodeProgressStream(c echo.Context) error {
	id := c.Param("sessionId")
	if _, ok := h.sessionMgr.GetSession(id); !ok {
		return NewNotFoundError("session", id)
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		sess, ok := h.sessionMgr.GetSession(id)
		if !ok {
			data, _ := json.Marshal(map[string]string{"error": "session not found"})
			fmt.Fprintf(c.Response(), "data: %s\n\n", data)
			c.Response().Flush()
			return nil
		}

		// Only send update if progress changed
		if sess.Progress != lastProgress || sess.Status.Done() {
			lastProgress = sess.Progress
			data, err := json.Marshal(sess)
			if err == nil {
				fmt.Fprintf(c.Response(), "data: %s\n\n", data)
				c.Response().Flush()
			}
		}
		if sess.Status.Done() {
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}

// HandleSessionKeepAlive keeps a session from being cleaned up
func (h *DecodeHandlerImpl) HandleSessionKeepAlive(c echo.Context) error {
	id := c.Param("sessionId")
	if !h.sessionMgr.TouchSession(id) {
		return NewNotFoundError("session", id)
	}
	return c.NoContent(http.StatusNoContent)
}
