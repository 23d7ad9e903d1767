// handlers_upload_jobs.go - Background chunk assembly handlers
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/upload"
)

// UploadJobHandlerImpl implements the UploadJobHandler interface
type UploadJobHandlerImpl struct {
	jobs         UploadJobs
	allowedTypes []string
	pollInterval time.Duration
}

// NewUploadJobHandler creates a new upload job handler
func NewUploadJobHandler(jobs UploadJobs, allowedTypes []string) UploadJobHandler {
	return &UploadJobHandlerImpl{
		jobs:         jobs,
		allowedTypes: allowedTypes,
		pollInterval: 100 * time.Millisecond,
	}
}

func newUploadJobHandlerOrNil(jobs UploadJobs, allowedTypes []string) UploadJobHandler {
	if jobs == nil {
		return nil
	}
	return NewUploadJobHandler(jobs, allowedTypes)
}

// HandleStartUploadJob assembles a chunked upload in the background and
// returns the job immediately
func (h *UploadJobHandlerImpl) HandleStartUploadJob(c echo.Context) error {
	var req upload.Request
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.Name != "" {
		if err := checkFileType(h.allowedTypes, req.Name); err != nil {
			return err
		}
	}
	job, err := h.jobs.StartJob(req)
	if err != nil {
		return NewBadRequestError("invalid upload job", err)
	}
	return c.JSON(http.StatusAccepted, job)
}

// HandleGetUploadJob returns the current state of a job
func (h *UploadJobHandlerImpl) HandleGetUploadJob(c echo.Context) error {
	id := c.Param("jobId")
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("upload job", id)
	}
	return c.JSON(http.StatusOK, job)
}

// HandleUploadJobStream streams job progress via SSE until it finishes
func (h *UploadJobHandlerImpl) HandleUploadJobStream(c echo.Context) error {
	id := c.Param("jobId")
	if _, ok := h.jobs.GetJob(id); !ok {
		return NewNotFoundError("upload job", id)
	}

	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	lastProgress := -1.0
	for {
		job, ok := h.jobs.GetJob(id)
		if !ok {
			return nil
		}
		if job.Progress != lastProgress || job.Status.Done() {
			lastProgress = job.Progress
			if data, err := json.Marshal(job); err == nil {
				fmt.Fprintf(c.Response(), "data: %s\n\n", data)
				c.Response().Flush()
			}
		}
		if job.Status.Done() {
			return nil
		}

		select {
		case <-c.Request().Context().Done():
			return nil
		case <-ticker.C:
		}
	}
}
