package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vital-visualizer/backend/internal/models"
	"github.com/vital-visualizer/backend/internal/session"
	"github.com/vital-visualizer/backend/internal/testutil"
	"github.com/vital-visualizer/backend/internal/upload"
)

func multipartBody(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandleUploadFile(t *testing.T) {
	vitalData := testutil.VitalFile(t, testutil.MonitorRecording)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantVital  bool
	}{
		{
			name:       "vital recording",
			body:       `{"name":"case.vital","data":"` + base64.StdEncoding.EncodeToString(vitalData) + `"}`,
			wantStatus: http.StatusCreated,
			wantVital:  true,
		},
		{
			name:       "other file",
			body:       `{"name":"notes.txt","data":"` + base64.StdEncoding.EncodeToString([]byte("hello")) + `"}`,
			wantStatus: http.StatusCreated,
		},
		{name: "missing name", body: `{"data":"aGVsbG8="}`, wantStatus: http.StatusBadRequest},
		{name: "missing data", body: `{"name":"x.vital"}`, wantStatus: http.StatusBadRequest},
		{name: "bad base64", body: `{"name":"x.vital","data":"!!!"}`, wantStatus: http.StatusBadRequest},
		{name: "bad json", body: `{"name":`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, false)
			rec := env.do(t, http.MethodPost, "/api/files/upload", []byte(tt.body))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			if tt.wantStatus != http.StatusCreated {
				return
			}
			var info models.FileInfo
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
			assert.Equal(t, tt.wantVital, info.IsVital)
			assert.Equal(t, 1, env.store.GetFileCount())
		})
	}
}

func TestHandleUploadFile_StorageError(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.SaveErr = errors.New("disk full")

	rec := env.do(t, http.MethodPost, "/api/files/upload", []byte(`{"name":"a.vital","data":"aGVsbG8="}`))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "disk full")
}

func TestHandleUploadBinaryAndRaw(t *testing.T) {
	env := newTestEnv(t, false)
	data := testutil.VitalFile(t, testutil.MonitorRecording)

	body, contentType := multipartBody(t, nil, "case.vital", data)
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"isVital":true`)

	req = httptest.NewRequest(http.MethodPost, "/api/files/upload/raw?name=raw.vital", bytes.NewReader(data))
	req.Header.Set(echo.HeaderContentType, echo.MIMEOctetStream)
	rec = httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"name":"raw.vital"`)

	rec = env.do(t, http.MethodPost, "/api/files/upload/raw", data)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 2, env.store.GetFileCount())
}

func TestChunkedUpload(t *testing.T) {
	env := newTestEnv(t, false)
	data := testutil.VitalFile(t, testutil.MonitorRecording)
	half := len(data) / 2
	chunks := [][]byte{data[:half], data[half:]}

	// send out of order
	for _, i := range []int{1, 0} {
		body, contentType := multipartBody(t, map[string]string{
			"uploadId":   "up-1",
			"chunkIndex": strconv.Itoa(i),
		}, "chunk", chunks[i])
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload/chunk", body)
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	}

	rec := env.do(t, http.MethodPost, "/api/files/upload/complete",
		[]byte(`{"uploadId":"up-1","name":"chunked.vital","totalChunks":2}`))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.True(t, info.IsVital)
	assert.Equal(t, int64(len(data)), info.Size)

	t.Run("missing chunk index", func(t *testing.T) {
		body, contentType := multipartBody(t, map[string]string{"uploadId": "up-2"}, "chunk", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload/chunk", body)
		req.Header.Set(echo.HeaderContentType, contentType)
		rec := httptest.NewRecorder()
		env.e.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("incomplete upload", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/files/upload/complete",
			[]byte(`{"uploadId":"nope","name":"x.vital","totalChunks":3}`))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestUploadAllowedFileTypes(t *testing.T) {
	store := testutil.NewMockStorage(t.TempDir())
	mgr, err := session.NewManager(session.Options{Files: store})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })

	e := echo.New()
	SetupMiddleware(e)
	RegisterRoutes(e, NewHandlers(&Dependencies{
		Store:            store,
		SessionMgr:       mgr,
		UploadJobs:       upload.NewManager(store, mgr),
		AllowedFileTypes: []string{".vital", ".gz"},
	}))
	env := &testEnv{e: e, store: store}
	data := base64.StdEncoding.EncodeToString([]byte("x"))

	rec := env.do(t, http.MethodPost, "/api/files/upload", []byte(`{"name":"notes.txt","data":"`+data+`"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "file type not allowed")

	rec = env.do(t, http.MethodPost, "/api/files/upload", []byte(`{"name":"CASE.VITAL","data":"`+data+`"}`))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/files/upload/raw?name=a.vital.gz", []byte("x"))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/files/upload/raw?name=a.exe", []byte("x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body, contentType := multipartBody(t, nil, "dump.bin", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", body)
	req.Header.Set(echo.HeaderContentType, contentType)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/files/upload/complete", []byte(`{"uploadId":"u","name":"a.csv","totalChunks":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/files/upload/jobs", []byte(`{"uploadId":"u","name":"a.csv","totalChunks":1}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Equal(t, 2, store.GetFileCount())
}

func TestFileLifecycle(t *testing.T) {
	env := newTestEnv(t, false)
	env.store.AddFile("a", "first.vital", []byte("x"))
	env.store.AddFile("b", "second.vital", []byte("y"))

	rec := env.do(t, http.MethodGet, "/api/files/recent?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var files []models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files))
	assert.Len(t, files, 1)

	rec = env.do(t, http.MethodPut, "/api/files/a", []byte(`{"name":"renamed.vital"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "renamed.vital")

	rec = env.do(t, http.MethodPut, "/api/files/a", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/files/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/files/b", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, env.store.GetFileCount())

	rec = env.do(t, http.MethodDelete, "/api/files/b", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestErrorHandler(t *testing.T) {
	e := echo.New()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"api error", NewConflictError("busy"), http.StatusConflict, "CONFLICT"},
		{"echo error", echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			ErrorHandler(tt.err, c)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body APIError
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
		})
	}
}

func TestUploadJobs(t *testing.T) {
	env := newTestEnv(t, false)
	data := testutil.VitalFile(t, testutil.MonitorRecording)
	require.NoError(t, env.store.SaveChunk("up-job", 0, bytes.NewReader(data)))

	rec := env.do(t, http.MethodPost, "/api/files/upload/jobs",
		[]byte(`{"uploadId":"up-job","name":"job.vital","totalChunks":1,"decode":true}`))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var job upload.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))

	env.jobs.Wait()
	rec = env.do(t, http.MethodGet, "/api/files/upload/jobs/"+job.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, upload.StatusComplete, job.Status, job.Error)
	require.NotEmpty(t, job.SessionID)

	require.Eventually(t, func() bool {
		s, ok := env.mgr.GetSession(job.SessionID)
		return ok && s.Status.Done()
	}, 10*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/files/upload/jobs/"+job.ID+"/stream", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"complete"`)

	rec = env.do(t, http.MethodPost, "/api/files/upload/jobs", []byte(`{"uploadId":"x"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/files/upload/jobs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
