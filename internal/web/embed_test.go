package web

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterStaticRoutes(t *testing.T) {
	require.True(t, HasEmbeddedFiles())

	e := echo.New()
	e.GET("/api/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	require.NoError(t, RegisterStaticRoutes(e))

	tests := []struct {
		path     string
		contains string
	}{
		{"/", "<title>Vital Visualizer</title>"},
		{"/index.html", "<title>Vital Visualizer</title>"},
		{"/recordings/abc", "<title>Vital Visualizer</title>"},
		{"/api/health", "ok"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
		})
	}
}
