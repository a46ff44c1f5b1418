package ui

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timberbase/prodsched/pkg/config"
	"github.com/timberbase/prodsched/pkg/logging"
)

func TestRequestLogger_SetsRequestID(t *testing.T) {
	logger := logging.New(config.LogConfig{Format: "text", Level: "error"})

	srv := gin.New()
	srv.Use(RequestLogger(logger))
	srv.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

	require.Equal(t, http.StatusOK, w.Code)
	id := w.Header().Get("X-Request-ID")
	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
}

func TestRequestLogger_DistinctIDs(t *testing.T) {
	logger := logging.New(config.LogConfig{Format: "text", Level: "error"})

	srv := gin.New()
	srv.Use(RequestLogger(logger))
	srv.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	srv.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	second := httptest.NewRecorder()
	srv.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.NotEqual(t, first.Header().Get("X-Request-ID"), second.Header().Get("X-Request-ID"))
}
