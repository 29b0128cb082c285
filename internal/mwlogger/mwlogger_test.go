package mwlogger

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"
)

func TestWithLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := zlog.Logger.Output(&buf).With().Str("run_id", "r1").Logger()

	ctx := WithLogger(context.Background(), logger)
	l := LoggerFromContext(ctx)
	l.Info().Msg("hello")

	require.Contains(t, buf.String(), `"run_id":"r1"`)
	require.Contains(t, buf.String(), "hello")
}

func TestNewMWLogger_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := ginext.New(gin.TestMode)

	var buf bytes.Buffer
	zlog.Logger = zlog.Logger.Output(&buf)

	engine.GET("/ping", func(c *ginext.Context) {
		l := LoggerFromContext(c.Request.Context())
		l.Info().Msg("inside")
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("X-Request-Id", "req-42")
	w := httptest.NewRecorder()

	NewMWLogger(engine).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, buf.String(), `"request_id":"req-42"`)
	require.Contains(t, buf.String(), `"path":"/ping"`)
}
