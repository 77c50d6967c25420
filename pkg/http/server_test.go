package http

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	applogger "StockSense/pkg/logger"
)

type routes struct{}

func (routes) RegisterRoutes(e *echo.Echo) {
	e.GET("/ok", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	e.GET("/boom", func(c echo.Context) error { panic("kaboom") })
	e.GET("/missing", func(c echo.Context) error {
		return AppErrorResponse(c, NotFoundError("ERR_MODEL_NOT_TRAINED", "ticker", "no model"))
	})
}

func newTestServer(buf *bytes.Buffer, opts ...ServerOption) *Server {
	opts = append([]ServerOption{WithMetricsPath(""), WithLogger(applogger.NewWithWriter(buf, "debug"))}, opts...)
	return NewServer(routes{}, opts...)
}

func TestServer_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, buf.String(), "http handler panic")
}

func TestServer_AppErrorEnvelope(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf)

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_MODEL_NOT_TRAINED"`)
	assert.Contains(t, rec.Body.String(), `"status":404`)
}

func TestServer_CORS(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf, WithAllowedOrigins([]string{"https://app.example"}))

	req := httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "https://app.example")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Equal(t, "https://app.example", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))

	req = httptest.NewRequest(http.MethodGet, "/ok", nil)
	req.Header.Set(echo.HeaderOrigin, "https://evil.example")
	rec = httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}

func TestServer_StartAndStop(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf, WithHost("127.0.0.1"), WithPort(0))
	require.NoError(t, s.Start())
	require.NotNil(t, s.Addr())

	resp, err := http.Get(fmt.Sprintf("http://%s/ok", s.Addr()))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	busy := newTestServer(&buf, WithHost("127.0.0.1"), WithPort(s.Addr().(*net.TCPAddr).Port))
	assert.Error(t, busy.Start(), "port already bound")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestServer_MetricsUseRouteTemplates(t *testing.T) {
	var buf bytes.Buffer
	s := newTestServer(&buf, WithMetricsPath("/metrics"))
	s.echo.GET("/quote/:ticker", func(c echo.Context) error { return SuccessResponse(c, c.Param("ticker")) })

	for _, path := range []string{"/quote/AAPL", "/quote/MSFT", "/boom"} {
		s.echo.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	assert.Contains(t, body, `stocksense_http_requests_total{method="GET",route="/quote/:ticker",status="200"}`)
	assert.Contains(t, body, `route="/boom",status="500"`)
	assert.NotContains(t, body, "AAPL")
}
