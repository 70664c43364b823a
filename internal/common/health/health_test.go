package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMultiChecker(t *testing.T) {
	mc := NewMultiChecker()
	assert.NoError(t, mc.Check())

	mc.Add("startup", CheckerFunc(func() error { return nil }))
	assert.NoError(t, mc.Check())

	mc.Add("redis", CheckerFunc(func() error { return errors.New("connection refused") }))
	mc.Add("postgres", CheckerFunc(func() error { return errors.New("too many clients") }))
	err := mc.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis: connection refused")
	assert.Contains(t, err.Error(), "postgres: too many clients")
	assert.NotContains(t, err.Error(), "startup")
}

func TestStartupCompleteChecker(t *testing.T) {
	c := NewStartupCompleteChecker()
	assert.Error(t, c.Check())
	c.MarkComplete()
	assert.NoError(t, c.Check())
}

func TestEchoHandler(t *testing.T) {
	startup := NewStartupCompleteChecker()
	e := echo.New()
	checks := NewMultiChecker()
	checks.Add("startup", startup)
	e.GET("/health", EchoHandler(checks))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
	assert.Contains(t, rec.Body.String(), "startup is not complete")

	startup.MarkComplete()
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
