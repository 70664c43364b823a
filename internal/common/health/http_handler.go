package health

import (
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
)

type statusResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// EchoHandler reports the combined state of checker: 204 when healthy, 503 with the failures otherwise.
func EchoHandler(checker Checker) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := checker.Check(); err != nil {
			log.WithError(err).Warn("Health check failed")
			return c.JSON(http.StatusServiceUnavailable, statusResponse{Status: "unhealthy", Error: err.Error()})
		}
		return c.NoContent(http.StatusNoContent)
	}
}
