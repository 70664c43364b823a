package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/armadaproject/tracelens/internal/common/logging"
	"github.com/armadaproject/tracelens/internal/queue"
)

const (
	ApiKeyHeader = "X-API-Key"
	ackMessage   = "Runs batch ingested"
)

// KindBatch labels rejections of a whole request body, whose events have no kind yet.
const KindBatch queue.JobKind = "batch"

// HandleBatch serves POST /runs/batch.
// The response is always 202 so that tracing never fails the client; malformed bodies and
// enqueue failures are only logged and counted.
func (g *Gateway) HandleBatch(c echo.Context) error {
	batch := &Batch{}
	if err := json.NewDecoder(c.Request().Body).Decode(batch); err != nil {
		log.WithError(err).Warn("Dropping runs batch with malformed body")
		if g.metrics != nil {
			g.metrics.RecordRejected(KindBatch, 1)
		}
		return c.JSON(http.StatusAccepted, map[string]string{"message": ackMessage})
	}

	err := g.Ingest(c.Request().Context(), batch, c.Request().Header.Get(ApiKeyHeader))
	if err != nil {
		logging.WithStacktrace(log.WithFields(log.Fields{
			"post":  len(batch.Post),
			"patch": len(batch.Patch),
		}), err).Error("Failed to enqueue runs batch")
	}
	return c.JSON(http.StatusAccepted, map[string]string{"message": ackMessage})
}

// HandleQueueCounts serves GET /queue/counts.
func HandleQueueCounts(q queue.Queue) echo.HandlerFunc {
	return func(c echo.Context) error {
		counts, err := q.Counts(c.Request().Context())
		if err != nil {
			logging.WithStacktrace(log.StandardLogger(), err).Error("Failed to read queue counts")
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to read queue counts"})
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"counts": counts,
			"total":  counts.Total(),
		})
	}
}
