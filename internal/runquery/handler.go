package runquery

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/logging"
	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
)

type Config struct {
	// Length of the window of start times searched by the run list.
	Lookback time.Duration
	// Page size when the request does not give one.
	DefaultLimit int
	// Page size when fetching runs newer than the cursor.
	NewestLimit int
	// Upper bound on any requested page size.
	MaxLimit int
}

func DefaultConfig() Config {
	return Config{
		Lookback:     7 * 24 * time.Hour,
		DefaultLimit: 30,
		NewestLimit:  100,
		MaxLimit:     100,
	}
}

type Handler struct {
	repo   RunRepository
	config Config
	clock  clock.PassiveClock
}

func NewHandler(repo RunRepository, config Config, clock clock.PassiveClock) *Handler {
	return &Handler{repo: repo, config: config, clock: clock}
}

// Register adds the read routes to e.
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/runs", h.ListRuns)
	e.GET("/runs/trace/:traceId", h.GetTrace)
	e.GET("/runs/trace/:traceId/tree", h.GetTraceTree)
}

// ListRuns serves GET /runs.
func (h *Handler) ListRuns(c echo.Context) error {
	query, err := h.parseRunsQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	page, err := h.repo.ListRuns(c.Request().Context(), query)
	if err != nil {
		return internalError(c, err, "failed to list runs")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"list": page.Runs},
		"meta": map[string]interface{}{"totalRowCount": page.TotalRowCount},
	})
}

// GetTrace serves GET /runs/trace/:traceId.
func (h *Handler) GetTrace(c echo.Context) error {
	runs, err := h.repo.GetRunsByTraceId(c.Request().Context(), c.Param("traceId"))
	if err != nil {
		return internalError(c, err, "failed to get trace")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"list": runs},
	})
}

// GetTraceTree serves GET /runs/trace/:traceId/tree.
func (h *Handler) GetTraceTree(c echo.Context) error {
	runs, err := h.repo.GetRunsByTraceId(c.Request().Context(), c.Param("traceId"))
	if err != nil {
		return internalError(c, err, "failed to get trace")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"data": map[string]interface{}{"list": BuildForest(runs)},
	})
}

func (h *Handler) parseRunsQuery(c echo.Context) (*model.RunsQuery, error) {
	query := &model.RunsQuery{
		SessionName:       c.QueryParam("sessionName"),
		SessionNameFilter: c.QueryParam("sessionNameFilter"),
		InputsFilter:      c.QueryParam("inputsFilter"),
		OutputsFilter:     c.QueryParam("outputsFilter"),
	}

	var err error
	if query.Status, err = model.ParseStatusFilter(c.QueryParam("statusFilter")); err != nil {
		return nil, invalidParam("statusFilter", c.QueryParam("statusFilter"), err)
	}
	if s := c.QueryParam("startId"); s != "" {
		if query.StartId, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, invalidParam("startId", s, err)
		}
	}
	if s := c.QueryParam("isGetNewest"); s != "" {
		if query.IsGetNewest, err = strconv.ParseBool(s); err != nil {
			return nil, invalidParam("isGetNewest", s, err)
		}
	}
	if query.StartDate, err = model.ParseTimestamp(c.QueryParam("startDate")); err != nil {
		return nil, invalidParam("startDate", c.QueryParam("startDate"), err)
	}
	limit := 0
	if s := c.QueryParam("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil {
			return nil, invalidParam("limit", s, err)
		}
	}
	query.Limit = h.resolveLimit(limit, query.IsGetNewest)
	query.ResolveWindow(h.clock.Now(), h.config.Lookback)
	return query, nil
}

func (h *Handler) resolveLimit(requested int, newest bool) int {
	limit := requested
	switch {
	case newest:
		limit = h.config.NewestLimit
	case limit <= 0:
		limit = h.config.DefaultLimit
	}
	if h.config.MaxLimit > 0 && limit > h.config.MaxLimit {
		limit = h.config.MaxLimit
	}
	return limit
}

func invalidParam(name string, value string, err error) error {
	return &runerrors.ErrInvalidArgument{Name: name, Value: value, Message: err.Error()}
}

func internalError(c echo.Context, err error, message string) error {
	logging.WithStacktrace(log.WithField("path", c.Path()), err).Error(message)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": message})
}
