package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/mohammad-safakhou/agentrouter/internal/runtime"
)

const maxListLimit = 200

// RunsHandler serves run, routing and worker endpoints.
type RunsHandler struct {
	runner  Runner
	store   RunStore
	history RunSearcher
	timeout time.Duration
	logger  *zap.Logger
}

func (h *RunsHandler) Register(g *echo.Group) {
	read := runtime.RequireScopes(runtime.ScopeRunsRead)
	write := runtime.RequireScopes(runtime.ScopeRunsWrite)
	g.POST("/runs", h.create, write)
	g.GET("/runs", h.list, read)
	g.GET("/runs/search", h.search, read)
	g.GET("/runs/:id", h.get, read)
	g.POST("/route", h.route, read)
	g.GET("/workers", h.workers, read)
}

func bindQuery(c echo.Context) (string, error) {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	q := strings.TrimSpace(req.Query)
	if q == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "query required")
	}
	return q, nil
}

// create
//
//	@Summary	Route and answer a query
//	@Tags		runs
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		QueryRequest	true	"Query"
//	@Success	200		{object}	orchestrator.RunResult
//	@Router		/v1/runs [post]
func (h *RunsHandler) create(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	res, err := h.runner.Run(ctx, q)
	if err != nil {
		if ctx.Err() != nil {
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, res)
}

func (h *RunsHandler) get(c echo.Context) error {
	if h.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run store not configured")
	}
	run, ok, err := h.store.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, run)
}

func (h *RunsHandler) list(c echo.Context) error {
	if h.store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run store not configured")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	runs, err := h.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, runs)
}

func (h *RunsHandler) search(c echo.Context) error {
	if h.history == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "run history not configured")
	}
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q required")
	}
	limit, err := parseLimit(c.QueryParam("limit"))
	if err != nil {
		return err
	}
	hits, err := h.history.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *RunsHandler) route(c echo.Context) error {
	q, err := bindQuery(c)
	if err != nil {
		return err
	}
	d, entries, err := h.runner.Route(c.Request().Context(), q)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, RouteResponse{Decision: d, Log: entries})
}

func (h *RunsHandler) workers(c echo.Context) error {
	reg := h.runner.Registry()
	out := []WorkerInfo{}
	for _, k := range reg.Kinds() {
		w, _ := reg.Get(k)
		out = append(out, WorkerInfo{Name: k.String(), Description: w.Description()})
	}
	return c.JSON(http.StatusOK, out)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
	}
	if n > maxListLimit {
		n = maxListLimit
	}
	return n, nil
}
