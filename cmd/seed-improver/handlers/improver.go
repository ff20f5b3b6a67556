package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/lyzr/seed-improver/cmd/seed-improver/middleware"
	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
	"github.com/lyzr/seed-improver/cmd/seed-improver/repository"
	"github.com/lyzr/seed-improver/cmd/seed-improver/service"
	"github.com/lyzr/seed-improver/common/logger"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// TriggerRequest is the optional body of the run and loss triggers
type TriggerRequest struct {
	Pair    string `json:"pair"`
	TradeID string `json:"trade_id"`
	Async   bool   `json:"async"`
}

// ImproverHandler serves the internal seed improver surface
type ImproverHandler struct {
	runner service.Runner
	status *service.StatusService
	dedup  service.Dedup
	log    *logger.Logger
}

// NewImproverHandler creates a new improver handler
func NewImproverHandler(runner service.Runner, status *service.StatusService, dedup service.Dedup, log *logger.Logger) *ImproverHandler {
	return &ImproverHandler{
		runner: runner,
		status: status,
		dedup:  dedup,
		log:    log,
	}
}

// TriggerRun starts a manual run
// POST /internal/seed-improver/run
func (h *ImproverHandler) TriggerRun(c echo.Context) error {
	req, err := bindTrigger(c)
	if err != nil {
		return err
	}
	return h.execute(c, models.TriggerManual, req)
}

// TriggerLoss starts a run for a losing trade. A trade id is accepted once.
// POST /internal/seed-improver/loss
func (h *ImproverHandler) TriggerLoss(c echo.Context) error {
	req, err := bindTrigger(c)
	if err != nil {
		return err
	}

	claimed := false
	if req.TradeID != "" && h.dedup != nil {
		first, err := h.dedup.Claim(c.Request().Context(), req.TradeID)
		if err != nil {
			// fail open
			h.log.Warn("loss dedup unavailable", "trade_id", req.TradeID, "error", err)
		} else if !first {
			return echo.NewHTTPError(http.StatusConflict, "loss event already processed: "+req.TradeID)
		}
		claimed = err == nil
	}

	res, err := h.start(c, models.TriggerLoss, req)
	if err != nil {
		if claimed {
			// the run never started, so a retry of this loss event must be admitted
			if rerr := h.dedup.Release(context.WithoutCancel(c.Request().Context()), req.TradeID); rerr != nil {
				h.log.Warn("failed to release loss claim", "trade_id", req.TradeID, "error", rerr)
			}
		}
		return err
	}
	return respond(c, req, res)
}

func (h *ImproverHandler) execute(c echo.Context, trigger models.TriggerType, req *TriggerRequest) error {
	res, err := h.start(c, trigger, req)
	if err != nil {
		return err
	}
	return respond(c, req, res)
}

// start runs or schedules the pipeline. Errors are already mapped to HTTP errors.
func (h *ImproverHandler) start(c echo.Context, trigger models.TriggerType, req *TriggerRequest) (*service.RunResult, error) {
	h.log.Info("run requested",
		"trigger", trigger,
		"pair", req.Pair,
		"async", req.Async,
		"caller", middleware.GetCaller(c),
	)

	res, err := h.runner.Execute(c.Request().Context(), service.RunRequest{
		Trigger: trigger,
		Pair:    req.Pair,
		Async:   req.Async,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidTrigger) {
			return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.log.Error("failed to start run", "error", err)
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "failed to start run")
	}
	return res, nil
}

func respond(c echo.Context, req *TriggerRequest, res *service.RunResult) error {
	code := http.StatusOK
	if req.Async {
		code = http.StatusAccepted
	}
	return c.JSON(code, res.Response())
}

// GetStatus returns the durable state of a run
// GET /internal/seed-improver/status/:run_id
func (h *ImproverHandler) GetStatus(c echo.Context) error {
	runID, err := uuid.Parse(c.Param("run_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}

	data, err := h.status.StatusJSON(c.Request().Context(), runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "run not found")
		}
		h.log.Error("failed to load run status", "run_id", runID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load run status")
	}

	return c.JSONBlob(http.StatusOK, data)
}

// ListRuns lists recent runs
// GET /internal/seed-improver/runs?limit=20
func (h *ImproverHandler) ListRuns(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	runs, err := h.status.ListRuns(c.Request().Context(), limit)
	if err != nil {
		h.log.Error("failed to list runs", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list runs")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// ListPatterns lists the most frequently seen patterns
// GET /internal/seed-improver/patterns?limit=20
func (h *ImproverHandler) ListPatterns(c echo.Context) error {
	limit, err := parseLimit(c)
	if err != nil {
		return err
	}

	patterns, err := h.status.ListPatterns(c.Request().Context(), limit)
	if err != nil {
		h.log.Error("failed to list patterns", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list patterns")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// bindTrigger accepts an empty body as an empty request
func bindTrigger(c echo.Context) (*TriggerRequest, error) {
	req := &TriggerRequest{}
	if c.Request().ContentLength == 0 {
		return req, nil
	}
	if err := c.Bind(req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Pair = strings.TrimSpace(req.Pair)
	return req, nil
}

func parseLimit(c echo.Context) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return defaultListLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit, nil
}
