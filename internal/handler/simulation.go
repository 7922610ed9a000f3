package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/healing"
	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/safety"
	"github.com/gin-gonic/gin"
)

const (
	sseKeepAlive = 15 * time.Second
	sseMaxLife   = 30 * time.Minute
)

// RunReader reads persisted healing runs. *db.Store satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, id string) (domain.HealingRun, error)
	ListRuns(ctx context.Context, limit int) ([]domain.HealingRun, error)
}

// SimulationHandler exposes the healing orchestrator
type SimulationHandler struct {
	orch *healing.Orchestrator
	runs RunReader
	esm  *safety.EmergencyStopManager
	log  logging.Logger
}

// NewSimulationHandler creates a new SimulationHandler. runs may be nil
// when no database is configured.
func NewSimulationHandler(
	orch *healing.Orchestrator,
	runs RunReader,
	esm *safety.EmergencyStopManager,
	log logging.Logger,
) *SimulationHandler {
	if log == nil {
		log = logging.Noop()
	}
	return &SimulationHandler{orch: orch, runs: runs, esm: esm, log: log}
}

type failRequest struct {
	NodeID  string `json:"node_id" binding:"required,max=64"`
	Confirm bool   `json:"confirm"`
}

// Get returns the current simulation view
func (h *SimulationHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.State())
}

// Start opens a new run
func (h *SimulationHandler) Start(c *gin.Context) {
	if err := h.orch.Start(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.orch.State())
}

// Fail injects a node failure
func (h *SimulationHandler) Fail(c *gin.Context) {
	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	res := h.orch.Fail(c.Request.Context(), req.NodeID, healing.FailOptions{Confirm: req.Confirm})
	if !res.Accepted {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// FailLink injects a link failure
func (h *SimulationHandler) FailLink(c *gin.Context) {
	res := h.orch.FailLink(c.Request.Context(), c.Param("link_id"))
	if !res.Accepted {
		c.JSON(http.StatusConflict, res)
		return
	}
	c.JSON(http.StatusAccepted, res)
}

// Heal reroutes around a failed node or link immediately
func (h *SimulationHandler) Heal(c *gin.Context) {
	failedID := c.Param("node_id")
	links, err := h.orch.Heal(c.Request.Context(), failedID)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"failed_id":     failedID,
		"healing_links": nonNil(links),
		"simulation":    h.orch.State(),
	})
}

// Reset restores the topology captured at start
func (h *SimulationHandler) Reset(c *gin.Context) {
	if err := h.orch.Reset(c.Request.Context()); err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.orch.State())
}

// EmergencyStop blocks further failures and unwinds the active run
func (h *SimulationHandler) EmergencyStop(c *gin.Context) {
	h.esm.Trigger()
	if err := h.orch.Reset(c.Request.Context()); err != nil {
		h.log.Error(c.Request.Context(), "reset after emergency stop failed", logging.Err(err))
	}
	c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_triggered"})
}

// EmergencyReset lifts the emergency stop
func (h *SimulationHandler) EmergencyReset(c *gin.Context) {
	h.esm.Reset()
	c.JSON(http.StatusOK, gin.H{"status": "emergency_stop_cleared"})
}

// ListRuns returns persisted runs, newest first
func (h *SimulationHandler) ListRuns(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Database not available"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a positive integer"})
		return
	}

	runs, err := h.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, runs)
}

// GetRun returns one persisted run
func (h *SimulationHandler) GetRun(c *gin.Context) {
	if h.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"detail": "Database not available"})
		return
	}
	run, err := h.runs.GetRun(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// Stream pushes every orchestrator event to the client via Server-Sent
// Events, starting with the current view
func (h *SimulationHandler) Stream(c *gin.Context) {
	events, unsubscribe := h.orch.Subscribe()
	defer unsubscribe()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.sendSSE(c, "snapshot", h.orch.State())

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	maxLife := time.After(sseMaxLife)

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-maxLife:
			h.sendSSE(c, "timeout", gin.H{"message": "stream max lifetime reached"})
			return
		case <-keepAlive.C:
			_, _ = fmt.Fprint(c.Writer, ": keep-alive\n\n")
			c.Writer.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			h.sendSSE(c, string(ev.Kind), ev)
		}
	}
}

// sendSSE writes a single SSE event to the response writer
func (h *SimulationHandler) sendSSE(c *gin.Context, event string, data any) {
	j, err := json.Marshal(data)
	if err != nil {
		h.log.Error(c.Request.Context(), "SSE marshal error", logging.Err(err))
		return
	}
	_, _ = fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, j)
	c.Writer.Flush()
}

// statusFor maps domain errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownNode),
		errors.Is(err, domain.ErrUnknownLink),
		errors.Is(err, domain.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrEmergencyStop):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrNotStarted),
		errors.Is(err, domain.ErrAlreadyFailed),
		errors.Is(err, domain.ErrRouterQuorum),
		errors.Is(err, domain.ErrBlastRadiusExceeded),
		errors.Is(err, domain.ErrProtectedNode):
		return http.StatusConflict
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
