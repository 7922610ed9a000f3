package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/automesh/meshheal/internal/domain"
	"github.com/automesh/meshheal/internal/fallback"
	"github.com/automesh/meshheal/internal/graph"
	"github.com/automesh/meshheal/internal/observability"
	"github.com/automesh/meshheal/internal/pathfind"
	"github.com/gin-gonic/gin"
)

// GraphSource hands out a private copy of the live topology.
// *healing.Orchestrator satisfies it.
type GraphSource interface {
	Graph() *graph.Graph
}

// PathsHandler answers read-only path queries against the live topology
type PathsHandler struct {
	graphs  GraphSource
	metrics *observability.Metrics
}

// NewPathsHandler creates a new PathsHandler
func NewPathsHandler(graphs GraphSource, metrics *observability.Metrics) *PathsHandler {
	return &PathsHandler{graphs: graphs, metrics: metrics}
}

type shortestQuery struct {
	Source  string `form:"source" binding:"required"`
	Target  string `form:"target" binding:"required"`
	Exclude string `form:"exclude"`
	Observe bool   `form:"observe"`
}

type shortestResponse struct {
	Source   string             `json:"source"`
	Target   string             `json:"target"`
	Exclude  string             `json:"exclude,omitempty"`
	Found    bool               `json:"found"`
	Path     []string           `json:"path"`
	Distance *float64           `json:"distance,omitempty"`
	Steps    []domain.StepEvent `json:"steps,omitempty"`
}

// Shortest runs Dijkstra between two nodes. With observe=true every
// engine step is returned alongside the path.
func (h *PathsHandler) Shortest(c *gin.Context) {
	var q shortestQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	g := h.graphs.Graph()
	if !g.HasNode(q.Target) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "unknown node: " + q.Target})
		return
	}

	resp := shortestResponse{Source: q.Source, Target: q.Target, Exclude: q.Exclude, Path: []string{}}
	opts := []pathfind.Option{pathfind.WithExclude(q.Exclude)}
	mode := "shortest"
	if q.Observe {
		mode = "observed"
		resp.Steps = []domain.StepEvent{}
		opts = append(opts, pathfind.WithObserver(pathfind.ObserverFunc(
			func(_ context.Context, ev domain.StepEvent) error {
				resp.Steps = append(resp.Steps, ev)
				return nil
			})))
	}

	res, err := pathfind.ShortestPaths(c.Request.Context(), g, q.Source, opts...)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	h.metrics.RecordPath(mode)

	if path, ok := res.PathTo(q.Target); ok {
		d := res.Distance(q.Target)
		resp.Found, resp.Path, resp.Distance = true, path, &d
	}
	c.JSON(http.StatusOK, resp)
}

type ecmpQuery struct {
	Source   string `form:"source" binding:"required"`
	Target   string `form:"target" binding:"required"`
	Exclude  string `form:"exclude"`
	Weighted bool   `form:"weighted"`
}

// ECMP lists every equal-cost path between two nodes
func (h *PathsHandler) ECMP(c *gin.Context) {
	var q ecmpQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	g := h.graphs.Graph()
	if !g.HasNode(q.Target) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "unknown node: " + q.Target})
		return
	}

	opts := []pathfind.Option{pathfind.WithExclude(q.Exclude)}
	if q.Weighted {
		opts = append(opts, pathfind.WithWeightEquality())
	}
	paths, err := pathfind.EqualCostPaths(c.Request.Context(), g, q.Source, q.Target, opts...)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"detail": err.Error()})
		return
	}
	h.metrics.RecordPath("ecmp")

	c.JSON(http.StatusOK, gin.H{
		"source":   q.Source,
		"target":   q.Target,
		"weighted": q.Weighted,
		"count":    len(paths),
		"paths":    paths,
	})
}

// Fallback builds a device's tiered path toward the gateway
func (h *PathsHandler) Fallback(c *gin.Context) {
	deviceID := c.Param("device_id")
	var opts []fallback.Option
	if exclude := c.Query("exclude"); exclude != "" {
		opts = append(opts, fallback.WithExclude(exclude))
	}
	if r := c.Query("max_range"); r != "" {
		maxRange, err := strconv.ParseFloat(r, 64)
		if err != nil || maxRange < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "max_range must be a non-negative number"})
			return
		}
		opts = append(opts, fallback.WithMaxRange(maxRange))
	}

	g := h.graphs.Graph()
	path := fallback.BuildFallbackPath(g, deviceID, opts...)
	if path == nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "unknown device: " + deviceID})
		return
	}
	h.metrics.RecordPath("fallback")

	c.JSON(http.StatusOK, domain.Reroute{
		DeviceID: deviceID,
		Path:     path,
		Complete: fallback.IsComplete(g, path),
	})
}
