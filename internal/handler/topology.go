package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TopologyHandler serves the live topology and its health summary
type TopologyHandler struct {
	graphs GraphSource
}

// NewTopologyHandler creates a new TopologyHandler
func NewTopologyHandler(graphs GraphSource) *TopologyHandler {
	return &TopologyHandler{graphs: graphs}
}

// Get returns every node and link with its current status
func (h *TopologyHandler) Get(c *gin.Context) {
	c.JSON(http.StatusOK, h.graphs.Graph().Topology())
}

// Health reports active counts, failed elements and partitioning
func (h *TopologyHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, h.graphs.Graph().Health())
}
