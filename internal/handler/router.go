package handler

import (
	"net/http"

	"github.com/automesh/meshheal/internal/logging"
	"github.com/automesh/meshheal/internal/observability"
	"github.com/automesh/meshheal/internal/safety"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// ServiceName names the server in traces
const ServiceName = "meshheal"

// SetupRouter configures all API routes
func SetupRouter(
	sim *SimulationHandler,
	paths *PathsHandler,
	topology *TopologyHandler,
	esm *safety.EmergencyStopManager,
	metrics *observability.Metrics,
	corsOrigin string,
	log logging.Logger,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(ServiceName))
	r.Use(RequestIDMiddleware())
	r.Use(CORSMiddleware(corsOrigin))
	r.Use(PrometheusMiddleware(metrics))
	r.Use(AccessLogMiddleware(log))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":         "healthy",
			"emergency_stop": esm.IsTriggered(),
		})
	})

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Emergency stop
	r.POST("/emergency-stop", sim.EmergencyStop)
	r.POST("/emergency-stop/reset", sim.EmergencyReset)

	topoGroup := r.Group("/api/topology")
	{
		topoGroup.GET("", topology.Get)
		topoGroup.GET("/health", topology.Health)
	}

	pathGroup := r.Group("/api/paths")
	{
		pathGroup.GET("/shortest", paths.Shortest)
		pathGroup.GET("/ecmp", paths.ECMP)
		pathGroup.GET("/fallback/:device_id", paths.Fallback)
	}

	simGroup := r.Group("/api/simulation")
	{
		simGroup.GET("", sim.Get)
		simGroup.POST("/start", sim.Start)
		simGroup.POST("/failures", sim.Fail)
		simGroup.POST("/links/:link_id/fail", sim.FailLink)
		simGroup.POST("/heal/:node_id", sim.Heal)
		simGroup.POST("/reset", sim.Reset)
		simGroup.GET("/stream", sim.Stream)
		simGroup.GET("/runs", sim.ListRuns)
		simGroup.GET("/runs/:run_id", sim.GetRun)
	}

	return r
}
