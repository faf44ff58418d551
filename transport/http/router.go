package http

import (
	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rags "github.com/intelliswarm-ai/intelliswarm-rags"

	mcpE "github.com/intelliswarm-ai/intelliswarm-rags/mcp"
)

func AddRouters(r *gin.Engine, endpoints rags.EndpointSet) {
	api := r.Group("/api")
	{
		api.POST("/upload", UploadHandler(endpoints.Ingest))
		api.GET("/search", SearchHandler(endpoints.Retrieve))
		api.POST("/ask", AskHandler(endpoints.Ask))
		api.GET("/ask/ws", AskWebsocketHandler(endpoints.Ask))
	}

	// paths used by the existing upload and chat clients
	r.POST("/upload", UploadHandler(endpoints.Ingest))
	r.POST("/ask", AskHandler(endpoints.Ask))
}

func AddStreamableRouters(r *gin.Engine, endpoints map[mcp.MCPMethod]mcpE.MCPEndpoint) {
	mcp := r.Group("/mcp")
	{
		mcp.POST("/", MCPStreamableHandler(endpoints))
	}
}

func AddMetricsRouter(r *gin.Engine, gatherer prometheus.Gatherer) {
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
