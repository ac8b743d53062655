// Package http assembles the Gin router: the turn endpoint, health and
// Prometheus metrics endpoints, fronted by the bearer auth middleware.
package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"morada/internal/agent/app"
	"morada/internal/llm"
	"morada/internal/server/http/auth"
	"morada/internal/sse"
)

// NewRouter builds the process's HTTP surface. heartbeat configures the
// SSE gateway's keepalive ticker; llmHealth, when non-nil, enriches the
// health endpoint with per-model status.
func NewRouter(svc *app.Services, resolve auth.ClaimsResolver, heartbeat time.Duration, llmHealth *llm.HealthRegistry) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = []string{"Authorization", "Content-Type"}
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if llmHealth != nil {
			body["models"] = llmHealth.Snapshot()
		}
		c.JSON(http.StatusOK, body)
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	gateway := sse.NewGatewayWithHeartbeat(svc, heartbeat)
	authorized := r.Group("/", auth.Middleware(resolve))
	authorized.POST("/turn", gateway.Handle)

	return r
}
