package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Router struct {
	Engine *gin.Engine
}

func NewRouter(
	scanHandler *ScanHandler,
	queryHandler *QueryHandler,
) *Router {
	r := gin.Default()

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/scan/run", scanHandler.TriggerRun)

	r.GET("/accounts/:email/state", queryHandler.GetAccountState)
	r.GET("/accounts/:email/insights", queryHandler.GetAccountInsights)
	r.GET("/risk", queryHandler.GetRiskScores)
	r.POST("/insights/:id/dismiss", queryHandler.DismissInsight)

	return &Router{Engine: r}
}
