package handler

import (
	"net/http"

	"tokenledger/internal/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SetupRouter 注册路由
func SetupRouter(h *Handler, m *metrics.Metrics, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(log))
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	{
		token := api.Group("/token")
		{
			token.GET("", h.GetInfo)
			token.GET("/total-supply", h.GetTotalSupply)
			token.GET("/owner", h.GetOwner)
			token.GET("/balance", h.GetBalance)
			token.GET("/events", h.ListEvents)
			token.GET("/transfers", h.ListTransfers)
			token.GET("/transfers/:seq", h.GetTransfer)
			token.POST("/transfer", CallerMiddleware(), h.Transfer)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(m.Handler()))

	return r
}
