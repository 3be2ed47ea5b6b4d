package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter registra as rotas do serviço com o middleware de tracing
func NewRouter(handler *OrderHandler, serviceName string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))

	r.GET("/health", handler.HealthCheck)

	api := r.Group("/api")
	{
		api.POST("/orders", handler.CreateOrder)
		api.GET("/orders/:id", handler.GetOrder)
		api.POST("/orders/:id/accept", handler.AcceptOrder)
		api.POST("/orders/:id/reject", handler.RejectOrder)
		api.POST("/orders/:id/claim", handler.ClaimDelivery)
		api.POST("/orders/:id/progress", handler.ReportProgress)
		api.POST("/orders/:id/delivered", handler.ReportDelivered)

		api.GET("/stores/:id", handler.GetStore)
	}

	return r
}
