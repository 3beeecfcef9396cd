package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/handler"
)

func WebhookRouter(rg *gin.RouterGroup, h *handler.WebhookHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:subscription_id", h.Get)
	rg.PATCH("/:subscription_id", h.Update)
	rg.DELETE("/:subscription_id", h.Delete)
	rg.POST("/:subscription_id/rotate-secret", h.RotateSecret)
	rg.POST("/:subscription_id/reactivate", h.Reactivate)
	rg.GET("/:subscription_id/deliveries", h.ListDeliveries)
}

func AccessRouter(rg *gin.RouterGroup, h *handler.AccessHandler) {
	rg.POST("/check", h.Check)
	rg.POST("/check-any", h.CheckAny)
	rg.POST("/check-all", h.CheckAll)
	rg.POST("/has-role", h.HasRole)
	rg.GET("/permissions", h.Permissions)
}
