package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/handler"
)

func UserRouter(rg *gin.RouterGroup, h *handler.UserHandler, orgs *handler.OrganizationHandler, members *handler.MembershipHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:user_id", h.Get)
	rg.PATCH("/:user_id", h.Update)
	rg.DELETE("/:user_id", h.Delete)
	rg.POST("/:user_id/link", h.RetryLink)
	rg.GET("/:user_id/organizations", orgs.ListForUser)
	rg.GET("/:user_id/memberships", members.ListByUser)
}

func ConflictRouter(rg *gin.RouterGroup, h *handler.UserHandler) {
	rg.GET("", h.ListConflicts)
	rg.POST("/:conflict_id/resolve", h.ResolveConflict)
}
