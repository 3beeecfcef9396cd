package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/handler"
)

func OrganizationRouter(
	rg *gin.RouterGroup,
	h *handler.OrganizationHandler,
	roles *handler.RoleHandler,
	members *handler.MembershipHandler,
	invites *handler.InvitationHandler,
	keys *handler.APIKeyHandler,
) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:org_id", h.Get)
	rg.PATCH("/:org_id", h.Update)
	rg.DELETE("/:org_id", h.Delete)
	rg.GET("/:org_id/events", h.ListEvents)
	rg.GET("/:org_id/audit", h.ListAudit)

	rg.POST("/:org_id/roles", roles.Create)
	rg.GET("/:org_id/roles", roles.List)

	rg.POST("/:org_id/members", members.Add)
	rg.GET("/:org_id/members", members.ListByOrganization)
	rg.GET("/:org_id/members/:user_id", members.Get)
	rg.PATCH("/:org_id/members/:user_id", members.Update)
	rg.DELETE("/:org_id/members/:user_id", members.Remove)

	rg.POST("/:org_id/invitations", invites.Create)
	rg.GET("/:org_id/invitations", invites.List)

	rg.POST("/:org_id/api-keys", keys.Create)
	rg.GET("/:org_id/api-keys", keys.List)
}

func APIKeyRouter(rg *gin.RouterGroup, h *handler.APIKeyHandler) {
	rg.GET("/:key_id", h.Get)
	rg.PATCH("/:key_id", h.Update)
	rg.DELETE("/:key_id", h.Delete)
	rg.POST("/:key_id/revoke", h.Revoke)
	rg.POST("/:key_id/rotate", h.Rotate)
}

func RoleRouter(rg *gin.RouterGroup, h *handler.RoleHandler) {
	rg.GET("/:role_id", h.Get)
	rg.PATCH("/:role_id", h.Rename)
	rg.DELETE("/:role_id", h.Delete)
	rg.PUT("/:role_id/permissions", h.SetPermissions)
	rg.POST("/:role_id/permissions", h.AddPermissions)
	rg.DELETE("/:role_id/permissions", h.RemovePermissions)
	rg.POST("/:role_id/default", h.SetDefault)
}
