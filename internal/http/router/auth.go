package router

import (
	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/handler"
)

func AuthRouter(rg *gin.RouterGroup, h *handler.AuthHandler) {
	rg.GET("/login", h.Login)
	rg.GET("/callback", h.Callback)
}

// SelfRouter serves routes acting on behalf of the bearer token's user.
func SelfRouter(rg *gin.RouterGroup, users *handler.UserHandler, orgs *handler.OrganizationHandler, invites *handler.InvitationHandler) {
	rg.GET("/me", users.Me)
	rg.GET("/me/organizations", orgs.ListMine)
	rg.POST("/organizations", orgs.CreateMine)
	rg.POST("/invitations/accept", invites.Accept)
}
