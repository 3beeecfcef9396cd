package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/common/metrics"
	"basegraph.app/gatekeeper/internal/http/handler"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/service"
)

type RouterConfig struct {
	DashboardURL string
	IsProduction bool
	AdminAPIKey  string
}

// AccessCheckScope is the API key scope that admits a service to the
// permission-check endpoints.
const AccessCheckScope = "access:check"

func SetupRoutes(router *gin.Engine, services *service.Services, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	authHandler := handler.NewAuthHandler(services.Auth(), cfg.DashboardURL, cfg.IsProduction)
	AuthRouter(router.Group("/auth"), authHandler)

	providerHandler := handler.NewProviderWebhookHandler(services.Notifications(), services.Identity())
	router.POST("/webhooks/provider", providerHandler.Receive)

	userHandler := handler.NewUserHandler(services.Identity())
	orgHandler := handler.NewOrganizationHandler(services.Organizations(), services.EventLog(), services.AuditLog())
	roleHandler := handler.NewRoleHandler(services.Roles())
	memberHandler := handler.NewMembershipHandler(services.Memberships())
	inviteHandler := handler.NewInvitationHandler(services.Invitations())
	webhookHandler := handler.NewWebhookHandler(services.Webhooks())
	accessHandler := handler.NewAccessHandler(services.Access())
	keyHandler := handler.NewAPIKeyHandler(services.APIKeys())

	v1 := router.Group("/api/v1")
	{
		v1.GET("/webhooks/schema", webhookHandler.Schema)
		v1.GET("/invitations/validate", inviteHandler.Validate)
		v1.POST("/api-keys/verify", keyHandler.Verify)

		scoped := v1.Group("/access")
		scoped.Use(middleware.RequireAPIKey(services.APIKeys(), AccessCheckScope))
		AccessRouter(scoped, accessHandler)

		authed := v1.Group("")
		authed.Use(middleware.RequireAuth(services.Auth()))
		SelfRouter(authed, userHandler, orgHandler, inviteHandler)

		admin := v1.Group("/admin")
		admin.Use(middleware.RequireAdminAPIKey(cfg.AdminAPIKey))
		{
			UserRouter(admin.Group("/users"), userHandler, orgHandler, memberHandler)
			ConflictRouter(admin.Group("/conflicts"), userHandler)
			OrganizationRouter(admin.Group("/organizations"), orgHandler, roleHandler, memberHandler, inviteHandler, keyHandler)
			APIKeyRouter(admin.Group("/api-keys"), keyHandler)
			admin.GET("/organization-slugs/:slug", orgHandler.GetBySlug)
			RoleRouter(admin.Group("/roles"), roleHandler)
			admin.POST("/invitations/:invitation_id/revoke", inviteHandler.Revoke)
			WebhookRouter(admin.Group("/webhooks"), webhookHandler)
			admin.GET("/deliveries/:delivery_id/attempts", webhookHandler.ListAttempts)
			AccessRouter(admin.Group("/access"), accessHandler)
		}
	}
}
