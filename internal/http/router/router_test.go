package router_test

import (
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/core/config"
	"basegraph.app/gatekeeper/internal/eventbus"
	"basegraph.app/gatekeeper/internal/http/router"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
	"basegraph.app/gatekeeper/internal/store"
)

var _ = Describe("SetupRoutes", func() {
	var engine *gin.Engine

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		cfg := config.Config{DashboardURL: "https://app.example.com"}
		services := service.NewServices(
			store.NewStores(nil),
			nil,
			provider.NewWorkOS(config.WorkOSConfig{
				ClientID:      "client_test",
				RedirectURI:   "http://localhost:8080/auth/callback",
				WebhookSecret: "whsec_test",
			}),
			eventbus.NopPublisher{},
			cfg,
		)

		engine = gin.New()
		Expect(func() {
			router.SetupRoutes(engine, services, router.RouterConfig{
				DashboardURL: cfg.DashboardURL,
				AdminAPIKey:  "admin-key",
			})
		}).NotTo(Panic())
	})

	serve := func(method, path string, headers ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader("{}"))
		for i := 0; i+1 < len(headers); i += 2 {
			req.Header.Set(headers[i], headers[i+1])
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w
	}

	It("serves health and metrics without credentials", func() {
		Expect(serve(http.MethodGet, "/health").Code).To(Equal(http.StatusOK))
		Expect(serve(http.MethodGet, "/metrics").Code).To(Equal(http.StatusOK))
		Expect(serve(http.MethodGet, "/api/v1/webhooks/schema").Code).To(Equal(http.StatusOK))
	})

	It("guards operator routes with the admin key", func() {
		for _, path := range []string{
			"/api/v1/admin/users",
			"/api/v1/admin/conflicts",
			"/api/v1/admin/organizations/1/roles",
			"/api/v1/admin/webhooks",
			"/api/v1/admin/organizations",
			"/api/v1/admin/api-keys/1",
			"/api/v1/admin/organizations/1/api-keys",
		} {
			Expect(serve(http.MethodGet, path).Code).To(Equal(http.StatusUnauthorized), path)
		}
	})

	It("guards service access checks with an organization API key", func() {
		Expect(serve(http.MethodPost, "/api/v1/access/check").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(http.MethodGet, "/api/v1/access/permissions").Code).To(Equal(http.StatusUnauthorized))
	})

	It("guards self-service routes with a bearer token", func() {
		Expect(serve(http.MethodGet, "/api/v1/me").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(http.MethodPost, "/api/v1/organizations").Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(http.MethodPost, "/api/v1/invitations/accept").Code).To(Equal(http.StatusUnauthorized))
	})

	It("rejects unsigned provider webhooks", func() {
		Expect(serve(http.MethodPost, "/webhooks/provider").Code).To(Equal(http.StatusUnauthorized))
	})

	It("starts the hosted login flow", func() {
		w := serve(http.MethodGet, "/auth/login")
		Expect(w.Code).To(Equal(http.StatusTemporaryRedirect))
	})
})
