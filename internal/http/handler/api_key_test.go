package handler_test

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/http/handler"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/service"
)

var _ = Describe("APIKeyHandler", func() {
	var (
		router *gin.Engine
		svc    *mockAPIKeyService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockAPIKeyService{}
		h := handler.NewAPIKeyHandler(svc)

		router.POST("/organizations/:org_id/api-keys", h.Create)
		router.GET("/organizations/:org_id/api-keys", h.List)
		router.GET("/api-keys/:key_id", h.Get)
		router.PATCH("/api-keys/:key_id", h.Update)
		router.POST("/api-keys/:key_id/rotate", h.Rotate)
		router.POST("/api-keys/:key_id/revoke", h.Revoke)
		router.POST("/api-keys/verify", h.Verify)
	})

	It("returns the secret on create and never on read", func() {
		svc.createFn = func(_ context.Context, in service.CreateAPIKeyInput) (*service.IssuedAPIKey, error) {
			Expect(in.OrganizationID).To(Equal(int64(42)))
			Expect(in.Scopes).To(ConsistOf("access:check"))
			Expect(in.RateLimit).To(Equal(int32(60)))
			return &service.IssuedAPIKey{
				Key:    &model.APIKey{ID: 5, OrganizationID: 42, Name: in.Name, Prefix: "gk_abcdefgh", KeyHash: "deadbeef", Scopes: in.Scopes},
				Secret: "gk_abcdefghsecret",
			}, nil
		}

		w := perform(router, http.MethodPost, "/organizations/42/api-keys", map[string]any{
			"name":       "billing",
			"scopes":     []string{"access:check"},
			"rate_limit": 60,
		})

		Expect(w.Code).To(Equal(http.StatusCreated))
		body := decode(w)
		Expect(body["secret"]).To(Equal("gk_abcdefghsecret"))
		Expect(body["key"]).NotTo(HaveKey("key_hash"))

		svc.getFn = func(_ context.Context, id int64) (*model.APIKey, error) {
			return &model.APIKey{ID: id, OrganizationID: 42, Prefix: "gk_abcdefgh", KeyHash: "deadbeef"}, nil
		}
		w = perform(router, http.MethodGet, "/api-keys/5", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)).NotTo(HaveKey("secret"))
		Expect(w.Body.String()).NotTo(ContainSubstring("deadbeef"))
	})

	It("rejects malformed scopes and negative limits", func() {
		w := perform(router, http.MethodPost, "/organizations/42/api-keys", map[string]any{
			"name": "billing", "scopes": []string{"nocolon"},
		})
		Expect(w.Code).To(Equal(http.StatusBadRequest))

		w = perform(router, http.MethodPost, "/organizations/42/api-keys", map[string]any{
			"name": "billing", "rate_limit": -1,
		})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("passes the active filter and paging through", func() {
		svc.listFn = func(_ context.Context, orgID int64, activeOnly bool, limit, offset int32) ([]model.APIKey, error) {
			Expect(orgID).To(Equal(int64(42)))
			Expect(activeOnly).To(BeTrue())
			Expect(limit).To(Equal(int32(10)))
			Expect(offset).To(Equal(int32(20)))
			return []model.APIKey{{ID: 1}}, nil
		}

		w := perform(router, http.MethodGet, "/organizations/42/api-keys?active=true&limit=10&offset=20", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["api_keys"]).To(HaveLen(1))
	})

	It("keeps omitted fields on update", func() {
		svc.updateFn = func(_ context.Context, id int64, in service.APIKeyUpdate) (*model.APIKey, error) {
			Expect(in.Name).To(BeNil())
			Expect(in.IsActive).To(HaveValue(BeFalse()))
			Expect(in.Scopes).To(BeNil())
			return &model.APIKey{ID: id}, nil
		}

		w := perform(router, http.MethodPatch, "/api-keys/5", map[string]any{"is_active": false})

		Expect(w.Code).To(Equal(http.StatusOK))
	})

	It("rotates with or without a body", func() {
		var gotExpiry *time.Time
		svc.rotateFn = func(_ context.Context, id int64, expiresAt *time.Time) (*service.IssuedAPIKey, error) {
			gotExpiry = expiresAt
			return &service.IssuedAPIKey{Key: &model.APIKey{ID: id}, Secret: "gk_new"}, nil
		}

		w := perform(router, http.MethodPost, "/api-keys/5/rotate", nil)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["secret"]).To(Equal("gk_new"))
		Expect(gotExpiry).To(BeNil())

		w = perform(router, http.MethodPost, "/api-keys/5/rotate", map[string]any{"expires_at": "2030-01-02T03:04:05Z"})
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(gotExpiry).NotTo(BeNil())
		Expect(gotExpiry.Year()).To(Equal(2030))
	})

	Describe("Verify", func() {
		It("reports a rejection as invalid with its reason", func() {
			svc.validateFn = func(_ context.Context, _, permission string) (*model.APIKey, error) {
				Expect(permission).To(Equal("access:check"))
				return nil, &domain.APIKeyRejectedError{KeyID: 5, Reason: domain.APIKeyExpired}
			}

			w := perform(router, http.MethodPost, "/api-keys/verify", map[string]any{
				"key": "gk_old", "permission": "access:check",
			})

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(decode(w)).To(And(HaveKeyWithValue("valid", false), HaveKeyWithValue("reason", "expired")))
		})

		It("returns the key when it is usable", func() {
			svc.validateFn = func(context.Context, string, string) (*model.APIKey, error) {
				return &model.APIKey{ID: 5, OrganizationID: 42, Name: "billing"}, nil
			}

			w := perform(router, http.MethodPost, "/api-keys/verify", map[string]any{"key": "gk_good"})

			Expect(w.Code).To(Equal(http.StatusOK))
			body := decode(w)
			Expect(body["valid"]).To(BeTrue())
			Expect(body["key"]).To(HaveKeyWithValue("organization_id", "42"))
		})

		It("surfaces storage failures as 500", func() {
			svc.validateFn = func(context.Context, string, string) (*model.APIKey, error) {
				return nil, errors.New("connection reset")
			}
			w := perform(router, http.MethodPost, "/api-keys/verify", map[string]any{"key": "gk_good"})
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	It("maps a rejected key from a service call to its status", func() {
		svc.revokeFn = func(context.Context, int64) (*model.APIKey, error) {
			return nil, &domain.APIKeyRejectedError{Reason: domain.APIKeyRateLimited}
		}
		w := perform(router, http.MethodPost, "/api-keys/5/revoke", nil)
		Expect(w.Code).To(Equal(http.StatusTooManyRequests))
	})
})

var _ = Describe("AccessHandler behind an organization API key", func() {
	var router *gin.Engine

	BeforeEach(func() {
		router = gin.New()
		keys := &mockAPIKeyService{
			validateFn: func(context.Context, string, string) (*model.APIKey, error) {
				return &model.APIKey{ID: 5, OrganizationID: 2, IsActive: true}, nil
			},
		}
		h := handler.NewAccessHandler(&mockAccessChecker{granted: map[string]bool{"posts:read": true}})
		scoped := router.Group("/access", middleware.RequireAPIKey(keys, "access:check"))
		scoped.POST("/check", h.Check)
		scoped.GET("/permissions", h.Permissions)
	})

	It("answers for the key's own organization", func() {
		w := perform(router, http.MethodPost, "/access/check", map[string]any{
			"user_id": "1", "organization_id": "2", "permission": "posts:read",
		}, middleware.APIKeyHeader, "gk_abc")

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(decode(w)["allowed"]).To(BeTrue())
	})

	It("refuses questions about another organization", func() {
		w := perform(router, http.MethodPost, "/access/check", map[string]any{
			"user_id": "1", "organization_id": "3", "permission": "posts:read",
		}, middleware.APIKeyHeader, "gk_abc")
		Expect(w.Code).To(Equal(http.StatusForbidden))

		w = perform(router, http.MethodGet, "/access/permissions?user_id=1&organization_id=3", nil,
			middleware.APIKeyHeader, "gk_abc")
		Expect(w.Code).To(Equal(http.StatusForbidden))
	})
})
