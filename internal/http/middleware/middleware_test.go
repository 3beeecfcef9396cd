package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
)

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, token string) (*model.User, *provider.Claims, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (*model.User, *provider.Claims, error) {
	if m.authenticateFn != nil {
		return m.authenticateFn(ctx, token)
	}
	return nil, nil, service.ErrUnauthorized
}

type mockKeyValidator struct {
	validateFn func(ctx context.Context, secret, permission string) (*model.APIKey, error)
}

func (m *mockKeyValidator) Validate(ctx context.Context, secret, permission string) (*model.APIKey, error) {
	if m.validateFn != nil {
		return m.validateFn(ctx, secret, permission)
	}
	return nil, &domain.APIKeyRejectedError{Reason: domain.APIKeyInvalid}
}

func serve(router *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

var _ = Describe("RequireAdminAPIKey", func() {
	newRouter := func(key string) *gin.Engine {
		r := gin.New()
		r.Use(middleware.RequireAdminAPIKey(key))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		return r
	}

	It("is unavailable when no key is configured", func() {
		w := serve(newRouter(""), map[string]string{middleware.AdminAPIKeyHeader: ""})
		Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
	})

	It("rejects a missing or wrong key", func() {
		r := newRouter("s3cret")
		Expect(serve(r, nil).Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(r, map[string]string{middleware.AdminAPIKeyHeader: "s3cre"}).Code).To(Equal(http.StatusUnauthorized))
	})

	It("accepts the header or a bearer token", func() {
		r := newRouter("s3cret")
		Expect(serve(r, map[string]string{middleware.AdminAPIKeyHeader: "s3cret"}).Code).To(Equal(http.StatusOK))
		Expect(serve(r, map[string]string{"Authorization": "Bearer s3cret"}).Code).To(Equal(http.StatusOK))
	})
})

var _ = Describe("RequireAuth", func() {
	var (
		router *gin.Engine
		auth   *mockAuthenticator
		seen   *model.User
		claims *provider.Claims
	)

	BeforeEach(func() {
		auth = &mockAuthenticator{}
		seen, claims = nil, nil
		router = gin.New()
		router.Use(middleware.RequireAuth(auth))
		router.GET("/", func(c *gin.Context) {
			seen = middleware.GetUser(c.Request.Context())
			claims = middleware.GetClaims(c.Request.Context())
			c.Status(http.StatusOK)
		})
	})

	It("rejects requests without a bearer token", func() {
		Expect(serve(router, nil).Code).To(Equal(http.StatusUnauthorized))
		Expect(serve(router, map[string]string{"Authorization": "Basic abc"}).Code).To(Equal(http.StatusUnauthorized))
	})

	It("attaches the user and claims", func() {
		auth.authenticateFn = func(_ context.Context, token string) (*model.User, *provider.Claims, error) {
			Expect(token).To(Equal("tok"))
			return &model.User{ID: 9}, &provider.Claims{ProviderID: "user_09"}, nil
		}

		w := serve(router, map[string]string{"Authorization": "Bearer tok"})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(seen).NotTo(BeNil())
		Expect(seen.ID).To(Equal(int64(9)))
		Expect(claims.ProviderID).To(Equal("user_09"))
	})

	It("returns 401 for rejected tokens", func() {
		w := serve(router, map[string]string{"Authorization": "Bearer expired"})

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
		Expect(seen).To(BeNil())
	})

	It("returns 500 when the lookup itself fails", func() {
		auth.authenticateFn = func(context.Context, string) (*model.User, *provider.Claims, error) {
			return nil, nil, errors.New("database down")
		}

		w := serve(router, map[string]string{"Authorization": "Bearer tok"})

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
	})
})

var _ = Describe("RequireAPIKey", func() {
	var validator *mockKeyValidator

	newRouter := func() *gin.Engine {
		r := gin.New()
		r.Use(middleware.RequireAPIKey(validator, "access:check"))
		r.GET("/", func(c *gin.Context) {
			key := middleware.GetAPIKey(c.Request.Context())
			c.String(http.StatusOK, key.Name)
		})
		return r
	}

	BeforeEach(func() {
		validator = &mockKeyValidator{}
	})

	It("rejects requests without a key before validating", func() {
		validator.validateFn = func(context.Context, string, string) (*model.APIKey, error) {
			Fail("validator should not be called")
			return nil, nil
		}
		Expect(serve(newRouter(), nil).Code).To(Equal(http.StatusUnauthorized))
	})

	It("attaches the admitted key and passes the required scope", func() {
		var gotSecret, gotPermission string
		validator.validateFn = func(_ context.Context, secret, permission string) (*model.APIKey, error) {
			gotSecret, gotPermission = secret, permission
			return &model.APIKey{ID: 1, Name: "billing"}, nil
		}

		w := serve(newRouter(), map[string]string{middleware.APIKeyHeader: "gk_abc"})

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(Equal("billing"))
		Expect(gotSecret).To(Equal("gk_abc"))
		Expect(gotPermission).To(Equal("access:check"))

		w = serve(newRouter(), map[string]string{"Authorization": "Bearer gk_abc"})
		Expect(w.Code).To(Equal(http.StatusOK))
	})

	DescribeTable("maps rejections to status codes",
		func(reason domain.APIKeyRejection, status int) {
			validator.validateFn = func(context.Context, string, string) (*model.APIKey, error) {
				return nil, &domain.APIKeyRejectedError{KeyID: 7, Reason: reason}
			}
			w := serve(newRouter(), map[string]string{middleware.APIKeyHeader: "gk_abc"})
			Expect(w.Code).To(Equal(status))
			Expect(w.Body.String()).To(ContainSubstring(string(reason)))
		},
		Entry("unknown", domain.APIKeyInvalid, http.StatusUnauthorized),
		Entry("revoked", domain.APIKeyInactive, http.StatusUnauthorized),
		Entry("expired", domain.APIKeyExpired, http.StatusUnauthorized),
		Entry("out of scope", domain.APIKeyInsufficientScope, http.StatusForbidden),
		Entry("throttled", domain.APIKeyRateLimited, http.StatusTooManyRequests),
	)

	It("returns 500 when the lookup itself fails", func() {
		validator.validateFn = func(context.Context, string, string) (*model.APIKey, error) {
			return nil, errors.New("connection reset")
		}
		Expect(serve(newRouter(), map[string]string{middleware.APIKeyHeader: "gk_abc"}).Code).
			To(Equal(http.StatusInternalServerError))
	})
})

var _ = Describe("Recovery", func() {
	It("turns a panic into a 500", func() {
		router := gin.New()
		router.Use(middleware.Recovery(), middleware.Logger())
		router.GET("/", func(*gin.Context) { panic("boom") })

		w := serve(router, nil)

		Expect(w.Code).To(Equal(http.StatusInternalServerError))
		Expect(w.Body.String()).To(MatchJSON(`{"error":"internal server error"}`))
	})
})
