package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
)

type contextKey string

const (
	AdminAPIKeyHeader = "X-Admin-API-Key"
	APIKeyHeader      = "X-API-Key"

	userContextKey   contextKey = "user"
	claimsContextKey contextKey = "claims"
	apiKeyContextKey contextKey = "api_key"
)

// APIKeyValidator checks an organization API key against a permission.
type APIKeyValidator interface {
	Validate(ctx context.Context, secret, permission string) (*model.APIKey, error)
}

// TokenAuthenticator resolves a bearer token to a local user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, *provider.Claims, error)
}

// RequireAdminAPIKey guards operator endpoints. The key is read from
// X-Admin-API-Key, falling back to a bearer Authorization header.
func RequireAdminAPIKey(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin API not configured"})
			return
		}

		got := c.GetHeader(AdminAPIKeyHeader)
		if got == "" {
			got = bearerToken(c)
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(apiKey)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}

		c.Next()
	}
}

// RequireAuth verifies the provider-issued bearer token and attaches the
// local user to the request context.
func RequireAuth(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}

		user, claims, err := auth.Authenticate(ctx, token)
		if err != nil {
			if errors.Is(err, service.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
				return
			}
			slog.ErrorContext(ctx, "failed to authenticate bearer token", "error", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to authenticate"})
			return
		}

		ctx = context.WithValue(ctx, userContextKey, user)
		ctx = context.WithValue(ctx, claimsContextKey, claims)
		ctx = logger.WithLogFields(ctx, logger.LogFields{UserID: &user.ID})
		c.Request = c.Request.WithContext(ctx)

		c.Next()
	}
}

// RequireAPIKey admits callers holding an organization API key whose scopes
// grant permission. The key is read from X-API-Key, falling back to a bearer
// Authorization header, and attached to the request context.
func RequireAPIKey(keys APIKeyValidator, permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		secret := c.GetHeader(APIKeyHeader)
		if secret == "" {
			secret = bearerToken(c)
		}
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}

		key, err := keys.Validate(ctx, secret, permission)
		if err != nil {
			var rejected *domain.APIKeyRejectedError
			if !errors.As(err, &rejected) {
				slog.ErrorContext(ctx, "failed to validate api key", "error", err)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to authenticate"})
				return
			}
			status := http.StatusUnauthorized
			switch rejected.Reason {
			case domain.APIKeyInsufficientScope:
				status = http.StatusForbidden
			case domain.APIKeyRateLimited:
				c.Header("Retry-After", "60")
				status = http.StatusTooManyRequests
			}
			c.AbortWithStatusJSON(status, gin.H{"error": rejected.Error(), "code": string(rejected.Reason)})
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(ctx, apiKeyContextKey, key))
		c.Next()
	}
}

// GetAPIKey returns the key RequireAPIKey admitted, or nil.
func GetAPIKey(ctx context.Context) *model.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*model.APIKey)
	return key
}

func GetUser(ctx context.Context) *model.User {
	user, _ := ctx.Value(userContextKey).(*model.User)
	return user
}

func GetClaims(ctx context.Context) *provider.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*provider.Claims)
	return claims
}

func bearerToken(c *gin.Context) string {
	token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}
