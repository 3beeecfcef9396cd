package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/service"
)

// respondError writes the status and body for err. action completes the
// sentence "failed to ..." for unexpected errors.
func respondError(c *gin.Context, err error, action string) {
	ctx := c.Request.Context()

	var (
		syncErr     *domain.SyncFailedError
		linkErr     *domain.LinkConflictError
		conflictErr *domain.ConflictError
		immutable   *domain.ImmutableRoleError
		rejected    *domain.APIKeyRejectedError
	)
	switch {
	case errors.As(err, &syncErr):
		slog.WarnContext(ctx, "provider step failed", "error", err, "local_id", syncErr.LocalID, "op", syncErr.Op)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "identity provider step failed, retry with local_id",
			"code":     "sync_failed",
			"op":       syncErr.Op,
			"local_id": strconv.FormatInt(syncErr.LocalID, 10),
		})
	case errors.As(err, &linkErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":             "credential conflicts with an existing link",
			"code":              "link_conflict",
			"local_id":          strconv.FormatInt(linkErr.LocalID, 10),
			"provider_event_id": strconv.FormatInt(linkErr.ProviderEventID, 10),
		})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, gin.H{"error": conflictErr.Error(), "code": "conflict"})
	case errors.As(err, &immutable):
		c.JSON(http.StatusForbidden, gin.H{"error": immutable.Error(), "code": "immutable_role"})
	case errors.As(err, &rejected):
		c.JSON(apiKeyRejectionStatus(rejected.Reason), gin.H{"error": rejected.Error(), "code": string(rejected.Reason)})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "code": "not_found"})
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid"})
	case errors.Is(err, service.ErrInviteExpired):
		c.JSON(http.StatusGone, gin.H{"error": "invitation has expired", "code": "expired"})
	case errors.Is(err, service.ErrInviteAlreadyUsed):
		c.JSON(http.StatusGone, gin.H{"error": "invitation has already been used", "code": "already_used"})
	case errors.Is(err, service.ErrInviteRevoked):
		c.JSON(http.StatusGone, gin.H{"error": "invitation has been revoked", "code": "revoked"})
	case errors.Is(err, service.ErrEmailMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "invitation was sent to a different email", "code": "email_mismatch"})
	case errors.Is(err, service.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
	default:
		slog.ErrorContext(ctx, "failed to "+action, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to " + action})
	}
}

func apiKeyRejectionStatus(reason domain.APIKeyRejection) int {
	switch reason {
	case domain.APIKeyInsufficientScope:
		return http.StatusForbidden
	case domain.APIKeyRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusUnauthorized
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error(), "code": "invalid"})
}

// pathID parses a snowflake id path parameter, writing a 400 when it is not one.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name, "code": "invalid"})
		return 0, false
	}
	return id, true
}

func queryInt32(c *gin.Context, name string, def, ceiling int32) int32 {
	v, err := strconv.ParseInt(c.Query(name), 10, 32)
	if err != nil || v <= 0 {
		return def
	}
	return min(int32(v), ceiling)
}
