package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/common/logger"
	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/provider"
	"basegraph.app/gatekeeper/internal/service"
)

const (
	providerSignatureHeader = "WorkOS-Signature"
	maxProviderBody         = 1 << 20
)

// ProviderWebhookHandler receives credential notifications from the
// identity provider.
type ProviderWebhookHandler struct {
	parser   provider.NotificationParser
	identity service.IdentityService
}

func NewProviderWebhookHandler(parser provider.NotificationParser, identity service.IdentityService) *ProviderWebhookHandler {
	return &ProviderWebhookHandler{parser: parser, identity: identity}
}

func (h *ProviderWebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxProviderBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	n, err := h.parser.Parse(c.GetHeader(providerSignatureHeader), body)
	switch {
	case errors.Is(err, provider.ErrInvalidSignature):
		slog.WarnContext(ctx, "rejected provider webhook", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	case errors.Is(err, provider.ErrUnsupportedEvent):
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	case err != nil:
		slog.WarnContext(ctx, "malformed provider webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{ProviderID: &n.User.ProviderID})

	user, err := h.identity.UpsertFromProvider(ctx, n)
	if err != nil {
		// A conflict is parked for an operator; retrying the delivery cannot help.
		var lc *domain.LinkConflictError
		if errors.As(err, &lc) {
			c.JSON(http.StatusOK, gin.H{"status": "conflict_recorded"})
			return
		}
		respondError(c, err, "process provider event")
		return
	}

	slog.InfoContext(ctx, "provider event applied", "user_id", user.ID, "event", n.Kind)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
