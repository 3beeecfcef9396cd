package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/service"
)

type InvitationHandler struct {
	invitations service.InvitationService
}

func NewInvitationHandler(invitations service.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// Create issues an invitation (admin only). The URL is returned once.
func (h *InvitationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	var req dto.CreateInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inv, inviteURL, err := h.invitations.Create(ctx, orgID, req.Email, req.RoleID, req.InvitedBy)
	if err != nil {
		respondError(c, err, "create invitation")
		return
	}

	slog.InfoContext(ctx, "invitation created via admin API", "invitation_id", inv.ID, "organization_id", orgID)

	resp := dto.ToInvitationResponse(inv)
	resp.InviteURL = inviteURL
	c.JSON(http.StatusCreated, resp)
}

func (h *InvitationHandler) List(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	invs, err := h.invitations.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err, "list invitations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"invitations": dto.ToInvitationResponses(invs)})
}

func (h *InvitationHandler) Revoke(c *gin.Context) {
	id, ok := pathID(c, "invitation_id")
	if !ok {
		return
	}
	inv, err := h.invitations.Revoke(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "revoke invitation")
		return
	}
	c.JSON(http.StatusOK, dto.ToInvitationResponse(inv))
}

// Validate checks a token without consuming it (public endpoint).
func (h *InvitationHandler) Validate(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token is required", "code": "invalid"})
		return
	}

	inv, err := h.invitations.Validate(c.Request.Context(), token)
	if err != nil {
		respondError(c, err, "validate invitation")
		return
	}
	c.JSON(http.StatusOK, dto.ValidateInvitationResponse{
		Email:          inv.Email,
		OrganizationID: inv.OrganizationID,
		ExpiresAt:      inv.ExpiresAt,
		Valid:          true,
	})
}

// Accept consumes the token for the bearer.
func (h *InvitationHandler) Accept(c *gin.Context) {
	ctx := c.Request.Context()
	user := middleware.GetUser(ctx)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var req dto.AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	inv, m, err := h.invitations.Accept(ctx, req.Token, user.ID)
	if err != nil {
		respondError(c, err, "accept invitation")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"invitation": dto.ToInvitationResponse(inv),
		"membership": dto.ToMembershipResponse(m),
	})
}
