package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/service"
)

type MembershipHandler struct {
	memberships service.MembershipService
}

func NewMembershipHandler(memberships service.MembershipService) *MembershipHandler {
	return &MembershipHandler{memberships: memberships}
}

// Add grants or changes a member's role. Omitting role_id uses the
// organization's default role.
func (h *MembershipHandler) Add(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	var req dto.AddMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	m, err := h.memberships.Add(c.Request.Context(), req.UserID, orgID, req.RoleID)
	if err != nil {
		respondError(c, err, "add member")
		return
	}
	c.JSON(http.StatusOK, dto.ToMembershipResponse(m))
}

// Update changes a member's role or status. A suspended member keeps the
// row but resolves no permissions.
func (h *MembershipHandler) Update(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req dto.UpdateMembershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	in := service.MembershipUpdate{RoleID: req.RoleID}
	if req.Status != nil {
		st := model.MembershipStatus(*req.Status)
		in.Status = &st
	}
	m, err := h.memberships.Update(c.Request.Context(), userID, orgID, in)
	if err != nil {
		respondError(c, err, "update member")
		return
	}
	c.JSON(http.StatusOK, dto.ToMembershipResponse(m))
}

func (h *MembershipHandler) Remove(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	if err := h.memberships.Remove(c.Request.Context(), userID, orgID); err != nil {
		respondError(c, err, "remove member")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *MembershipHandler) Get(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	m, err := h.memberships.Get(c.Request.Context(), userID, orgID)
	if err != nil {
		respondError(c, err, "get membership")
		return
	}
	c.JSON(http.StatusOK, dto.ToMembershipResponse(m))
}

func (h *MembershipHandler) ListByOrganization(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	ms, err := h.memberships.ListByOrganization(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err, "list members")
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberships": dto.ToMembershipResponses(ms)})
}

func (h *MembershipHandler) ListByUser(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	ms, err := h.memberships.ListByUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "list memberships")
		return
	}
	c.JSON(http.StatusOK, gin.H{"memberships": dto.ToMembershipResponses(ms)})
}
