package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/http/middleware"
)

// AccessChecker answers permission questions. Every answer is a plain bool;
// missing users, organizations and roles resolve to false.
type AccessChecker interface {
	Resolve(ctx context.Context, userID, orgID int64, permission string) bool
	CheckAny(ctx context.Context, userID, orgID int64, permissions []string) bool
	CheckAll(ctx context.Context, userID, orgID int64, permissions []string) bool
	HasRole(ctx context.Context, userID, orgID int64, roleName string) bool
	Permissions(ctx context.Context, userID, orgID int64) []string
}

type AccessHandler struct {
	access AccessChecker
}

func NewAccessHandler(access AccessChecker) *AccessHandler {
	return &AccessHandler{access: access}
}

// inScope refuses questions about another organization when the caller came
// in with an organization API key.
func inScope(c *gin.Context, orgID int64) bool {
	key := middleware.GetAPIKey(c.Request.Context())
	if key != nil && key.OrganizationID != orgID {
		c.JSON(http.StatusForbidden, gin.H{"error": "api key is not valid for this organization", "code": "wrong_organization"})
		return false
	}
	return true
}

func (h *AccessHandler) Check(c *gin.Context) {
	var req dto.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !inScope(c, req.OrganizationID) {
		return
	}
	allowed := h.access.Resolve(c.Request.Context(), req.UserID, req.OrganizationID, req.Permission)
	c.JSON(http.StatusOK, dto.CheckResponse{Allowed: allowed})
}

func (h *AccessHandler) CheckAny(c *gin.Context) {
	var req dto.CheckManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !inScope(c, req.OrganizationID) {
		return
	}
	allowed := h.access.CheckAny(c.Request.Context(), req.UserID, req.OrganizationID, req.Permissions)
	c.JSON(http.StatusOK, dto.CheckResponse{Allowed: allowed})
}

func (h *AccessHandler) CheckAll(c *gin.Context) {
	var req dto.CheckManyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !inScope(c, req.OrganizationID) {
		return
	}
	allowed := h.access.CheckAll(c.Request.Context(), req.UserID, req.OrganizationID, req.Permissions)
	c.JSON(http.StatusOK, dto.CheckResponse{Allowed: allowed})
}

func (h *AccessHandler) HasRole(c *gin.Context) {
	var req dto.HasRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !inScope(c, req.OrganizationID) {
		return
	}
	allowed := h.access.HasRole(c.Request.Context(), req.UserID, req.OrganizationID, req.Role)
	c.JSON(http.StatusOK, dto.CheckResponse{Allowed: allowed})
}

// Permissions lists the raw patterns ?user_id holds in ?organization_id.
func (h *AccessHandler) Permissions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id", "code": "invalid"})
		return
	}
	orgID, err := strconv.ParseInt(c.Query("organization_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id", "code": "invalid"})
		return
	}
	if !inScope(c, orgID) {
		return
	}

	perms := h.access.Permissions(c.Request.Context(), userID, orgID)
	if perms == nil {
		perms = []string{}
	}
	c.JSON(http.StatusOK, dto.PermissionsResponse{Permissions: perms})
}
