package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/service"
)

type RoleHandler struct {
	roles service.RoleService
}

func NewRoleHandler(roles service.RoleService) *RoleHandler {
	return &RoleHandler{roles: roles}
}

func (h *RoleHandler) Create(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	var req dto.CreateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	role, err := h.roles.Create(c.Request.Context(), service.CreateRoleInput{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		Permissions:    req.Permissions,
		IsDefault:      req.IsDefault,
	})
	if err != nil {
		respondError(c, err, "create role")
		return
	}
	c.JSON(http.StatusCreated, dto.ToRoleResponse(role))
}

func (h *RoleHandler) List(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	roles, err := h.roles.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err, "list roles")
		return
	}
	c.JSON(http.StatusOK, gin.H{"roles": dto.ToRoleResponses(roles)})
}

func (h *RoleHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	role, err := h.roles.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get role")
		return
	}
	c.JSON(http.StatusOK, dto.ToRoleResponse(role))
}

func (h *RoleHandler) Rename(c *gin.Context) {
	id, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	var req dto.RenameRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role, err := h.roles.Rename(c.Request.Context(), id, req.Name, req.Description)
	if err != nil {
		respondError(c, err, "rename role")
		return
	}
	c.JSON(http.StatusOK, dto.ToRoleResponse(role))
}

func (h *RoleHandler) SetPermissions(c *gin.Context) {
	h.mutate(c, h.roles.SetPermissions)
}

func (h *RoleHandler) AddPermissions(c *gin.Context) {
	h.mutate(c, h.roles.AddPermissions)
}

func (h *RoleHandler) RemovePermissions(c *gin.Context) {
	h.mutate(c, h.roles.RemovePermissions)
}

func (h *RoleHandler) mutate(c *gin.Context, op func(ctx context.Context, id int64, perms []string) (*model.Role, error)) {
	id, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	var req dto.PermissionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role, err := op(c.Request.Context(), id, req.Permissions)
	if err != nil {
		respondError(c, err, "update role permissions")
		return
	}
	c.JSON(http.StatusOK, dto.ToRoleResponse(role))
}

func (h *RoleHandler) SetDefault(c *gin.Context) {
	id, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	role, err := h.roles.SetDefault(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "set default role")
		return
	}
	c.JSON(http.StatusOK, dto.ToRoleResponse(role))
}

func (h *RoleHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "role_id")
	if !ok {
		return
	}
	if err := h.roles.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete role")
		return
	}
	c.Status(http.StatusNoContent)
}
