package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/service"
)

type UserHandler struct {
	identity service.IdentityService
}

func NewUserHandler(identity service.IdentityService) *UserHandler {
	return &UserHandler{identity: identity}
}

// Create writes the local user and then creates the provider credential. On
// a provider failure the user exists unlinked and the 502 body carries its
// local_id for RetryLink.
func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.identity.CreateUser(c.Request.Context(), service.CreateUserInput{
		Email:     req.Email,
		Secret:    req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Metadata:  req.Metadata,
	})
	if err != nil {
		respondError(c, err, "create user")
		return
	}
	c.JSON(http.StatusCreated, dto.ToUserResponse(user))
}

func (h *UserHandler) RetryLink(c *gin.Context) {
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req dto.RetryLinkRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	user, err := h.identity.RetryLink(c.Request.Context(), id, req.Password)
	if err != nil {
		respondError(c, err, "link user")
		return
	}
	c.JSON(http.StatusOK, dto.ToUserResponse(user))
}

func (h *UserHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	user, err := h.identity.GetUser(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get user")
		return
	}
	c.JSON(http.StatusOK, dto.ToUserResponse(user))
}

func (h *UserHandler) List(c *gin.Context) {
	limit := queryInt32(c, "limit", 50, 200)
	offset, _ := strconv.ParseInt(c.Query("offset"), 10, 32)

	users, err := h.identity.ListUsers(c.Request.Context(), limit, int32(max(offset, 0)))
	if err != nil {
		respondError(c, err, "list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": dto.ToUserResponses(users)})
}

func (h *UserHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.identity.UpdateUser(c.Request.Context(), id, service.UserUpdate{
		FirstName:     req.FirstName,
		LastName:      req.LastName,
		EmailVerified: req.EmailVerified,
		Metadata:      req.Metadata,
		Status:        req.Status,
	})
	if err != nil {
		respondError(c, err, "update user")
		return
	}
	c.JSON(http.StatusOK, dto.ToUserResponse(user))
}

// Delete soft-deletes unless ?hard=true.
func (h *UserHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	hard := c.Query("hard") == "true"

	if err := h.identity.DeleteUser(c.Request.Context(), id, hard); err != nil {
		respondError(c, err, "delete user")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *UserHandler) ListConflicts(c *gin.Context) {
	conflicts, err := h.identity.ListLinkConflicts(c.Request.Context(), queryInt32(c, "limit", 50, 200))
	if err != nil {
		respondError(c, err, "list link conflicts")
		return
	}
	out := make([]*dto.ProviderEventResponse, len(conflicts))
	for i := range conflicts {
		out[i] = dto.ToProviderEventResponse(&conflicts[i])
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": out})
}

func (h *UserHandler) ResolveConflict(c *gin.Context) {
	id, ok := pathID(c, "conflict_id")
	if !ok {
		return
	}
	var req dto.ResolveConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pe, err := h.identity.ResolveLinkConflict(c.Request.Context(), id, service.ConflictAction(req.Action), req.ResolvedBy)
	if err != nil {
		respondError(c, err, "resolve link conflict")
		return
	}
	c.JSON(http.StatusOK, dto.ToProviderEventResponse(pe))
}

// Me returns the bearer's local user.
func (h *UserHandler) Me(c *gin.Context) {
	user := middleware.GetUser(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	c.JSON(http.StatusOK, dto.ToUserResponse(user))
}
