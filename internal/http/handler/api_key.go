package handler

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/service"
)

type APIKeyHandler struct {
	keys service.APIKeyService
}

func NewAPIKeyHandler(keys service.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{keys: keys}
}

// Create mints a key for the organization. The secret is in this response
// and nowhere else.
func (h *APIKeyHandler) Create(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	var req dto.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	issued, err := h.keys.Create(c.Request.Context(), service.CreateAPIKeyInput{
		OrganizationID: orgID,
		Name:           req.Name,
		Description:    req.Description,
		Scopes:         req.Scopes,
		RateLimit:      req.RateLimit,
		ExpiresAt:      req.ExpiresAt,
		CreatedBy:      req.CreatedBy,
	})
	if err != nil {
		respondError(c, err, "create api key")
		return
	}
	c.JSON(http.StatusCreated, dto.ToIssuedAPIKeyResponse(issued.Key, issued.Secret))
}

// List pages through the organization's keys. ?active=true hides revoked
// and expired ones.
func (h *APIKeyHandler) List(c *gin.Context) {
	orgID, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	keys, err := h.keys.List(c.Request.Context(), orgID, activeOnly,
		queryInt32(c, "limit", 50, 200), queryInt32(c, "offset", 0, math.MaxInt32))
	if err != nil {
		respondError(c, err, "list api keys")
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": dto.ToAPIKeyResponses(keys)})
}

func (h *APIKeyHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "key_id")
	if !ok {
		return
	}
	key, err := h.keys.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get api key")
		return
	}
	c.JSON(http.StatusOK, dto.ToAPIKeyResponse(key))
}

func (h *APIKeyHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "key_id")
	if !ok {
		return
	}
	var req dto.UpdateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	key, err := h.keys.Update(c.Request.Context(), id, service.APIKeyUpdate{
		Name:        req.Name,
		Description: req.Description,
		Scopes:      req.Scopes,
		RateLimit:   req.RateLimit,
		IsActive:    req.IsActive,
	})
	if err != nil {
		respondError(c, err, "update api key")
		return
	}
	c.JSON(http.StatusOK, dto.ToAPIKeyResponse(key))
}

func (h *APIKeyHandler) Rotate(c *gin.Context) {
	id, ok := pathID(c, "key_id")
	if !ok {
		return
	}
	var req dto.RotateAPIKeyRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	issued, err := h.keys.Rotate(c.Request.Context(), id, req.ExpiresAt)
	if err != nil {
		respondError(c, err, "rotate api key")
		return
	}
	c.JSON(http.StatusOK, dto.ToIssuedAPIKeyResponse(issued.Key, issued.Secret))
}

func (h *APIKeyHandler) Revoke(c *gin.Context) {
	id, ok := pathID(c, "key_id")
	if !ok {
		return
	}
	key, err := h.keys.Revoke(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "revoke api key")
		return
	}
	c.JSON(http.StatusOK, dto.ToAPIKeyResponse(key))
}

func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "key_id")
	if !ok {
		return
	}
	if err := h.keys.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete api key")
		return
	}
	c.Status(http.StatusNoContent)
}

// Verify answers whether a key is usable, and for which permission if one is
// given. Rejections are a 200 with valid=false and the reason.
func (h *APIKeyHandler) Verify(c *gin.Context) {
	var req dto.VerifyAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	key, err := h.keys.Validate(c.Request.Context(), req.Key, req.Permission)
	var rejected *domain.APIKeyRejectedError
	switch {
	case errors.As(err, &rejected):
		c.JSON(http.StatusOK, dto.VerifyAPIKeyResponse{Valid: false, Reason: string(rejected.Reason)})
	case err != nil:
		respondError(c, err, "verify api key")
	default:
		c.JSON(http.StatusOK, dto.VerifyAPIKeyResponse{Valid: true, Key: dto.ToAPIKeyResponse(key)})
	}
}
