package handler

import (
	"context"
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/http/middleware"
	"basegraph.app/gatekeeper/internal/model"
	"basegraph.app/gatekeeper/internal/service"
)

// EventLister reads an organization's slice of the event log.
type EventLister interface {
	ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.Event, error)
}

// AuditLister reads an organization's audit trail.
type AuditLister interface {
	ListByOrganization(ctx context.Context, orgID int64, limit int32) ([]model.AuditEntry, error)
}

type OrganizationHandler struct {
	orgs   service.OrganizationService
	events EventLister
	audit  AuditLister
}

func NewOrganizationHandler(orgs service.OrganizationService, events EventLister, audit AuditLister) *OrganizationHandler {
	return &OrganizationHandler{orgs: orgs, events: events, audit: audit}
}

// Create is the operator endpoint; the creator, if any, comes from the body.
func (h *OrganizationHandler) Create(c *gin.Context) {
	var req dto.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, req, req.CreatorID)
}

// CreateMine makes the bearer the new organization's Owner.
func (h *OrganizationHandler) CreateMine(c *gin.Context) {
	user := middleware.GetUser(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	var req dto.CreateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	h.create(c, req, &user.ID)
}

func (h *OrganizationHandler) create(c *gin.Context, req dto.CreateOrganizationRequest, creatorID *int64) {
	org, err := h.orgs.Create(c.Request.Context(), req.Name, req.Slug, creatorID)
	if err != nil {
		respondError(c, err, "create organization")
		return
	}
	c.JSON(http.StatusCreated, dto.ToOrganizationResponse(org))
}

func (h *OrganizationHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	org, err := h.orgs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get organization")
		return
	}
	c.JSON(http.StatusOK, dto.ToOrganizationResponse(org))
}

func (h *OrganizationHandler) GetBySlug(c *gin.Context) {
	org, err := h.orgs.GetBySlug(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, err, "get organization")
		return
	}
	c.JSON(http.StatusOK, dto.ToOrganizationResponse(org))
}

// List is the operator listing. ?status filters, and deleted organizations
// only appear when asked for by status.
func (h *OrganizationHandler) List(c *gin.Context) {
	var status *model.OrganizationStatus
	if raw := c.Query("status"); raw != "" {
		st := model.OrganizationStatus(raw)
		status = &st
	}
	orgs, err := h.orgs.List(c.Request.Context(), status,
		queryInt32(c, "limit", 50, 200), queryInt32(c, "offset", 0, math.MaxInt32))
	if err != nil {
		respondError(c, err, "list organizations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": dto.ToOrganizationResponses(orgs)})
}

func (h *OrganizationHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	var req dto.UpdateOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	in := service.OrganizationUpdate{Name: req.Name, Slug: req.Slug, Settings: req.Settings}
	if req.Status != nil {
		st := model.OrganizationStatus(*req.Status)
		in.Status = &st
	}
	org, err := h.orgs.Update(c.Request.Context(), id, in)
	if err != nil {
		respondError(c, err, "update organization")
		return
	}
	c.JSON(http.StatusOK, dto.ToOrganizationResponse(org))
}

// Delete marks the organization deleted; ?hard=true removes it and
// everything scoped to it.
func (h *OrganizationHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	hard, _ := strconv.ParseBool(c.Query("hard"))
	if err := h.orgs.Delete(c.Request.Context(), id, hard); err != nil {
		respondError(c, err, "delete organization")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrganizationHandler) ListForUser(c *gin.Context) {
	id, ok := pathID(c, "user_id")
	if !ok {
		return
	}
	h.listForUser(c, id)
}

func (h *OrganizationHandler) ListMine(c *gin.Context) {
	user := middleware.GetUser(c.Request.Context())
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	h.listForUser(c, user.ID)
}

func (h *OrganizationHandler) listForUser(c *gin.Context, userID int64) {
	orgs, err := h.orgs.ListForUser(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err, "list organizations")
		return
	}
	c.JSON(http.StatusOK, gin.H{"organizations": dto.ToOrganizationResponses(orgs)})
}

func (h *OrganizationHandler) ListEvents(c *gin.Context) {
	id, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	events, err := h.events.ListByOrganization(c.Request.Context(), id, queryInt32(c, "limit", 100, 500))
	if err != nil {
		respondError(c, err, "list events")
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": dto.ToEventResponses(events)})
}

func (h *OrganizationHandler) ListAudit(c *gin.Context) {
	id, ok := pathID(c, "org_id")
	if !ok {
		return
	}
	entries, err := h.audit.ListByOrganization(c.Request.Context(), id, queryInt32(c, "limit", 100, 500))
	if err != nil {
		respondError(c, err, "list audit entries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": dto.ToAuditEntryResponses(entries)})
}
