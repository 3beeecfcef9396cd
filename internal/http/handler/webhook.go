package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/invopop/jsonschema"

	"basegraph.app/gatekeeper/internal/domain"
	"basegraph.app/gatekeeper/internal/http/dto"
	"basegraph.app/gatekeeper/internal/service"
	"basegraph.app/gatekeeper/internal/webhook"
)

type WebhookHandler struct {
	webhooks service.WebhookSubscriptionService
	schema   *jsonschema.Schema
}

func NewWebhookHandler(webhooks service.WebhookSubscriptionService) *WebhookHandler {
	r := &jsonschema.Reflector{ExpandedStruct: true}
	schema := r.Reflect(&webhook.Envelope{})
	schema.Title = "Gatekeeper webhook envelope"

	return &WebhookHandler{webhooks: webhooks, schema: schema}
}

func (h *WebhookHandler) Create(c *gin.Context) {
	var req dto.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub, secret, err := h.webhooks.Create(c.Request.Context(), service.CreateSubscriptionInput{
		OrganizationID: req.OrganizationID,
		URL:            req.URL,
		Description:    req.Description,
		EventKinds:     req.EventKinds,
	})
	if err != nil {
		respondError(c, err, "create webhook subscription")
		return
	}

	resp := dto.ToSubscriptionResponse(sub)
	resp.Secret = secret
	c.JSON(http.StatusCreated, resp)
}

// List returns global subscriptions, or an organization's when
// ?organization_id is set.
func (h *WebhookHandler) List(c *gin.Context) {
	var orgID *int64
	if raw := c.Query("organization_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id", "code": "invalid"})
			return
		}
		orgID = &id
	}

	subs, err := h.webhooks.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err, "list webhook subscriptions")
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscriptions": dto.ToSubscriptionResponses(subs)})
}

func (h *WebhookHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	sub, err := h.webhooks.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "get webhook subscription")
		return
	}
	c.JSON(http.StatusOK, dto.ToSubscriptionResponse(sub))
}

func (h *WebhookHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	var req dto.UpdateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sub, err := h.webhooks.Update(c.Request.Context(), id, service.SubscriptionUpdate{
		URL:         req.URL,
		Description: req.Description,
		EventKinds:  req.EventKinds,
	})
	if err != nil {
		respondError(c, err, "update webhook subscription")
		return
	}
	c.JSON(http.StatusOK, dto.ToSubscriptionResponse(sub))
}

func (h *WebhookHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	if err := h.webhooks.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err, "delete webhook subscription")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *WebhookHandler) RotateSecret(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	secret, err := h.webhooks.RotateSecret(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "rotate webhook secret")
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": secret})
}

func (h *WebhookHandler) Reactivate(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	sub, err := h.webhooks.Reactivate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "reactivate webhook subscription")
		return
	}
	c.JSON(http.StatusOK, dto.ToSubscriptionResponse(sub))
}

func (h *WebhookHandler) ListDeliveries(c *gin.Context) {
	id, ok := pathID(c, "subscription_id")
	if !ok {
		return
	}
	ds, err := h.webhooks.ListDeliveries(c.Request.Context(), id, queryInt32(c, "limit", 50, 100))
	if err != nil {
		respondError(c, err, "list deliveries")
		return
	}
	c.JSON(http.StatusOK, gin.H{"deliveries": dto.ToDeliveryResponses(ds)})
}

func (h *WebhookHandler) ListAttempts(c *gin.Context) {
	id, ok := pathID(c, "delivery_id")
	if !ok {
		return
	}
	as, err := h.webhooks.ListAttempts(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "list delivery attempts")
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": dto.ToAttemptResponses(as)})
}

// Schema publishes the envelope's JSON Schema and the event kinds a
// subscription may name.
func (h *WebhookHandler) Schema(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"schema":      h.schema,
		"event_kinds": domain.EventKinds(),
		"headers": []string{
			webhook.HeaderSignature,
			webhook.HeaderEvent,
			webhook.HeaderDelivery,
			webhook.HeaderTimestamp,
		},
	})
}
