package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	appquota "github.com/larklabs/backend/internal/application/quota"
	"github.com/larklabs/backend/internal/domain/quota"
	"github.com/larklabs/backend/internal/interfaces/http/dto"
	"github.com/larklabs/backend/internal/interfaces/http/middleware"
)

// SubscriberHandler serves subscriber registration and usage endpoints
type SubscriberHandler struct {
	BaseHandler
	service *appquota.QuotaService
}

// NewSubscriberHandler creates a new SubscriberHandler
func NewSubscriberHandler(service *appquota.QuotaService) *SubscriberHandler {
	return &SubscriberHandler{service: service}
}

// Register creates the usage record of a subscriber. Only admins may
// register on a paid tier.
// POST /api/v1/subscribers
func (h *SubscriberHandler) Register(c *gin.Context) {
	var req dto.RegisterSubscriberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}
	if !middleware.CanActFor(c, strings.TrimSpace(req.SubscriberID)) {
		h.Forbidden(c, "Token does not grant access to this subscriber")
		return
	}
	if tier, err := h.service.GetTier(req.TierID); err == nil && !tier.IsFree() && !middleware.IsAdmin(c) {
		h.Forbidden(c, "Registering on a paid tier requires the admin role")
		return
	}

	input := appquota.RegisterSubscriberInput{
		SubscriberID: req.SubscriberID,
		TierID:       req.TierID,
	}
	if req.SubscriptionStartDate != "" {
		start, err := parseStartDate(req.SubscriptionStartDate)
		if err != nil {
			h.Error(c, dto.ErrCodeInvalidInput, "subscription_start_date must be RFC 3339 or YYYY-MM-DD")
			return
		}
		input.SubscriptionStartDate = &start
	}

	summary, err := h.service.RegisterSubscriber(c.Request.Context(), input)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, summary)
}

// Usage returns the usage summary
// GET /api/v1/subscribers/:id/usage
func (h *SubscriberHandler) Usage(c *gin.Context) {
	summary, err := h.service.GetUsageSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

// Check reports whether an action would be allowed without consuming it
// POST /api/v1/subscribers/:id/usage/check
func (h *SubscriberHandler) Check(c *gin.Context) {
	action, ok := h.bindAction(c)
	if !ok {
		return
	}

	result, err := h.service.CheckAction(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, result)
}

// Consume records one use of an action. Denials answer 429 with the
// decision in data.
// POST /api/v1/subscribers/:id/usage/consume
func (h *SubscriberHandler) Consume(c *gin.Context) {
	action, ok := h.bindAction(c)
	if !ok {
		return
	}

	result, err := h.service.TryConsume(c.Request.Context(), c.Param("id"), action)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if result.Allowed {
		h.Success(c, result)
		return
	}

	resp := dto.NewErrorResponseWithRequestID(dto.ErrCodeQuotaExceeded, denialMessage(result), middleware.GetRequestID(c))
	resp.Data = result
	c.JSON(http.StatusTooManyRequests, resp)
}

// ChangeTier moves the subscriber to another tier. The route is admin-only.
// PUT /api/v1/subscribers/:id/tier
func (h *SubscriberHandler) ChangeTier(c *gin.Context) {
	var req dto.ChangeTierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	summary, err := h.service.ChangeTier(c.Request.Context(), c.Param("id"), req.TierID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

func (h *SubscriberHandler) bindAction(c *gin.Context) (quota.ActionType, bool) {
	var req dto.ActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return "", false
	}
	action, err := quota.ParseActionType(req.Action)
	if err != nil {
		h.HandleError(c, err)
		return "", false
	}
	return action, true
}

func denialMessage(r *appquota.QuotaCheckResult) string {
	if r.Error != nil {
		return r.Error.Error()
	}
	if r.UnknownTier {
		return "Subscriber tier " + r.TierID + " is not recognized"
	}
	return "Quota exceeded"
}

func parseStartDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
