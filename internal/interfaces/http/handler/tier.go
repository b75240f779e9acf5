package handler

import (
	"errors"

	"github.com/gin-gonic/gin"
	appquota "github.com/larklabs/backend/internal/application/quota"
	"github.com/larklabs/backend/internal/domain/quota"
)

// TierHandler serves the tier registry
type TierHandler struct {
	BaseHandler
	service *appquota.QuotaService
}

// NewTierHandler creates a new TierHandler
func NewTierHandler(service *appquota.QuotaService) *TierHandler {
	return &TierHandler{service: service}
}

// List returns all tiers ordered by price
// GET /api/v1/tiers
func (h *TierHandler) List(c *gin.Context) {
	tiers := h.service.Tiers()
	out := make([]appquota.TierDTO, 0, len(tiers))
	for _, t := range tiers {
		out = append(out, appquota.ToTierDTO(t))
	}
	h.Success(c, out)
}

// Get returns one tier; unknown ids are 404
// GET /api/v1/tiers/:id
func (h *TierHandler) Get(c *gin.Context) {
	tier, err := h.service.GetTier(c.Param("id"))
	if err != nil {
		var unknown *quota.UnknownTierError
		if errors.As(err, &unknown) {
			h.NotFound(c, unknown.Error())
			return
		}
		h.HandleError(c, err)
		return
	}
	h.Success(c, appquota.ToTierDTO(tier))
}
