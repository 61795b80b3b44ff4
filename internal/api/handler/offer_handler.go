package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/dto"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/telemetry"
	"github.com/gin-gonic/gin"
)

// OfferHandler handles offer-related HTTP requests
type OfferHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
	limiter    RateLimiter
}

// NewOfferHandler creates a new OfferHandler instance
func NewOfferHandler(deps *Dependencies) *OfferHandler {
	return &OfferHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		limiter:    deps.AcceptLimiter,
	}
}

// AcceptOffer handles POST /api/v1/offers/:offer_id/accept
func (h *OfferHandler) AcceptOffer(c *gin.Context) {
	offerID := c.Param("offer_id")

	var req dto.AcceptOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	actor := actorFrom(c)
	if actor.IsStaff() && actor.ID != req.StaffID {
		respondForbidden(c)
		return
	}

	if !h.allow(c, req.StaffID) {
		return
	}

	offer, job, err := h.dispatcher.AcceptOffer(c.Request.Context(), offerID, req.StaffID)
	if err != nil {
		respondError(c, h.logger, "accept offer", err)
		return
	}

	h.logger.Info("Offer accepted",
		slog.String("offer_id", offer.ID),
		slog.String("job_id", job.ID),
		slog.String("staff_id", req.StaffID),
	)

	c.JSON(http.StatusOK, dto.AcceptOfferResponse{
		JobID:   job.ID,
		OfferID: offer.ID,
		StaffID: req.StaffID,
		Status:  job.Status,
	})
}

// allow applies the accept rate limit. A limiter failure lets the request through.
func (h *OfferHandler) allow(c *gin.Context, staffID string) bool {
	if h.limiter == nil {
		return true
	}

	allowed, _, err := h.limiter.Allow(c.Request.Context(), "accept:"+staffID)
	if err != nil {
		h.logger.Warn("Rate limiter unavailable", slog.String("error", err.Error()))
		return true
	}
	if !allowed {
		telemetry.RateLimited.Inc()
		c.JSON(http.StatusTooManyRequests, dto.ErrorResponse{Error: "too many accept attempts", Reason: "rate_limited"})
		return false
	}
	return true
}

// CancelOffer handles DELETE /api/v1/offers/:offer_id
func (h *OfferHandler) CancelOffer(c *gin.Context) {
	if actorFrom(c).IsStaff() {
		respondForbidden(c)
		return
	}

	var req dto.CancelOfferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	offer, job, err := h.dispatcher.CancelOffer(c.Request.Context(), c.Param("offer_id"), req.Reason, req.CancelledBy)
	if err != nil {
		respondError(c, h.logger, "cancel offer", err)
		return
	}

	c.JSON(http.StatusOK, dto.OfferResponse{Offer: offer, Job: job})
}

// GetOffer handles GET /api/v1/offers/:offer_id
func (h *OfferHandler) GetOffer(c *gin.Context) {
	offer, err := h.dispatcher.GetOffer(c.Request.Context(), c.Param("offer_id"))
	if err != nil {
		respondError(c, h.logger, "get offer", err)
		return
	}

	actor := actorFrom(c)
	if actor.IsStaff() && !offer.IsEligible(actor.ID) {
		respondForbidden(c)
		return
	}

	c.JSON(http.StatusOK, dto.OfferResponse{Offer: offer})
}

// ListOffers handles GET /api/v1/offers?staff_id=
func (h *OfferHandler) ListOffers(c *gin.Context) {
	staffID := c.Query("staff_id")

	actor := actorFrom(c)
	if actor.IsStaff() {
		if staffID != "" && staffID != actor.ID {
			respondForbidden(c)
			return
		}
		staffID = actor.ID
	}
	if staffID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "staff_id is required"})
		return
	}

	offers, err := h.dispatcher.ListOpenOffers(c.Request.Context(), staffID)
	if err != nil {
		respondError(c, h.logger, "list offers", err)
		return
	}

	if offers == nil {
		offers = []*domain.Offer{}
	}
	c.JSON(http.StatusOK, dto.ListOffersResponse{Offers: offers})
}
