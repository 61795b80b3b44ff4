package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/dto"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

// BookingHandler receives job creation requests from the booking system
type BookingHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

// NewBookingHandler creates a new BookingHandler instance
func NewBookingHandler(deps *Dependencies) *BookingHandler {
	return &BookingHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
	}
}

// CreateJobs handles POST /api/v1/bookings/jobs
// Replaying the same booking returns the jobs created the first time.
func (h *BookingHandler) CreateJobs(c *gin.Context) {
	if actorFrom(c).IsStaff() {
		respondForbidden(c)
		return
	}

	var booking domain.BookingSnapshot
	if err := c.ShouldBindJSON(&booking); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	jobs, err := h.dispatcher.CreateJobs(c.Request.Context(), booking)
	if err != nil {
		respondError(c, h.logger, "create jobs", err)
		return
	}

	h.logger.Info("Jobs created for booking",
		slog.String("booking_id", booking.BookingID),
		slog.Int("jobs", len(jobs)),
	)
	c.JSON(http.StatusCreated, dto.CreateJobsResponse{Jobs: jobs})
}
