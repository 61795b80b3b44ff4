package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/dto"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

const reasonOfferUnavailable = "offer_unavailable"

// respondError maps an engine error onto its HTTP status. op names the failed
// operation in logs and in the 500 body.
func respondError(c *gin.Context, logger *slog.Logger, op string, err error) {
	var verr *domain.ValidationError
	var terr *domain.InvalidTransitionError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation failed", Fields: verr.Fields})

	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrOfferNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})

	case errors.Is(err, domain.ErrNotEligible):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{
			Error:  "staff member is not eligible for this offer",
			Reason: domain.ErrNotEligible.Error(),
		})

	case errors.Is(err, domain.ErrOfferExpired):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:  "this offer has expired",
			Reason: reasonOfferUnavailable,
			Detail: domain.ErrOfferExpired.Error(),
		})

	case errors.Is(err, domain.ErrOfferUnavailable):
		c.JSON(http.StatusConflict, dto.ErrorResponse{
			Error:  "this job was already taken",
			Reason: reasonOfferUnavailable,
			Detail: "already_taken",
		})

	case errors.Is(err, domain.ErrOfferNotOpen):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})

	case errors.Is(err, domain.ErrJobHasOpenOffer), errors.As(err, &terr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})

	default:
		logger.Error("Failed to "+op,
			slog.String("path", c.Request.URL.Path),
			slog.Bool("retryable", domain.IsRetryable(err)),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to " + op})
	}
}

func respondBindError(c *gin.Context, logger *slog.Logger, err error) {
	logger.Warn("Invalid request", slog.String("path", c.Request.URL.Path), slog.String("error", err.Error()))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body", Detail: err.Error()})
}

func respondForbidden(c *gin.Context) {
	c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "operation not permitted for this caller", Reason: "forbidden"})
}
