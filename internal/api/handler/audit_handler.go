package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/dto"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

// AuditHandler serves the audit trail to admins and managers
type AuditHandler struct {
	logger *slog.Logger
	audit  AuditQuerier
}

// NewAuditHandler creates a new AuditHandler instance
func NewAuditHandler(deps *Dependencies) *AuditHandler {
	return &AuditHandler{
		logger: deps.Logger,
		audit:  deps.Audit,
	}
}

// QueryEvents handles GET /api/v1/audit
func (h *AuditHandler) QueryEvents(c *gin.Context) {
	if actorFrom(c).IsStaff() {
		respondForbidden(c)
		return
	}

	var req dto.AuditQueryRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	verr := &domain.ValidationError{}
	filter := domain.AuditFilter{
		JobID:   req.JobID,
		OfferID: req.OfferID,
		StaffID: req.StaffID,
		From:    parseTime("from", req.From, verr),
		To:      parseTime("to", req.To, verr),
		Limit:   req.Limit,
	}
	if err := verr.OrNil(); err != nil {
		respondError(c, h.logger, "query audit events", err)
		return
	}

	events, err := h.audit.Query(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "query audit events", err)
		return
	}

	if events == nil {
		events = []domain.AuditEvent{}
	}
	c.JSON(http.StatusOK, dto.AuditQueryResponse{Events: events})
}
