package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/turnover-dispatch/internal/api/dto"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger     *slog.Logger
	dispatcher Dispatcher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
	}
}

// ListJobs handles GET /api/v1/jobs
// Staff callers only see jobs assigned to them or offered to them.
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	verr := &domain.ValidationError{}
	filter := domain.JobFilter{
		PropertyID:      req.PropertyID,
		Status:          domain.JobStatus(req.Status),
		AssignedStaffID: req.AssignedStaffID,
		From:            parseTime("from", req.From, verr),
		To:              parseTime("to", req.To, verr),
		PageSize:        req.PageSize,
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		verr.Add("cursor", "is invalid")
	}
	filter.Cursor = cursor

	if err := verr.OrNil(); err != nil {
		respondError(c, h.logger, "list jobs", err)
		return
	}

	if actor := actorFrom(c); actor.IsStaff() {
		filter.VisibleTo = actor.ID
	}

	page, err := h.dispatcher.ListJobs(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "list jobs", err)
		return
	}

	jobs := page.Jobs
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: EncodeJobCursor(page.Next),
	})
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.dispatcher.GetJob(c.Request.Context(), c.Param("job_id"))
	if err != nil {
		respondError(c, h.logger, "get job", err)
		return
	}

	actor := actorFrom(c)
	if actor.IsStaff() && job.AssignedStaffID() != actor.ID {
		// staff may also look at a job currently offered to them
		if job.ActiveOfferID == "" {
			respondForbidden(c)
			return
		}
		offer, err := h.dispatcher.GetOffer(c.Request.Context(), job.ActiveOfferID)
		if err != nil || !offer.IsEligible(actor.ID) {
			respondForbidden(c)
			return
		}
	}

	c.JSON(http.StatusOK, job)
}

// UpdateJobStatus handles POST /api/v1/jobs/status
func (h *JobHandler) UpdateJobStatus(c *gin.Context) {
	var req dto.UpdateJobStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	actor := actorFrom(c)
	if actor.IsStaff() && !h.staffMayUpdate(c, actor, req) {
		respondForbidden(c)
		return
	}

	job, err := h.dispatcher.UpdateJobStatus(c.Request.Context(), domain.StatusUpdate{
		JobID:           req.JobID,
		Status:          domain.JobStatus(req.Status),
		AssignedStaffID: req.AssignedStaffID,
		CompletionData:  req.CompletionData,
		UpdatedBy:       req.UpdatedBy,
	})
	if err != nil {
		respondError(c, h.logger, "update job status", err)
		return
	}

	h.logger.Info("Job status updated",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
		slog.String("updated_by", req.UpdatedBy),
	)
	c.JSON(http.StatusOK, job)
}

// staffMayUpdate lets the assignee start and complete their own job
func (h *JobHandler) staffMayUpdate(c *gin.Context, actor Actor, req dto.UpdateJobStatusRequest) bool {
	status := domain.JobStatus(req.Status)
	if status != domain.JobStatusInProgress && status != domain.JobStatusCompleted {
		return false
	}
	if req.UpdatedBy != actor.ID {
		return false
	}
	job, err := h.dispatcher.GetJob(c.Request.Context(), req.JobID)
	if err != nil {
		// let the engine report the missing job
		return true
	}
	return job.AssignedStaffID() == actor.ID
}

// ReofferJob handles POST /api/v1/jobs/:job_id/offers
// An admin re-offer always starts again at attempt 1.
func (h *JobHandler) ReofferJob(c *gin.Context) {
	if actorFrom(c).IsStaff() {
		respondForbidden(c)
		return
	}

	var req dto.ReofferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, h.logger, err)
		return
	}

	offer, job, err := h.dispatcher.ReofferJob(c.Request.Context(), c.Param("job_id"), req.RequestedBy)
	if err != nil {
		respondError(c, h.logger, "re-offer job", err)
		return
	}

	status := http.StatusCreated
	if offer == nil {
		status = http.StatusOK
	}
	c.JSON(status, dto.ReofferResponse{Job: job, Offer: offer, Exhausted: offer == nil})
}
