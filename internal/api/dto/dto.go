package dto

import (
	"encoding/json"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

type AcceptOfferRequest struct {
	StaffID string `json:"staff_id" binding:"required"`
}

type AcceptOfferResponse struct {
	JobID   string           `json:"job_id"`
	OfferID string           `json:"offer_id"`
	StaffID string           `json:"staff_id"`
	Status  domain.JobStatus `json:"status"`
}

type CancelOfferRequest struct {
	Reason      string `json:"reason" binding:"required"`
	CancelledBy string `json:"cancelled_by" binding:"required"`
}

type OfferResponse struct {
	Offer *domain.Offer `json:"offer"`
	Job   *domain.Job   `json:"job,omitempty"`
}

type ListOffersResponse struct {
	Offers []*domain.Offer `json:"offers"`
}

type ListJobsRequest struct {
	PropertyID      string `form:"property_id"`
	Status          string `form:"status"`
	AssignedStaffID string `form:"assigned_staff_id"`
	From            string `form:"from"`
	To              string `form:"to"`
	PageSize        int    `form:"page_size"`
	Cursor          string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []*domain.Job `json:"jobs"`
	NextCursor string        `json:"next_cursor,omitempty"`
}

type UpdateJobStatusRequest struct {
	JobID           string          `json:"job_id" binding:"required"`
	Status          string          `json:"status" binding:"required"`
	AssignedStaffID string          `json:"assigned_staff_id"`
	CompletionData  json.RawMessage `json:"completion_data"`
	UpdatedBy       string          `json:"updated_by" binding:"required"`
}

type ReofferRequest struct {
	RequestedBy string `json:"requested_by" binding:"required"`
}

// ReofferResponse carries a nil offer when every attempt came up empty
type ReofferResponse struct {
	Job       *domain.Job   `json:"job"`
	Offer     *domain.Offer `json:"offer,omitempty"`
	Exhausted bool          `json:"exhausted"`
}

type CreateJobsResponse struct {
	Jobs []*domain.Job `json:"jobs"`
}

type AuditQueryRequest struct {
	JobID   string `form:"job_id"`
	OfferID string `form:"offer_id"`
	StaffID string `form:"staff_id"`
	From    string `form:"from"`
	To      string `form:"to"`
	Limit   int    `form:"limit"`
}

type AuditQueryResponse struct {
	Events []domain.AuditEvent `json:"events"`
}

type ErrorResponse struct {
	Error  string              `json:"error"`
	Reason string              `json:"reason,omitempty"`
	Detail string              `json:"detail,omitempty"`
	Fields []domain.FieldError `json:"fields,omitempty"`
}
