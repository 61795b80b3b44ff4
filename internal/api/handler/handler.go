package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/dispatch"
	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/gin-gonic/gin"
)

// Dispatcher is the offer engine as seen by the HTTP layer
type Dispatcher interface {
	CreateJobs(ctx context.Context, booking domain.BookingSnapshot) ([]*domain.Job, error)
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) (*dispatch.JobPage, error)
	UpdateJobStatus(ctx context.Context, update domain.StatusUpdate) (*domain.Job, error)
	ReofferJob(ctx context.Context, jobID, actor string) (*domain.Offer, *domain.Job, error)

	AcceptOffer(ctx context.Context, offerID, staffID string) (*domain.Offer, *domain.Job, error)
	CancelOffer(ctx context.Context, offerID, reason, cancelledBy string) (*domain.Offer, *domain.Job, error)
	GetOffer(ctx context.Context, offerID string) (*domain.Offer, error)
	ListOpenOffers(ctx context.Context, staffID string) ([]*domain.Offer, error)
}

// AuditQuerier reads the audit trail
type AuditQuerier interface {
	Query(ctx context.Context, filter domain.AuditFilter) ([]domain.AuditEvent, error)
}

// RateLimiter takes one token for key
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, float64, error)
}

// HealthChecker reports whether a backing store is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger     *slog.Logger
	Dispatcher Dispatcher
	Audit      AuditQuerier
	// AcceptLimiter is optional; nil disables accept throttling
	AcceptLimiter RateLimiter
	// Database backs the readiness probe; nil reports ready
	Database    HealthChecker
	ServiceName string
}

// Caller roles set by the auth gateway
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
)

const actorKey = "actor"

// Actor is the authenticated caller
type Actor struct {
	ID   string
	Role string
}

// IsStaff reports whether results must be scoped to the caller
func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff
}

// SetActor stores the caller on the request context
func SetActor(c *gin.Context, actor Actor) {
	c.Set(actorKey, actor)
}

func actorFrom(c *gin.Context) Actor {
	if v, ok := c.Get(actorKey); ok {
		if actor, ok := v.(Actor); ok {
			return actor
		}
	}
	return Actor{}
}

func parseTime(field, value string, verr *domain.ValidationError) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		verr.Add(field, "must be an RFC3339 timestamp")
		return time.Time{}
	}
	return t.UTC()
}
