// Package dispatch turns jobs into offers, runs the first-accept-wins transaction
// and walks the escalation ladder when offers lapse.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
	"github.com/cuongbtq/turnover-dispatch/internal/eligibility"
	"github.com/google/uuid"
)

// SystemActor is recorded on transitions nobody requested explicitly
const SystemActor = "system"

// Manager alert reasons
const (
	ReasonHeadsUp   = "heads_up"
	ReasonExhausted = "exhausted"
)

// Store is the transactional persistence the engine relies on
type Store interface {
	CreateJobs(ctx context.Context, jobs []*domain.Job) ([]*domain.Job, []string, error)
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter domain.JobFilter) ([]*domain.Job, error)
	UpdateJobStatus(ctx context.Context, update domain.StatusUpdate, now time.Time) (*domain.StatusChange, error)
	ListBusyWindows(ctx context.Context, from, to time.Time) ([]domain.BusyWindow, error)

	InsertOffer(ctx context.Context, offer *domain.Offer) (*domain.Job, error)
	GetOfferByID(ctx context.Context, offerID string) (*domain.Offer, error)
	AcceptOffer(ctx context.Context, offerID, staffID string, now time.Time) (*domain.Offer, *domain.Job, error)
	CancelOffer(ctx context.Context, offerID, reason, cancelledBy string, now time.Time) (*domain.Offer, *domain.Job, error)
	ExpireOffer(ctx context.Context, offerID string, now time.Time) (*domain.Offer, *domain.Job, error)
	ListExpiredOffers(ctx context.Context, now time.Time, limit int) ([]*domain.Offer, error)
	ListOpenOffersForStaff(ctx context.Context, staffID string, now time.Time) ([]*domain.Offer, error)
	AssignManually(ctx context.Context, m domain.ManualAssignment) (*domain.ManualAssignResult, error)

	ListStrandedJobs(ctx context.Context, filter domain.StrandedFilter) ([]domain.StrandedJob, error)
	MarkExhausted(ctx context.Context, jobID string, at time.Time) error
}

// StaffDirectory is the external roster lookup
type StaffDirectory interface {
	ListActiveStaff(ctx context.Context) ([]domain.Staff, error)
	GetStaffByID(ctx context.Context, staffID string) (*domain.Staff, error)
}

// Notifier carries every side effect the engine triggers after a commit.
// Implementations must not block for long; failures are logged by the engine.
type Notifier interface {
	NotifyStaff(ctx context.Context, staffID string, offer *domain.Offer, job *domain.Job) error
	NotifyManager(ctx context.Context, job *domain.Job, attempt int, reason string) error
	JobAssigned(ctx context.Context, job *domain.Job) error
	JobStatusChanged(ctx context.Context, job *domain.Job, from domain.JobStatus) error
}

// AuditRecorder appends audit events without failing the caller
type AuditRecorder interface {
	Record(ctx context.Context, e domain.AuditEvent)
}

// Config holds the engine tunables
type Config struct {
	MaxAttempts  int
	ExpiryWindow time.Duration
	Timing       domain.Timing
	// AutoOffer opens attempt 1 for every job created from a booking
	AutoOffer bool
	// NotifyConcurrency bounds the per-offer notification fan-out
	NotifyConcurrency int
}

// Dependencies wires the engine
type Dependencies struct {
	Store    Store
	Staff    StaffDirectory
	Resolver *eligibility.Resolver
	Notifier Notifier
	Audit    AuditRecorder
	Logger   *slog.Logger
	Config   Config
	// Clock and NewID default to time.Now and uuid.NewString
	Clock func() time.Time
	NewID func() string
}

// Engine is the offer engine. It holds no per-job state; all mutual exclusion
// lives in the store's transactions, so any number of engines may run at once.
type Engine struct {
	store    Store
	staff    StaffDirectory
	resolver *eligibility.Resolver
	notifier Notifier
	audit    AuditRecorder
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
	newID    func() string
}

// NewEngine creates a new Engine
func NewEngine(deps Dependencies) *Engine {
	cfg := deps.Config
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ExpiryWindow <= 0 {
		cfg.ExpiryWindow = 15 * time.Minute
	}
	if cfg.Timing == (domain.Timing{}) {
		cfg.Timing = domain.DefaultTiming()
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 8
	}

	resolver := deps.Resolver
	if resolver == nil {
		resolver = eligibility.NewResolver(eligibility.DefaultLadder)
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := deps.NewID
	if newID == nil {
		newID = uuid.NewString
	}

	return &Engine{
		store:    deps.Store,
		staff:    deps.Staff,
		resolver: resolver,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		logger:   deps.Logger,
		cfg:      cfg,
		now:      func() time.Time { return clock().UTC() },
		newID:    newID,
	}
}

// MaxAttempts returns the configured escalation bound
func (e *Engine) MaxAttempts() int {
	return e.cfg.MaxAttempts
}

func (e *Engine) record(ctx context.Context, ev domain.AuditEvent) {
	if ev.ID == "" {
		ev.ID = e.newID()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = e.now()
	}
	e.audit.Record(ctx, ev)
}
