package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

var t0 = time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeDirectory struct {
	mu     sync.Mutex
	roster []domain.Staff
}

func (d *fakeDirectory) ListActiveStaff(context.Context) ([]domain.Staff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []domain.Staff
	for _, s := range d.roster {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out, nil
}

func (d *fakeDirectory) GetStaffByID(_ context.Context, staffID string) (*domain.Staff, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.roster {
		if s.ID == staffID {
			c := s
			return &c, nil
		}
	}
	return nil, domain.ErrStaffNotFound
}

func (d *fakeDirectory) setActive(staffID string, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.roster {
		if d.roster[i].ID == staffID {
			d.roster[i].IsActive = active
		}
	}
}

type managerCall struct {
	JobID   string
	Attempt int
	Reason  string
}

type fakeNotifier struct {
	mu        sync.Mutex
	staff     []string
	manager   []managerCall
	assigned  []string
	changes   []string
	failStaff map[string]bool
}

func (n *fakeNotifier) NotifyStaff(_ context.Context, staffID string, _ *domain.Offer, _ *domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failStaff[staffID] {
		return errors.New("push gateway unavailable")
	}
	n.staff = append(n.staff, staffID)
	return nil
}

func (n *fakeNotifier) NotifyManager(_ context.Context, job *domain.Job, attempt int, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.manager = append(n.manager, managerCall{JobID: job.ID, Attempt: attempt, Reason: reason})
	return nil
}

func (n *fakeNotifier) JobAssigned(_ context.Context, job *domain.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.assigned = append(n.assigned, job.ID)
	return nil
}

func (n *fakeNotifier) JobStatusChanged(_ context.Context, job *domain.Job, from domain.JobStatus) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, fmt.Sprintf("%s:%s->%s", job.ID, from, job.Status))
	return nil
}

func (n *fakeNotifier) managerCalls(reason string) []managerCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []managerCall
	for _, c := range n.manager {
		if c.Reason == reason {
			out = append(out, c)
		}
	}
	return out
}

type fakeAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (a *fakeAudit) Record(_ context.Context, e domain.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *fakeAudit) ofType(t domain.AuditEventType) []domain.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEvent
	for _, e := range a.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine   *Engine
	store    *memStore
	staff    *fakeDirectory
	notifier *fakeNotifier
	audit    *fakeAudit
	clock    *fakeClock
}

func newFixture(t *testing.T, cfg Config, roster ...domain.Staff) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		staff:    &fakeDirectory{roster: roster},
		notifier: &fakeNotifier{failStaff: map[string]bool{}},
		audit:    &fakeAudit{},
		clock:    &fakeClock{now: t0},
	}

	var seq atomic.Int64
	f.engine = NewEngine(Dependencies{
		Store:    f.store,
		Staff:    f.staff,
		Notifier: f.notifier,
		Audit:    f.audit,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:   cfg,
		Clock:    f.clock.Now,
		NewID:    func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})
	return f
}

// seedJob stores a pending job starting four hours after t0
func (f *fixture) seedJob(id string, jobType domain.JobType) *domain.Job {
	job := &domain.Job{
		ID:             id,
		BookingID:      "booking-" + id,
		PropertyID:     "property-1",
		PropertyName:   "Harbour Loft",
		GuestName:      "J. Doe",
		Type:           jobType,
		RequiredRole:   jobType.RequiredRole(),
		Sequence:       1,
		ScheduledStart: t0.Add(4 * time.Hour),
		ScheduledEnd:   t0.Add(7 * time.Hour),
		Status:         domain.JobStatusPending,
		Priority:       domain.PriorityMedium,
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
	f.store.mu.Lock()
	f.store.putJob(job)
	f.store.mu.Unlock()
	return cloneJob(job)
}

func staffMember(id string, role domain.Role, secondary ...domain.Role) domain.Staff {
	return domain.Staff{
		ID:             id,
		Name:           id,
		PrimaryRole:    role,
		SecondaryRoles: secondary,
		IsActive:       true,
		PushToken:      "token-" + id,
	}
}
