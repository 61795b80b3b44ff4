package dispatch

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

// memStore mirrors the storage package's transactions with one mutex standing in
// for row locks. It applies the same domain methods in the same order.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*domain.Job
	offers  map[string]*domain.Offer
	history map[string][]domain.JobStatus
	// exhausted holds pending jobs whose escalation ended with an alert
	exhausted map[string]bool

	insertErr error
}

func newMemStore() *memStore {
	return &memStore{
		jobs:      make(map[string]*domain.Job),
		offers:    make(map[string]*domain.Offer),
		history:   make(map[string][]domain.JobStatus),
		exhausted: make(map[string]bool),
	}
}

func cloneJob(j *domain.Job) *domain.Job {
	c := *j
	if j.Assignment != nil {
		a := *j.Assignment
		c.Assignment = &a
	}
	c.CompletionData = slices.Clone(j.CompletionData)
	return &c
}

func cloneOffer(o *domain.Offer) *domain.Offer {
	c := *o
	c.EligibleStaffIDs = slices.Clone(o.EligibleStaffIDs)
	if o.Acceptance != nil {
		a := *o.Acceptance
		c.Acceptance = &a
	}
	if o.Closure != nil {
		cl := *o.Closure
		c.Closure = &cl
	}
	return &c
}

func (m *memStore) putJob(j *domain.Job) {
	prev, ok := m.jobs[j.ID]
	if !ok || prev.Status != j.Status {
		m.history[j.ID] = append(m.history[j.ID], j.Status)
	}
	if j.Status != domain.JobStatusPending {
		delete(m.exhausted, j.ID)
	}
	m.jobs[j.ID] = cloneJob(j)
}

func (m *memStore) statusHistory(jobID string) []domain.JobStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history[jobID])
}

func (m *memStore) offersForJob(jobID string) []*domain.Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Offer
	for _, o := range m.offers {
		if o.JobID == jobID {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].OfferedAt.Equal(out[k].OfferedAt) {
			return out[i].OfferedAt.Before(out[k].OfferedAt)
		}
		return out[i].AttemptNumber < out[k].AttemptNumber
	})
	return out
}

func (m *memStore) CreateJobs(_ context.Context, jobs []*domain.Job) ([]*domain.Job, []string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var inserted []string
	for _, job := range jobs {
		exists := false
		for _, j := range m.jobs {
			if j.BookingID == job.BookingID && j.Type == job.Type && j.Sequence == job.Sequence {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		m.putJob(job)
		inserted = append(inserted, job.ID)
	}

	var all []*domain.Job
	for _, j := range m.jobs {
		if len(jobs) > 0 && j.BookingID == jobs[0].BookingID {
			all = append(all, cloneJob(j))
		}
	}
	sort.Slice(all, func(i, k int) bool {
		if !all[i].ScheduledStart.Equal(all[k].ScheduledStart) {
			return all[i].ScheduledStart.Before(all[k].ScheduledStart)
		}
		return all[i].Type < all[k].Type
	})
	return all, inserted, nil
}

func (m *memStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (m *memStore) ListJobs(_ context.Context, filter domain.JobFilter) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Job
	for _, j := range m.jobs {
		if filter.PropertyID != "" && j.PropertyID != filter.PropertyID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Cursor != nil && !(j.CreatedAt.Before(filter.Cursor.CreatedAt) ||
			(j.CreatedAt.Equal(filter.Cursor.CreatedAt) && j.ID < filter.Cursor.JobID)) {
			continue
		}
		out = append(out, cloneJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}

func (m *memStore) UpdateJobStatus(_ context.Context, update domain.StatusUpdate, now time.Time) (*domain.StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[update.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job := cloneJob(stored)
	from := job.Status
	activeOfferID := job.ActiveOfferID
	if err := job.Transition(update.Status, now); err != nil {
		return nil, err
	}
	if len(update.CompletionData) > 0 {
		job.CompletionData = update.CompletionData
	}

	change := &domain.StatusChange{From: from}
	if update.Status == domain.JobStatusCancelled && activeOfferID != "" {
		if o, ok := m.offers[activeOfferID]; ok {
			offer := cloneOffer(o)
			if err := offer.Cancel("job cancelled", update.UpdatedBy, now); err == nil {
				m.offers[offer.ID] = offer
				change.CancelledOffer = cloneOffer(offer)
			}
		}
	}
	m.putJob(job)
	change.Job = cloneJob(job)
	return change, nil
}

func (m *memStore) ListBusyWindows(_ context.Context, from, to time.Time) ([]domain.BusyWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	window := domain.Window{Start: from, End: to}
	var busy []domain.BusyWindow
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusAssigned && j.Status != domain.JobStatusInProgress {
			continue
		}
		if j.Window().Overlaps(window) {
			busy = append(busy, domain.BusyWindow{StaffID: j.AssignedStaffID(), JobID: j.ID, Window: j.Window()})
		}
	}
	return busy, nil
}

func (m *memStore) InsertOffer(_ context.Context, offer *domain.Offer) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertErr != nil {
		return nil, m.insertErr
	}
	stored, ok := m.jobs[offer.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job := cloneJob(stored)
	if err := job.MarkOffered(offer.ID, offer.OfferedAt); err != nil {
		if job.ActiveOfferID != "" {
			return nil, domain.ErrJobHasOpenOffer
		}
		return nil, err
	}
	for _, o := range m.offers {
		if o.JobID == offer.JobID && o.Status == domain.OfferStatusOpen {
			return nil, domain.ErrJobHasOpenOffer
		}
	}
	m.offers[offer.ID] = cloneOffer(offer)
	m.putJob(job)
	return cloneJob(job), nil
}

func (m *memStore) GetOfferByID(_ context.Context, offerID string) (*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return nil, domain.ErrOfferNotFound
	}
	return cloneOffer(o), nil
}

func (m *memStore) AcceptOffer(_ context.Context, offerID, staffID string, now time.Time) (*domain.Offer, *domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.offers[offerID]
	if !ok {
		return nil, nil, domain.ErrOfferNotFound
	}
	offer := cloneOffer(stored)
	if err := offer.Accept(staffID, now); err != nil {
		return nil, nil, err
	}
	job := cloneJob(m.jobs[offer.JobID])
	if job.Status != domain.JobStatusOffered || job.ActiveOfferID != offer.ID {
		return nil, nil, domain.ErrOfferUnavailable
	}
	if err := job.Assign(staffID, now); err != nil {
		return nil, nil, domain.ErrOfferUnavailable
	}
	m.offers[offer.ID] = offer
	m.putJob(job)
	return cloneOffer(offer), cloneJob(job), nil
}

func (m *memStore) CancelOffer(_ context.Context, offerID, reason, cancelledBy string, now time.Time) (*domain.Offer, *domain.Job, error) {
	return m.closeOffer(offerID, now, func(o *domain.Offer) error { return o.Cancel(reason, cancelledBy, now) })
}

func (m *memStore) ExpireOffer(_ context.Context, offerID string, now time.Time) (*domain.Offer, *domain.Job, error) {
	return m.closeOffer(offerID, now, func(o *domain.Offer) error { return o.Expire(now) })
}

func (m *memStore) closeOffer(offerID string, now time.Time, closeFn func(*domain.Offer) error) (*domain.Offer, *domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.offers[offerID]
	if !ok {
		return nil, nil, domain.ErrOfferNotFound
	}
	offer := cloneOffer(stored)
	if err := closeFn(offer); err != nil {
		return nil, nil, err
	}
	job := cloneJob(m.jobs[offer.JobID])
	if job.Status == domain.JobStatusOffered && job.ActiveOfferID == offer.ID {
		if err := job.Rollback(now); err != nil {
			return nil, nil, err
		}
	}
	m.offers[offer.ID] = offer
	m.putJob(job)
	return cloneOffer(offer), cloneJob(job), nil
}

func (m *memStore) ListExpiredOffers(_ context.Context, now time.Time, limit int) ([]*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Offer
	for _, o := range m.offers {
		if o.Status == domain.OfferStatusOpen && o.IsExpiredAt(now) {
			out = append(out, cloneOffer(o))
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ExpiresAt.Before(out[k].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ListOpenOffersForStaff(_ context.Context, staffID string, now time.Time) ([]*domain.Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Offer
	for _, o := range m.offers {
		if o.Status == domain.OfferStatusOpen && !o.IsExpiredAt(now) && o.IsEligible(staffID) {
			out = append(out, cloneOffer(o))
		}
	}
	return out, nil
}

func (m *memStore) AssignManually(_ context.Context, a domain.ManualAssignment) (*domain.ManualAssignResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.jobs[a.JobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job := cloneJob(stored)
	result := &domain.ManualAssignResult{}

	switch job.Status {
	case domain.JobStatusOffered:
		if o, ok := m.offers[job.ActiveOfferID]; ok {
			offer := cloneOffer(o)
			if err := offer.Cancel("manual override", a.Actor, a.At); err == nil {
				m.offers[offer.ID] = offer
				result.CancelledOffer = cloneOffer(offer)
			}
		}
	case domain.JobStatusPending:
		offer := domain.NewManualOffer(a.OfferID, job, a.StaffID, a.At)
		if err := job.MarkOffered(offer.ID, a.At); err != nil {
			return nil, err
		}
		m.offers[offer.ID] = offer
		m.putJob(job)
		result.Offer = cloneOffer(offer)
	default:
		return nil, &domain.InvalidTransitionError{Entity: "job", ID: job.ID, From: string(job.Status), To: string(domain.JobStatusAssigned)}
	}

	if err := job.Assign(a.StaffID, a.At); err != nil {
		return nil, err
	}
	m.putJob(job)
	result.Job = cloneJob(job)
	return result, nil
}

func (m *memStore) ListStrandedJobs(_ context.Context, f domain.StrandedFilter) ([]domain.StrandedJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []domain.StrandedJob
	for _, j := range m.jobs {
		if j.Status != domain.JobStatusPending || j.ActiveOfferID != "" || m.exhausted[j.ID] {
			continue
		}
		if !j.ScheduledStart.After(f.StartsAfter) || j.UpdatedAt.After(f.IdleSince) {
			continue
		}
		var latest *domain.Offer
		for _, o := range m.offers {
			if o.JobID != j.ID {
				continue
			}
			if latest == nil || o.OfferedAt.After(latest.OfferedAt) ||
				(o.OfferedAt.Equal(latest.OfferedAt) && o.AttemptNumber > latest.AttemptNumber) {
				latest = o
			}
		}
		switch {
		case latest == nil && f.IncludeUnoffered:
			out = append(out, domain.StrandedJob{Job: cloneJob(j)})
		case latest != nil && latest.Status == domain.OfferStatusExpired:
			out = append(out, domain.StrandedJob{Job: cloneJob(j), LastAttempt: latest.AttemptNumber})
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Job.ScheduledStart.Before(out[k].Job.ScheduledStart) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) MarkExhausted(_ context.Context, jobID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok && j.Status == domain.JobStatusPending && j.ActiveOfferID == "" {
		m.exhausted[jobID] = true
	}
	return nil
}
