package domain

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBooking() BookingSnapshot {
	return BookingSnapshot{
		BookingID:    "booking-1",
		PropertyID:   "property-1",
		PropertyName: "Harbour Loft",
		GuestName:    "J. Doe",
		CheckIn:      time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC),
		CheckOut:     time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC),
	}
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func TestBookingSnapshot_Validate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(b *BookingSnapshot)
		wantFields []string
	}{
		{"valid", func(b *BookingSnapshot) {}, nil},
		{"missing ids", func(b *BookingSnapshot) {
			b.BookingID = ""
			b.PropertyID = " "
		}, []string{"booking_id", "property_id"}},
		{"missing names", func(b *BookingSnapshot) {
			b.GuestName = ""
			b.PropertyName = ""
		}, []string{"guest_name", "property_name"}},
		{"checkout equals checkin", func(b *BookingSnapshot) { b.CheckOut = b.CheckIn }, []string{"check_out"}},
		{"missing checkin", func(b *BookingSnapshot) { b.CheckIn = time.Time{} }, []string{"check_in"}},
		{"bad priority", func(b *BookingSnapshot) { b.Priority = "urgent" }, []string{"priority"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBooking()
			tt.mutate(&b)
			err := b.Validate()
			if tt.wantFields == nil {
				assert.NoError(t, err)
				return
			}

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			var got []string
			for _, f := range verr.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.wantFields, got)
		})
	}
}

func TestPlanJobs(t *testing.T) {
	now := time.Date(2026, 2, 20, 9, 0, 0, 0, time.UTC)
	b := validBooking()
	b.MaintenanceRequests = []MaintenanceRequest{
		{Description: "leaking tap", Priority: PriorityHigh},
		{Description: "loose handle"},
	}

	jobs, err := PlanJobs(b, DefaultTiming(), now, sequentialIDs())
	require.NoError(t, err)
	require.Len(t, jobs, 4)

	cleaning, inspection := jobs[0], jobs[1]
	assert.Equal(t, JobTypeCleaning, cleaning.Type)
	assert.Equal(t, RoleCleaner, cleaning.RequiredRole)
	assert.Equal(t, b.CheckOut.Add(30*time.Minute), cleaning.ScheduledStart)
	assert.Equal(t, cleaning.ScheduledStart.Add(3*time.Hour), cleaning.ScheduledEnd)
	assert.Equal(t, PriorityMedium, cleaning.Priority)

	assert.Equal(t, JobTypeInspection, inspection.Type)
	assert.Equal(t, cleaning.ScheduledEnd, inspection.ScheduledStart)
	assert.Equal(t, RoleInspector, inspection.RequiredRole)

	assert.Equal(t, JobTypeMaintenance, jobs[2].Type)
	assert.Equal(t, 1, jobs[2].Sequence)
	assert.Equal(t, PriorityHigh, jobs[2].Priority)
	assert.Equal(t, "leaking tap", jobs[2].Notes)
	assert.Equal(t, 2, jobs[3].Sequence)
	assert.Equal(t, PriorityMedium, jobs[3].Priority)

	for _, job := range jobs {
		assert.Equal(t, JobStatusPending, job.Status)
		assert.Equal(t, now, job.CreatedAt)
		assert.NotEmpty(t, job.ID)
	}
}

func TestPlanJobs_WithoutInspection(t *testing.T) {
	timing := DefaultTiming()
	timing.CreateInspection = false

	jobs, err := PlanJobs(validBooking(), timing, time.Now(), sequentialIDs())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, JobTypeCleaning, jobs[0].Type)
}

func TestPlanJobs_InvalidBooking(t *testing.T) {
	b := validBooking()
	b.CheckOut = b.CheckIn.Add(-time.Hour)

	jobs, err := PlanJobs(b, DefaultTiming(), time.Now(), sequentialIDs())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Nil(t, jobs)
}
