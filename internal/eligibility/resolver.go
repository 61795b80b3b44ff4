// Package eligibility computes the staff snapshot an offer is made to.
//
// Resolution is a pure function of its inputs: the same job, attempt, roster and
// busy windows always produce the same sorted list, so audit replay is possible.
package eligibility

import (
	"slices"

	"github.com/cuongbtq/turnover-dispatch/internal/domain"
)

// RoleMatch selects how a staff member's roles are compared against a job
type RoleMatch int

const (
	// MatchPrimary requires the staff primary role to equal the job required role
	MatchPrimary RoleMatch = iota
	// MatchCapable accepts any primary or secondary role capable of the job type
	MatchCapable
)

// Rule is one rung of the escalation ladder
type Rule struct {
	Attempt        int
	RoleMatch      RoleMatch
	RequireChannel bool
	NotifyManager  bool
}

// DefaultLadder is the three attempt ladder used by the dispatch engine
var DefaultLadder = Ladder{
	{Attempt: 1, RoleMatch: MatchPrimary, RequireChannel: true},
	{Attempt: 2, RoleMatch: MatchCapable},
	{Attempt: 3, RoleMatch: MatchCapable, NotifyManager: true},
}

// Ladder maps attempt numbers to rules. Attempts past the end reuse the last rule.
type Ladder []Rule

// RuleFor returns the rule applied at attempt
func (l Ladder) RuleFor(attempt int) Rule {
	if len(l) == 0 {
		return Rule{Attempt: attempt, RoleMatch: MatchCapable}
	}
	for _, r := range l {
		if r.Attempt == attempt {
			return r
		}
	}
	if attempt < l[0].Attempt {
		return l[0]
	}
	return l[len(l)-1]
}

// Input is everything resolution depends on
type Input struct {
	Job     *domain.Job
	Attempt int
	Roster  []domain.Staff
	Busy    []domain.BusyWindow
}

// Resolver applies a ladder to a roster
type Resolver struct {
	ladder Ladder
}

// NewResolver creates a resolver for ladder
func NewResolver(ladder Ladder) *Resolver {
	return &Resolver{ladder: ladder}
}

// Rule exposes the rule for attempt so callers can act on its side effects
func (r *Resolver) Rule(attempt int) Rule {
	return r.ladder.RuleFor(attempt)
}

// Resolve returns the sorted, de-duplicated ids of staff eligible for in.Job at in.Attempt.
// An empty result is valid and means nobody can take the job at this rung.
func (r *Resolver) Resolve(in Input) []string {
	rule := r.ladder.RuleFor(in.Attempt)
	window := in.Job.Window()

	busy := make(map[string]bool)
	for _, b := range in.Busy {
		if b.JobID == in.Job.ID {
			continue
		}
		if b.Window.Overlaps(window) {
			busy[b.StaffID] = true
		}
	}

	eligible := make([]string, 0, len(in.Roster))
	for _, s := range in.Roster {
		if s.ID == "" || !s.Available() {
			continue
		}
		if !roleMatches(rule.RoleMatch, s, in.Job) {
			continue
		}
		if rule.RequireChannel && !s.HasChannel() {
			continue
		}
		if busy[s.ID] {
			continue
		}
		eligible = append(eligible, s.ID)
	}

	slices.Sort(eligible)
	return slices.Compact(eligible)
}

func roleMatches(match RoleMatch, s domain.Staff, job *domain.Job) bool {
	switch match {
	case MatchPrimary:
		return s.PrimaryRole == job.RequiredRole
	case MatchCapable:
		for _, role := range job.Type.CapableRoles() {
			if s.HasRole(role) {
				return true
			}
		}
		return s.HasRole(job.RequiredRole)
	}
	return false
}
