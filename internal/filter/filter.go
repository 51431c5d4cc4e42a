package filter

import (
	"math"
	"strings"
	"time"

	"github.com/cheryl9/grantdeck/internal/models"
)

// Unbounded is the ceiling value meaning "no upper funding constraint".
const Unbounded = math.MaxFloat64

// EligibilityMode selects how eligibility descriptors are compared. Exact
// requires string equality; Loose matches case-insensitively when either
// string contains the other.
type EligibilityMode int

const (
	EligibilityLoose EligibilityMode = iota
	EligibilityExact
)

// Criteria is the user-supplied constraint set. Empty sets and zero bounds
// mean "no constraint" for their clause. Floor <= Ceiling is the input
// surface's responsibility; the predicate treats the two independently, so a
// floor above the ceiling simply matches nothing.
type Criteria struct {
	IssueAreas     []string
	Scopes         []string
	FundingFloor   float64
	FundingCeiling float64
	DeadlineAfter  *time.Time
	DeadlineBefore *time.Time
	Eligibility    []string
	Mode           EligibilityMode
}

// NewCriteria returns the unconstrained criteria: all sets empty, floor 0,
// ceiling Unbounded, no deadline bounds.
func NewCriteria() Criteria {
	return Criteria{FundingCeiling: Unbounded}
}

// IsEmpty reports whether c constrains nothing, i.e. Apply would return its
// input unchanged.
func (c Criteria) IsEmpty() bool {
	return len(c.IssueAreas) == 0 &&
		len(c.Scopes) == 0 &&
		c.FundingFloor <= 0 &&
		(c.FundingCeiling <= 0 || c.FundingCeiling == Unbounded) &&
		c.DeadlineAfter == nil &&
		c.DeadlineBefore == nil &&
		len(c.Eligibility) == 0
}

// ceiling resolves the zero value to Unbounded so that a zero-initialized
// Criteria behaves like NewCriteria().
func (c Criteria) ceiling() float64 {
	if c.FundingCeiling <= 0 {
		return Unbounded
	}
	return c.FundingCeiling
}

// Matches reports whether the grant satisfies every clause of the criteria.
// Clauses are AND-combined and evaluated in a fixed order with short-circuit;
// the predicate is pure, so re-running it on every state change is safe.
func Matches(g models.Grant, c Criteria) bool {
	// Issue area: at least one grant tag in the accepted set.
	if len(c.IssueAreas) > 0 && !intersects(g.IssueAreas, c.IssueAreas) {
		return false
	}

	// Scope: the grant's single scope tag must be a member. A grant with no
	// scope tag fails any non-empty scope constraint.
	if len(c.Scopes) > 0 && !containsFold(c.Scopes, g.Scope) {
		return false
	}

	// Funding range. A grant with FundingMax == 0 carries no structured
	// amount and is compared as 0, so any non-zero floor excludes it.
	if g.FundingMax < c.FundingFloor {
		return false
	}
	if g.FundingMin > c.ceiling() {
		return false
	}

	// Deadline bounds. Non-parseable deadlines (free text, the no-deadline
	// sentinel) bypass both bounds rather than erroring.
	if g.DeadlineAt != nil {
		if c.DeadlineAfter != nil && g.DeadlineAt.Before(*c.DeadlineAfter) {
			return false
		}
		if c.DeadlineBefore != nil && g.DeadlineAt.After(*c.DeadlineBefore) {
			return false
		}
	}

	// Eligibility: at least one grant criterion matching an accepted
	// descriptor under the configured mode.
	if len(c.Eligibility) > 0 && !eligibilityMatches(g.Eligibility, c.Eligibility, c.Mode) {
		return false
	}

	return true
}

// Apply returns the order-preserving subsequence of grants that satisfy the
// criteria. The input slice is never mutated.
func Apply(grants []models.Grant, c Criteria) []models.Grant {
	out := make([]models.Grant, 0, len(grants))
	for _, g := range grants {
		if Matches(g, c) {
			out = append(out, g)
		}
	}
	return out
}

func intersects(tags, accepted []string) bool {
	for _, t := range tags {
		if containsFold(accepted, t) {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	if v == "" {
		return false
	}
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

func eligibilityMatches(criteria, accepted []string, mode EligibilityMode) bool {
	for _, have := range criteria {
		for _, want := range accepted {
			if mode == EligibilityExact {
				if have == want {
					return true
				}
				continue
			}
			h := strings.ToLower(have)
			w := strings.ToLower(want)
			if h == "" || w == "" {
				continue
			}
			if strings.Contains(h, w) || strings.Contains(w, h) {
				return true
			}
		}
	}
	return false
}
