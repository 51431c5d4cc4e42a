package models

import (
	"time"
)

// NoDeadline is the sentinel stored when a source record carries no
// application deadline at all.
const NoDeadline = "no deadline specified"

// Grant is one funding opportunity after normalization. Instances are
// immutable for the lifetime of a session; they are filtered out of view or
// marked decided, never mutated.
type Grant struct {
	// ID is the deterministic identifier derived from source data. The same
	// grant always maps to the same ID across fetches, which is what lets
	// decided-set exclusion work between sessions.
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Agency       string     `json:"agency"`
	Description  string     `json:"description"`
	IssueAreas   []string   `json:"issue_areas"`
	Scope        string     `json:"scope"`
	FundingMin   float64    `json:"funding_min"`
	FundingMax   float64    `json:"funding_max"`
	FundingRaw   string     `json:"funding_raw"`
	PercentMax   float64    `json:"percent_max"`
	Cofunded     bool       `json:"mentions_cofunding"`
	Deadline     string     `json:"deadline"`
	DeadlineAt   *time.Time `json:"deadline_at"`
	OpenAllYear  bool       `json:"open_all_year"`
	Eligibility  []string   `json:"eligibility"`
	KPIs         []string   `json:"kpis"`
	ApplyURL     string     `json:"apply_url"`
	SourceURL    string     `json:"source_url"`
	SourceDomain string     `json:"source_domain"`
	SourceID     string     `json:"source_id"`
	Match        *MatchInfo `json:"match,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasStructuredFunding reports whether a numeric funding cap was extracted.
// A max of 0 means "amount not structured, see FundingRaw"; such grants are
// excluded by any non-zero funding floor.
func (g Grant) HasStructuredFunding() bool {
	return g.FundingMax > 0
}

// MatchInfo is the score attached to a grant once it has been run through the
// match engine for a specific profile.
type MatchInfo struct {
	Score      float64  `json:"score"`
	Confidence string   `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Strengths  []string `json:"strengths"`
	Concerns   []string `json:"concerns"`
}

// MatchScore returns the attached score or 0 when the grant was never scored.
func (g Grant) MatchScore() float64 {
	if g.Match == nil {
		return 0
	}
	return g.Match.Score
}
