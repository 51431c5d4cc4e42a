package ingest

import (
	"testing"
	"time"

	"github.com/cheryl9/grantdeck/internal/models"
)

func TestGrantID(t *testing.T) {
	tests := []struct {
		name string
		raw  RawGrant
		want string
	}{
		{
			name: "explicit id wins",
			raw: RawGrant{
				ID:        "community-impact-fund",
				DocID:     "f81aa2",
				SourceURL: "https://oursggrants.gov.sg/grants/community-impact-fund/instruction",
			},
			want: "community-impact-fund",
		},
		{
			name: "document id when no explicit id",
			raw: RawGrant{
				DocID:     "f81aa2",
				SourceURL: "https://oursggrants.gov.sg/grants/community-impact-fund/instruction",
			},
			want: "f81aa2",
		},
		{
			name: "source url when no ids",
			raw: RawGrant{
				SourceURL: "https://oursggrants.gov.sg/grants/community-impact-fund/instruction",
			},
			want: "https://oursggrants.gov.sg/grants/community-impact-fund/instruction",
		},
		{
			name: "unknown when nothing identifies the record",
			raw:  RawGrant{Title: "Nameless"},
			want: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GrantID(tt.raw); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestSlugFromURL(t *testing.T) {
	if got := SlugFromURL("https://oursggrants.gov.sg/grants/sg-eco-fund/instruction"); got != "sg-eco-fund" {
		t.Errorf("expected sg-eco-fund, got %q", got)
	}
	if got := SlugFromURL("https://example.org/funding/apply"); got != "" {
		t.Errorf("expected empty slug, got %q", got)
	}
}

func TestFromRawDefaults(t *testing.T) {
	g := FromRaw(RawGrant{Title: "Bare Grant", SourceURL: "https://example.org/g/1"})

	if g.FundingMin != 0 || g.FundingMax != 0 {
		t.Errorf("expected zero funding defaults, got min=%v max=%v", g.FundingMin, g.FundingMax)
	}
	if g.Eligibility == nil || len(g.Eligibility) != 0 {
		t.Errorf("expected empty eligibility, got %#v", g.Eligibility)
	}
	if g.Deadline != models.NoDeadline {
		t.Errorf("expected deadline sentinel, got %q", g.Deadline)
	}
	if g.DeadlineAt != nil {
		t.Errorf("expected nil parsed deadline, got %v", g.DeadlineAt)
	}
	if g.HasStructuredFunding() {
		t.Error("expected unstructured funding")
	}
	if g.ApplyURL != "https://example.org/g/1" {
		t.Errorf("expected apply url fallback to source url, got %q", g.ApplyURL)
	}
}

func TestFromRawFullRecord(t *testing.T) {
	raw := RawGrant{
		Title:       "  Community  Impact Fund ",
		Agency:      "People's Association",
		SourceURL:   "https://oursggrants.gov.sg/grants/community-impact-fund/instruction",
		About:       "Supports ground-up projects that bring residents together.",
		WhoCanApply: "Registered charities\nSocieties with at least 2 years of operations",
		WhenToApply: "Applications open from 1 Mar 2026 to 30 Jun 2026",
		Funding:     "Up to 80% of qualifying costs, capped at S$180,000 per project",
	}

	g := FromRaw(raw)

	if g.ID != "https://oursggrants.gov.sg/grants/community-impact-fund/instruction" {
		t.Errorf("unexpected id %q", g.ID)
	}
	if g.SourceID != "community-impact-fund" {
		t.Errorf("expected slug source id, got %q", g.SourceID)
	}
	if g.SourceDomain != "oursggrants.gov.sg" {
		t.Errorf("unexpected source domain %q", g.SourceDomain)
	}
	if g.Title != "Community Impact Fund" {
		t.Errorf("expected cleaned title, got %q", g.Title)
	}

	if g.FundingMax != 180000 {
		t.Errorf("expected funding cap 180000, got %v", g.FundingMax)
	}
	if g.PercentMax != 80 {
		t.Errorf("expected percent max 80, got %v", g.PercentMax)
	}
	if !g.HasStructuredFunding() {
		t.Error("expected structured funding")
	}

	if g.Deadline != "2026-06-30" {
		t.Errorf("expected window end date as deadline, got %q", g.Deadline)
	}
	wantAt := time.Date(2026, 6, 30, 23, 59, 59, 999999999, time.UTC)
	if g.DeadlineAt == nil || !g.DeadlineAt.Equal(wantAt) {
		t.Errorf("expected parsed deadline %v, got %v", wantAt, g.DeadlineAt)
	}
	if g.OpenAllYear {
		t.Error("expected dated window, not open all year")
	}

	if len(g.Eligibility) != 2 {
		t.Fatalf("expected 2 eligibility lines, got %#v", g.Eligibility)
	}
	if g.Eligibility[0] != "Registered charities" {
		t.Errorf("expected org-type line first, got %q", g.Eligibility[0])
	}
}

func TestFromRawOpenAllYear(t *testing.T) {
	g := FromRaw(RawGrant{
		Title:       "Rolling Grant",
		SourceURL:   "https://oursggrants.gov.sg/grants/rolling/instruction",
		WhenToApply: "Applications are accepted throughout the year.",
	})

	if !g.OpenAllYear {
		t.Error("expected open-all-year flag")
	}
	if g.DeadlineAt != nil {
		t.Errorf("expected no parsed deadline, got %v", g.DeadlineAt)
	}
	if g.Deadline != "Applications are accepted throughout the year." {
		t.Errorf("expected raw window text as deadline, got %q", g.Deadline)
	}
}

func TestFromRawUsesPrebuiltProfile(t *testing.T) {
	raw := RawGrant{
		ID:        "sg-eco-fund",
		Title:     "SG Eco Fund",
		SourceURL: "https://oursggrants.gov.sg/grants/sg-eco-fund/instruction",
		Profile: &GrantProfile{
			IssueAreas: []string{"environment"},
			ScopeTags:  []string{"project_based", "research_evaluation"},
			Funding:    FundingInfo{CapAmountSGD: 100000, Raw: "up to S$100,000"},
			Window:     ApplicationWindow{EndDate: "2026-09-30", Dates: []string{"2026-09-30"}},
			Eligibility: EligibilityInfo{
				OrgTypes:     []string{"Registered charities"},
				Requirements: []string{"Registered charities", "Based in Singapore"},
			},
		},
	}

	g := FromRaw(raw)

	if g.Scope != "project_based" {
		t.Errorf("expected first scope tag, got %q", g.Scope)
	}
	if g.FundingMax != 100000 {
		t.Errorf("expected prebuilt cap, got %v", g.FundingMax)
	}
	if g.Deadline != "2026-09-30" {
		t.Errorf("expected prebuilt end date, got %q", g.Deadline)
	}
	if len(g.Eligibility) != 2 {
		t.Errorf("expected merged eligibility without duplicates, got %#v", g.Eligibility)
	}
}

func TestFromRawAllPreservesOrder(t *testing.T) {
	raws := []RawGrant{
		{ID: "a", Title: "A", SourceURL: "https://x/1"},
		{ID: "b", Title: "B", SourceURL: "https://x/2"},
		{ID: "c", Title: "C", SourceURL: "https://x/3"},
	}

	grants := FromRawAll(raws)
	if len(grants) != 3 {
		t.Fatalf("expected 3 grants, got %d", len(grants))
	}
	for i, want := range []string{"a", "b", "c"} {
		if grants[i].ID != want {
			t.Errorf("position %d: expected %q, got %q", i, want, grants[i].ID)
		}
	}
}
