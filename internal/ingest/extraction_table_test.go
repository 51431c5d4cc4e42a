package ingest

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExtractFunding(t *testing.T) {
	tests := []struct {
		name string
		text string
		want FundingInfo
	}{
		{
			name: "cap amount near cap marker",
			text: "Funding support is capped at S$150,000 per applicant.",
			want: FundingInfo{
				CapAmountSGD: 150000,
				Raw:          "Funding support is capped at S$150,000 per applicant.",
			},
		},
		{
			name: "percent and cap together",
			text: "Up to 80% of qualifying costs, capped at S$180,000.",
			want: FundingInfo{
				CapAmountSGD: 180000,
				PercentMax:   80,
				Raw:          "Up to 80% of qualifying costs, capped at S$180,000.",
			},
		},
		{
			name: "minimum near minimum marker",
			text: "A minimum grant size of S$10,000 applies.",
			want: FundingInfo{
				MinAmountSGD: 10000,
				Raw:          "A minimum grant size of S$10,000 applies.",
			},
		},
		{
			name: "amount with no marker stays unstructured",
			text: "Each approved project receives S$5,000.",
			want: FundingInfo{
				Raw: "Each approved project receives S$5,000.",
			},
		},
		{
			name: "explicit range sets both bounds",
			text: "S$5,000 to S$50,000 per project.",
			want: FundingInfo{
				MinAmountSGD: 5000,
				CapAmountSGD: 50000,
				Raw:          "S$5,000 to S$50,000 per project.",
			},
		},
		{
			name: "range wins over stray cap marker",
			text: "Grants range from S$20,000 to S$100,000, capped at tier limits.",
			want: FundingInfo{
				MinAmountSGD: 20000,
				CapAmountSGD: 100000,
				Raw:          "Grants range from S$20,000 to S$100,000, capped at tier limits.",
			},
		},
		{
			name: "cofunding requirement detected",
			text: "Grantees must co-fund at least 10% of total costs.",
			want: FundingInfo{
				PercentMax:        10,
				MentionsCofunding: true,
				Raw:               "Grantees must co-fund at least 10% of total costs.",
			},
		},
		{
			name: "highest percentage wins",
			text: "Supports 50% of costs, rising to 70% for charities.",
			want: FundingInfo{
				PercentMax: 70,
				Raw:        "Supports 50% of costs, rising to 70% for charities.",
			},
		},
		{
			name: "empty text",
			text: "",
			want: FundingInfo{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractFunding(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected funding info (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractWindow(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		wantDates   []string
		wantStart   string
		wantEnd     string
		wantAllYear bool
	}{
		{
			name:      "date range",
			text:      "Applications open from 1 Mar 2026 to 30 Jun 2026",
			wantDates: []string{"2026-03-01", "2026-06-30"},
			wantStart: "2026-03-01",
			wantEnd:   "2026-06-30",
		},
		{
			name:      "repeated date deduplicated",
			text:      "Apply by 15 Sep 2026. Late submissions after 15 Sep 2026 are not accepted.",
			wantDates: []string{"2026-09-15"},
			wantStart: "2026-09-15",
			wantEnd:   "2026-09-15",
		},
		{
			name:      "sept spelling accepted",
			text:      "Closes 1 Sept 2026",
			wantDates: []string{"2026-09-01"},
			wantStart: "2026-09-01",
			wantEnd:   "2026-09-01",
		},
		{
			name:      "long month name",
			text:      "Applications close on 15 March 2027.",
			wantDates: []string{"2027-03-15"},
			wantStart: "2027-03-15",
			wantEnd:   "2027-03-15",
		},
		{
			name:      "dates sorted ascending regardless of mention order",
			text:      "Phase two closes 30 Nov 2026, phase one closes 15 Apr 2026",
			wantDates: []string{"2026-04-15", "2026-11-30"},
			wantStart: "2026-04-15",
			wantEnd:   "2026-11-30",
		},
		{
			name:        "open all year",
			text:        "Applications are open throughout the year",
			wantAllYear: true,
		},
		{
			name: "impossible calendar date rejected",
			text: "Closes 31 Feb 2026",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractWindow(tt.text)
			if diff := cmp.Diff(tt.wantDates, got.Dates); diff != "" {
				t.Errorf("unexpected dates (-want +got):\n%s", diff)
			}
			if got.StartDate != tt.wantStart {
				t.Errorf("expected start %q, got %q", tt.wantStart, got.StartDate)
			}
			if got.EndDate != tt.wantEnd {
				t.Errorf("expected end %q, got %q", tt.wantEnd, got.EndDate)
			}
			if got.IsOpenAllYear != tt.wantAllYear {
				t.Errorf("expected open-all-year %v, got %v", tt.wantAllYear, got.IsOpenAllYear)
			}
		})
	}
}

func TestExtractWindowEmptyText(t *testing.T) {
	got := ExtractWindow("   ")
	if got.Raw != "" || got.IsOpenAllYear || len(got.Dates) != 0 {
		t.Errorf("expected zero window, got %#v", got)
	}
}

func TestParseDateRobust(t *testing.T) {
	endOfDay := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 23, 59, 59, 999999999, time.UTC)
	}

	tests := []struct {
		name  string
		input string
		want  time.Time
	}{
		{"iso date resolves to end of day", "2026-03-15", endOfDay(2026, time.March, 15)},
		{"rfc3339 kept as is", "2026-03-15T10:00:00Z", time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)},
		{"portal short month", "15 Mar 2026", endOfDay(2026, time.March, 15)},
		{"portal long month", "15 March 2026", endOfDay(2026, time.March, 15)},
		{"label prefix stripped", "Closing date: 15 March 2026", endOfDay(2026, time.March, 15)},
		{"day first slashes", "15/03/2026", endOfDay(2026, time.March, 15)},
		{"month first american", "March 15, 2026", endOfDay(2026, time.March, 15)},
		{"date embedded in sentence", "The submission window closes on 15 Mar 2026 at noon.", endOfDay(2026, time.March, 15)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDateRobust(tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestParseDateRobustRejectsFreeText(t *testing.T) {
	for _, input := range []string{"", "rolling basis", "see grant portal"} {
		if _, err := parseDateRobust(input); err == nil {
			t.Errorf("expected error for %q", input)
		}
	}
}

func TestExtractIssueAreas(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "keyword hits sorted",
			text: "Programmes supporting elderly residents at the dementia day clinic",
			want: []string{"ageing", "community", "health"},
		},
		{
			name: "multiple areas",
			text: "Workshops for youth sports teams",
			want: []string{"education", "sports", "youth"},
		},
		{
			name: "digital core term alone is not enough",
			text: "A digital brochure is available",
			want: nil,
		},
		{
			name: "digital with adoption context tagged",
			text: "Adopt digital solutions for service delivery",
			want: []string{"digital_tech"},
		},
		{
			name: "empty text",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractIssueAreas(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected issue areas (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractScopeTags(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "project and equipment",
			text: "Funding for pilot projects and equipment purchase",
			want: []string{"equipment_capex", "project_based"},
		},
		{
			name: "operations support",
			text: "Covers day-to-day operating costs",
			want: []string{"operations_support"},
		},
		{
			name: "no scope keywords",
			text: "General information about the agency",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractScopeTags(tt.text)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("unexpected scope tags (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractKPISnippets(t *testing.T) {
	text := "Programme outline\nTarget: serve 300 beneficiaries per year\nVenue details to follow"
	got := ExtractKPISnippets(text, 8)
	want := []string{"Target: serve 300 beneficiaries per year"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected snippets (-want +got):\n%s", diff)
	}
}

func TestExtractKPISnippetsNumberWithUnit(t *testing.T) {
	got := ExtractKPISnippets("Engage 1,200 participants across the island", 8)
	want := []string{"Engage 1,200 participants across the island"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected snippets (-want +got):\n%s", diff)
	}
}

func TestExtractKPISnippetsSentenceFallback(t *testing.T) {
	got := ExtractKPISnippets("Applicants must achieve clear outcomes. Funds are disbursed quarterly.", 8)
	want := []string{"Applicants must achieve clear outcomes."}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unexpected snippets (-want +got):\n%s", diff)
	}
}

func TestExtractKPISnippetsRespectsLimit(t *testing.T) {
	text := "Outcome one\nOutcome two\nOutcome three\nOutcome four"
	if got := ExtractKPISnippets(text, 2); len(got) != 2 {
		t.Errorf("expected 2 snippets, got %d", len(got))
	}
}

func TestExtractEligibility(t *testing.T) {
	info := ExtractEligibility("- Registered charities or IPCs\n- Minimum 3 years of audited accounts")

	wantReqs := []string{"Registered charities or IPCs", "Minimum 3 years of audited accounts"}
	if diff := cmp.Diff(wantReqs, info.Requirements); diff != "" {
		t.Errorf("unexpected requirements (-want +got):\n%s", diff)
	}

	wantOrgs := []string{"Registered charities or IPCs"}
	if diff := cmp.Diff(wantOrgs, info.OrgTypes); diff != "" {
		t.Errorf("unexpected org types (-want +got):\n%s", diff)
	}
}

func TestBuildProfileVersion(t *testing.T) {
	p := BuildProfile(RawGrant{About: "Community projects for seniors"})
	if p.Version != 2 {
		t.Errorf("expected profile version 2, got %d", p.Version)
	}
	if len(p.IssueAreas) == 0 {
		t.Error("expected issue areas from about text")
	}
}
