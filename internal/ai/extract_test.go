package ai

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseGrantFacts(t *testing.T) {
	tests := []struct {
		name    string
		resp    string
		wantErr bool
		check   func(t *testing.T, f *GrantFacts)
	}{
		{
			name: "plain json",
			resp: `{"deadline_iso": "2026-10-01", "funding_max_sgd": 50000, "open_all_year": false}`,
			check: func(t *testing.T, f *GrantFacts) {
				if f.DeadlineISO != "2026-10-01" || f.FundingMaxSGD != 50000 {
					t.Errorf("unexpected facts %+v", f)
				}
			},
		},
		{
			name: "fenced json",
			resp: "```json\n{\"open_all_year\": true, \"summary\": \"Rolling community grant.\"}\n```",
			check: func(t *testing.T, f *GrantFacts) {
				if !f.OpenAllYear || f.Summary != "Rolling community grant." {
					t.Errorf("unexpected facts %+v", f)
				}
			},
		},
		{
			name: "json buried in prose",
			resp: `Sure, here are the extracted facts: {"percent_max": 80, "mentions_cofunding": true} Let me know if you need more.`,
			check: func(t *testing.T, f *GrantFacts) {
				if f.PercentMax != 80 || !f.MentionsCofunding {
					t.Errorf("unexpected facts %+v", f)
				}
			},
		},
		{
			name: "braces inside string values",
			resp: `{"summary": "Funds {ground-up} projects", "eligibility": ["Registered society"]}`,
			check: func(t *testing.T, f *GrantFacts) {
				if f.Summary != "Funds {ground-up} projects" || len(f.Eligibility) != 1 {
					t.Errorf("unexpected facts %+v", f)
				}
			},
		},
		{
			name:    "no json at all",
			resp:    "I could not find any structured information.",
			wantErr: true,
		},
		{
			name:    "unbalanced json",
			resp:    `{"summary": "truncated`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := parseGrantFacts(tt.resp)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected a parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseGrantFacts failed: %v", err)
			}
			tt.check(t, facts)
		})
	}
}

func TestExtractFirstJSONObject(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{name: "bare object", in: `{"a": 1}`, want: `{"a": 1}`, wantOK: true},
		{name: "noise around object", in: `note: {"a": 1} trailing`, want: `{"a": 1}`, wantOK: true},
		{name: "nested objects kept whole", in: `{"a": {"b": 2}}`, want: `{"a": {"b": 2}}`, wantOK: true},
		{name: "brace inside string ignored", in: `{"a": "close } brace"}`, want: `{"a": "close } brace"}`, wantOK: true},
		{name: "escaped quote inside string", in: `{"a": "say \" and } so"}`, want: `{"a": "say \" and } so"}`, wantOK: true},
		{name: "unbalanced", in: `{"a": 1`, wantOK: false},
		{name: "no object", in: "nothing here", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractFirstJSONObject(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("expected ok=%v, got %v", tt.wantOK, ok)
			}
			if ok && got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFilterValid(t *testing.T) {
	allowed := []string{"arts_culture", "health", "community"}

	tests := []struct {
		name string
		tags []string
		want []string
	}{
		{name: "exact matches kept", tags: []string{"health", "community"}, want: []string{"health", "community"}},
		{name: "case mapped to canonical", tags: []string{"Arts_Culture", " HEALTH "}, want: []string{"arts_culture", "health"}},
		{name: "hallucinated tags dropped", tags: []string{"health", "wellness", "blockchain"}, want: []string{"health"}},
		{name: "empty input", tags: nil, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, filterValid(tt.tags, allowed)); diff != "" {
				t.Errorf("unexpected tags (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGrantFactsValidate(t *testing.T) {
	facts := &GrantFacts{
		IssueAreas:  []string{"health", "made_up_area"},
		ScopeTags:   []string{"project_based", "world_domination"},
		Eligibility: []string{" Registered society ", "", "At least 2 years of operations", "a", "b", "c", "d", "e", "f", "g"},
	}

	facts.validate([]string{"health", "community"}, []string{"project_based", "equipment_capex"})

	if diff := cmp.Diff([]string{"health"}, facts.IssueAreas); diff != "" {
		t.Errorf("unexpected issue areas (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"project_based"}, facts.ScopeTags); diff != "" {
		t.Errorf("unexpected scope tags (-want +got):\n%s", diff)
	}
	if len(facts.Eligibility) != 8 {
		t.Errorf("expected eligibility capped at 8 entries, got %d", len(facts.Eligibility))
	}
	if facts.Eligibility[0] != "Registered society" {
		t.Errorf("expected eligibility trimmed, got %q", facts.Eligibility[0])
	}
}
