package notify

import (
	"context"
	"strings"
	"testing"

	"github.com/cheryl9/grantdeck/internal/models"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{500, "500"},
		{5000, "5,000"},
		{30000, "30,000"},
		{250000, "250,000"},
		{1500000, "1,500,000"},
	}

	for _, tt := range tests {
		if got := formatAmount(tt.in); got != tt.want {
			t.Errorf("formatAmount(%f) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFundingLabel(t *testing.T) {
	tests := []struct {
		name  string
		grant models.Grant
		want  string
	}{
		{name: "no structured funding", grant: models.Grant{FundingRaw: "varies by project"}, want: "amount unlisted"},
		{name: "cap only", grant: models.Grant{FundingMax: 30000}, want: "up to S$30,000"},
		{name: "range", grant: models.Grant{FundingMin: 5000, FundingMax: 50000}, want: "S$5,000 to S$50,000"},
		{name: "floor equals cap", grant: models.Grant{FundingMin: 20000, FundingMax: 20000}, want: "up to S$20,000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fundingLabel(tt.grant); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDeadlineLabel(t *testing.T) {
	if got := deadlineLabel(models.Grant{OpenAllYear: true}); got != "open all year" {
		t.Errorf("unexpected label %q", got)
	}
	if got := deadlineLabel(models.Grant{}); got != models.NoDeadline {
		t.Errorf("unexpected label %q", got)
	}
	if got := deadlineLabel(models.Grant{Deadline: "2026-10-01"}); got != "2026-10-01" {
		t.Errorf("unexpected label %q", got)
	}

	long := strings.Repeat("closing soon ", 10)
	if got := deadlineLabel(models.Grant{Deadline: long}); len(got) > 70 {
		t.Errorf("expected a truncated label, got %d bytes", len(got))
	}
}

func TestFormatDigest(t *testing.T) {
	grants := []models.Grant{
		{
			Title:       "Community Arts Fund",
			Agency:      "National Arts Council",
			ApplyURL:    "https://oursggrants.gov.sg/grants/community-arts/apply",
			FundingMax:  30000,
			OpenAllYear: true,
		},
		{
			Title:      "Youth Mentoring <Pilot>",
			SourceURL:  "https://oursggrants.gov.sg/grants/youth-mentoring",
			FundingMin: 5000,
			FundingMax: 50000,
			Deadline:   "2027-03-15",
		},
	}

	digest := formatDigest("OurSG Grants portal", grants)

	if !strings.Contains(digest, "<b>OurSG Grants portal</b>: 2 new grants") {
		t.Errorf("missing header: %s", digest)
	}
	if !strings.Contains(digest, `<a href="https://oursggrants.gov.sg/grants/community-arts/apply">Community Arts Fund</a>`) {
		t.Errorf("missing apply link: %s", digest)
	}
	// Source URL stands in when there is no apply link.
	if !strings.Contains(digest, `<a href="https://oursggrants.gov.sg/grants/youth-mentoring">`) {
		t.Errorf("missing source link fallback: %s", digest)
	}
	if strings.Contains(digest, "<Pilot>") {
		t.Errorf("title must be HTML-escaped: %s", digest)
	}
	if !strings.Contains(digest, "(National Arts Council)") {
		t.Errorf("missing agency: %s", digest)
	}
	if !strings.Contains(digest, "up to S$30,000, open all year") {
		t.Errorf("missing funding and deadline line: %s", digest)
	}
	if !strings.Contains(digest, "S$5,000 to S$50,000, 2027-03-15") {
		t.Errorf("missing range line: %s", digest)
	}
	if strings.Contains(digest, "more") {
		t.Errorf("no overflow line expected for a short digest: %s", digest)
	}
}

func TestFormatDigest_Overflow(t *testing.T) {
	grants := make([]models.Grant, digestLimit+4)
	for i := range grants {
		grants[i] = models.Grant{Title: "Grant", SourceURL: "https://example.gov.sg/g"}
	}

	digest := formatDigest("Bulk dataset", grants)
	if !strings.Contains(digest, "…and 4 more") {
		t.Errorf("expected the overflow line: %s", digest)
	}
	if got := strings.Count(digest, "\n• "); got != digestLimit {
		t.Errorf("expected %d bullets, got %d", digestLimit, got)
	}
}

func TestFormatDigest_SingularNoun(t *testing.T) {
	digest := formatDigest("feed", []models.Grant{{Title: "One Grant"}})
	if !strings.Contains(digest, "1 new grant\n") {
		t.Errorf("expected the singular noun: %s", digest)
	}
}

func TestNotifyNewGrants_NilReceiver(t *testing.T) {
	var n *TelegramNotifier
	if err := n.NotifyNewGrants(context.Background(), "oursg", []models.Grant{{Title: "x"}}); err != nil {
		t.Errorf("a nil notifier must be a no-op, got %v", err)
	}

	n = &TelegramNotifier{}
	if err := n.NotifyNewGrants(context.Background(), "oursg", nil); err != nil {
		t.Errorf("an empty batch must be a no-op, got %v", err)
	}
}
