package ingest

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/cheryl9/grantdeck/internal/models"
)

// TruncateText cuts a string to max length, appending ellipsis if truncated.
func TruncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	if maxLen > 3 {
		return text[:maxLen-3] + "..."
	}
	return text[:maxLen]
}

// HTMLToText converts HTML to plain text, collapsing whitespace.
func HTMLToText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return cleanText(doc.Text())
}

var slugRe = regexp.MustCompile(`/grants/([^/]+)/instruction`)

// SlugFromURL extracts the portal slug from an instruction-page URL, or ""
// when the URL has another shape.
func SlugFromURL(sourceURL string) string {
	if m := slugRe.FindStringSubmatch(sourceURL); len(m) == 2 {
		return m[1]
	}
	return ""
}

// GrantID derives the stable identifier for a raw record: explicit id, then
// upstream document id, then the source URL, then "unknown". The same record
// always maps to the same key across sessions.
func GrantID(raw RawGrant) string {
	if id := strings.TrimSpace(raw.ID); id != "" {
		return id
	}
	if id := strings.TrimSpace(raw.DocID); id != "" {
		return id
	}
	if u := strings.TrimSpace(raw.SourceURL); u != "" {
		return u
	}
	return "unknown"
}

func sourceDomain(raw RawGrant) string {
	if u, err := url.Parse(raw.SourceURL); err == nil && u.Host != "" {
		return u.Host
	}
	if s := strings.TrimSpace(raw.Source); s != "" {
		return s
	}
	return "unknown"
}

// FromRaw normalizes a raw record into a Grant. Missing optional fields take
// their defaults: funding amounts 0, empty eligibility, the no-deadline
// sentinel. Normalization gaps are never errors.
func FromRaw(raw RawGrant) models.Grant {
	profile := raw.Profile
	if profile == nil {
		p := BuildProfile(raw)
		profile = &p
	}

	eligibility := profile.Eligibility
	if len(eligibility.Requirements) == 0 && cleanText(raw.WhoCanApply) != "" {
		eligibility = ExtractEligibility(raw.WhoCanApply)
	}

	deadline, deadlineAt, openAllYear := resolveDeadline(profile.Window)

	g := models.Grant{
		ID:           GrantID(raw),
		Title:        cleanText(raw.Title),
		Agency:       cleanText(raw.Agency),
		Description:  cleanText(raw.About),
		IssueAreas:   append([]string(nil), profile.IssueAreas...),
		FundingMin:   profile.Funding.MinAmountSGD,
		FundingMax:   profile.Funding.CapAmountSGD,
		FundingRaw:   profile.Funding.Raw,
		PercentMax:   profile.Funding.PercentMax,
		Cofunded:     profile.Funding.MentionsCofunding,
		Deadline:     deadline,
		DeadlineAt:   deadlineAt,
		OpenAllYear:  openAllYear,
		KPIs:         append([]string(nil), profile.KPISnippets...),
		ApplyURL:     strings.TrimSpace(raw.ApplyURL),
		SourceURL:    strings.TrimSpace(raw.SourceURL),
		SourceDomain: sourceDomain(raw),
	}

	if len(profile.ScopeTags) > 0 {
		g.Scope = profile.ScopeTags[0]
	}
	if g.FundingRaw == "" {
		g.FundingRaw = raw.FundingText()
	}

	g.Eligibility = mergeUniqueFold(nil, eligibility.OrgTypes)
	g.Eligibility = mergeUniqueFold(g.Eligibility, eligibility.Requirements)
	if g.Eligibility == nil {
		g.Eligibility = []string{}
	}

	if g.ApplyURL == "" {
		g.ApplyURL = g.SourceURL
	}
	if g.SourceID = SlugFromURL(raw.SourceURL); g.SourceID == "" {
		g.SourceID = g.ID
	}

	return g
}

// FromRawAll normalizes a batch, preserving input order.
func FromRawAll(raws []RawGrant) []models.Grant {
	grants := make([]models.Grant, 0, len(raws))
	for _, raw := range raws {
		grants = append(grants, FromRaw(raw))
	}
	return grants
}
