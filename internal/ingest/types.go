package ingest

import (
	"context"
	"io"
	"strings"
	"time"
)

// RawGrant is the external record shape at the candidate-fetch boundary: one
// scraped grant detail page, or one line of the bulk JSONL dataset. Optional
// fields stay empty when the source does not provide them; normalization
// resolves every gap with a default, never an error.
type RawGrant struct {
	ID     string `json:"id,omitempty"`
	DocID  string `json:"doc_id,omitempty"`
	Source string `json:"source,omitempty"`

	SourceURL string `json:"source_url"`
	ApplyURL  string `json:"apply_url,omitempty"`
	Title     string `json:"title"`
	Agency    string `json:"agency,omitempty"`

	About       string `json:"about,omitempty"`
	WhoCanApply string `json:"who_can_apply,omitempty"`
	WhenToApply string `json:"when_to_apply,omitempty"`
	Funding     string `json:"funding,omitempty"`
	HowToApply  string `json:"how_to_apply,omitempty"`

	Sections  []Section      `json:"sections,omitempty"`
	Documents []DocumentLink `json:"documents_required,omitempty"`

	Profile *GrantProfile `json:"grant_profile,omitempty"`

	Metadata RawMetadata `json:"metadata,omitempty"`
}

type RawMetadata struct {
	LastScrapedAt string `json:"last_scraped_at,omitempty"`
}

// Section is one heading/content block from a grant instruction page.
type Section struct {
	Heading string   `json:"heading"`
	Content []string `json:"content"`
}

// DocumentLink is an attachment anchor harvested from a detail page.
type DocumentLink struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// GrantProfile is the derived, taxonomy-tagged view of a raw record. It is
// produced by the rule-based builder (or carried pre-built on dataset rows)
// and stored alongside the grant as its raw snapshot.
type GrantProfile struct {
	IssueAreas  []string          `json:"issue_areas"`
	ScopeTags   []string          `json:"scope_tags"`
	KPISnippets []string          `json:"kpi_snippets,omitempty"`
	Funding     FundingInfo       `json:"funding"`
	Window      ApplicationWindow `json:"application_window"`
	Eligibility EligibilityInfo   `json:"eligibility"`
	Others      []Section         `json:"others,omitempty"`
	Version     int               `json:"version,omitempty"`
}

// FundingInfo summarizes the funding text of a grant. A zero CapAmountSGD
// means no structured cap was found; Raw keeps the source text in that case.
type FundingInfo struct {
	CapAmountSGD      float64 `json:"cap_amount_sgd,omitempty"`
	MinAmountSGD      float64 `json:"min_amount_sgd,omitempty"`
	PercentMax        float64 `json:"percent_max,omitempty"`
	MentionsCofunding bool    `json:"mentions_cofunding,omitempty"`
	Raw               string  `json:"raw,omitempty"`
}

// ApplicationWindow is the extracted application period. Dates are ISO
// calendar dates, deduplicated and ascending.
type ApplicationWindow struct {
	IsOpenAllYear bool     `json:"is_open_all_year"`
	Dates         []string `json:"dates,omitempty"`
	StartDate     string   `json:"start_date,omitempty"`
	EndDate       string   `json:"end_date,omitempty"`
	Raw           string   `json:"raw,omitempty"`
}

// EligibilityInfo splits the who-can-apply text into recognized organization
// types and the full requirement lines.
type EligibilityInfo struct {
	OrgTypes     []string `json:"org_types,omitempty"`
	Requirements []string `json:"requirements,omitempty"`
}

// CombinedText joins the structured page fields into the text blob used for
// tagging and embedding.
func (r RawGrant) CombinedText() string {
	return joinNonEmpty([]string{r.About, r.WhoCanApply, r.WhenToApply, r.FundingText(), r.HowToApply}, "\n")
}

// FundingText returns the funding field, falling back to the section with the
// funding heading when the scraper did not lift it out.
func (r RawGrant) FundingText() string {
	if txt := cleanText(r.Funding); txt != "" {
		return txt
	}
	for _, s := range r.Sections {
		if strings.EqualFold(cleanText(s.Heading), "How much funding can you receive?") {
			return joinNonEmpty(s.Content, "\n")
		}
	}
	return ""
}

// FetchedDocument is the raw result of a fetch operation.
type FetchedDocument struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        io.ReadCloser
	FetchedAt   time.Time
	Headers     map[string][]string
}

// Fetcher retrieves raw content from a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*FetchedDocument, error)
}
