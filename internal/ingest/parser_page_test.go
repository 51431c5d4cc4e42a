package ingest

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseGrantPage(t *testing.T) {
	const page = `<html><body>
	<h1>Community Impact Fund</h1>
	<div class="agency">Ministry of Culture, Community and Youth</div>
	<section><h2>About this grant</h2><p>Supports ground-up community projects.</p><p>Priority goes to first-time applicants.</p></section>
	<section><h2>Who can apply?</h2><ul><li>Registered societies</li><li>Charities and IPCs</li></ul></section>
	<section><h2>When to apply?</h2><p>Applications are open throughout the year.</p></section>
	<section><h2>How much funding can you receive?</h2><p>Up to S$20,000 per project.</p></section>
	<section><h2>How to apply?</h2><p>Submit the proposal through the portal.</p><a href="/apply/community-impact">Apply now</a></section>
	<section><h2>Contact us</h2><p>Write to grants@example.gov.sg.</p></section>
	<a href="/docs/guidelines.pdf">Grant guidelines</a>
	</body></html>`

	raw, err := ParseGrantPage(
		"https://Portal.Test.Gov.SG/grants/community-impact?utm_source=banner",
		strings.NewReader(page),
		SelectorConfig{Agency: ".agency"},
	)
	if err != nil {
		t.Fatalf("ParseGrantPage failed: %v", err)
	}

	if raw.SourceURL != "https://portal.test.gov.sg/grants/community-impact" {
		t.Errorf("expected canonicalized source URL, got %q", raw.SourceURL)
	}
	if raw.Title != "Community Impact Fund" {
		t.Errorf("unexpected title %q", raw.Title)
	}
	if raw.Agency != "Ministry of Culture, Community and Youth" {
		t.Errorf("unexpected agency %q", raw.Agency)
	}
	if raw.About != "Supports ground-up community projects.\nPriority goes to first-time applicants." {
		t.Errorf("unexpected about text %q", raw.About)
	}
	if raw.WhoCanApply != "Registered societies\nCharities and IPCs" {
		t.Errorf("unexpected eligibility text %q", raw.WhoCanApply)
	}
	if raw.WhenToApply != "Applications are open throughout the year." {
		t.Errorf("unexpected window text %q", raw.WhenToApply)
	}
	if raw.Funding != "Up to S$20,000 per project." {
		t.Errorf("unexpected funding text %q", raw.Funding)
	}
	if raw.HowToApply != "Submit the proposal through the portal." {
		t.Errorf("unexpected how-to text %q", raw.HowToApply)
	}
	if raw.ApplyURL != "https://Portal.Test.Gov.SG/apply/community-impact" {
		t.Errorf("expected apply link resolved against the page, got %q", raw.ApplyURL)
	}

	if len(raw.Sections) != 6 {
		t.Fatalf("expected all 6 sections kept, got %d", len(raw.Sections))
	}
	last := raw.Sections[5]
	wantLast := Section{Heading: "Contact us", Content: []string{"Write to grants@example.gov.sg."}}
	if diff := cmp.Diff(wantLast, last); diff != "" {
		t.Errorf("unrecognized section not kept verbatim (-want +got):\n%s", diff)
	}

	wantDocs := []DocumentLink{
		{Label: "Grant guidelines", Href: "https://Portal.Test.Gov.SG/docs/guidelines.pdf"},
	}
	if diff := cmp.Diff(wantDocs, raw.Documents); diff != "" {
		t.Errorf("unexpected document links (-want +got):\n%s", diff)
	}
}

func TestParseGrantPage_DocumentsSelector(t *testing.T) {
	const page = `<html><body>
	<h1>Sport Support Scheme</h1>
	<div class="downloads">
		<a href="/files/annex-a.pdf">Annex A</a>
		<a href="/files/annex-a.pdf">Annex A again</a>
		<a href="/files/budget-template.xlsx">Budget template</a>
	</div>
	<a href="/unrelated/faq.pdf">FAQ</a>
	</body></html>`

	raw, err := ParseGrantPage(
		"https://portal.test.gov.sg/grants/sport-support",
		strings.NewReader(page),
		SelectorConfig{Documents: ".downloads a"},
	)
	if err != nil {
		t.Fatalf("ParseGrantPage failed: %v", err)
	}

	want := []DocumentLink{
		{Label: "Annex A", Href: "https://portal.test.gov.sg/files/annex-a.pdf"},
		{Label: "Budget template", Href: "https://portal.test.gov.sg/files/budget-template.xlsx"},
	}
	if diff := cmp.Diff(want, raw.Documents); diff != "" {
		t.Errorf("configured selector should take exactly its anchors, deduplicated (-want +got):\n%s", diff)
	}
}

func TestClassifyHeading(t *testing.T) {
	tests := []struct {
		heading string
		want    headingKind
	}{
		{"About this grant", headingAbout},
		{"ABOUT THIS GRANT", headingAbout},
		{"  Who   can apply? ", headingWho},
		{"When to apply?", headingWhen},
		{"When can I apply?", headingWhen},
		{"How much funding can you receive?", headingFunding},
		{"How to apply?", headingHow},
		{"Contact us", headingOther},
		{"", headingOther},
	}

	for _, tt := range tests {
		if got := classifyHeading(tt.heading); got != tt.want {
			t.Errorf("classifyHeading(%q) = %d, want %d", tt.heading, got, tt.want)
		}
	}
}

func TestParseListingPage(t *testing.T) {
	const listing = `<html><body>
	<div class="grant-card"><a class="card-link" href="/grants/sg-eco-fund">SG Eco Fund</a></div>
	<div class="grant-card"><a class="card-link" href="/grants/sg-eco-fund">Duplicate card</a></div>
	<div class="grant-card"><a class="card-link" href="https://Portal.Test.Gov.SG/grants/youth-fund#details">Youth Fund</a></div>
	<div class="grant-card"><a class="card-link" href="javascript:void(0)">Broken card</a></div>
	<div class="grant-card"><span>Card without a link</span></div>
	<a class="next" href="?page=2">Load more</a>
	</body></html>`

	page, err := ParseListingPage(
		"https://portal.test.gov.sg/grants",
		strings.NewReader(listing),
		SelectorConfig{Listing: ".grant-card", DetailLink: "a.card-link", NextPage: "a.next"},
	)
	if err != nil {
		t.Fatalf("ParseListingPage failed: %v", err)
	}

	wantURLs := []string{
		"https://portal.test.gov.sg/grants/sg-eco-fund",
		"https://portal.test.gov.sg/grants/youth-fund",
	}
	if diff := cmp.Diff(wantURLs, page.DetailURLs); diff != "" {
		t.Errorf("unexpected detail URLs (-want +got):\n%s", diff)
	}
	if page.NextURL != "https://portal.test.gov.sg/grants?page=2" {
		t.Errorf("unexpected next page URL %q", page.NextURL)
	}
}

func TestParseListingPage_CardIsAnchor(t *testing.T) {
	const listing = `<html><body>
	<a class="grant-link" href="/grants/cultural-matching-fund">Cultural Matching Fund</a>
	<a class="grant-link" href="/grants/heritage-grant">Heritage Grant</a>
	</body></html>`

	page, err := ParseListingPage(
		"https://portal.test.gov.sg/grants",
		strings.NewReader(listing),
		SelectorConfig{Listing: "a.grant-link"},
	)
	if err != nil {
		t.Fatalf("ParseListingPage failed: %v", err)
	}

	want := []string{
		"https://portal.test.gov.sg/grants/cultural-matching-fund",
		"https://portal.test.gov.sg/grants/heritage-grant",
	}
	if diff := cmp.Diff(want, page.DetailURLs); diff != "" {
		t.Errorf("cards that are themselves anchors should link directly (-want +got):\n%s", diff)
	}
}

func TestParseListingPage_RequiresListingSelector(t *testing.T) {
	_, err := ParseListingPage("https://portal.test.gov.sg/grants", strings.NewReader("<html></html>"), SelectorConfig{})
	if err == nil {
		t.Fatal("expected an error when no listing selector is configured")
	}
}

func TestCanonicalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "host lowercased, fragment and utm stripped",
			in:   "https://OurSGGrants.Gov.SG/grants/sg-eco-fund?utm_source=fb&utm_campaign=launch#apply",
			want: "https://oursggrants.gov.sg/grants/sg-eco-fund",
		},
		{
			name: "click identifiers stripped, real params kept",
			in:   "https://portal.test.gov.sg/grants?page=2&fbclid=abc&gclid=xyz",
			want: "https://portal.test.gov.sg/grants?page=2",
		},
		{
			name: "session and ref params stripped",
			in:   "https://portal.test.gov.sg/grants?ref=newsletter&session=99",
			want: "https://portal.test.gov.sg/grants",
		},
		{
			name: "unparseable URL returned untouched",
			in:   "://not-a-url",
			want: "://not-a-url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalizeURL(tt.in); got != tt.want {
				t.Errorf("CanonicalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
