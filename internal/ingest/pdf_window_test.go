package ingest

import (
	"context"
	"testing"
)

type countingFetcher struct {
	MockFetcher
	calls int
}

func (c *countingFetcher) Fetch(ctx context.Context, url string) (*FetchedDocument, error) {
	c.calls++
	return c.MockFetcher.Fetch(ctx, url)
}

func TestExtractPDFText_RejectsNonPDF(t *testing.T) {
	if _, err := extractPDFText([]byte("just some plain text")); err == nil {
		t.Fatal("expected an error for non-PDF content")
	}
	// A PDF header with no xref behind it must come back as an error, not
	// a panic escaping the parser.
	if _, err := extractPDFText([]byte("%PDF-1.7 truncated before any structure")); err == nil {
		t.Fatal("expected an error for a truncated PDF")
	}
}

func TestScanAttachmentWindows_NilFetcher(t *testing.T) {
	docs := []DocumentLink{{Label: "Guidelines", Href: "https://portal.test.gov.sg/docs/guidelines.pdf"}}
	if _, ok := ScanAttachmentWindows(context.Background(), nil, docs); ok {
		t.Fatal("expected no window without a fetcher")
	}
}

func TestScanAttachmentWindows_SkipsNonPDFLinks(t *testing.T) {
	fetcher := &countingFetcher{MockFetcher: MockFetcher{Data: map[string][]byte{}}}
	docs := []DocumentLink{
		{Label: "FAQ page", Href: "https://portal.test.gov.sg/faq.html"},
		{Label: "Budget template", Href: "https://portal.test.gov.sg/files/budget.xlsx"},
	}

	if _, ok := ScanAttachmentWindows(context.Background(), fetcher, docs); ok {
		t.Fatal("expected no window from non-PDF attachments")
	}
	if fetcher.calls != 0 {
		t.Errorf("expected no fetches for non-PDF links, got %d", fetcher.calls)
	}
}

func TestScanAttachmentWindows_CapsFetches(t *testing.T) {
	fetcher := &countingFetcher{MockFetcher: MockFetcher{Data: map[string][]byte{}}}
	docs := []DocumentLink{
		{Href: "https://portal.test.gov.sg/files/annex-a.pdf"},
		{Href: "https://portal.test.gov.sg/files/ANNEX-B.PDF"},
		{Href: "https://portal.test.gov.sg/files/annex-c.pdf"},
		{Href: "https://portal.test.gov.sg/files/annex-d.pdf"},
		{Href: "https://portal.test.gov.sg/files/annex-e.pdf"},
	}

	if _, ok := ScanAttachmentWindows(context.Background(), fetcher, docs); ok {
		t.Fatal("expected no window when every fetch fails")
	}
	if fetcher.calls != maxAttachmentScans {
		t.Errorf("expected %d fetches, got %d", maxAttachmentScans, fetcher.calls)
	}
}
