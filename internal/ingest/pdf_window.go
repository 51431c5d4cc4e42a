package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	rpdf "rsc.io/pdf"
)

// maxAttachmentScans caps how many PDF attachments are fetched per grant.
const maxAttachmentScans = 3

// extractPDFText pulls the text fragments out of a PDF. The parser panics on
// some malformed files, so the panic is converted into an error.
func extractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	return builder.String(), nil
}

func fetchPDFText(ctx context.Context, fetcher Fetcher, pdfURL string) (string, error) {
	doc, err := fetcher.Fetch(ctx, pdfURL)
	if err != nil {
		return "", err
	}
	defer doc.Body.Close()

	content, err := io.ReadAll(doc.Body)
	if err != nil {
		return "", fmt.Errorf("pdf read failed: %w", err)
	}

	return extractPDFText(content)
}

// ScanAttachmentWindows looks for an application window inside a grant's PDF
// attachments, for pages whose text never states one. The first attachment
// declaring open-all-year wins outright; otherwise dates found across
// attachments are merged into one window.
func ScanAttachmentWindows(ctx context.Context, fetcher Fetcher, docs []DocumentLink) (ApplicationWindow, bool) {
	if fetcher == nil {
		return ApplicationWindow{}, false
	}

	scanned := 0
	var merged ApplicationWindow
	for _, doc := range docs {
		if scanned >= maxAttachmentScans {
			break
		}
		if !strings.Contains(strings.ToLower(doc.Href), ".pdf") {
			continue
		}
		scanned++

		text, err := fetchPDFText(ctx, fetcher, doc.Href)
		if err != nil {
			log.Printf("[ingest] attachment scan failed for %s: %v", doc.Href, err)
			continue
		}

		w := ExtractWindow(text)
		if w.IsOpenAllYear {
			return ApplicationWindow{IsOpenAllYear: true}, true
		}
		merged.Dates = mergeUniqueFold(merged.Dates, w.Dates)
	}

	if len(merged.Dates) == 0 {
		return ApplicationWindow{}, false
	}

	sort.Strings(merged.Dates)
	merged.StartDate = merged.Dates[0]
	merged.EndDate = merged.Dates[len(merged.Dates)-1]
	return merged, true
}
