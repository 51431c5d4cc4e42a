package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
)

// PortalStrategy walks an OurSG-style grants portal: listing pages link to
// per-grant instruction pages, which carry the structured sections the
// profile builder feeds on.
type PortalStrategy struct {
	// UseColly selects the Colly crawler. When false the pipeline's Fetcher
	// is used directly, which is how tests drive the strategy.
	UseColly bool
}

type pageFetchFunc func(ctx context.Context, pageURL string) ([]byte, error)

func (s *PortalStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	if config.BaseURL == "" {
		return IngestionStats{}, fmt.Errorf("source %s: base_url is required", config.ID)
	}

	var fetchPage pageFetchFunc
	if s.UseColly {
		collector, err := newPortalCollector(config.BaseURL, config.Fetch)
		if err != nil {
			return IngestionStats{}, err
		}
		fetchPage = func(_ context.Context, pageURL string) ([]byte, error) {
			return fetchWithCollector(collector, pageURL)
		}
	} else {
		fetchPage = func(ctx context.Context, pageURL string) ([]byte, error) {
			doc, err := p.Fetcher.Fetch(ctx, pageURL)
			if err != nil {
				return nil, err
			}
			defer doc.Body.Close()
			return io.ReadAll(doc.Body)
		}
	}

	return s.crawl(ctx, config, p, fetchPage)
}

func (s *PortalStrategy) crawl(ctx context.Context, config SourceConfig, p *Pipeline, fetchPage pageFetchFunc) (IngestionStats, error) {
	stats := IngestionStats{}

	maxPages := config.MaxPages
	if maxPages == 0 {
		maxPages = 1
	}

	visitedPages := make(map[string]bool)
	visitedDetails := make(map[string]bool)
	currentURL := config.BaseURL
	pageCount := 0

	for pageCount < maxPages && currentURL != "" {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		canonPage := CanonicalizeURL(currentURL)
		if visitedPages[canonPage] {
			log.Printf("[%s] pagination cycle at %s, stopping", config.ID, canonPage)
			break
		}
		visitedPages[canonPage] = true
		pageCount++

		log.Printf("[%s] fetching listing page %d: %s", config.ID, pageCount, currentURL)
		body, err := fetchPage(ctx, currentURL)
		if err != nil {
			log.Printf("[%s] listing fetch failed on page %d: %v", config.ID, pageCount, err)
			stats.Errors++
			break
		}

		page, err := ParseListingPage(currentURL, bytes.NewReader(body), config.Selectors)
		if err != nil {
			return stats, err
		}

		for _, detailURL := range page.DetailURLs {
			if visitedDetails[detailURL] {
				continue
			}
			visitedDetails[detailURL] = true
			stats.TotalFound++

			if err := s.ingestDetail(ctx, config, p, fetchPage, detailURL); err != nil {
				log.Printf("[%s] detail ingest failed for %s: %v", config.ID, detailURL, err)
				stats.Errors++
				continue
			}
			stats.TotalSaved++
		}

		currentURL = page.NextURL
	}

	return stats, nil
}

func (s *PortalStrategy) ingestDetail(ctx context.Context, config SourceConfig, p *Pipeline, fetchPage pageFetchFunc, detailURL string) error {
	body, err := fetchPage(ctx, detailURL)
	if err != nil {
		return fmt.Errorf("fetch detail: %w", err)
	}

	raw, err := ParseGrantPage(detailURL, bytes.NewReader(body), config.Selectors)
	if err != nil {
		return err
	}
	if raw.Title == "" {
		return fmt.Errorf("no title at %s", detailURL)
	}
	raw.Source = config.ID

	profile := BuildProfile(raw)
	if config.ScanAttachments && windowNeedsScan(profile.Window) && len(raw.Documents) > 0 {
		if window, ok := ScanAttachmentWindows(ctx, p.Fetcher, raw.Documents); ok {
			profile.Window = window
		}
	}
	raw.Profile = &profile

	return p.SaveRaw(ctx, raw)
}

// windowNeedsScan reports whether the page text gave us no usable
// application window, making the PDF attachments worth a look.
func windowNeedsScan(w ApplicationWindow) bool {
	return !w.IsOpenAllYear && len(w.Dates) == 0
}
