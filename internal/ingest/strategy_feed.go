package ingest

import (
	"context"
	"fmt"
	"log"

	"github.com/mmcdole/gofeed"
)

// FeedStrategy polls an RSS/Atom feed of grant announcements. Feed items are
// thin compared to instruction pages, so most fields rely on the profile
// builder's text extraction over the item description.
type FeedStrategy struct{}

func (s *FeedStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	if config.FeedURL == "" {
		return stats, fmt.Errorf("source %s: feed_url is required", config.ID)
	}

	doc, err := p.Fetcher.Fetch(ctx, config.FeedURL)
	if err != nil {
		return stats, fmt.Errorf("fetch feed: %w", err)
	}
	defer doc.Body.Close()

	feed, err := gofeed.NewParser().Parse(doc.Body)
	if err != nil {
		return stats, fmt.Errorf("parse feed: %w", err)
	}

	for _, item := range feed.Items {
		if item == nil || item.Title == "" {
			continue
		}
		stats.TotalFound++

		body := item.Description
		if item.Content != "" {
			body = item.Content
		}

		raw := RawGrant{
			DocID:     item.GUID,
			Source:    config.ID,
			SourceURL: CanonicalizeURL(item.Link),
			Title:     item.Title,
			About:     HTMLToText(body),
		}
		if len(item.Authors) > 0 && item.Authors[0] != nil {
			raw.Agency = item.Authors[0].Name
		}

		if err := p.SaveRaw(ctx, raw); err != nil {
			log.Printf("[%s] failed to save %q: %v", config.ID, item.Title, err)
			stats.Errors++
			continue
		}
		stats.TotalSaved++
	}

	return stats, nil
}
