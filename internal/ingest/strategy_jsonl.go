package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// DatasetStrategy imports pre-scraped grant records in bulk from a JSONL
// file, one RawGrant per line. Rows usually carry a pre-built grant profile,
// which normalization uses as-is instead of re-tagging.
type DatasetStrategy struct{}

func (s *DatasetStrategy) Run(ctx context.Context, config SourceConfig, p *Pipeline) (IngestionStats, error) {
	stats := IngestionStats{}

	if config.DataURL == "" {
		return stats, fmt.Errorf("source %s: data_url is required", config.ID)
	}

	reader, err := s.open(ctx, config.DataURL, p.Fetcher)
	if err != nil {
		return stats, fmt.Errorf("open dataset: %w", err)
	}
	defer reader.Close()

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var raw RawGrant
		if err := json.Unmarshal(line, &raw); err != nil {
			log.Printf("[%s] bad record on line %d: %v", config.ID, lineNo, err)
			stats.Errors++
			continue
		}
		stats.TotalFound++
		if raw.Source == "" {
			raw.Source = config.ID
		}

		if err := p.SaveRaw(ctx, raw); err != nil {
			log.Printf("[%s] failed to save line %d (%q): %v", config.ID, lineNo, raw.Title, err)
			stats.Errors++
			continue
		}
		stats.TotalSaved++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan dataset: %w", err)
	}

	return stats, nil
}

func (s *DatasetStrategy) open(ctx context.Context, dataURL string, fetcher Fetcher) (io.ReadCloser, error) {
	if strings.HasPrefix(dataURL, "http://") || strings.HasPrefix(dataURL, "https://") {
		doc, err := fetcher.Fetch(ctx, dataURL)
		if err != nil {
			return nil, err
		}
		return doc.Body, nil
	}
	return os.Open(dataURL)
}
