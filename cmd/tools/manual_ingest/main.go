package main

import (
	"context"
	"flag"
	"log"

	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/ingest"
)

func main() {
	sourceID := flag.String("source", "", "Source ID to ingest (e.g., oursg)")
	flag.Parse()

	if *sourceID == "" {
		log.Fatal("Please provide a source ID using -source flag")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Nil AI skips LLM gap fill and embeddings, nil notifier skips digests.
	// For checking scraping and selectors that is exactly what we want.
	pipeline := ingest.NewPipeline(pool, nil, nil, nil)

	log.Printf("Starting manual ingestion for source: %s", *sourceID)
	stats, err := pipeline.IngestSource(ctx, *sourceID)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	log.Printf("Ingestion finished for %s. Found: %d, Saved: %d, Errors: %d", *sourceID, stats.TotalFound, stats.TotalSaved, stats.Errors)
}
