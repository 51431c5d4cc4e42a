package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/cheryl9/grantdeck/internal/ai"
	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/ingest"
)

type output struct {
	Embedded  int `json:"embedded"`
	BatchSize int `json:"batch_size"`
}

func main() {
	batchSize := flag.Int("batch-size", 100, "rows per embedding batch")
	flag.Parse()

	ctx := context.Background()
	pool, err := db.Connect(ctx)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.ApplyMigrations(ctx, pool); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	pipeline := ingest.NewPipeline(pool, nil, ai.NewOllamaClientFromEnv(), nil)

	embedded, err := pipeline.BackfillEmbeddings(ctx, *batchSize)
	if err != nil {
		log.Fatalf("embedding backfill failed: %v", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output{Embedded: embedded, BatchSize: *batchSize}); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
