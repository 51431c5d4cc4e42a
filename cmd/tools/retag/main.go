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
	Retagged   int  `json:"retagged"`
	Embedded   int  `json:"embedded"`
	BatchSize  int  `json:"batch_size"`
	Embeddings bool `json:"embeddings"`
}

func main() {
	batchSize := flag.Int("batch-size", 200, "rows per retag batch")
	embed := flag.Bool("embed", false, "also backfill missing embeddings (needs Ollama)")
	embedBatch := flag.Int("embed-batch", 100, "rows per embedding batch")
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

	var aiClient *ai.OllamaClient
	if *embed {
		aiClient = ai.NewOllamaClientFromEnv()
	}
	pipeline := ingest.NewPipeline(pool, nil, aiClient, nil)

	retagged, err := pipeline.RetagAll(ctx, *batchSize)
	if err != nil {
		log.Fatalf("retag failed: %v", err)
	}

	result := output{
		Retagged:   retagged,
		BatchSize:  *batchSize,
		Embeddings: *embed,
	}

	if *embed {
		embedded, err := pipeline.BackfillEmbeddings(ctx, *embedBatch)
		if err != nil {
			log.Fatalf("embedding backfill failed: %v", err)
		}
		result.Embedded = embedded
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
