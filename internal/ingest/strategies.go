package ingest

import (
	"context"
	"fmt"
)

// IngestionStats holds counters for one source run.
type IngestionStats struct {
	TotalFound int
	TotalSaved int
	Errors     int
}

// SourceStrategy is the contract for one ingestion source kind. Run fetches
// and parses the source, handing each record to the pipeline for profiling
// and persistence.
type SourceStrategy interface {
	Run(ctx context.Context, config SourceConfig, pipeline *Pipeline) (IngestionStats, error)
}

// StrategyFactory maps strategy IDs from sources.yaml to implementations.
type StrategyFactory struct {
	strategies map[string]SourceStrategy
}

func NewStrategyFactory() *StrategyFactory {
	return &StrategyFactory{
		strategies: make(map[string]SourceStrategy),
	}
}

func (f *StrategyFactory) Register(id string, strategy SourceStrategy) {
	f.strategies[id] = strategy
}

func (f *StrategyFactory) Get(id string) (SourceStrategy, error) {
	strategy, ok := f.strategies[id]
	if !ok {
		return nil, fmt.Errorf("strategy not found: %s", id)
	}
	return strategy, nil
}

var GlobalStrategyFactory = NewStrategyFactory()

func init() {
	GlobalStrategyFactory.Register("oursg_html", &PortalStrategy{UseColly: true})
	GlobalStrategyFactory.Register("feed", &FeedStrategy{})
	GlobalStrategyFactory.Register("jsonl", &DatasetStrategy{})
}
