package ingest

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed config/sources.yaml
var sourcesYAML embed.FS

// Registry holds the configuration for all grant sources.
type Registry struct {
	Sources []SourceConfig `yaml:"sources"`
}

// Source returns the config with the given id.
func (r *Registry) Source(id string) (SourceConfig, bool) {
	for _, s := range r.Sources {
		if s.ID == id {
			return s, true
		}
	}
	return SourceConfig{}, false
}

// FetchConfig tunes HTTP fetching for a source's domain.
type FetchConfig struct {
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty"` // default 30
	MaxRetries     int     `yaml:"max_retries,omitempty"`     // default 3
	RateLimitRPS   float64 `yaml:"rate_limit_rps,omitempty"`  // default 1.0
}

// SourceConfig defines one grant source. Strategy selects the crawler:
// "oursg_html" walks a portal's listing pages and parses instruction pages,
// "feed" polls an RSS/Atom announcement feed, "jsonl" imports pre-built
// records in bulk.
type SourceConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Strategy string `yaml:"strategy"`
	BaseURL  string `yaml:"base_url,omitempty"`
	FeedURL  string `yaml:"feed_url,omitempty"`
	DataURL  string `yaml:"data_url,omitempty"` // jsonl location, http(s) URL or local path
	MaxPages int    `yaml:"max_pages,omitempty"`

	// ScanAttachments turns on PDF attachment scanning for application
	// windows the page text does not carry.
	ScanAttachments bool `yaml:"scan_attachments,omitempty"`

	Fetch     FetchConfig    `yaml:"fetch,omitempty"`
	Selectors SelectorConfig `yaml:"selectors,omitempty"`
}

// SelectorConfig holds the CSS selectors for the oursg_html strategy.
type SelectorConfig struct {
	Listing    string `yaml:"listing,omitempty"`     // list item wrapper
	DetailLink string `yaml:"detail_link,omitempty"` // anchor to the instruction page
	NextPage   string `yaml:"next_page,omitempty"`   // pagination/load-more link
	Title      string `yaml:"title,omitempty"`
	Agency     string `yaml:"agency,omitempty"`
	Sections   string `yaml:"sections,omitempty"` // section wrapper on the instruction page
	Heading    string `yaml:"heading,omitempty"`  // heading element inside a section
	Documents  string `yaml:"documents,omitempty"`
}

// LoadRegistry reads the embedded sources.yaml, with a filesystem override
// for local development. Environment references like ${GRANTS_DATASET_URL}
// are expanded before parsing.
func LoadRegistry(path string) (*Registry, error) {
	data, err := sourcesYAML.ReadFile("config/sources.yaml")
	if path != "" {
		if fileData, fileErr := os.ReadFile(path); fileErr == nil {
			data, err = fileData, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("read sources registry: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var reg Registry
	if err := yaml.Unmarshal([]byte(expanded), &reg); err != nil {
		return nil, fmt.Errorf("parse sources registry: %w", err)
	}

	return &reg, nil
}
