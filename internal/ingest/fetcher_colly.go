package ingest

import (
	"fmt"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// newPortalCollector builds a Colly collector locked to the portal's host,
// with the source's politeness settings applied. Clones share the same
// backend, so rate limits hold across listing and detail visits.
func newPortalCollector(baseURL string, cfg FetchConfig) (*colly.Collector, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	delay := 1 * time.Second
	if cfg.RateLimitRPS > 0 {
		delay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}

	c := colly.NewCollector(
		colly.AllowedDomains(parsed.Host),
		colly.UserAgent(fetchUserAgent),
		colly.DetectCharset(),
		colly.MaxBodySize(10*1024*1024),
		colly.AllowURLRevisit(),
	)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       delay,
		RandomDelay: delay / 2,
	})
	c.SetRequestTimeout(timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept-Language", "en-SG,en;q=0.8")
	})

	return c, nil
}

// fetchWithCollector visits one URL on a fresh clone so response callbacks
// stay scoped to this fetch, and returns the body.
func fetchWithCollector(c *colly.Collector, pageURL string) ([]byte, error) {
	clone := c.Clone()

	var body []byte
	var fetchErr error
	clone.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	clone.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := clone.Visit(pageURL); err != nil {
		return nil, err
	}
	clone.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	if body == nil {
		return nil, fmt.Errorf("no response received for %s", pageURL)
	}
	return body, nil
}
