package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cheryl9/grantdeck/internal/ai"
	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/microcosm-cc/bluemonday"
	"github.com/pgvector/pgvector-go"
)

type ctxKey string

// runIDCtxKey carries the ingest_runs row ID from IngestSource down to
// SaveRaw so every upserted grant is stamped with the run that touched it.
const runIDCtxKey ctxKey = "ingest_run_id"

// Notifier receives a digest of grants first seen during an ingestion run.
// A nil Notifier disables digests.
type Notifier interface {
	NotifyNewGrants(ctx context.Context, sourceName string, grants []models.Grant) error
}

type Pipeline struct {
	DB       *pgxpool.Pool
	Store    *db.Store
	Fetcher  Fetcher
	AI       *ai.OllamaClient
	Notifier Notifier
}

func NewPipeline(pool *pgxpool.Pool, fetcher Fetcher, aiClient *ai.OllamaClient, notifier Notifier) *Pipeline {
	if fetcher == nil {
		fetcher = NewRateLimitedFetcher(FetchConfig{})
	}
	return &Pipeline{
		DB:       pool,
		Store:    db.NewStore(pool),
		Fetcher:  fetcher,
		AI:       aiClient,
		Notifier: notifier,
	}
}

// Run ingests a single grant page outside any registered source. Used by the
// admin URL trigger for pages the registry does not cover yet.
func (p *Pipeline) Run(ctx context.Context, pageURL string) error {
	log.Printf("[ingest] fetching %s", pageURL)

	doc, err := p.Fetcher.Fetch(ctx, pageURL)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer doc.Body.Close()

	raw, err := ParseGrantPage(pageURL, doc.Body, SelectorConfig{})
	if err != nil {
		return fmt.Errorf("parse %s: %w", pageURL, err)
	}
	if raw.Title == "" {
		return fmt.Errorf("no grant title found at %s", pageURL)
	}
	raw.Source = "manual"

	if err := p.SaveRaw(ctx, raw); err != nil {
		return err
	}
	log.Printf("[ingest] saved %q from %s", raw.Title, pageURL)
	return nil
}

// IngestSource runs a single registered source and records the run in
// ingest_runs. The run row is updated on exit whether the strategy succeeded
// or not.
func (p *Pipeline) IngestSource(ctx context.Context, sourceID string) (stats IngestionStats, err error) {
	var runID string
	if scanErr := p.DB.QueryRow(ctx,
		"INSERT INTO ingest_runs (source_id, status) VALUES ($1, 'running') RETURNING run_id",
		sourceID).Scan(&runID); scanErr != nil {
		log.Printf("[ingest] failed to create run record: %v", scanErr)
	} else {
		ctx = context.WithValue(ctx, runIDCtxKey, runID)
	}

	start := time.Now()

	defer func() {
		if runID == "" {
			return
		}
		status := "completed"
		if err != nil {
			status = "failed"
		} else if stats.TotalSaved == 0 && stats.TotalFound > 0 {
			status = "failed"
		}

		// The run record must be closed out even when ctx was canceled.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()

		if _, execErr := p.DB.Exec(finishCtx,
			`UPDATE ingest_runs SET
				status = $1,
				items_found = $2,
				items_saved = $3,
				errors = $4,
				completed_at = NOW(),
				details = $5
			WHERE run_id = $6`,
			status, stats.TotalFound, stats.TotalSaved, stats.Errors,
			fmt.Sprintf(`{"duration_ms": %d}`, time.Since(start).Milliseconds()),
			runID,
		); execErr != nil {
			log.Printf("[ingest] failed to update run %s: %v", runID, execErr)
		}
	}()

	registry, loadErr := LoadRegistry("")
	if loadErr != nil {
		err = fmt.Errorf("load source registry: %w", loadErr)
		return stats, err
	}

	config, ok := registry.Source(sourceID)
	if !ok {
		err = fmt.Errorf("source id %q not found in registry", sourceID)
		return stats, err
	}

	if rlf, ok := p.Fetcher.(*RateLimitedFetcher); ok {
		for _, u := range []string{config.BaseURL, config.FeedURL, config.DataURL} {
			if u != "" {
				rlf.Configure(u, config.Fetch)
			}
		}
	}

	strategy, strategyErr := GlobalStrategyFactory.Get(config.Strategy)
	if strategyErr != nil {
		err = fmt.Errorf("strategy %q not found for source %q", config.Strategy, sourceID)
		return stats, err
	}

	log.Printf("[ingest] starting source %s (%s)", config.Name, config.ID)
	stats, err = strategy.Run(ctx, config, p)
	if err != nil {
		return stats, err
	}

	if p.Notifier != nil && runID != "" && stats.TotalSaved > 0 {
		p.sendDigest(ctx, config, runID, start)
	}

	return stats, nil
}

// IngestAll runs every source in the registry. A failing source is logged
// and counted, never fatal for the others.
func (p *Pipeline) IngestAll(ctx context.Context) (map[string]IngestionStats, error) {
	registry, err := LoadRegistry("")
	if err != nil {
		return nil, fmt.Errorf("load source registry: %w", err)
	}

	results := make(map[string]IngestionStats, len(registry.Sources))
	for _, src := range registry.Sources {
		stats, err := p.IngestSource(ctx, src.ID)
		if err != nil {
			log.Printf("[ingest] source %q failed: %v", src.ID, err)
			stats.Errors++
		}
		results[src.ID] = stats

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}

// SaveRaw normalizes a scraped record and upserts it. The raw record itself
// is stored alongside the derived columns so later retag passes can rebuild
// them without refetching.
func (p *Pipeline) SaveRaw(ctx context.Context, raw RawGrant) error {
	if raw.Profile == nil {
		profile := BuildProfile(raw)
		raw.Profile = &profile
	}

	grant := FromRaw(raw)

	grant.Title = sanitizeUTF8(grant.Title)
	grant.Agency = sanitizeUTF8(grant.Agency)
	grant.Description = sanitizeHTML(sanitizeUTF8(grant.Description))

	if strings.TrimSpace(grant.Title) == "" {
		return fmt.Errorf("missing title (url=%s, source=%s)", grant.SourceURL, grant.SourceDomain)
	}
	if strings.TrimSpace(grant.SourceID) == "" {
		return fmt.Errorf("missing source_id (url=%s, source=%s)", grant.SourceURL, grant.SourceDomain)
	}

	p.augmentFromLLM(ctx, &grant, raw)

	var embedding interface{}
	if p.AI != nil {
		text := grant.Title + "\n" + grant.Description
		if len(text) > 8000 {
			text = text[:8000]
		}
		if vec, err := p.AI.GenerateEmbedding(ctx, text); err != nil {
			log.Printf("[ingest] embedding failed for %q: %v", grant.Title, err)
		} else {
			embedding = pgvector.NewVector(vec)
		}
	}

	var runID interface{}
	if v, ok := ctx.Value(runIDCtxKey).(string); ok && v != "" {
		runID = v
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("marshal raw record: %w", err)
	}

	query := `
		INSERT INTO grants (
			grant_key, title, agency, description, issue_areas,
			scope, funding_min, funding_max, funding_raw, percent_max,
			cofunded, deadline, deadline_at, open_all_year, eligibility,
			kpi_snippets, apply_url, source_url, source_domain, source_id,
			source_run_id, raw_record, embedding
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22::jsonb, $23
		)
		ON CONFLICT (source_domain, source_id) DO UPDATE SET
			updated_at = NOW(),
			grant_key = EXCLUDED.grant_key,
			title = EXCLUDED.title,
			agency = COALESCE(NULLIF(EXCLUDED.agency, ''), grants.agency),
			description = COALESCE(NULLIF(EXCLUDED.description, ''), grants.description),
			issue_areas = COALESCE(NULLIF(EXCLUDED.issue_areas, '{}'::text[]), grants.issue_areas),
			scope = COALESCE(NULLIF(EXCLUDED.scope, ''), grants.scope),
			funding_min = COALESCE(NULLIF(EXCLUDED.funding_min, 0), grants.funding_min),
			funding_max = COALESCE(NULLIF(EXCLUDED.funding_max, 0), grants.funding_max),
			funding_raw = COALESCE(NULLIF(EXCLUDED.funding_raw, ''), grants.funding_raw),
			percent_max = COALESCE(NULLIF(EXCLUDED.percent_max, 0), grants.percent_max),
			cofunded = grants.cofunded OR EXCLUDED.cofunded,
			deadline = COALESCE(EXCLUDED.deadline, grants.deadline),
			deadline_at = COALESCE(EXCLUDED.deadline_at, grants.deadline_at),
			open_all_year = grants.open_all_year OR EXCLUDED.open_all_year,
			eligibility = COALESCE(NULLIF(EXCLUDED.eligibility, '{}'::text[]), grants.eligibility),
			kpi_snippets = COALESCE(NULLIF(EXCLUDED.kpi_snippets, '{}'::text[]), grants.kpi_snippets),
			apply_url = COALESCE(NULLIF(EXCLUDED.apply_url, ''), grants.apply_url),
			source_url = COALESCE(NULLIF(EXCLUDED.source_url, ''), grants.source_url),
			source_run_id = COALESCE(EXCLUDED.source_run_id, grants.source_run_id),
			raw_record = COALESCE(EXCLUDED.raw_record, grants.raw_record),
			embedding = COALESCE(EXCLUDED.embedding, grants.embedding)
	`

	_, err = p.DB.Exec(ctx, query,
		grant.ID,                      // $1
		grant.Title,                   // $2
		nilIfEmpty(grant.Agency),      // $3
		nilIfEmpty(grant.Description), // $4
		grant.IssueAreas,              // $5
		nilIfEmpty(grant.Scope),       // $6
		grant.FundingMin,              // $7
		grant.FundingMax,              // $8
		nilIfEmpty(grant.FundingRaw),  // $9
		grant.PercentMax,              // $10
		grant.Cofunded,                // $11
		deadlineParam(grant),          // $12
		grant.DeadlineAt,              // $13
		grant.OpenAllYear,             // $14
		grant.Eligibility,             // $15
		grant.KPIs,                    // $16
		nilIfEmpty(grant.ApplyURL),    // $17
		nilIfEmpty(grant.SourceURL),   // $18
		grant.SourceDomain,            // $19
		grant.SourceID,                // $20
		runID,                         // $21
		rawJSON,                       // $22
		embedding,                     // $23
	)
	if err != nil {
		return fmt.Errorf("upsert grant %q: %w", grant.ID, err)
	}
	return nil
}

// augmentFromLLM fills deadline, funding, and tag gaps the rule extractors
// left open, checking the stored row first so repeat crawls of an unchanged
// page do not redo model calls.
func (p *Pipeline) augmentFromLLM(ctx context.Context, grant *models.Grant, raw RawGrant) {
	needsDeadline := grant.Deadline == models.NoDeadline && !grant.OpenAllYear
	needsFunding := !grant.HasStructuredFunding()
	needsTags := len(grant.IssueAreas) == 0

	if !needsDeadline && !needsFunding && !needsTags {
		return
	}

	existing, err := p.Store.GetGrantBySourceID(ctx, grant.SourceDomain, grant.SourceID)
	if err == nil && existing != nil {
		if needsDeadline && (existing.Deadline != models.NoDeadline || existing.OpenAllYear) {
			grant.Deadline = existing.Deadline
			grant.DeadlineAt = existing.DeadlineAt
			grant.OpenAllYear = existing.OpenAllYear
			needsDeadline = false
		}
		if needsFunding && existing.HasStructuredFunding() {
			grant.FundingMin = existing.FundingMin
			grant.FundingMax = existing.FundingMax
			grant.PercentMax = existing.PercentMax
			grant.Cofunded = grant.Cofunded || existing.Cofunded
			needsFunding = false
		}
		if needsTags && len(existing.IssueAreas) > 0 {
			grant.IssueAreas = existing.IssueAreas
			if grant.Scope == "" {
				grant.Scope = existing.Scope
			}
			needsTags = false
		}
	}

	if p.AI == nil || (!needsDeadline && !needsFunding && !needsTags) {
		return
	}

	log.Printf("[ingest] LLM extraction for %q (source %s)", grant.Title, grant.SourceID)

	text := raw.CombinedText()
	if len(text) > 8000 {
		text = text[:8000]
	}

	facts, err := p.AI.ExtractGrantFacts(ctx, grant.Title, grant.SourceURL, text, IssueAreaTaxonomy(), ScopeTagTaxonomy())
	if err != nil {
		log.Printf("[ingest] LLM extraction failed for %q: %v", grant.Title, err)
		return
	}

	if needsDeadline {
		switch {
		case facts.OpenAllYear:
			grant.OpenAllYear = true
			grant.Deadline = "open throughout the year"
		case facts.DeadlineISO != "":
			if dt, parseErr := time.Parse("2006-01-02", facts.DeadlineISO); parseErr == nil {
				end := toEndOfDay(dt)
				grant.DeadlineAt = &end
				grant.Deadline = facts.DeadlineISO
			}
		case facts.DeadlineText != "":
			grant.Deadline = cleanText(facts.DeadlineText)
		}
	}

	if needsFunding {
		if facts.FundingMaxSGD > 0 {
			grant.FundingMax = facts.FundingMaxSGD
		}
		if facts.FundingMinSGD > 0 {
			grant.FundingMin = facts.FundingMinSGD
		}
		if facts.PercentMax > 0 {
			grant.PercentMax = facts.PercentMax
		}
		if facts.MentionsCofunding {
			grant.Cofunded = true
		}
	}

	if len(facts.IssueAreas) > 0 {
		grant.IssueAreas = mergeUniqueFold(grant.IssueAreas, facts.IssueAreas)
	}
	if grant.Scope == "" && len(facts.ScopeTags) > 0 {
		grant.Scope = facts.ScopeTags[0]
	}
	if len(facts.Eligibility) > 0 {
		grant.Eligibility = mergeUniqueFold(grant.Eligibility, facts.Eligibility)
	}
	if strings.TrimSpace(grant.Description) == "" && facts.Summary != "" {
		grant.Description = cleanText(facts.Summary)
	}
}

func (p *Pipeline) sendDigest(ctx context.Context, config SourceConfig, runID string, since time.Time) {
	// Digest delivery is best effort and must survive request cancellation.
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	grants, err := p.grantsFirstSeenInRun(dctx, runID, since)
	if err != nil {
		log.Printf("[ingest] digest query failed for run %s: %v", runID, err)
		return
	}
	if len(grants) == 0 {
		return
	}
	if err := p.Notifier.NotifyNewGrants(dctx, config.Name, grants); err != nil {
		log.Printf("[ingest] digest notification failed for %s: %v", config.ID, err)
	}
}

// grantsFirstSeenInRun returns the grants inserted, not merely refreshed, by
// the given run.
func (p *Pipeline) grantsFirstSeenInRun(ctx context.Context, runID string, since time.Time) ([]models.Grant, error) {
	rows, err := p.DB.Query(ctx, `
		SELECT grant_key, title, COALESCE(agency, ''), funding_min, funding_max,
			COALESCE(funding_raw, ''), COALESCE(deadline, ''), open_all_year,
			COALESCE(apply_url, ''), COALESCE(source_url, '')
		FROM grants
		WHERE source_run_id = $1 AND created_at >= $2
		ORDER BY created_at
		LIMIT 25`, runID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []models.Grant
	for rows.Next() {
		var g models.Grant
		if err := rows.Scan(&g.ID, &g.Title, &g.Agency, &g.FundingMin, &g.FundingMax,
			&g.FundingRaw, &g.Deadline, &g.OpenAllYear, &g.ApplyURL, &g.SourceURL); err != nil {
			return nil, err
		}
		if g.Deadline == "" {
			g.Deadline = models.NoDeadline
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RetagAll rebuilds the derived columns of every stored grant from its raw
// record. Run after tuning the extraction rules so old rows pick up the new
// behavior without a recrawl.
func (p *Pipeline) RetagAll(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	type rawRow struct {
		id   string
		data []byte
	}

	updated := 0
	offset := 0
	for {
		rows, err := p.DB.Query(ctx, `
			SELECT id, raw_record
			FROM grants
			WHERE raw_record IS NOT NULL
			ORDER BY created_at
			LIMIT $1 OFFSET $2`, batchSize, offset)
		if err != nil {
			return updated, fmt.Errorf("list raw records: %w", err)
		}

		batch := make([]rawRow, 0, batchSize)
		for rows.Next() {
			var r rawRow
			if err := rows.Scan(&r.id, &r.data); err != nil {
				rows.Close()
				return updated, err
			}
			batch = append(batch, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return updated, err
		}
		if len(batch) == 0 {
			return updated, nil
		}

		for _, row := range batch {
			if ctx.Err() != nil {
				return updated, ctx.Err()
			}

			var raw RawGrant
			if err := json.Unmarshal(row.data, &raw); err != nil {
				log.Printf("[retag] bad raw record %s: %v", row.id, err)
				continue
			}

			profile := BuildProfile(raw)
			raw.Profile = &profile
			grant := FromRaw(raw)

			if _, err := p.DB.Exec(ctx, `
				UPDATE grants SET
					grant_key = $1,
					issue_areas = $2,
					scope = $3,
					funding_min = $4,
					funding_max = $5,
					funding_raw = $6,
					percent_max = $7,
					cofunded = $8,
					deadline = $9,
					deadline_at = $10,
					open_all_year = $11,
					eligibility = $12,
					kpi_snippets = $13,
					updated_at = NOW()
				WHERE id = $14`,
				grant.ID, grant.IssueAreas, nilIfEmpty(grant.Scope),
				grant.FundingMin, grant.FundingMax, nilIfEmpty(grant.FundingRaw),
				grant.PercentMax, grant.Cofunded,
				deadlineParam(grant), grant.DeadlineAt, grant.OpenAllYear,
				grant.Eligibility, grant.KPIs, row.id,
			); err != nil {
				log.Printf("[retag] update failed for %s: %v", row.id, err)
				continue
			}
			updated++
		}

		if len(batch) < batchSize {
			return updated, nil
		}
		offset += batchSize
	}
}

// BackfillEmbeddings generates embeddings for grants that are missing one,
// oldest gaps last. Returns how many rows were filled.
func (p *Pipeline) BackfillEmbeddings(ctx context.Context, batchSize int) (int, error) {
	if p.AI == nil {
		return 0, fmt.Errorf("ai client not configured")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	type embedRow struct {
		id    string
		title string
		desc  string
	}

	rows, err := p.DB.Query(ctx, `
		SELECT id, title, COALESCE(description, '')
		FROM grants
		WHERE embedding IS NULL
		ORDER BY created_at DESC
		LIMIT $1`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("list grants missing embedding: %w", err)
	}

	batch := make([]embedRow, 0, batchSize)
	for rows.Next() {
		var r embedRow
		if err := rows.Scan(&r.id, &r.title, &r.desc); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	updated := 0
	for _, row := range batch {
		if ctx.Err() != nil {
			return updated, ctx.Err()
		}

		text := row.title + "\n" + row.desc
		if len(text) > 8000 {
			text = text[:8000]
		}

		vec, err := p.AI.GenerateEmbedding(ctx, text)
		if err != nil {
			log.Printf("[embed] generation failed for %s: %v", row.id, err)
			continue
		}

		if _, err := p.DB.Exec(ctx,
			"UPDATE grants SET embedding = $1, updated_at = NOW() WHERE id = $2",
			pgvector.NewVector(vec), row.id,
		); err != nil {
			log.Printf("[embed] update failed for %s: %v", row.id, err)
			continue
		}
		updated++
	}

	return updated, nil
}

// deadlineParam maps the no-deadline sentinel to NULL so a refreshed row
// never clobbers a previously extracted deadline.
func deadlineParam(g models.Grant) interface{} {
	if g.Deadline == "" || g.Deadline == models.NoDeadline {
		return nil
	}
	return g.Deadline
}

// nilIfEmpty returns nil for empty strings so NULL is stored in DB.
func nilIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// sanitizeUTF8 removes invalid UTF-8 byte sequences that cause PostgreSQL
// errors.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "")
}

// sanitizeHTML strips unsafe tags and attributes before storage.
func sanitizeHTML(s string) string {
	p := bluemonday.UGCPolicy()
	return p.Sanitize(s)
}
