package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cheryl9/grantdeck/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Query          string
	QueryEmbedding []float32
	Source         string
	IssueAreas     []string
	Scope          string
	MinFunding     float64
	MaxFunding     float64
	DeadlineDays   int
	OpenAllYear    *bool
	Eligibility    []string
	IncludeExpired bool
	Limit          int
	Offset         int
	SortBy         string // "deadline", "funding_desc", "newest", default relevance
}

type ListResult struct {
	Grants []models.Grant `json:"grants"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// selectCols is the column list shared by every grant query.
const selectCols = `grant_key, title, agency, description, issue_areas,
	scope, funding_min, funding_max, funding_raw, percent_max,
	cofunded, deadline, deadline_at, open_all_year, eligibility,
	kpi_snippets, apply_url, source_url, source_domain, source_id,
	created_at, updated_at`

func scanGrant(scan func(dest ...interface{}) error) (models.Grant, error) {
	var g models.Grant
	var agency, description, scope, fundingRaw, deadline, applyURL, sourceURL *string

	err := scan(
		&g.ID, &g.Title, &agency, &description, &g.IssueAreas,
		&scope, &g.FundingMin, &g.FundingMax, &fundingRaw, &g.PercentMax,
		&g.Cofunded, &deadline, &g.DeadlineAt, &g.OpenAllYear, &g.Eligibility,
		&g.KPIs, &applyURL, &sourceURL, &g.SourceDomain, &g.SourceID,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return g, err
	}

	if agency != nil {
		g.Agency = *agency
	}
	if description != nil {
		g.Description = *description
	}
	if scope != nil {
		g.Scope = *scope
	}
	if fundingRaw != nil {
		g.FundingRaw = *fundingRaw
	}
	if deadline != nil {
		g.Deadline = *deadline
	}
	if g.Deadline == "" {
		if g.OpenAllYear {
			g.Deadline = "open throughout the year"
		} else {
			g.Deadline = models.NoDeadline
		}
	}
	if applyURL != nil {
		g.ApplyURL = *applyURL
	}
	if sourceURL != nil {
		g.SourceURL = *sourceURL
	}
	if g.Eligibility == nil {
		g.Eligibility = []string{}
	}

	return g, nil
}

func (s *Store) ListGrants(ctx context.Context, params ListParams) (*ListResult, error) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if params.Query != "" {
		where += fmt.Sprintf(" AND (search_vector @@ plainto_tsquery('english', $%d) OR title ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, params.Query)
		argIdx++
	}
	if params.Source != "" {
		where += fmt.Sprintf(" AND source_domain = $%d", argIdx)
		args = append(args, params.Source)
		argIdx++
	}
	if areas := sanitizeStringSlice(params.IssueAreas); len(areas) > 0 {
		where += fmt.Sprintf(" AND issue_areas && $%d", argIdx)
		args = append(args, areas)
		argIdx++
	}
	if params.Scope != "" {
		where += fmt.Sprintf(" AND scope = $%d", argIdx)
		args = append(args, params.Scope)
		argIdx++
	}
	if elig := sanitizeStringSlice(params.Eligibility); len(elig) > 0 {
		where += fmt.Sprintf(" AND eligibility && $%d", argIdx)
		args = append(args, elig)
		argIdx++
	}
	if params.MinFunding > 0 {
		// A zero funding_max means "amount unknown"; a funding floor always
		// excludes those rows.
		where += fmt.Sprintf(" AND funding_max >= $%d", argIdx)
		args = append(args, params.MinFunding)
		argIdx++
	}
	if params.MaxFunding > 0 {
		where += fmt.Sprintf(" AND funding_min <= $%d", argIdx)
		args = append(args, params.MaxFunding)
		argIdx++
	}
	if params.DeadlineDays > 0 {
		where += fmt.Sprintf(`
			AND (
				open_all_year = true
				OR (deadline_at IS NOT NULL AND deadline_at >= NOW() AND deadline_at <= NOW() + ($%d * INTERVAL '1 day'))
			)
		`, argIdx)
		args = append(args, params.DeadlineDays)
		argIdx++
	}
	if params.OpenAllYear != nil {
		where += fmt.Sprintf(" AND open_all_year = $%d", argIdx)
		args = append(args, *params.OpenAllYear)
		argIdx++
	}
	if !params.IncludeExpired {
		where += " AND (open_all_year = true OR deadline_at IS NULL OR deadline_at >= NOW())"
	}

	var total int
	countSQL := "SELECT COUNT(*) FROM grants " + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM grants %s", selectCols, where)

	switch params.SortBy {
	case "deadline":
		selectSQL += " ORDER BY open_all_year DESC, deadline_at ASC NULLS LAST, created_at DESC"
	case "funding_desc":
		selectSQL += " ORDER BY funding_max DESC, created_at DESC"
	case "newest":
		selectSQL += " ORDER BY created_at DESC"
	default:
		if len(params.QueryEmbedding) > 0 {
			vectorArg := argIdx
			args = append(args, pgvector.NewVector(params.QueryEmbedding))
			argIdx++
			selectSQL += fmt.Sprintf(`
				ORDER BY
					CASE WHEN embedding IS NULL THEN 1 ELSE 0 END ASC,
					COALESCE(1 - (embedding <=> $%d), -1) DESC,
					updated_at DESC
			`, vectorArg)
		} else if params.Query != "" {
			queryArg := argIdx
			args = append(args, params.Query)
			argIdx++
			selectSQL += fmt.Sprintf(" ORDER BY ts_rank(search_vector, plainto_tsquery('english', $%d::text)) DESC, updated_at DESC", queryArg)
		} else {
			selectSQL += " ORDER BY updated_at DESC, created_at DESC"
		}
	}

	if params.Limit <= 0 {
		params.Limit = 50
	}
	selectSQL += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var grants []models.Grant
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}

	if grants == nil {
		grants = []models.Grant{}
	}

	return &ListResult{
		Grants: grants,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

// GetGrant looks a grant up by its stable key. Keys are not guaranteed
// unique across sources, so the most recently refreshed row wins.
func (s *Store) GetGrant(ctx context.Context, grantKey string) (*models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE grant_key = $1
		ORDER BY updated_at DESC
		LIMIT 1
	`, selectCols)
	row := s.pool.QueryRow(ctx, sql, grantKey)

	g, err := scanGrant(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *Store) GetGrantBySourceID(ctx context.Context, sourceDomain, sourceID string) (*models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE source_domain = $1 AND source_id = $2
	`, selectCols)
	row := s.pool.QueryRow(ctx, sql, sourceDomain, sourceID)

	g, err := scanGrant(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// SimilarGrants returns the nearest neighbors of a grant by embedding
// distance. Grants without an embedding never appear, and an unembedded
// target yields an empty result rather than an error.
func (s *Store) SimilarGrants(ctx context.Context, grantKey string, limit int) ([]models.Grant, error) {
	if limit <= 0 {
		limit = 5
	}

	sql := fmt.Sprintf(`
		WITH target AS (
			SELECT embedding
			FROM grants
			WHERE grant_key = $1 AND embedding IS NOT NULL
			ORDER BY updated_at DESC
			LIMIT 1
		)
		SELECT %s
		FROM grants, target
		WHERE grants.embedding IS NOT NULL AND grants.grant_key <> $1
		ORDER BY grants.embedding <=> target.embedding
		LIMIT $2
	`, selectCols)

	rows, err := s.pool.Query(ctx, sql, grantKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// RawRecords returns stored source records, newest first, for callers that
// renormalize or rebuild state from the original scrape.
func (s *Store) RawRecords(ctx context.Context, limit int) ([][]byte, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, `
		SELECT raw_record
		FROM grants
		WHERE raw_record IS NOT NULL
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records [][]byte
	for rows.Next() {
		var rec []byte
		if err := rows.Scan(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordDecision upserts a swipe; redeciding a grant overwrites the previous
// row rather than accumulating history.
func (s *Store) RecordDecision(ctx context.Context, d models.Decision) error {
	if d.DecidedAt.IsZero() {
		d.DecidedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO swipes (user_id, grant_key, direction, match_score, decided_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, grant_key) DO UPDATE SET
			direction = EXCLUDED.direction,
			match_score = EXCLUDED.match_score,
			decided_at = EXCLUDED.decided_at`,
		d.UserID, d.GrantID, string(d.Direction), d.MatchScore, d.DecidedAt,
	)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *Store) DecidedGrantIDs(ctx context.Context, userID uuid.UUID) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT grant_key FROM swipes WHERE user_id = $1", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Decisions returns a user's swipes, newest first.
func (s *Store) Decisions(ctx context.Context, userID uuid.UUID, limit int) ([]models.Decision, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_id, grant_key, direction, match_score, decided_at
		FROM swipes
		WHERE user_id = $1
		ORDER BY decided_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	decisions := []models.Decision{}
	for rows.Next() {
		var d models.Decision
		var direction string
		if err := rows.Scan(&d.UserID, &d.GrantID, &direction, &d.MatchScore, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.Direction = models.Direction(direction)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*models.NPOProfile, error) {
	var p models.NPOProfile
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, organization_name, organization_type, registration_status,
			issue_areas, project_types, funding_min, funding_max, funding_urgency,
			years_operating, staff_size, mission, description, updated_at
		FROM npo_profiles
		WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.OrganizationName, &p.OrganizationType, &p.RegistrationStatus,
		&p.IssueAreas, &p.ProjectTypes, &p.FundingMin, &p.FundingMax, &p.FundingUrgency,
		&p.YearsOperating, &p.StaffSize, &p.Mission, &p.Description, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p models.NPOProfile) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO npo_profiles (
			user_id, organization_name, organization_type, registration_status,
			issue_areas, project_types, funding_min, funding_max, funding_urgency,
			years_operating, staff_size, mission, description, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			organization_name = EXCLUDED.organization_name,
			organization_type = EXCLUDED.organization_type,
			registration_status = EXCLUDED.registration_status,
			issue_areas = EXCLUDED.issue_areas,
			project_types = EXCLUDED.project_types,
			funding_min = EXCLUDED.funding_min,
			funding_max = EXCLUDED.funding_max,
			funding_urgency = EXCLUDED.funding_urgency,
			years_operating = EXCLUDED.years_operating,
			staff_size = EXCLUDED.staff_size,
			mission = EXCLUDED.mission,
			description = EXCLUDED.description,
			updated_at = NOW()`,
		p.UserID, p.OrganizationName, p.OrganizationType, p.RegistrationStatus,
		p.IssueAreas, p.ProjectTypes, p.FundingMin, p.FundingMax, p.FundingUrgency,
		p.YearsOperating, p.StaffSize, p.Mission, p.Description,
	)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

type IngestRun struct {
	RunID       string     `json:"run_id"`
	SourceID    string     `json:"source_id"`
	Status      string     `json:"status"`
	ItemsFound  int        `json:"items_found"`
	ItemsSaved  int        `json:"items_saved"`
	Errors      int        `json:"errors"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (s *Store) ListIngestRuns(ctx context.Context, limit int) ([]IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, source_id, status, items_found, items_saved, errors, started_at, completed_at
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []IngestRun{}
	for rows.Next() {
		var r IngestRun
		if err := rows.Scan(&r.RunID, &r.SourceID, &r.Status, &r.ItemsFound,
			&r.ItemsSaved, &r.Errors, &r.StartedAt, &r.CompletedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *Store) GetSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT source_domain FROM grants ORDER BY source_domain")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err == nil {
			sources = append(sources, src)
		}
	}
	return sources, rows.Err()
}

func (s *Store) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	var total int
	s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants").Scan(&total)
	stats["total"] = total

	var sources int
	s.pool.QueryRow(ctx, "SELECT COUNT(DISTINCT source_domain) FROM grants").Scan(&sources)
	stats["sources"] = sources

	var openAllYear int
	s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants WHERE open_all_year = true").Scan(&openAllYear)
	stats["open_all_year"] = openAllYear

	var upcoming int
	s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants WHERE deadline_at IS NOT NULL AND deadline_at > NOW()").Scan(&upcoming)
	stats["with_upcoming_deadline"] = upcoming

	areaCounts := map[string]int{}
	rows, err := s.pool.Query(ctx, `
		SELECT area, COUNT(*)
		FROM grants, unnest(issue_areas) AS area
		GROUP BY area
		ORDER BY COUNT(*) DESC`)
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var area string
			var count int
			if scanErr := rows.Scan(&area, &count); scanErr == nil {
				areaCounts[area] = count
			}
		}
	}
	stats["issue_area_counts"] = areaCounts

	return stats, nil
}

// Aggregation represents a single facet count.
type Aggregation struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// AggregationResult contains the facet counts for the browse filters.
type AggregationResult struct {
	IssueAreas   []Aggregation `json:"issue_areas"`
	Agencies     []Aggregation `json:"agencies"`
	Sources      []Aggregation `json:"sources"`
	FundingBands []Aggregation `json:"funding_bands"`
	Deadlines    []Aggregation `json:"deadlines"`
}

// AggregationParams controls which subset of grants is used for facet counts.
type AggregationParams struct {
	IssueAreas     []string
	Agencies       []string
	Sources        []string
	IncludeExpired bool
}

// fundingBandSQL buckets grants by their funding cap. A cap of zero means the
// amount was never extracted, which gets its own bucket instead of polluting
// the smallest band.
const fundingBandSQL = `CASE
	WHEN funding_max <= 0 THEN 'unknown'
	WHEN funding_max < 5000 THEN 'lt_5k'
	WHEN funding_max < 20000 THEN '5k_20k'
	WHEN funding_max < 100000 THEN '20k_100k'
	ELSE 'gt_100k'
END`

const deadlineBucketSQL = `CASE
	WHEN open_all_year THEN 'open_all_year'
	WHEN deadline_at IS NULL THEN 'unspecified'
	WHEN deadline_at < NOW() THEN 'closed'
	WHEN deadline_at <= NOW() + INTERVAL '30 days' THEN 'closing_30d'
	WHEN deadline_at <= NOW() + INTERVAL '90 days' THEN 'closing_90d'
	ELSE 'later'
END`

func (s *Store) GetAggregations(ctx context.Context, params AggregationParams) (*AggregationResult, error) {
	result := &AggregationResult{}

	// Cross-faceted filtering: each dimension's query EXCLUDES its own filter
	// so the sidebar always shows all options with correct counts.

	{
		w, a := buildAggregationWhereExcluding(params, "issue_areas")
		q := fmt.Sprintf(`SELECT area, COUNT(*) FROM grants, unnest(issue_areas) AS area %s GROUP BY area ORDER BY COUNT(*) DESC`, w)
		result.IssueAreas = s.queryAggregations(ctx, q, a)
	}

	{
		w, a := buildAggregationWhereExcluding(params, "agency")
		q := fmt.Sprintf(`SELECT agency, COUNT(*) FROM grants %s AND agency IS NOT NULL AND agency != '' GROUP BY agency ORDER BY COUNT(*) DESC`, w)
		result.Agencies = s.queryAggregations(ctx, q, a)
	}

	{
		w, a := buildAggregationWhereExcluding(params, "source")
		q := fmt.Sprintf(`SELECT source_domain, COUNT(*) FROM grants %s GROUP BY source_domain ORDER BY COUNT(*) DESC`, w)
		result.Sources = s.queryAggregations(ctx, q, a)
	}

	{
		w, a := buildAggregationWhereExcluding(params, "")
		q := fmt.Sprintf(`SELECT %s AS band, COUNT(*) FROM grants %s GROUP BY band ORDER BY COUNT(*) DESC`, fundingBandSQL, w)
		result.FundingBands = s.queryAggregations(ctx, q, a)
	}

	{
		w, a := buildAggregationWhereExcluding(params, "")
		q := fmt.Sprintf(`SELECT %s AS bucket, COUNT(*) FROM grants %s GROUP BY bucket ORDER BY COUNT(*) DESC`, deadlineBucketSQL, w)
		result.Deadlines = s.queryAggregations(ctx, q, a)
	}

	return result, nil
}

func (s *Store) queryAggregations(ctx context.Context, query string, args []interface{}) []Aggregation {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var aggs []Aggregation
	for rows.Next() {
		var ag Aggregation
		if err := rows.Scan(&ag.Value, &ag.Count); err == nil && ag.Value != "" {
			aggs = append(aggs, ag)
		}
	}
	return aggs
}

// buildAggregationWhereExcluding constructs a WHERE clause mirroring the
// list filters. The exclude parameter names the dimension to omit so each
// facet section shows all of its options, not just the selected one.
func buildAggregationWhereExcluding(params AggregationParams, exclude string) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	if !params.IncludeExpired {
		where += " AND (open_all_year = true OR deadline_at IS NULL OR deadline_at >= NOW())"
	}

	if areas := sanitizeStringSlice(params.IssueAreas); len(areas) > 0 && exclude != "issue_areas" {
		where += fmt.Sprintf(" AND issue_areas && $%d", argIdx)
		args = append(args, areas)
		argIdx++
	}
	if len(params.Agencies) > 0 && exclude != "agency" {
		where += fmt.Sprintf(" AND agency = ANY($%d)", argIdx)
		args = append(args, params.Agencies)
		argIdx++
	}
	if len(params.Sources) > 0 && exclude != "source" {
		where += fmt.Sprintf(" AND source_domain = ANY($%d)", argIdx)
		args = append(args, params.Sources)
		argIdx++
	}

	return where, args
}

func sanitizeStringSlice(values []string) []string {
	if len(values) == 0 {
		return values
	}

	clean := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			clean = append(clean, trimmed)
		}
	}

	return clean
}
