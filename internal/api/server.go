package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cheryl9/grantdeck/internal/ai"
	"github.com/cheryl9/grantdeck/internal/auth"
	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/ingest"
	"github.com/cheryl9/grantdeck/internal/match"
	"github.com/cheryl9/grantdeck/internal/models"
	"github.com/cheryl9/grantdeck/internal/notify"
)

// recommendationPool is how many open grants get scored per recommendation
// request before truncating to the requested page.
const recommendationPool = 200

type Server struct {
	Store       *db.Store
	AuthService *auth.Service
	Echo        *echo.Echo
	DB          *pgxpool.Pool
	AI          *ai.OllamaClient

	notifier ingest.Notifier
	decks    *deckManager

	// Background job tracking
	jobMu      sync.Mutex
	runningJob *backgroundJob
}

type backgroundJob struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Status    string             `json:"status"` // running, completed, failed
	StartedAt time.Time          `json:"started_at"`
	EndedAt   time.Time          `json:"ended_at,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	Cancel    context.CancelFunc `json:"-"`
}

var (
	adminSecretOnce    sync.Once
	adminSecretRuntime string
	adminSecretErr     error
)

func NewServer(pool *pgxpool.Pool) *Server {
	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	// CORS: allow frontend origins from env or default to localhost
	allowedOrigins := []string{"http://localhost:4200"}
	if extra := os.Getenv("CORS_ORIGINS"); extra != "" {
		for _, o := range strings.Split(extra, ",") {
			o = strings.TrimSpace(o)
			if o != "" {
				allowedOrigins = append(allowedOrigins, o)
			}
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: allowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "X-Admin-Secret"},
	}))

	store := db.NewStore(pool)
	authService := auth.NewService(pool)
	aiClient := ai.NewOllamaClientFromEnv()

	// A nil *TelegramNotifier must stay a nil interface, otherwise the
	// pipeline's nil check passes and digests panic.
	var notifier ingest.Notifier
	if t := notify.NewTelegramFromEnv(); t != nil {
		notifier = t
	}

	s := &Server{
		DB:          pool,
		Store:       store,
		AuthService: authService,
		Echo:        e,
		AI:          aiClient,
		notifier:    notifier,
		decks:       newDeckManager(deckSessionTTL()),
	}

	s.routes()
	return s
}

// newPipeline builds an ingestion pipeline with the server's shared AI client
// and notifier. The fetcher defaults inside NewPipeline.
func (s *Server) newPipeline() *ingest.Pipeline {
	return ingest.NewPipeline(s.DB, nil, s.AI, s.notifier)
}

func (s *Server) routes() {
	s.Echo.GET("/health", s.handleHealth)
	api := s.Echo.Group("/api/v1")
	api.GET("/grants", s.handleListGrants)
	api.GET("/grants/:key", s.handleGetGrant)
	api.GET("/grants/:key/similar", s.handleSimilarGrants)
	api.GET("/sources", s.handleGetSources)
	// Public Stats
	api.GET("/stats", s.handleGetStats)
	api.GET("/aggregations", s.handleGetAggregations)

	// Auth Routes
	api.POST("/auth/signup", s.handleSignup)
	api.POST("/auth/login", s.handleLogin)

	// Account Routes (profile, swipe history, recommendations)
	me := api.Group("/me")
	me.Use(auth.Middleware)
	me.GET("/profile", s.handleGetProfile)
	me.PUT("/profile", s.handleUpdateProfile)
	me.GET("/swipes", s.handleListSwipes)
	me.POST("/swipes", s.handleRecordSwipe)
	me.GET("/recommendations", s.handleRecommendations)

	// Protected Routes (Saved Grants)
	saved := api.Group("/saved")
	saved.Use(auth.Middleware)
	saved.POST("/:key", s.handleSaveGrant)
	saved.DELETE("/:key", s.handleUnsaveGrant)
	saved.GET("", s.handleGetSavedGrants)

	// Deck Sessions (swipe flow)
	deck := api.Group("/deck")
	deck.Use(auth.Middleware)
	deck.POST("", s.handleCreateDeck)
	deck.GET("/:id", s.handleGetDeck)
	deck.POST("/:id/decision", s.handleDeckDecision)
	deck.PUT("/:id/criteria", s.handleDeckCriteria)
	deck.POST("/:id/restart", s.handleDeckRestart)
	deck.DELETE("/:id", s.handleCloseDeck)

	// Admin Routes (Ingest & Maintenance)
	admin := api.Group("")
	admin.Use(s.adminMiddleware)
	admin.POST("/ingest", s.handleTriggerIngest)
	admin.POST("/ingest/source/:id", s.handleIngestSource)
	admin.POST("/ingest/all", s.handleIngestAll)
	admin.POST("/seed", s.handleSeed)
	admin.GET("/admin/runs", s.handleListRuns)
	admin.GET("/admin/job/:id", s.handleJobStatus)
	admin.POST("/admin/retag", s.handleRetag)
	admin.POST("/admin/embeddings", s.handleBackfillEmbeddings)
}

func (s *Server) handleSignup(c echo.Context) error {
	var req auth.SignupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Signup(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrUserExists {
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	resp, err := s.AuthService.Login(c.Request().Context(), req)
	if err != nil {
		if err == auth.ErrInvalidCreds {
			return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid credentials"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

func (s *Server) handleListGrants(c echo.Context) error {
	q := c.QueryParam("q")
	source := c.QueryParam("source")
	scope := c.QueryParam("scope")
	issueAreas := splitCSV(c.QueryParam("issue_areas"))
	eligibility := c.QueryParams()["eligibility"]
	sortBy := c.QueryParam("sort")

	limit := 20
	offset := 0
	var minFunding, maxFunding float64
	var deadlineDays int
	var openAllYear *bool

	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}
	if o, err := strconv.Atoi(c.QueryParam("offset")); err == nil && o >= 0 {
		offset = o
	}
	if v, err := strconv.ParseFloat(c.QueryParam("min_funding"), 64); err == nil && v > 0 {
		minFunding = v
	}
	if v, err := strconv.ParseFloat(c.QueryParam("max_funding"), 64); err == nil && v > 0 {
		maxFunding = v
	}
	if v, err := strconv.Atoi(c.QueryParam("deadline_days")); err == nil && v > 0 {
		deadlineDays = v
	}
	if raw := c.QueryParam("open_all_year"); raw != "" {
		val := raw == "true"
		openAllYear = &val
	}
	includeExpired := c.QueryParam("include_expired") == "true"

	// Generate embedding for semantic search
	var queryEmbedding []float32
	if q != "" {
		aiCtx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
		defer cancel()

		vec, err := s.AI.GenerateEmbedding(aiCtx, q)
		if err != nil {
			// Fall back to keyword search when the embedder is down.
			c.Logger().Errorf("Failed to generate query embedding: %v", err)
		} else {
			queryEmbedding = vec
		}
	}

	result, err := s.Store.ListGrants(c.Request().Context(), db.ListParams{
		Query:          q,
		QueryEmbedding: queryEmbedding,
		Source:         source,
		IssueAreas:     issueAreas,
		Scope:          scope,
		MinFunding:     minFunding,
		MaxFunding:     maxFunding,
		DeadlineDays:   deadlineDays,
		OpenAllYear:    openAllYear,
		Eligibility:    eligibility,
		IncludeExpired: includeExpired,
		Limit:          limit,
		Offset:         offset,
		SortBy:         sortBy,
	})
	if err != nil {
		c.Logger().Errorf("Failed to list grants: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	return c.JSON(http.StatusOK, result)
}

// splitCSV splits a comma-separated query parameter into trimmed non-empty strings.
func splitCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

func (srv *Server) handleGetGrant(c echo.Context) error {
	key := c.Param("key")
	grant, err := srv.Store.GetGrant(c.Request().Context(), key)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	return c.JSON(http.StatusOK, grant)
}

func (s *Server) handleSimilarGrants(c echo.Context) error {
	key := c.Param("key")

	limit := 5
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 20 {
		limit = l
	}

	grants, err := s.Store.SimilarGrants(c.Request().Context(), key, limit)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}
	if grants == nil {
		grants = []models.Grant{}
	}
	return c.JSON(http.StatusOK, grants)
}

func (s *Server) handleGetSources(c echo.Context) error {
	sources, err := s.Store.GetSources(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, sources)
}

func (s *Server) handleGetStats(c echo.Context) error {
	stats, err := s.Store.GetStats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleGetAggregations(c echo.Context) error {
	params := db.AggregationParams{
		IncludeExpired: c.QueryParam("include_expired") == "true",
	}
	if v := c.QueryParam("issue_areas"); v != "" {
		params.IssueAreas = splitCSV(v)
	}
	if v := c.QueryParam("agency"); v != "" {
		params.Agencies = splitCSV(v)
	}
	if v := c.QueryParam("source"); v != "" {
		params.Sources = splitCSV(v)
	}
	aggs, err := s.Store.GetAggregations(c.Request().Context(), params)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, aggs)
}

// Account Handlers

func (s *Server) handleGetProfile(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	profile, err := s.Store.GetProfile(c.Request().Context(), userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Profile not set"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch profile"})
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) handleUpdateProfile(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req models.NPOProfile
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	req.UserID = userID

	if req.FundingMin < 0 || req.FundingMax < 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Funding bounds must be non-negative"})
	}
	if req.FundingMax > 0 && req.FundingMin > req.FundingMax {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "funding_min exceeds funding_max"})
	}

	if err := s.Store.UpsertProfile(ctx, req); err != nil {
		c.Logger().Errorf("Failed to upsert profile: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save profile"})
	}

	profile, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch profile"})
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) handleListSwipes(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	limit := 50
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 500 {
		limit = l
	}

	decisions, err := s.Store.Decisions(c.Request().Context(), userID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch swipes"})
	}
	if decisions == nil {
		decisions = []models.Decision{}
	}
	return c.JSON(http.StatusOK, decisions)
}

type recordSwipeRequest struct {
	GrantID    string  `json:"grant_id"`
	Direction  string  `json:"direction"`
	MatchScore float64 `json:"match_score"`
}

// handleRecordSwipe writes one decision directly, for clients that page
// through /grants themselves instead of holding a deck session. Redeciding a
// grant overwrites the earlier swipe.
func (s *Server) handleRecordSwipe(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req recordSwipeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	grantID := strings.TrimSpace(req.GrantID)
	if grantID == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "grant_id is required"})
	}
	direction := models.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
	if !direction.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "direction must be accept or reject"})
	}
	if req.MatchScore < 0 || req.MatchScore > 100 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "match_score must be between 0 and 100"})
	}

	if _, err := s.Store.GetGrant(ctx, grantID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to record swipe"})
	}

	if err := s.Store.RecordDecision(ctx, models.Decision{
		UserID:     userID,
		GrantID:    grantID,
		Direction:  direction,
		MatchScore: req.MatchScore,
	}); err != nil {
		c.Logger().Errorf("Failed to record swipe: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to record swipe"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "recorded"})
}

func (s *Server) handleRecommendations(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	profile, err := s.Store.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "Create an organization profile first"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch profile"})
	}

	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 100 {
		limit = l
	}

	result, err := s.Store.ListGrants(ctx, db.ListParams{
		IncludeExpired: false,
		Limit:          recommendationPool,
	})
	if err != nil {
		c.Logger().Errorf("Failed to list grants for recommendations: %v", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
	}

	ranked := match.Rank(*profile, result.Grants, time.Now(), limit)
	grants := make([]models.Grant, 0, len(ranked))
	for _, r := range ranked {
		g := r.Grant
		g.Match = r.Result.Info()
		grants = append(grants, g)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"recommendations": grants,
		"scored":          len(result.Grants),
	})
}

// Protected Handlers (Saved Grants)

func (s *Server) handleSaveGrant(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid grant key"})
	}

	if _, err := s.Store.GetGrant(ctx, key); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Not found"})
		}
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save grant"})
	}

	if err := s.AuthService.SaveGrant(ctx, userID, key); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to save grant"})
	}

	return c.NoContent(http.StatusOK)
}

func (s *Server) handleUnsaveGrant(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid grant key"})
	}

	if err := s.AuthService.UnsaveGrant(ctx, userID, key); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to unsave grant"})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "unsaved"})
}

func (s *Server) handleGetSavedGrants(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	grants, err := s.AuthService.SavedGrants(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to fetch saved grants"})
	}

	if grants == nil {
		grants = []models.Grant{}
	}

	return c.JSON(http.StatusOK, grants)
}

// Admin Handlers

func (s *Server) handleTriggerIngest(c echo.Context) error {
	urlStr := c.QueryParam("url")
	if urlStr == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "url param required"})
	}

	u, err := url.Parse(urlStr)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid URL scheme"})
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "URL host is required"})
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" || strings.HasSuffix(host, ".local") {
		return c.JSON(http.StatusForbidden, map[string]string{"error": "Internal network access forbidden"})
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Unable to resolve URL host"})
	}
	if len(ips) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "URL host resolved to no addresses"})
	}
	for _, ip := range ips {
		if isPrivateOrSpecialIP(ip) {
			return c.JSON(http.StatusForbidden, map[string]string{"error": "Internal network access forbidden"})
		}
	}

	// One ad-hoc URL is one page of work; run it synchronously.
	if err := s.newPipeline().Run(c.Request().Context(), urlStr); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Ingestion complete", "url": urlStr})
}

func (s *Server) handleIngestSource(c echo.Context) error {
	sourceID := c.Param("id")

	stats, err := s.newPipeline().IngestSource(c.Request().Context(), sourceID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("%s ingestion complete", sourceID),
		"stats":   stats,
	})
}

func (s *Server) handleIngestAll(c echo.Context) error {
	return s.startJob(c, "ingest", func(ctx context.Context) (any, error) {
		results, err := s.newPipeline().IngestAll(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"sources": len(results),
			"results": results,
		}, nil
	})
}

func (s *Server) handleRetag(c echo.Context) error {
	batchSize := 200
	if raw := strings.TrimSpace(c.QueryParam("batch_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 5000 {
			batchSize = parsed
		}
	}

	return s.startJob(c, "retag", func(ctx context.Context) (any, error) {
		updated, err := s.newPipeline().RetagAll(ctx, batchSize)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"updated":         updated,
			"batch_size_used": batchSize,
		}, nil
	})
}

func (s *Server) handleBackfillEmbeddings(c echo.Context) error {
	batchSize := 100
	if raw := strings.TrimSpace(c.QueryParam("batch_size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 2000 {
			batchSize = parsed
		}
	}

	return s.startJob(c, "embed", func(ctx context.Context) (any, error) {
		updated, err := s.newPipeline().BackfillEmbeddings(ctx, batchSize)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"embedded":        updated,
			"batch_size_used": batchSize,
		}, nil
	})
}

// startJob launches fn detached from the request and tracks it as the single
// running background job; a second request while one runs gets 409 with the
// running job's ID.
func (s *Server) startJob(c echo.Context, name string, fn func(ctx context.Context) (any, error)) error {
	s.jobMu.Lock()
	if s.runningJob != nil && s.runningJob.Status == "running" {
		job := s.runningJob
		s.jobMu.Unlock()
		return c.JSON(http.StatusConflict, map[string]interface{}{
			"error":  fmt.Sprintf("A %s job is already running", job.Name),
			"job_id": job.ID,
		})
	}

	// context.WithoutCancel detaches from HTTP lifecycle but preserves
	// trace values. We add our own timeout for safety.
	jobCtx, jobCancel := context.WithTimeout(
		context.WithoutCancel(c.Request().Context()), 30*time.Minute,
	)

	jobID := uuid.New().String()[:8]
	job := &backgroundJob{
		ID:        jobID,
		Name:      name,
		Status:    "running",
		StartedAt: time.Now(),
		Cancel:    jobCancel,
	}
	s.runningJob = job
	s.jobMu.Unlock()

	// Run in background goroutine — the handler returns 202 immediately.
	go func() {
		defer jobCancel()
		result, err := fn(jobCtx)

		s.jobMu.Lock()
		job.EndedAt = time.Now()
		if err != nil {
			job.Status = "failed"
			job.Error = err.Error()
		} else {
			job.Status = "completed"
			job.Result = result
		}
		s.jobMu.Unlock()

		if err != nil {
			log.Printf("[%s-job %s] failed: %v", name, jobID, err)
			return
		}
		log.Printf("[%s-job %s] completed", name, jobID)
	}()

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"message": fmt.Sprintf("%s job started", name),
		"job_id":  jobID,
		"poll":    fmt.Sprintf("/api/v1/admin/job/%s", jobID),
	})
}

func (s *Server) handleJobStatus(c echo.Context) error {
	queried := c.Param("id")
	s.jobMu.Lock()
	job := s.runningJob
	s.jobMu.Unlock()

	if job == nil || job.ID != queried {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "job not found"})
	}

	s.jobMu.Lock()
	resp := map[string]interface{}{
		"id":         job.ID,
		"name":       job.Name,
		"status":     job.Status,
		"started_at": job.StartedAt,
	}
	if !job.EndedAt.IsZero() {
		resp["ended_at"] = job.EndedAt
		resp["duration"] = job.EndedAt.Sub(job.StartedAt).String()
	}
	if job.Result != nil {
		resp["result"] = job.Result
	}
	if job.Error != "" {
		resp["error"] = job.Error
	}
	s.jobMu.Unlock()

	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListRuns(c echo.Context) error {
	limit := 20
	if l, err := strconv.Atoi(c.QueryParam("limit")); err == nil && l > 0 && l <= 200 {
		limit = l
	}

	runs, err := s.Store.ListIngestRuns(c.Request().Context(), limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, runs)
}

func (s *Server) handleSeed(c echo.Context) error {
	ctx := c.Request().Context()

	seeds := []ingest.RawGrant{
		{
			ID:          "our-singapore-fund",
			Source:      "seed",
			SourceURL:   "https://www.sg/our-singapore-fund",
			ApplyURL:    "https://www.sg/our-singapore-fund/apply",
			Title:       "Our Singapore Fund",
			Agency:      "Ministry of Culture, Community and Youth",
			About:       "Supports ground-up community projects that promote national identity and strengthen the Singapore spirit. Projects should rally residents and volunteers around meaningful causes.",
			WhoCanApply: "Singapore-based non-profit organisations, societies and informal groups with a Singaporean lead applicant.",
			WhenToApply: "Applications are open throughout the year.",
			Funding:     "Up to S$20,000 per project, covering up to 80% of qualifying costs.",
		},
		{
			ID:          "sg-eco-fund",
			Source:      "seed",
			SourceURL:   "https://www.mse.gov.sg/sgecofund",
			ApplyURL:    "https://www.mse.gov.sg/sgecofund/apply",
			Title:       "SG Eco Fund",
			Agency:      "Ministry of Sustainability and the Environment",
			About:       "Funds projects that advance environmental sustainability and involve the community, from recycling drives to biodiversity restoration and climate education initiatives.",
			WhoCanApply: "Registered charities, companies, educational institutions and individuals residing in Singapore.",
			WhenToApply: "Applications close on 30 November 2026.",
			Funding:     "Up to S$1,000,000 per project depending on scale and impact.",
		},
		{
			ID:          "young-changemakers",
			Source:      "seed",
			SourceURL:   "https://www.nyc.gov.sg/en/initiatives/grants/young-changemakers",
			Title:       "Young ChangeMakers Grant",
			Agency:      "National Youth Council",
			About:       "Kickstarts youth-led community projects. Young people design and drive initiatives that benefit fellow youth and the wider community.",
			WhoCanApply: "Youth aged 15 to 35 forming teams of at least three; informal groups welcome.",
			WhenToApply: "Applications are open throughout the year.",
			Funding:     "Up to S$5,000 per project.",
		},
		{
			ID:          "cct-capability-grants",
			Source:      "seed",
			SourceURL:   "https://www.ncss.gov.sg/grants/community-capability-trust",
			Title:       "Community Capability Trust Capability Grants",
			Agency:      "National Council of Social Service",
			About:       "Builds the capability and capacity of social service agencies through consultancy, training, digitalisation and organisation development projects that strengthen service delivery.",
			WhoCanApply: "Social service agencies registered as charities in Singapore.",
			WhenToApply: "Applications are open throughout the year.",
			Funding:     "Up to 80% of qualifying costs, capped at S$150,000 per project.",
		},
		{
			ID:          "sport-in-community-fund",
			Source:      "seed",
			SourceURL:   "https://www.sportsingapore.gov.sg/sport-in-community-fund",
			Title:       "Sport-In-Community Fund",
			Agency:      "Sport Singapore",
			About:       "Co-funds community sport and physical activity programmes that increase participation, improve health outcomes and bring residents together through sport.",
			WhoCanApply: "Registered societies, charities and social enterprises running community sport programmes.",
			WhenToApply: "Applications close on 15 January 2027.",
			Funding:     "S$5,000 to S$250,000 per programme.",
		},
		{
			ID:          "digital-for-life-fund",
			Source:      "seed",
			SourceURL:   "https://www.imda.gov.sg/digitalforlife/fund",
			Title:       "Digital for Life Fund",
			Agency:      "Infocomm Media Development Authority",
			About:       "Supports digital inclusion projects that help seniors, persons with disabilities and low-income families adopt digital technology and build digital skills through training and outreach.",
			WhoCanApply: "Non-profit organisations, companies and community groups with digital inclusion programmes.",
			WhenToApply: "Applications close on 30 September 2026.",
			Funding:     "Up to S$250,000 per project.",
		},
		{
			ID:          "empowering-for-life-fund",
			Source:      "seed",
			SourceURL:   "https://www.presidentschallenge.gov.sg/empowering-for-life-fund",
			Title:       "Empowering for Life Fund",
			Agency:      "President's Challenge",
			About:       "Funds skills upgrading, capacity building and employment initiatives that empower vulnerable groups towards independent living and sustainable livelihoods.",
			WhoCanApply: "Institutions of a Public Character and registered charities serving vulnerable communities.",
			WhenToApply: "Applications close on 28 February 2027.",
			Funding:     "Up to S$300,000 over the project duration.",
		},
		{
			ID:          "cultural-matching-fund",
			Source:      "seed",
			SourceURL:   "https://www.mccy.gov.sg/sector/initiatives/cultural-matching-fund",
			Title:       "Cultural Matching Fund",
			Agency:      "Ministry of Culture, Community and Youth",
			About:       "Provides dollar-for-dollar matching for private cash donations to arts and heritage charities, stretching the impact of giving to the culture sector.",
			WhoCanApply: "Arts and heritage charities and Institutions of a Public Character.",
			WhenToApply: "Applications are open throughout the year.",
			Funding:     "Matching is capped per institution per financial year.",
		},
	}

	// Seeds are deterministic fixtures; skip LLM gap fill and digests.
	pipeline := ingest.NewPipeline(s.DB, nil, nil, nil)

	count := 0
	for _, seed := range seeds {
		if err := pipeline.SaveRaw(ctx, seed); err != nil {
			c.Logger().Errorf("Failed to seed %q: %v", seed.Title, err)
			continue
		}
		count++
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"message": "Seed complete",
		"count":   count,
	})
}

func (s *Server) Start(port string) error {
	return s.Echo.Start(":" + port)
}

func isPrivateOrSpecialIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		if ip4[0] == 100 && ip4[1]&0xC0 == 64 {
			return true
		}
		if ip4[0] == 169 && ip4[1] == 254 {
			return true
		}
	}

	return false
}

func (s *Server) adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		secret, err := adminSecret()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Server admin configuration error"})
		}

		// Check X-Admin-Secret header or Bearer token
		authHeader := c.Request().Header.Get("Authorization")
		adminHeader := c.Request().Header.Get("X-Admin-Secret")

		if adminHeader == secret {
			return next(c)
		}
		if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
			if authHeader[7:] == secret {
				return next(c)
			}
		}

		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized admin access"})
	}
}

func adminSecret() (string, error) {
	adminSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
		if secret != "" {
			adminSecretRuntime = secret
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			adminSecretErr = fmt.Errorf("failed to generate ADMIN_SECRET fallback: %w", err)
			return
		}

		adminSecretRuntime = base64.RawURLEncoding.EncodeToString(buf)
		log.Print("ADMIN_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if adminSecretErr != nil {
		return "", adminSecretErr
	}
	if adminSecretRuntime == "" {
		return "", fmt.Errorf("admin secret unavailable")
	}

	return adminSecretRuntime, nil
}
