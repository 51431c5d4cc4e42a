package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/cheryl9/grantdeck/internal/auth"
	"github.com/cheryl9/grantdeck/internal/db"
	"github.com/cheryl9/grantdeck/internal/deck"
	"github.com/cheryl9/grantdeck/internal/filter"
	"github.com/cheryl9/grantdeck/internal/ingest"
	"github.com/cheryl9/grantdeck/internal/models"
)

const (
	defaultDeckTTL = 30 * time.Minute

	// deckCandidateLimit caps how many stored records seed one session.
	deckCandidateLimit = 500
)

func deckSessionTTL() time.Duration {
	raw := strings.TrimSpace(os.Getenv("DECK_SESSION_TTL"))
	if raw == "" {
		return defaultDeckTTL
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("[deck] invalid DECK_SESSION_TTL %q, using %s", raw, defaultDeckTTL)
		return defaultDeckTTL
	}
	return d
}

// deckSession ties one controller to the user who opened it.
type deckSession struct {
	ID         string
	UserID     uuid.UUID
	Controller *deck.Controller
	CreatedAt  time.Time
	lastUsed   time.Time // guarded by deckManager.mu
}

// deckManager holds live swipe sessions in memory. Sessions are ephemeral:
// decisions persist through the controller's recorder, so an evicted session
// costs the user nothing but a reload.
type deckManager struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*deckSession
}

func newDeckManager(ttl time.Duration) *deckManager {
	m := &deckManager{
		ttl:      ttl,
		sessions: make(map[string]*deckSession),
	}
	go m.janitor()
	return m
}

func (m *deckManager) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		m.evictIdle()
	}
}

func (m *deckManager) evictIdle() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	evicted := 0
	for id, sess := range m.sessions {
		if sess.lastUsed.Before(cutoff) {
			delete(m.sessions, id)
			evicted++
		}
	}
	m.mu.Unlock()

	if evicted > 0 {
		log.Printf("[deck] evicted %d idle sessions", evicted)
	}
}

func (m *deckManager) add(sess *deckSession) {
	m.mu.Lock()
	sess.lastUsed = time.Now()
	m.sessions[sess.ID] = sess
	m.mu.Unlock()
}

// get returns the session only when it exists and belongs to userID, and
// refreshes its idle clock. A foreign session looks the same as a missing one.
func (m *deckManager) get(id string, userID uuid.UUID) (*deckSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.UserID != userID {
		return nil, false
	}
	sess.lastUsed = time.Now()
	return sess, true
}

func (m *deckManager) remove(id string, userID uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok || sess.UserID != userID {
		return false
	}
	delete(m.sessions, id)
	return true
}

// deckSource feeds stored raw records into a session. Records come back
// newest first, and that order is what the queue keeps.
type deckSource struct {
	store *db.Store
	limit int
}

func (src deckSource) Candidates(ctx context.Context) ([]ingest.RawGrant, error) {
	rows, err := src.store.RawRecords(ctx, src.limit)
	if err != nil {
		return nil, err
	}

	raws := make([]ingest.RawGrant, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		var rg ingest.RawGrant
		if err := json.Unmarshal(row, &rg); err != nil {
			skipped++
			continue
		}
		raws = append(raws, rg)
	}
	if skipped > 0 {
		log.Printf("[deck] skipped %d unreadable raw records", skipped)
	}
	return raws, nil
}

// criteriaRequest is the wire form of filter criteria. Zero values mean "no
// constraint", matching the filter package's conventions.
type criteriaRequest struct {
	IssueAreas      []string   `json:"issue_areas"`
	Scopes          []string   `json:"scopes"`
	FundingFloor    float64    `json:"funding_floor"`
	FundingCeiling  float64    `json:"funding_ceiling"`
	DeadlineAfter   *time.Time `json:"deadline_after"`
	DeadlineBefore  *time.Time `json:"deadline_before"`
	Eligibility     []string   `json:"eligibility"`
	EligibilityMode string     `json:"eligibility_mode"`
}

func (r criteriaRequest) toCriteria() (filter.Criteria, error) {
	c := filter.NewCriteria()
	c.IssueAreas = r.IssueAreas
	c.Scopes = r.Scopes
	c.Eligibility = r.Eligibility
	c.DeadlineAfter = r.DeadlineAfter
	c.DeadlineBefore = r.DeadlineBefore

	if r.FundingFloor < 0 || r.FundingCeiling < 0 {
		return c, errors.New("funding bounds must be non-negative")
	}
	c.FundingFloor = r.FundingFloor
	if r.FundingCeiling > 0 {
		c.FundingCeiling = r.FundingCeiling
	}

	switch strings.ToLower(strings.TrimSpace(r.EligibilityMode)) {
	case "", "loose":
		c.Mode = filter.EligibilityLoose
	case "exact":
		c.Mode = filter.EligibilityExact
	default:
		return c, errors.New("eligibility_mode must be loose or exact")
	}

	return c, nil
}

type deckCreateRequest struct {
	Criteria *criteriaRequest `json:"criteria"`
}

type deckDecisionRequest struct {
	Direction string `json:"direction"`
}

func deckJSON(id string, snap deck.Snapshot) map[string]interface{} {
	resp := map[string]interface{}{
		"id":        id,
		"state":     snap.State.String(),
		"head":      snap.Head,
		"remaining": snap.Remaining,
		"accepted":  snap.Accepted,
		"decided":   snap.Decided,
	}
	if snap.Err != nil {
		resp["error"] = snap.Err.Error()
	}
	return resp
}

// Deck Handlers

func (s *Server) handleCreateDeck(c echo.Context) error {
	ctx := c.Request().Context()
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	var req deckCreateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	criteria := filter.NewCriteria()
	if req.Criteria != nil {
		criteria, err = req.Criteria.toCriteria()
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		}
	}

	ctl := deck.New(userID, deckSource{store: s.Store, limit: deckCandidateLimit}, s.Store, criteria)

	sess := &deckSession{
		ID:         uuid.New().String(),
		UserID:     userID,
		Controller: ctl,
		CreatedAt:  time.Now(),
	}

	// A failed load leaves the session registered in Error state so the
	// client can inspect it and retry via restart.
	if err := ctl.Load(ctx); err != nil {
		c.Logger().Errorf("Deck load failed: %v", err)
	}

	s.decks.add(sess)
	return c.JSON(http.StatusCreated, deckJSON(sess.ID, ctl.Snapshot()))
}

func (s *Server) handleGetDeck(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	sess, ok := s.decks.get(c.Param("id"), userID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deck session not found"})
	}

	return c.JSON(http.StatusOK, deckJSON(sess.ID, sess.Controller.Snapshot()))
}

func (s *Server) handleDeckDecision(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	sess, ok := s.decks.get(c.Param("id"), userID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deck session not found"})
	}

	var req deckDecisionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	direction := models.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
	if !direction.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "direction must be accept or reject"})
	}

	if err := sess.Controller.Decide(c.Request().Context(), direction); err != nil {
		if errors.Is(err, deck.ErrNotReady) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Deck has no card to decide on"})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	return c.JSON(http.StatusOK, deckJSON(sess.ID, sess.Controller.Snapshot()))
}

func (s *Server) handleDeckCriteria(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	sess, ok := s.decks.get(c.Param("id"), userID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deck session not found"})
	}

	var req criteriaRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	criteria, err := req.toCriteria()
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	if err := sess.Controller.SetCriteria(c.Request().Context(), criteria); err != nil {
		c.Logger().Errorf("Deck reload failed: %v", err)
	}

	return c.JSON(http.StatusOK, deckJSON(sess.ID, sess.Controller.Snapshot()))
}

func (s *Server) handleDeckRestart(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	sess, ok := s.decks.get(c.Param("id"), userID)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deck session not found"})
	}

	if err := sess.Controller.Restart(c.Request().Context()); err != nil {
		c.Logger().Errorf("Deck restart failed: %v", err)
	}

	return c.JSON(http.StatusOK, deckJSON(sess.ID, sess.Controller.Snapshot()))
}

func (s *Server) handleCloseDeck(c echo.Context) error {
	userID, err := auth.GetUserIDFromContext(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	if !s.decks.remove(c.Param("id"), userID) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Deck session not found"})
	}

	return c.NoContent(http.StatusNoContent)
}
