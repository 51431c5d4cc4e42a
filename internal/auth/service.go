package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"github.com/cheryl9/grantdeck/internal/models"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrInvalidCreds = errors.New("invalid credentials")

	jwtSecretOnce    sync.Once
	jwtSecretRuntime []byte
	jwtSecretErr     error
)

func jwtSecretFromEnv() ([]byte, error) {
	jwtSecretOnce.Do(func() {
		secret := strings.TrimSpace(os.Getenv("JWT_SECRET"))
		if secret != "" {
			jwtSecretRuntime = []byte(secret)
			return
		}

		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			jwtSecretErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}

		jwtSecretRuntime = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})

	if jwtSecretErr != nil {
		return nil, jwtSecretErr
	}
	if len(jwtSecretRuntime) == 0 {
		return nil, errors.New("JWT secret unavailable")
	}

	return jwtSecretRuntime, nil
}

type Service struct {
	db *pgxpool.Pool
}

func NewService(db *pgxpool.Pool) *Service {
	return &Service{db: db}
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	var exists bool
	err := s.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)", req.Email).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	var user User
	err = s.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, created_at
	`, req.Email, string(hash)).Scan(&user.ID, &user.Email, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert failed: %w", err)
	}

	token, err := generateToken(user.ID)
	if err != nil {
		return nil, err
	}

	return &AuthResponse{Token: token, User: user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var user User
	err := s.db.QueryRow(ctx, "SELECT id, email, password_hash, created_at FROM users WHERE email = $1", req.Email).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := generateToken(user.ID)
	if err != nil {
		return nil, err
	}

	// Clear hash before returning
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: user}, nil
}

func generateToken(userID uuid.UUID) (string, error) {
	secretKey, err := jwtSecretFromEnv()
	if err != nil {
		return "", err
	}

	claims := jwt.MapClaims{
		"sub": userID.String(),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey)
}

// Saved grants are accept swipes. Saving outside the deck upserts one, and
// unsaving deletes the swipe entirely so the grant can resurface in a deck.

func (s *Service) SaveGrant(ctx context.Context, userID uuid.UUID, grantKey string) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO swipes (user_id, grant_key, direction)
		VALUES ($1, $2, 'accept')
		ON CONFLICT (user_id, grant_key) DO UPDATE SET
			direction = 'accept',
			decided_at = NOW()
	`, userID, grantKey)
	return err
}

func (s *Service) UnsaveGrant(ctx context.Context, userID uuid.UUID, grantKey string) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM swipes
		WHERE user_id = $1 AND grant_key = $2
	`, userID, grantKey)
	return err
}

func (s *Service) SavedGrants(ctx context.Context, userID uuid.UUID) ([]models.Grant, error) {
	rows, err := s.db.Query(ctx, `
		SELECT g.grant_key, g.title, COALESCE(g.agency, ''), COALESCE(g.description, ''),
			g.issue_areas, COALESCE(g.scope, ''), g.funding_min, g.funding_max,
			COALESCE(g.funding_raw, ''), g.percent_max, g.cofunded,
			COALESCE(g.deadline, ''), g.deadline_at, g.open_all_year,
			g.eligibility, g.kpi_snippets, COALESCE(g.apply_url, ''),
			COALESCE(g.source_url, ''), g.source_domain, g.source_id,
			g.created_at, g.updated_at
		FROM grants g
		JOIN swipes sw ON sw.grant_key = g.grant_key
		WHERE sw.user_id = $1 AND sw.direction = 'accept'
		ORDER BY sw.decided_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		var g models.Grant
		err := rows.Scan(
			&g.ID, &g.Title, &g.Agency, &g.Description,
			&g.IssueAreas, &g.Scope, &g.FundingMin, &g.FundingMax,
			&g.FundingRaw, &g.PercentMax, &g.Cofunded,
			&g.Deadline, &g.DeadlineAt, &g.OpenAllYear,
			&g.Eligibility, &g.KPIs, &g.ApplyURL,
			&g.SourceURL, &g.SourceDomain, &g.SourceID,
			&g.CreatedAt, &g.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		if g.Deadline == "" {
			g.Deadline = models.NoDeadline
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
