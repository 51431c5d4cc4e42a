package models

import (
	"time"

	"github.com/google/uuid"
)

// Direction is a swipe outcome. Accept saves the grant, reject skips it; both
// advance the deck.
type Direction string

const (
	DirectionAccept Direction = "accept"
	DirectionReject Direction = "reject"
)

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == DirectionAccept || d == DirectionReject
}

// Decision records one swipe: who decided what, which way, and the match
// score shown at decision time.
type Decision struct {
	UserID     uuid.UUID `json:"user_id"`
	GrantID    string    `json:"grant_id"`
	Direction  Direction `json:"direction"`
	MatchScore float64   `json:"match_score"`
	DecidedAt  time.Time `json:"decided_at"`
}
