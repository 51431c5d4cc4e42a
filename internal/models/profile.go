package models

import (
	"time"

	"github.com/google/uuid"
)

// NPOProfile describes the organization a user swipes on behalf of. It is the
// left-hand side of every match computation.
type NPOProfile struct {
	UserID             uuid.UUID `json:"user_id"`
	OrganizationName   string    `json:"organization_name"`
	OrganizationType   string    `json:"organization_type"`
	RegistrationStatus string    `json:"registration_status"`
	IssueAreas         []string  `json:"issue_areas"`
	ProjectTypes       []string  `json:"project_types"`
	FundingMin         float64   `json:"funding_min"`
	FundingMax         float64   `json:"funding_max"`
	FundingUrgency     string    `json:"funding_urgency"`
	YearsOperating     float64   `json:"years_operating"`
	StaffSize          int       `json:"staff_size"`
	Mission            string    `json:"mission"`
	Description        string    `json:"description"`
	UpdatedAt          time.Time `json:"updated_at"`
}
