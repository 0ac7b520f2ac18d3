// Package models contains domain types for incident-engine.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bounds applied when mapping a candidate into an Incident.
const (
	MaxTitleLength    = 200
	MinSeverity       = 1
	MaxSeverity       = 5
	MinConfidence     = 0
	MaxConfidence     = 100
	DefaultSeverity   = 3
	DefaultConfidence = 50
	DefaultSection    = "general"
	DefaultRegion     = "Unknown"
)

// IncidentCategory is the threat type of an incident.
type IncidentCategory string

const (
	CategoryArmedConflict IncidentCategory = "armed_conflict"
	CategoryTerrorism     IncidentCategory = "terrorism"
	CategoryCivilUnrest   IncidentCategory = "civil_unrest"
	CategoryCrime         IncidentCategory = "crime"
	CategoryKidnapping    IncidentCategory = "kidnapping"
	CategoryPiracy        IncidentCategory = "piracy"
	CategoryCyber         IncidentCategory = "cyber"
	CategoryPolitical     IncidentCategory = "political"
	CategoryOther         IncidentCategory = "other"
)

var categoryAliases = map[string]IncidentCategory{
	"armed_conflict": CategoryArmedConflict,
	"armed conflict": CategoryArmedConflict,
	"conflict":       CategoryArmedConflict,
	"battle":         CategoryArmedConflict,
	"battles":        CategoryArmedConflict,
	"terrorism":      CategoryTerrorism,
	"terror":         CategoryTerrorism,
	"civil_unrest":   CategoryCivilUnrest,
	"civil unrest":   CategoryCivilUnrest,
	"protest":        CategoryCivilUnrest,
	"protests":       CategoryCivilUnrest,
	"riots":          CategoryCivilUnrest,
	"crime":          CategoryCrime,
	"kidnapping":     CategoryKidnapping,
	"abduction":      CategoryKidnapping,
	"piracy":         CategoryPiracy,
	"maritime":       CategoryPiracy,
	"cyber":          CategoryCyber,
	"cyberattack":    CategoryCyber,
	"political":      CategoryPolitical,
	"other":          CategoryOther,
}

// ParseCategory maps a free-form category label onto the known enum.
// Empty input yields ok=false; unrecognized labels map to CategoryOther.
func ParseCategory(s string) (IncidentCategory, bool) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return "", false
	}
	if c, ok := categoryAliases[key]; ok {
		return c, true
	}
	if c, ok := categoryAliases[strings.ReplaceAll(key, "-", "_")]; ok {
		return c, true
	}
	return CategoryOther, true
}

// IncidentStatus tracks analyst review. Escalation is an analyst action.
type IncidentStatus string

const (
	IncidentStatusAI        IncidentStatus = "ai"
	IncidentStatusReviewed  IncidentStatus = "reviewed"
	IncidentStatusConfirmed IncidentStatus = "confirmed"
)

// Incident is the canonical, deduplicated, analyst-facing threat record.
// Stored in incidents.
type Incident struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	Location    string           `json:"location"`
	Region      string           `json:"region"`
	Country     *string          `json:"country,omitempty"`
	Subdivision *string          `json:"subdivision,omitempty"`
	Category    IncidentCategory `json:"category"`
	Severity    int              `json:"severity"`
	Confidence  int              `json:"confidence"`
	Summary     *string          `json:"summary,omitempty"`
	Datetime    time.Time        `json:"datetime"`
	Sources     []string         `json:"sources"`
	Status      IncidentStatus   `json:"status"`
	Analyst     string           `json:"analyst"`
	Section     string           `json:"section"`

	// EntitiesExtractedAt is set once the entity resolution pass has processed the incident.
	EntitiesExtractedAt *time.Time `json:"entities_extracted_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// Candidate is a tentative incident record produced by a source connector
// before staging and normalization. Pointer fields are optional.
type Candidate struct {
	Title       string    `json:"title"`
	Datetime    time.Time `json:"datetime"`
	Location    string    `json:"location"`
	Region      string    `json:"region,omitempty"`
	Country     string    `json:"country,omitempty"`
	Subdivision string    `json:"subdivision,omitempty"`
	Category    string    `json:"category"`
	Severity    *int      `json:"severity,omitempty"`
	Confidence  *int      `json:"confidence,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
	Section     string    `json:"section,omitempty"`
}

// ClampSeverity bounds v to [MinSeverity, MaxSeverity].
func ClampSeverity(v int) int {
	return clamp(v, MinSeverity, MaxSeverity)
}

// ClampConfidence bounds v to [MinConfidence, MaxConfidence].
func ClampConfidence(v int) int {
	return clamp(v, MinConfidence, MaxConfidence)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
