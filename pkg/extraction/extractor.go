// Package extraction turns unstructured text into incident candidates and
// incidents into the actors they mention.
package extraction

import (
	"context"
	"time"

	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// Chunk is one block of page text handed to an IncidentExtractor.
type Chunk struct {
	ID          string // for logging and error reports, e.g. "url#2"
	SourceLabel string
	URL         string
	FetchedAt   time.Time
	Region      string
	Text        string
}

// IncidentExtractor produces incident candidates from free text.
// Malformed model output is reported as *apperrors.ExtractionParseError.
type IncidentExtractor interface {
	ExtractIncidents(ctx context.Context, chunk Chunk) ([]models.Candidate, error)
}

// EntityExtractor lists the actors mentioned in a committed incident.
// Malformed model output is reported as *apperrors.ExtractionParseError.
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, inc *models.Incident) ([]models.ExtractedEntity, error)
}

// IncidentExtractorFunc adapts a function to IncidentExtractor.
type IncidentExtractorFunc func(ctx context.Context, chunk Chunk) ([]models.Candidate, error)

// ExtractIncidents implements IncidentExtractor.
func (f IncidentExtractorFunc) ExtractIncidents(ctx context.Context, chunk Chunk) ([]models.Candidate, error) {
	return f(ctx, chunk)
}

// EntityExtractorFunc adapts a function to EntityExtractor.
type EntityExtractorFunc func(ctx context.Context, inc *models.Incident) ([]models.ExtractedEntity, error)

// ExtractEntities implements EntityExtractor.
func (f EntityExtractorFunc) ExtractEntities(ctx context.Context, inc *models.Incident) ([]models.ExtractedEntity, error) {
	return f(ctx, inc)
}
