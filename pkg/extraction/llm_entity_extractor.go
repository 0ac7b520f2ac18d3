package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/jsonutil"
	"github.com/ekaya-inc/incident-engine/pkg/llm"
	"github.com/ekaya-inc/incident-engine/pkg/models"
	"github.com/ekaya-inc/incident-engine/pkg/prompts"
)

// DefaultEntityConfidence is used when the model omits a confidence.
const DefaultEntityConfidence = 50

// LLMEntityExtractor asks a language model for the actors in an incident.
type LLMEntityExtractor struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewLLMEntityExtractor creates an extractor backed by client.
func NewLLMEntityExtractor(client llm.LLMClient, temperature float64, logger *zap.Logger) *LLMEntityExtractor {
	return &LLMEntityExtractor{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("entity-extractor"),
	}
}

var _ EntityExtractor = (*LLMEntityExtractor)(nil)

// ExtractEntities implements EntityExtractor.
func (e *LLMEntityExtractor) ExtractEntities(ctx context.Context, inc *models.Incident) ([]models.ExtractedEntity, error) {
	ictx := prompts.IncidentContext{
		Title:    inc.Title,
		Location: inc.Location,
		Datetime: inc.Datetime,
		Category: string(inc.Category),
	}
	if inc.Summary != nil {
		ictx.Summary = *inc.Summary
	}
	if inc.Country != nil {
		ictx.Country = *inc.Country
	}

	resp, err := e.client.GenerateResponse(ctx, prompts.BuildEntityExtractionPrompt(ictx),
		prompts.BuildEntityExtractionSystemMessage(), e.temperature, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract entities for incident %s: %w", inc.ID, err)
	}

	items, err := llm.ParseJSONList[map[string]json.RawMessage](resp.Content, "entities", "actors")
	if err != nil {
		return nil, &apperrors.ExtractionParseError{Chunk: "incident " + inc.ID.String(), Cause: err}
	}

	entities := make([]models.ExtractedEntity, 0, len(items))
	for _, item := range items {
		ent, ok := entityFromJSON(item)
		if !ok {
			continue
		}
		entities = append(entities, ent)
	}

	e.logger.Debug("Extracted entities",
		zap.String("incident_id", inc.ID.String()),
		zap.Int("count", len(entities)))

	return entities, nil
}

func entityFromJSON(item map[string]json.RawMessage) (models.ExtractedEntity, bool) {
	name := strings.TrimSpace(jsonutil.FlexibleString(item["name"]))
	if name == "" {
		return models.ExtractedEntity{}, false
	}

	confidence := DefaultEntityConfidence
	if v, ok := jsonutil.FlexibleInt(item["confidence"]); ok {
		confidence = models.ClampConfidence(v)
	}

	return models.ExtractedEntity{
		Name:               name,
		Aliases:            jsonutil.FlexibleStrings(item["aliases"]),
		EntityType:         models.ParseEntityType(strings.ToLower(jsonutil.FlexibleString(item["entity_type"]))),
		Role:               models.ParseLinkRole(strings.ToLower(jsonutil.FlexibleString(item["role"]))),
		Confidence:         confidence,
		Description:        strings.TrimSpace(jsonutil.FlexibleString(item["description"])),
		CountryAffiliation: strings.TrimSpace(jsonutil.FlexibleString(item["country_affiliation"])),
		Region:             strings.TrimSpace(jsonutil.FlexibleString(item["region"])),
	}, true
}
