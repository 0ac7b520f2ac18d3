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

// LLMIncidentExtractor extracts incidents from page text with a language model.
type LLMIncidentExtractor struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewLLMIncidentExtractor creates an extractor backed by client.
func NewLLMIncidentExtractor(client llm.LLMClient, temperature float64, logger *zap.Logger) *LLMIncidentExtractor {
	return &LLMIncidentExtractor{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("incident-extractor"),
	}
}

var _ IncidentExtractor = (*LLMIncidentExtractor)(nil)

// ExtractIncidents implements IncidentExtractor.
func (e *LLMIncidentExtractor) ExtractIncidents(ctx context.Context, chunk Chunk) ([]models.Candidate, error) {
	if strings.TrimSpace(chunk.Text) == "" {
		return nil, nil
	}

	prompt := prompts.BuildIncidentExtractionPrompt(prompts.PageContext{
		SourceLabel: chunk.SourceLabel,
		URL:         chunk.URL,
		FetchedAt:   chunk.FetchedAt,
		Region:      chunk.Region,
	}, chunk.Text)

	resp, err := e.client.GenerateResponse(ctx, prompt, prompts.BuildIncidentExtractionSystemMessage(), e.temperature, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract incidents from %s: %w", chunk.ID, err)
	}

	items, err := llm.ParseJSONList[map[string]json.RawMessage](resp.Content, "incidents", "events", "results")
	if err != nil {
		return nil, &apperrors.ExtractionParseError{Chunk: chunk.ID, Cause: err}
	}

	candidates := make([]models.Candidate, 0, len(items))
	for _, item := range items {
		candidates = append(candidates, candidateFromJSON(item))
	}

	e.logger.Debug("Extracted incidents",
		zap.String("chunk", chunk.ID),
		zap.Int("count", len(candidates)),
		zap.Int("prompt_tokens", resp.PromptTokens),
		zap.Int("completion_tokens", resp.CompletionTokens))

	return candidates, nil
}

// candidateFromJSON maps one model-produced object. Missing mandatory fields
// are left empty so the normalizer records the rejection.
func candidateFromJSON(item map[string]json.RawMessage) models.Candidate {
	c := models.Candidate{
		Title:       strings.TrimSpace(jsonutil.FlexibleString(item["title"])),
		Location:    strings.TrimSpace(jsonutil.FlexibleString(item["location"])),
		Region:      strings.TrimSpace(jsonutil.FlexibleString(item["region"])),
		Country:     strings.TrimSpace(jsonutil.FlexibleString(item["country"])),
		Subdivision: strings.TrimSpace(jsonutil.FlexibleString(item["subdivision"])),
		Category:    strings.TrimSpace(jsonutil.FlexibleString(item["category"])),
		Summary:     strings.TrimSpace(jsonutil.FlexibleString(item["summary"])),
		Sources:     jsonutil.FlexibleStrings(item["sources"]),
	}
	if t, ok := jsonutil.FlexibleTime(item["datetime"]); ok {
		c.Datetime = t
	} else if t, ok := jsonutil.FlexibleTime(item["date"]); ok {
		c.Datetime = t
	}
	if v, ok := jsonutil.FlexibleInt(item["severity"]); ok {
		c.Severity = &v
	}
	if v, ok := jsonutil.FlexibleInt(item["confidence"]); ok {
		c.Confidence = &v
	}
	return c
}
