package connectors

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/extraction"
	"github.com/ekaya-inc/incident-engine/pkg/logging"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// PageExtractionConnector downloads web pages, reduces them to text and asks
// an IncidentExtractor for the incidents they describe.
type PageExtractionConnector struct {
	cfg       config.SourceConfig
	ref       models.SourceRef
	fetcher   *fetcher
	extractor extraction.IncidentExtractor
	now       func() time.Time
	logger    *zap.Logger
}

// NewPageExtractionConnector creates a connector for a page_extraction
// source. A nil extractor is allowed; Fetch then reports
// apperrors.ErrExtractionUnavailable.
func NewPageExtractionConnector(cfg config.SourceConfig, extractor extraction.IncidentExtractor, logger *zap.Logger) *PageExtractionConnector {
	return &PageExtractionConnector{
		cfg:       cfg,
		ref:       sourceRef(cfg),
		fetcher:   newFetcher(cfg.Name, cfg.Timeout, cfg.Headers),
		extractor: extractor,
		now:       time.Now,
		logger:    logger.Named("page-extraction").With(zap.String("source", cfg.Name)),
	}
}

var _ Connector = (*PageExtractionConnector)(nil)

// Name implements Connector.
func (c *PageExtractionConnector) Name() string { return c.cfg.Name }

// Source implements Connector.
func (c *PageExtractionConnector) Source() models.SourceRef { return c.ref }

// pagePayload is the raw event payload stored for an extracted candidate.
type pagePayload struct {
	URL       string           `json:"url"`
	Chunk     int              `json:"chunk"`
	Text      string           `json:"text"`
	Candidate models.Candidate `json:"candidate"`
}

func (c *PageExtractionConnector) pages() []string {
	if len(c.cfg.Pages) > 0 {
		return c.cfg.Pages
	}
	return []string{c.cfg.URL}
}

// Fetch implements Connector. Pages fail independently; the source fails
// only when no page could be read. When some pages fail the candidates from
// the rest are returned with an error wrapping apperrors.ErrPartialFetch.
func (c *PageExtractionConnector) Fetch(ctx context.Context, params models.RunParams) ([]models.FetchedCandidate, error) {
	if c.extractor == nil {
		return nil, fmt.Errorf("source %s: %w", c.cfg.Name, apperrors.ErrExtractionUnavailable)
	}

	pages := c.pages()
	var (
		out       []models.FetchedCandidate
		errs      []error
		fetchedAt = c.now().UTC()
	)

	for _, pageURL := range pages {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		cands, err := c.fetchPage(ctx, pageURL, fetchedAt, params)
		out = append(out, cands...)
		if err == nil {
			continue
		}
		if errors.Is(err, apperrors.ErrExtractionUnavailable) || ctx.Err() != nil {
			return out, err
		}
		errs = append(errs, err)
		c.logger.Warn("Page fetch failed", zap.String("url", logging.SanitizeURL(pageURL)), zap.Error(err))
	}

	switch {
	case len(errs) == 0:
		return out, nil
	case len(errs) == len(pages):
		return out, &apperrors.SourceFetchError{Source: c.cfg.Name,
			Cause: fmt.Errorf("all %d pages failed: %w", len(errs), errs[len(errs)-1])}
	default:
		return out, &apperrors.SourceFetchError{Source: c.cfg.Name,
			Cause: fmt.Errorf("%w: %d of %d pages failed: %w",
				apperrors.ErrPartialFetch, len(errs), len(pages), errors.Join(errs...))}
	}
}

func (c *PageExtractionConnector) fetchPage(ctx context.Context, pageURL string, fetchedAt time.Time, params models.RunParams) ([]models.FetchedCandidate, error) {
	body, err := c.fetcher.get(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	text, err := HTMLToText(bytes.NewReader(body))
	if err != nil {
		return nil, &apperrors.SourceFetchError{Source: c.cfg.Name, Cause: fmt.Errorf("parse %s: %w", logging.SanitizeURL(pageURL), err)}
	}

	var out []models.FetchedCandidate
	for i, chunkText := range ChunkText(text, c.cfg.ChunkSize) {
		chunk := extraction.Chunk{
			ID:          fmt.Sprintf("%s#%d", pageURL, i),
			SourceLabel: c.ref.Label,
			URL:         pageURL,
			FetchedAt:   fetchedAt,
			Region:      params.Region,
			Text:        chunkText,
		}
		cands, err := c.extractor.ExtractIncidents(ctx, chunk)
		if err != nil {
			var parseErr *apperrors.ExtractionParseError
			if errors.As(err, &parseErr) {
				c.logger.Warn("Skipping chunk with unparseable extraction output",
					zap.String("url", logging.SanitizeURL(pageURL)), zap.Int("chunk", i), zap.Error(err))
				continue
			}
			return out, err
		}

		for _, cand := range cands {
			if len(cand.Sources) == 0 {
				cand.Sources = []string{pageURL}
			}
			payload, err := json.Marshal(pagePayload{URL: pageURL, Chunk: i, Text: chunkText, Candidate: cand})
			if err != nil {
				return out, fmt.Errorf("failed to encode payload for %s: %w", chunk.ID, err)
			}
			out = append(out, models.FetchedCandidate{Candidate: cand, Payload: payload, URL: pageURL})
		}
	}

	c.logger.Debug("Extracted page",
		zap.String("url", logging.SanitizeURL(pageURL)),
		zap.Int("chars", len(text)),
		zap.Int("candidates", len(out)))
	return out, nil
}
