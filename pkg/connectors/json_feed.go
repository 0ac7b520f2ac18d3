package connectors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/jsonutil"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// JSONFeedConnector maps the items of a JSON feed onto candidates using a
// configured field mapping. No model is involved.
type JSONFeedConnector struct {
	cfg     config.SourceConfig
	ref     models.SourceRef
	fetcher *fetcher
	now     func() time.Time
	logger  *zap.Logger
}

// NewJSONFeedConnector creates a connector for a json_feed source.
func NewJSONFeedConnector(cfg config.SourceConfig, logger *zap.Logger) *JSONFeedConnector {
	return &JSONFeedConnector{
		cfg:     cfg,
		ref:     sourceRef(cfg),
		fetcher: newFetcher(cfg.Name, cfg.Timeout, cfg.Headers),
		now:     time.Now,
		logger:  logger.Named("json-feed").With(zap.String("source", cfg.Name)),
	}
}

var _ Connector = (*JSONFeedConnector)(nil)

// Name implements Connector.
func (c *JSONFeedConnector) Name() string { return c.cfg.Name }

// Source implements Connector.
func (c *JSONFeedConnector) Source() models.SourceRef { return c.ref }

// Fetch implements Connector.
func (c *JSONFeedConnector) Fetch(ctx context.Context, params models.RunParams) ([]models.FetchedCandidate, error) {
	feedURL, err := c.requestURL(params)
	if err != nil {
		return nil, &apperrors.SourceFetchError{Source: c.cfg.Name, Cause: redactURLError(err)}
	}

	body, err := c.fetcher.get(ctx, feedURL)
	if err != nil {
		return nil, err
	}

	itemsRaw, ok := jsonutil.Lookup(body, c.cfg.Mapping.ItemsPath)
	if !ok {
		return nil, &apperrors.SourceFetchError{Source: c.cfg.Name,
			Cause: fmt.Errorf("items path %q not found in response", c.cfg.Mapping.ItemsPath)}
	}
	var items []json.RawMessage
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return nil, &apperrors.SourceFetchError{Source: c.cfg.Name,
			Cause: fmt.Errorf("items at %q are not an array: %w", c.cfg.Mapping.ItemsPath, err)}
	}

	// Without a server-side lookback parameter the window is applied here.
	var cutoff time.Time
	if params.Days > 0 && c.cfg.Mapping.DaysParam == "" {
		cutoff = c.now().UTC().AddDate(0, 0, -params.Days)
	}

	out := make([]models.FetchedCandidate, 0, len(items))
	skipped := 0
	for _, item := range items {
		cand := c.mapItem(item)
		if !cutoff.IsZero() && !cand.Datetime.IsZero() && cand.Datetime.Before(cutoff) {
			skipped++
			continue
		}
		out = append(out, models.FetchedCandidate{
			Candidate: cand,
			Payload:   item,
			URL:       jsonutil.LookupString(item, c.cfg.Mapping.URL),
		})
	}

	c.logger.Debug("Fetched feed",
		zap.Int("items", len(items)),
		zap.Int("candidates", len(out)),
		zap.Int("outside_window", skipped))

	return out, nil
}

func (c *JSONFeedConnector) requestURL(params models.RunParams) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid feed url: %w", err)
	}
	q := u.Query()
	if params.Days > 0 && c.cfg.Mapping.DaysParam != "" {
		q.Set(c.cfg.Mapping.DaysParam, strconv.Itoa(params.Days))
	}
	if params.Region != "" && c.cfg.Mapping.RegionParam != "" {
		q.Set(c.cfg.Mapping.RegionParam, params.Region)
	}
	for k, v := range params.Params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// mapItem reads candidate fields from one feed item. Missing mandatory
// fields stay empty; the normalizer rejects such candidates.
func (c *JSONFeedConnector) mapItem(item json.RawMessage) models.Candidate {
	m := c.cfg.Mapping
	str := func(path string) string {
		return strings.TrimSpace(jsonutil.LookupString(item, path))
	}

	cand := models.Candidate{
		Title:       str(m.Title),
		Location:    str(m.Location),
		Region:      str(m.Region),
		Country:     str(m.Country),
		Subdivision: str(m.Subdivision),
		Category:    str(m.Category),
		Summary:     str(m.Summary),
	}
	if raw, ok := jsonutil.Lookup(item, m.Datetime); ok && m.Datetime != "" {
		if t, ok := jsonutil.FlexibleTime(raw); ok {
			cand.Datetime = t
		}
	}
	if m.Severity != "" {
		if raw, ok := jsonutil.Lookup(item, m.Severity); ok {
			if v, ok := jsonutil.FlexibleInt(raw); ok {
				cand.Severity = &v
			}
		}
	}
	if m.Confidence != "" {
		if raw, ok := jsonutil.Lookup(item, m.Confidence); ok {
			if v, ok := jsonutil.FlexibleInt(raw); ok {
				cand.Confidence = &v
			}
		}
	}
	if u := str(m.URL); u != "" {
		cand.Sources = []string{u}
	}
	return cand
}
