// Package connectors fetches candidate incidents from upstream sources.
//
// A connector is a black box that returns candidates together with the
// verbatim payload each one was derived from. Connectors never write to the
// database; staging and normalization happen in the ingestion orchestrator.
package connectors

import (
	"context"

	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// Connector fetches candidates from one configured source.
//
// Fetch may return candidates and a non-nil error together when only part of
// the source could be read. Errors are *apperrors.SourceFetchError unless the
// context was cancelled.
type Connector interface {
	Name() string
	Source() models.SourceRef
	Fetch(ctx context.Context, params models.RunParams) ([]models.FetchedCandidate, error)
}

// sourceRef derives the provenance identity of a configured source. The
// label defaults to the source name and participates in content hashing.
func sourceRef(cfg config.SourceConfig) models.SourceRef {
	ref := models.SourceRef{
		Type:  models.SourceType(cfg.SourceType),
		Label: cfg.Label,
		URL:   cfg.URL,
	}
	if ref.Label == "" {
		ref.Label = cfg.Name
	}
	if !ref.Type.IsValid() {
		switch cfg.Connector {
		case config.ConnectorPageExtraction:
			ref.Type = models.SourceTypeWeb
		default:
			ref.Type = models.SourceTypeStructuredFeed
		}
	}
	return ref
}
