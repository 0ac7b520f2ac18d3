package connectors

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/apperrors"
	"github.com/ekaya-inc/incident-engine/pkg/config"
	"github.com/ekaya-inc/incident-engine/pkg/extraction"
)

// Registry holds the connectors available to ingestion runs, keyed by name.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

// Register adds c. Registering a name twice is an error.
func (r *Registry) Register(c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connectors[c.Name()]; exists {
		return fmt.Errorf("connector %q already registered", c.Name())
	}
	r.connectors[c.Name()] = c
	return nil
}

// Get returns the connector called name or apperrors.ErrUnknownSource.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.connectors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownSource, name)
	}
	return c, nil
}

// Names returns the registered connector names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewFromConfig builds the connector described by cfg.
func NewFromConfig(cfg config.SourceConfig, extractor extraction.IncidentExtractor, logger *zap.Logger) (Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Connector {
	case config.ConnectorJSONFeed:
		return NewJSONFeedConnector(cfg, logger), nil
	case config.ConnectorPageExtraction:
		return NewPageExtractionConnector(cfg, extractor, logger), nil
	default:
		return nil, fmt.Errorf("unknown connector type %q", cfg.Connector)
	}
}

// BuildRegistry creates a connector for every source definition. Page
// extraction sources are registered even without an extractor so runs
// naming them fail with a clear error instead of an unknown source.
func BuildRegistry(sources []config.SourceConfig, extractor extraction.IncidentExtractor, logger *zap.Logger) (*Registry, error) {
	reg := NewRegistry()
	for _, src := range sources {
		c, err := NewFromConfig(src, extractor, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create connector %s: %w", src.Name, err)
		}
		if err := reg.Register(c); err != nil {
			return nil, err
		}
		if src.Connector == config.ConnectorPageExtraction && extractor == nil {
			logger.Warn("Page extraction source registered without an extraction backend",
				zap.String("source", src.Name))
		}
	}
	logger.Info("Connectors registered", zap.Strings("sources", reg.Names()))
	return reg, nil
}
