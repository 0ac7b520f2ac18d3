package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for incident-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// MigrationsPath is the directory holding the SQL migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`

	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Entities  EntitiesConfig  `yaml:"entities"`
	MCP       MCPConfig       `yaml:"mcp"`

	// Sources lists the connectors available to ingestion runs.
	Sources []SourceConfig `yaml:"sources"`

	// SourcesFile optionally points at an extra YAML file of source definitions.
	SourcesFile string `yaml:"sources_file" env:"SOURCES_FILE" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"incidents"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"incident_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration. Redis is optional; when Host is
// empty, source run locks are process-local.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// LLMConfig configures the extraction backend.
type LLMConfig struct {
	// Provider is "openai" (any OpenAI-compatible endpoint) or "anthropic".
	Provider    string        `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string        `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:""`
	Model       string        `yaml:"model" env:"LLM_MODEL" env-default:""`
	APIKey      string        `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT" env-default:"60s"`
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.1"`
	MaxTokens   int           `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"4096"`
}

// IsAvailable returns true if an extraction model is configured.
func (c *LLMConfig) IsAvailable() bool {
	if c.Model == "" {
		return false
	}
	if c.Provider == "anthropic" {
		return c.APIKey != ""
	}
	return c.Endpoint != ""
}

// IngestionConfig holds pipeline tuning.
type IngestionConfig struct {
	// ConnectorTimeout bounds one connector fetch.
	ConnectorTimeout time.Duration `yaml:"connector_timeout" env:"INGEST_CONNECTOR_TIMEOUT" env-default:"60s"`
	// DedupWindow is how far apart two incidents with the same title may be
	// and still collapse into one.
	DedupWindow time.Duration `yaml:"dedup_window" env:"INGEST_DEDUP_WINDOW" env-default:"168h"`
	// MaxConcurrentSources bounds parallel source runs within one request.
	MaxConcurrentSources int `yaml:"max_concurrent_sources" env:"INGEST_MAX_CONCURRENT_SOURCES" env-default:"4"`
	// RunLockTTL bounds how long a source stays locked if a run dies.
	RunLockTTL time.Duration `yaml:"run_lock_ttl" env:"INGEST_RUN_LOCK_TTL" env-default:"15m"`
	// DefaultLookbackDays applies when a run does not pass days.
	DefaultLookbackDays int `yaml:"default_lookback_days" env:"INGEST_DEFAULT_LOOKBACK_DAYS" env-default:"1"`
}

// EntitiesConfig holds entity resolution tuning.
type EntitiesConfig struct {
	SimilarityThreshold   int    `yaml:"similarity_threshold" env:"ENTITY_SIMILARITY_THRESHOLD" env-default:"45"`
	ExtractionBatchSize   int    `yaml:"extraction_batch_size" env:"ENTITY_EXTRACTION_BATCH_SIZE" env-default:"25"`
	MaxExtractionBatch    int    `yaml:"max_extraction_batch" env:"ENTITY_MAX_EXTRACTION_BATCH" env-default:"200"`
	ExtractionConcurrency int    `yaml:"extraction_concurrency" env:"ENTITY_EXTRACTION_CONCURRENCY" env-default:"4"`
	ExtractionSchedule    string `yaml:"extraction_schedule" env:"ENTITY_EXTRACTION_SCHEDULE" env-default:""`
}

// MCPConfig controls the MCP tool endpoint.
type MCPConfig struct {
	Enabled bool `yaml:"enabled" env:"MCP_ENABLED" env-default:"true"`
}

// Connector kinds understood by connectors.NewFromConfig.
const (
	ConnectorJSONFeed       = "json_feed"
	ConnectorPageExtraction = "page_extraction"
)

// SourceConfig defines one connector instance.
type SourceConfig struct {
	Name       string            `yaml:"name"`
	Connector  string            `yaml:"connector"`   // json_feed | page_extraction
	SourceType string            `yaml:"source_type"` // structured_feed | social | web
	Label      string            `yaml:"label"`
	URL        string            `yaml:"url"`
	Pages      []string          `yaml:"pages"`
	Headers    map[string]string `yaml:"headers"`
	Schedule   string            `yaml:"schedule"` // cron spec, empty disables
	Timeout    time.Duration     `yaml:"timeout"`
	Mapping    FieldMapping      `yaml:"mapping"`
	// ChunkSize is the maximum characters of page text per extraction call.
	ChunkSize int `yaml:"chunk_size"`
}

// FieldMapping tells a json_feed connector where candidate fields live in
// each feed item. Paths are dot-separated keys.
type FieldMapping struct {
	ItemsPath   string `yaml:"items_path"`
	Title       string `yaml:"title"`
	Datetime    string `yaml:"datetime"`
	Location    string `yaml:"location"`
	Region      string `yaml:"region"`
	Country     string `yaml:"country"`
	Subdivision string `yaml:"subdivision"`
	Category    string `yaml:"category"`
	Severity    string `yaml:"severity"`
	Confidence  string `yaml:"confidence"`
	Summary     string `yaml:"summary"`
	URL         string `yaml:"url"`
	// DaysParam and RegionParam name the query parameters that carry the
	// run's lookback and region hint.
	DaysParam   string `yaml:"days_param"`
	RegionParam string `yaml:"region_param"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from path with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validate checks cross-field constraints cleanenv cannot express.
func (c *Config) validate() error {
	if c.Entities.SimilarityThreshold < 0 || c.Entities.SimilarityThreshold > 100 {
		return fmt.Errorf("entities.similarity_threshold must be between 0 and 100, got %d", c.Entities.SimilarityThreshold)
	}
	if c.Ingestion.DedupWindow <= 0 {
		return fmt.Errorf("ingestion.dedup_window must be positive")
	}
	switch c.LLM.Provider {
	case "", "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider must be openai or anthropic, got %q", c.LLM.Provider)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		if err := c.Sources[i].Validate(); err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		if seen[c.Sources[i].Name] {
			return fmt.Errorf("sources[%d]: duplicate source name %q", i, c.Sources[i].Name)
		}
		seen[c.Sources[i].Name] = true
	}
	return nil
}

// Validate checks one source definition.
func (s *SourceConfig) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Connector {
	case ConnectorJSONFeed:
		if s.URL == "" {
			return fmt.Errorf("source %s: url is required for %s", s.Name, s.Connector)
		}
		if s.Mapping.Title == "" || s.Mapping.Datetime == "" {
			return fmt.Errorf("source %s: mapping.title and mapping.datetime are required", s.Name)
		}
	case ConnectorPageExtraction:
		if len(s.Pages) == 0 && s.URL == "" {
			return fmt.Errorf("source %s: pages or url is required for %s", s.Name, s.Connector)
		}
	default:
		return fmt.Errorf("source %s: unknown connector %q", s.Name, s.Connector)
	}
	return nil
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

// ConnectionString returns a PostgreSQL connection URL.
func (c *DatabaseConfig) ConnectionString() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// ResolveHostForDocker maps localhost to host.docker.internal when running
// inside a container so that services on the host machine stay reachable.
func ResolveHostForDocker(host string) string {
	isDockerOnce.Do(func() {
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	if isDockerResult && (host == "localhost" || host == "127.0.0.1") {
		return "host.docker.internal"
	}
	return host
}
