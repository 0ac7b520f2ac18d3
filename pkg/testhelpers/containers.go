// Package testhelpers provides utilities for integration tests of
// incident-engine components.
package testhelpers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/incident-engine/pkg/database"
)

// PostgresImage is the image integration tests run against.
const PostgresImage = "postgres:16-alpine"

// EngineDB holds a migrated database shared by every test in the run.
type EngineDB struct {
	Container testcontainers.Container
	DB        *database.DB
	ConnStr   string
}

var (
	sharedEngineDB     *EngineDB
	sharedEngineDBOnce sync.Once
	sharedEngineDBErr  error
)

// GetEngineDB returns a shared PostgreSQL container with migrations applied.
// The container is created once and reused across all tests in the run.
func GetEngineDB(t *testing.T) *EngineDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedEngineDBOnce.Do(func() {
		sharedEngineDB, sharedEngineDBErr = setupEngineDB()
	})

	if sharedEngineDBErr != nil {
		t.Fatalf("Failed to setup engine database: %v", sharedEngineDBErr)
	}

	return sharedEngineDB
}

// Context returns a context carrying a pooled connection scope, released
// when the test ends.
func (e *EngineDB) Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cleanup, err := e.DB.WithScope(context.Background())
	if err != nil {
		t.Fatalf("failed to acquire database scope: %v", err)
	}
	t.Cleanup(cleanup)
	return ctx
}

// Truncate empties the given tables.
func (e *EngineDB) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := e.DB.Pool.Exec(context.Background(), "TRUNCATE "+table+" CASCADE"); err != nil {
			t.Fatalf("failed to truncate %s: %v", table, err)
		}
	}
}

func setupEngineDB() (*EngineDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "incident_engine_test",
			"POSTGRES_USER":     "incidents",
			"POSTGRES_PASSWORD": "test_password",
		},
		// Postgres logs readiness twice: once for the init server, once for the real one.
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	connStr := fmt.Sprintf("postgres://incidents:test_password@%s:%s/incident_engine_test?sslmode=disable",
		host, port.Port())

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	migrationsPath, err := findMigrations()
	if err != nil {
		return nil, err
	}
	if err := database.MigrateDB(db, migrationsPath, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &EngineDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// findMigrations walks up from the working directory to the module root.
func findMigrations() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "migrations"), nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not locate module root from working directory")
		}
		dir = parent
	}
}
