package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunParams scopes one ingestion run. Zero values mean source defaults.
type RunParams struct {
	Sources []string          `json:"sources,omitempty"`
	Region  string            `json:"region,omitempty"`
	Days    int               `json:"days,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
}

// FetchedCandidate pairs a connector's candidate with its verbatim payload.
type FetchedCandidate struct {
	Candidate Candidate       `json:"candidate"`
	Payload   json.RawMessage `json:"payload"`
	URL       string          `json:"url,omitempty"`
}

// RunSummary aggregates the outcome of one or more source runs.
type RunSummary struct {
	Fetched           int      `json:"fetched"`
	Staged            int      `json:"staged"`
	Inserted          int      `json:"inserted"`
	DuplicatesSkipped int      `json:"duplicatesSkipped"`
	Rejected          int      `json:"rejected"`
	Errors            []string `json:"errors,omitempty"`
}

// Add folds other into s.
func (s *RunSummary) Add(other *RunSummary) {
	if other == nil {
		return
	}
	s.Fetched += other.Fetched
	s.Staged += other.Staged
	s.Inserted += other.Inserted
	s.DuplicatesSkipped += other.DuplicatesSkipped
	s.Rejected += other.Rejected
	s.Errors = append(s.Errors, other.Errors...)
}

// IngestionRunStatus is the final state of a recorded source run.
type IngestionRunStatus string

const (
	IngestionRunRunning   IngestionRunStatus = "running"
	IngestionRunSucceeded IngestionRunStatus = "succeeded"
	IngestionRunPartial   IngestionRunStatus = "partial"
	IngestionRunFailed    IngestionRunStatus = "failed"
)

// IngestionRun is the history record of one source run.
// Stored in ingestion_runs.
type IngestionRun struct {
	ID         uuid.UUID          `json:"id"`
	Source     string             `json:"source"`
	Trigger    string             `json:"trigger"` // 'api', 'schedule', 'mcp'
	Status     IngestionRunStatus `json:"status"`
	Summary    RunSummary         `json:"summary"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at,omitempty"`
}
