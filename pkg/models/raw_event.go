package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceType classifies the kind of upstream feed a candidate came from.
type SourceType string

const (
	SourceTypeStructuredFeed SourceType = "structured_feed"
	SourceTypeSocial         SourceType = "social"
	SourceTypeWeb            SourceType = "web"
	SourceTypeManual         SourceType = "manual"
)

// IsValid reports whether t is a known source type.
func (t SourceType) IsValid() bool {
	switch t {
	case SourceTypeStructuredFeed, SourceTypeSocial, SourceTypeWeb, SourceTypeManual:
		return true
	}
	return false
}

// RawEventStatus is the lifecycle state of a staged candidate.
// A RawEvent only ever moves from raw to one of the terminal states.
type RawEventStatus string

const (
	RawEventStatusRaw        RawEventStatus = "raw"
	RawEventStatusNormalized RawEventStatus = "normalized"
	RawEventStatusDuplicate  RawEventStatus = "duplicate"
	RawEventStatusRejected   RawEventStatus = "rejected"
)

// IsTerminal reports whether the status can no longer change.
func (s RawEventStatus) IsTerminal() bool {
	return s == RawEventStatusNormalized || s == RawEventStatusDuplicate || s == RawEventStatusRejected
}

// RawEvent is the provenance record of one fetched candidate.
// Stored in raw_events; never deleted.
type RawEvent struct {
	ID           uuid.UUID       `json:"id"`
	SourceType   SourceType      `json:"source_type"`
	SourceLabel  string          `json:"source_label"`
	SourceURL    *string         `json:"source_url,omitempty"`
	RawPayload   json.RawMessage `json:"raw_payload"`
	ContentHash  string          `json:"content_hash"`
	Status       RawEventStatus  `json:"status"`
	IncidentID   *uuid.UUID      `json:"incident_id,omitempty"`
	IngestedAt   time.Time       `json:"ingested_at"`
	NormalizedAt *time.Time      `json:"normalized_at,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// SourceRef identifies the connector that produced a candidate.
type SourceRef struct {
	Type  SourceType `json:"source_type"`
	Label string     `json:"source_label"`
	URL   string     `json:"source_url,omitempty"`
}
