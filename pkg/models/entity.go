package models

import (
	"time"

	"github.com/google/uuid"
)

// EntityType classifies a resolved actor.
type EntityType string

const (
	EntityTypeThreatActor   EntityType = "threat_actor"
	EntityTypeOrganization  EntityType = "organization"
	EntityTypeArmedGroup    EntityType = "armed_group"
	EntityTypeGovernment    EntityType = "government"
	EntityTypePerson        EntityType = "person"
	EntityTypeLocationGroup EntityType = "location_group"
)

// ParseEntityType returns the entity type for s, defaulting to organization
// when s is not a known value.
func ParseEntityType(s string) EntityType {
	switch t := EntityType(s); t {
	case EntityTypeThreatActor, EntityTypeOrganization, EntityTypeArmedGroup,
		EntityTypeGovernment, EntityTypePerson, EntityTypeLocationGroup:
		return t
	}
	return EntityTypeOrganization
}

// LinkRole is the part an entity played in an incident.
type LinkRole string

const (
	LinkRolePerpetrator LinkRole = "perpetrator"
	LinkRoleTarget      LinkRole = "target"
	LinkRoleMentioned   LinkRole = "mentioned"
	LinkRoleAffiliated  LinkRole = "affiliated"
)

// ParseLinkRole returns the role for s, defaulting to mentioned.
func ParseLinkRole(s string) LinkRole {
	switch r := LinkRole(s); r {
	case LinkRolePerpetrator, LinkRoleTarget, LinkRoleMentioned, LinkRoleAffiliated:
		return r
	}
	return LinkRoleMentioned
}

// Entity is a canonical actor, organization or location group.
// Stored in entities. IncidentCount is derived from incident_entity_links.
type Entity struct {
	ID                 uuid.UUID  `json:"id"`
	CanonicalName      string     `json:"canonical_name"`
	EntityType         EntityType `json:"entity_type"`
	Description        *string    `json:"description,omitempty"`
	CountryAffiliation *string    `json:"country_affiliation,omitempty"`
	Region             *string    `json:"region,omitempty"`
	Confidence         int        `json:"confidence"`
	FirstSeen          time.Time  `json:"first_seen"`
	LastSeen           time.Time  `json:"last_seen"`
	IncidentCount      int        `json:"incident_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// EntityAlias is one name that resolves to an entity.
// AliasNormalized is globally unique: it is the resolution index.
type EntityAlias struct {
	ID              uuid.UUID `json:"id"`
	EntityID        uuid.UUID `json:"entity_id"`
	Alias           string    `json:"alias"`
	AliasNormalized string    `json:"alias_normalized"`
	Source          *string   `json:"source,omitempty"` // 'extraction', 'merge', 'manual'
	CreatedAt       time.Time `json:"created_at"`
}

// IncidentEntityLink attaches an entity to an incident in a role.
// Unique on (IncidentID, EntityID, Role).
type IncidentEntityLink struct {
	ID            uuid.UUID `json:"id"`
	IncidentID    uuid.UUID `json:"incident_id"`
	EntityID      uuid.UUID `json:"entity_id"`
	Role          LinkRole  `json:"role"`
	Confidence    int       `json:"confidence"`
	ExtractedName string    `json:"extracted_name"`
	CreatedAt     time.Time `json:"created_at"`
}

// ExtractedEntity is one actor mention returned by an entity extractor.
type ExtractedEntity struct {
	Name               string     `json:"name"`
	Aliases            []string   `json:"aliases,omitempty"`
	EntityType         EntityType `json:"entity_type"`
	Role               LinkRole   `json:"role"`
	Confidence         int        `json:"confidence"`
	Description        string     `json:"description,omitempty"`
	CountryAffiliation string     `json:"country_affiliation,omitempty"`
	Region             string     `json:"region,omitempty"`
}

// MergeStatus is the state of a merge journal row.
type MergeStatus string

const (
	MergeStatusMerging   MergeStatus = "merging"
	MergeStatusCompleted MergeStatus = "completed"
)

// EntityMerge is the journal entry for one pairwise merge.
type EntityMerge struct {
	ID           uuid.UUID   `json:"id"`
	SourceID     uuid.UUID   `json:"source_id"`
	TargetID     uuid.UUID   `json:"target_id"`
	SourceName   string      `json:"source_name"`
	TargetName   string      `json:"target_name"`
	Status       MergeStatus `json:"status"`
	AliasesMoved int         `json:"aliases_moved"`
	LinksMoved   int         `json:"links_moved"`
	CreatedAt    time.Time   `json:"created_at"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
}

// MergeResult is reported to the operator after a merge.
type MergeResult struct {
	SourceName   string `json:"source_name"`
	TargetName   string `json:"target_name"`
	AliasesMoved int    `json:"aliases_moved"`
	LinksMoved   int    `json:"links_moved"`
}

// MergeCandidate is a pair of entities that may refer to the same actor.
type MergeCandidate struct {
	EntityA         *Entity `json:"entity_a"`
	EntityB         *Entity `json:"entity_b"`
	Score           int     `json:"score"`
	NameScore       int     `json:"name_score"`
	AliasScore      int     `json:"alias_score"`
	IncidentScore   int     `json:"incident_score"`
	MetadataBonus   int     `json:"metadata_bonus"`
	SharedIncidents int     `json:"shared_incidents"`
}

// ExtractionSummary is returned by an entity extraction pass.
type ExtractionSummary struct {
	Processed       int      `json:"processed"`
	EntitiesCreated int      `json:"entities_created"`
	LinksCreated    int      `json:"links_created"`
	Errors          []string `json:"errors,omitempty"`
}
