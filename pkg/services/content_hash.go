package services

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/ekaya-inc/incident-engine/pkg/models"
)

// ContentHash fingerprints a candidate for exact-duplicate detection at
// staging time. The key is the feed identity, normalized title, UTC datetime
// and normalized location joined by "|". Re-fetching a candidate from the
// same feed always hashes alike; the same event from another feed does not,
// so it is staged separately and collapsed by title dedup instead.
func ContentHash(source models.SourceRef, c *models.Candidate) string {
	feed := source.Label
	if feed == "" {
		feed = string(source.Type)
	}
	key := strings.Join([]string{
		normalizeHashField(feed),
		normalizeHashField(c.Title),
		c.Datetime.UTC().Format(time.RFC3339),
		normalizeHashField(c.Location),
	}, "|")

	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// normalizeHashField lower-cases, trims and collapses whitespace.
func normalizeHashField(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
