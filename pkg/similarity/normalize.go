// Package similarity scores how likely two entities are the same real-world
// actor. Scoring is pure; callers load the profiles.
package similarity

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var folder = cases.Fold()

// NormalizeName folds case, replaces every run of non-alphanumeric runes with
// a single space and trims. "Boko-Haram " and "boko haram" normalize alike.
func NormalizeName(name string) string {
	folded := folder.String(name)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			continue
		}
		pendingSpace = true
	}
	return b.String()
}

// NormalizeAll normalizes names and drops empty and repeated results,
// preserving first-seen order.
func NormalizeAll(names ...string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		norm := NormalizeName(n)
		if norm == "" || seen[norm] {
			continue
		}
		seen[norm] = true
		out = append(out, norm)
	}
	return out
}
