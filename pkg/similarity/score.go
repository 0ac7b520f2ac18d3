package similarity

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
)

const (
	nameWeight     = 0.45
	aliasWeight    = 0.25
	incidentWeight = 0.20

	// MetadataPoint is awarded for each matching piece of metadata.
	MetadataPoint = 5
	// LastSeenWindow is how close last_seen must be to earn a metadata point.
	LastSeenWindow = 7 * 24 * time.Hour
	// NearDuplicateDice is the bigram Dice above which two aliases count as
	// the same name.
	NearDuplicateDice = 0.8
	// DefaultThreshold is the composite score at which a pair becomes a
	// merge candidate.
	DefaultThreshold = 45
)

// Profile is everything the scorer needs to know about one entity.
type Profile struct {
	ID          uuid.UUID
	Name        string
	Aliases     []string
	IncidentIDs []uuid.UUID
	EntityType  string
	Country     string
	Region      string
	LastSeen    time.Time
}

// Breakdown holds the sub-scores for one pair. All values are in [0,100]
// except Metadata, which is in [0,20].
type Breakdown struct {
	Name            int
	Alias           int
	Incident        int
	Metadata        int
	Composite       int
	SharedIncidents int
}

// Pair is a scored candidate pair, referencing profiles by index.
type Pair struct {
	A, B int
	Breakdown
}

// LevenshteinSimilarity returns 1 - distance/maxLen over runes.
func LevenshteinSimilarity(a, b string) float64 {
	maxLen := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(maxLen)
}

func bigrams(s string) map[string]int {
	runes := []rune(s)
	out := make(map[string]int, len(runes))
	for i := 0; i+1 < len(runes); i++ {
		out[string(runes[i:i+2])]++
	}
	return out
}

// DiceCoefficient compares character bigram multisets.
func DiceCoefficient(a, b string) float64 {
	if a == b {
		return 1
	}
	ba, bb := bigrams(a), bigrams(b)
	total := 0
	for _, n := range ba {
		total += n
	}
	for _, n := range bb {
		total += n
	}
	if total == 0 {
		return 0
	}
	shared := 0
	for g, n := range ba {
		shared += min(n, bb[g])
	}
	return 2 * float64(shared) / float64(total)
}

// TokenJaccard compares whitespace-separated token sets.
func TokenJaccard(a, b string) float64 {
	ta, tb := tokenSet(a), tokenSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = true
	}
	return out
}

// NameScore compares two names after normalization.
func NameScore(a, b string) int {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	la, lb := utf8.RuneCountInString(na), utf8.RuneCountInString(nb)
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		ratio := float64(min(la, lb)) / float64(max(la, lb))
		return clamp(int(math.Round(70 + 30*ratio)))
	}
	best := max(LevenshteinSimilarity(na, nb), DiceCoefficient(na, nb), TokenJaccard(na, nb))
	return clamp(int(math.Round(best * 100)))
}

// AliasOverlap scores how many names in a match a name in b, where each
// set holds the entity's canonical name plus its aliases.
func AliasOverlap(a, b []string) int {
	na, nb := NormalizeAll(a...), NormalizeAll(b...)
	total := len(na) + len(nb)
	if len(na) == 0 || len(nb) == 0 {
		return 0
	}
	matches := 0
	for _, x := range na {
		for _, y := range nb {
			if x == y || DiceCoefficient(x, y) > NearDuplicateDice {
				matches++
				break
			}
		}
	}
	return clamp(int(math.Round(float64(matches) / (float64(total) / 2) * 100)))
}

// IncidentOverlap scores shared incidents relative to the smaller set and
// also returns the shared count.
func IncidentOverlap(a, b []uuid.UUID) (int, int) {
	if len(a) == 0 || len(b) == 0 {
		return 0, 0
	}
	set := make(map[uuid.UUID]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	shared := 0
	seen := make(map[uuid.UUID]bool, len(b))
	for _, id := range b {
		if set[id] && !seen[id] {
			shared++
		}
		seen[id] = true
	}
	smaller := min(len(set), len(seen))
	return clamp(int(math.Round(float64(shared) / float64(smaller) * 100))), shared
}

// MetadataBonus awards MetadataPoint for each of: same type, same country
// affiliation, same region, last seen within LastSeenWindow.
func MetadataBonus(a, b Profile) int {
	bonus := 0
	if sameField(a.EntityType, b.EntityType) {
		bonus += MetadataPoint
	}
	if sameField(a.Country, b.Country) {
		bonus += MetadataPoint
	}
	if sameField(a.Region, b.Region) {
		bonus += MetadataPoint
	}
	if !a.LastSeen.IsZero() && !b.LastSeen.IsZero() {
		d := a.LastSeen.Sub(b.LastSeen)
		if d < 0 {
			d = -d
		}
		if d <= LastSeenWindow {
			bonus += MetadataPoint
		}
	}
	return bonus
}

func sameField(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

// Composite combines sub-scores into the final 0-100 score.
func Composite(name, alias, incident, metadata int) int {
	score := nameWeight*float64(name) + aliasWeight*float64(alias) + incidentWeight*float64(incident) + float64(metadata)
	return clamp(int(math.Round(score)))
}

// Score computes every sub-score for one pair.
func Score(a, b Profile) Breakdown {
	var bd Breakdown
	bd.Name = NameScore(a.Name, b.Name)
	bd.Alias = AliasOverlap(append([]string{a.Name}, a.Aliases...), append([]string{b.Name}, b.Aliases...))
	bd.Incident, bd.SharedIncidents = IncidentOverlap(a.IncidentIDs, b.IncidentIDs)
	bd.Metadata = MetadataBonus(a, b)
	bd.Composite = Composite(bd.Name, bd.Alias, bd.Incident, bd.Metadata)
	return bd
}

// FindCandidates scores every unordered pair and returns those at or above
// threshold, highest first. Ties keep input order.
func FindCandidates(profiles []Profile, threshold int) []Pair {
	var pairs []Pair
	for i := 0; i < len(profiles); i++ {
		for j := i + 1; j < len(profiles); j++ {
			bd := Score(profiles[i], profiles[j])
			if bd.Composite >= threshold {
				pairs = append(pairs, Pair{A: i, B: j, Breakdown: bd})
			}
		}
	}
	sort.SliceStable(pairs, func(x, y int) bool {
		return pairs[x].Composite > pairs[y].Composite
	})
	return pairs
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
