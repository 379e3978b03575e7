package detect

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sportscan/sportscan/app/database"
)

// Matcher is a precompiled multi-pattern matcher over the entity registry.
// It is built once per detection run and reused across all content items in
// that run, so matching cost stays independent of registry growth within a
// batch. Matching is case-insensitive, diacritic-insensitive, and requires
// word-boundary alignment so substrings of unrelated words never match.
type Matcher struct {
	re       *regexp.Regexp
	patterns map[string]patternInfo // folded surface form -> entity
}

type patternInfo struct {
	entityID  string
	alias     string
	canonical bool
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold normalizes text for matching: lowercase with diacritics stripped,
// so "Beñat" and "benat" compare equal.
func Fold(text string) string {
	folded, _, err := transform.String(foldTransformer, text)
	if err != nil {
		folded = text
	}
	return strings.ToLower(folded)
}

// NewMatcher compiles the registry into a single alternation anchored on
// word boundaries. Longer patterns sort first so a full name wins over a
// shorter alias starting at the same offset.
func NewMatcher(entities []database.Entity) *Matcher {
	patterns := make(map[string]patternInfo)

	for _, entity := range entities {
		canonical := Fold(strings.TrimSpace(entity.CanonicalName))
		if canonical != "" {
			patterns[canonical] = patternInfo{entityID: entity.ID, alias: entity.CanonicalName, canonical: true}
		}

		for _, alias := range entity.Aliases {
			folded := Fold(strings.TrimSpace(alias))
			if folded == "" {
				continue
			}
			// The canonical form of one entity beats an alias collision.
			if existing, ok := patterns[folded]; ok && existing.canonical {
				continue
			}
			patterns[folded] = patternInfo{entityID: entity.ID, alias: alias, canonical: false}
		}
	}

	if len(patterns) == 0 {
		return &Matcher{patterns: patterns}
	}

	keys := make([]string, 0, len(patterns))
	for k := range patterns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})

	quoted := make([]string, len(keys))
	for i, k := range keys {
		quoted[i] = regexp.QuoteMeta(k)
	}

	re := regexp.MustCompile(`\b(?:` + strings.Join(quoted, "|") + `)\b`)

	return &Matcher{re: re, patterns: patterns}
}

// PatternCount returns the number of distinct surface forms compiled in.
func (m *Matcher) PatternCount() int {
	return len(m.patterns)
}

// FindMatches returns all non-overlapping entity occurrences in the text,
// left to right. Positions refer to the folded form of the text, which is
// also what context snippets are taken from.
func (m *Matcher) FindMatches(text string) []Match {
	if m.re == nil || text == "" {
		return nil
	}

	folded := Fold(text)

	var matches []Match
	for _, loc := range m.re.FindAllStringIndex(folded, -1) {
		info, ok := m.patterns[folded[loc[0]:loc[1]]]
		if !ok {
			continue
		}
		matches = append(matches, Match{
			EntityID:  info.entityID,
			Alias:     info.alias,
			Canonical: info.canonical,
			Position:  loc[0],
		})
	}

	return matches
}
