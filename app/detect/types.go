package detect

// Match is a single entity occurrence located by the matcher.
type Match struct {
	EntityID  string
	Alias     string // surface form that matched, as registered
	Canonical bool   // true when the canonical name matched rather than an alias
	Position  int    // byte offset into the folded text
}

// Detection is a scored mention candidate for one content item.
type Detection struct {
	EntityID   string
	Confidence float64
	Context    string
	MatchType  string
}

// Confidence policy. A title hit is a certain mention; body hits score by
// whether the canonical name or only an alias appeared, and repeated
// independent occurrences raise the score up to the cap.
const (
	TitleConfidence         = 1.0
	BodyCanonicalConfidence = 0.6
	BodyAliasConfidence     = 0.5
	OccurrenceIncrement     = 0.1
	BodyConfidenceCap       = 0.95
)

// contextRadius is the half-width in bytes of the audit snippet captured
// around a match.
const contextRadius = 120
