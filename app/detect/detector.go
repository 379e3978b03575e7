package detect

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/errs"
)

// Detector scores and deduplicates entity mentions for content items.
type Detector struct {
	entityRepo  database.EntityRepository
	contentRepo database.ContentRepository
	mentionRepo database.MentionRepository
}

func NewDetector(entityRepo database.EntityRepository, contentRepo database.ContentRepository,
	mentionRepo database.MentionRepository) *Detector {
	return &Detector{
		entityRepo:  entityRepo,
		contentRepo: contentRepo,
		mentionRepo: mentionRepo,
	}
}

// BuildMatcher compiles the current entity registry into a matcher. Callers
// running a batch build it once and pass it to every ProcessContent call.
func (d *Detector) BuildMatcher() (*Matcher, error) {
	entities, err := d.entityRepo.GetAllEntities()
	if err != nil {
		return nil, fmt.Errorf("failed to load entity registry: %w", err)
	}
	return NewMatcher(entities), nil
}

// Detect runs the matcher over title and body separately and returns one
// scored detection per (entity, match type). A title hit scores 1.0; body
// hits start from the canonical or alias base score and gain a fixed
// increment per additional occurrence, capped below certainty.
func (d *Detector) Detect(title, body string, matcher *Matcher) []Detection {
	var detections []Detection

	foldedTitle := Fold(title)
	titleSeen := make(map[string]bool)
	for _, match := range matcher.FindMatches(title) {
		if titleSeen[match.EntityID] {
			continue
		}
		titleSeen[match.EntityID] = true
		detections = append(detections, Detection{
			EntityID:   match.EntityID,
			Confidence: TitleConfidence,
			Context:    contextWindow(foldedTitle, match.Position),
			MatchType:  database.MatchTypeTitle,
		})
	}

	foldedBody := Fold(body)
	type bodyHit struct {
		count     int
		canonical bool
		firstPos  int
	}
	bodyHits := make(map[string]*bodyHit)
	var order []string

	for _, match := range matcher.FindMatches(body) {
		hit, ok := bodyHits[match.EntityID]
		if !ok {
			hit = &bodyHit{firstPos: match.Position}
			bodyHits[match.EntityID] = hit
			order = append(order, match.EntityID)
		}
		hit.count++
		if match.Canonical {
			hit.canonical = true
		}
	}

	for _, entityID := range order {
		hit := bodyHits[entityID]

		confidence := BodyAliasConfidence
		if hit.canonical {
			confidence = BodyCanonicalConfidence
		}
		confidence += OccurrenceIncrement * float64(hit.count-1)
		if confidence > BodyConfidenceCap {
			confidence = BodyConfidenceCap
		}

		detections = append(detections, Detection{
			EntityID:   entityID,
			Confidence: confidence,
			Context:    contextWindow(foldedBody, hit.firstPos),
			MatchType:  database.MatchTypeContent,
		})
	}

	return detections
}

// ProcessContent fetches one content item, runs detection, and upserts
// mention rows. Existing rows only change when the confidence strictly
// improves, so repeated invocation on unchanged content is a no-op beyond
// the counts. Returns the number of title and body matches found.
func (d *Detector) ProcessContent(contentID string, matcher *Matcher) (int, int, error) {
	content, err := d.contentRepo.GetContent(contentID)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load content item: %w", err)
	}
	if content == nil {
		return 0, 0, errs.NotFound("content item %s not found", contentID)
	}

	detections := d.Detect(content.Title, content.Body, matcher)

	titleMatches := 0
	contentMatches := 0

	for _, detection := range detections {
		_, err := d.mentionRepo.UpsertMention(database.Mention{
			ContentID:  contentID,
			EntityID:   detection.EntityID,
			MatchType:  detection.MatchType,
			Confidence: detection.Confidence,
			Context:    detection.Context,
		})
		if err != nil {
			return titleMatches, contentMatches, fmt.Errorf("failed to upsert mention for entity %s: %w", detection.EntityID, err)
		}

		if detection.MatchType == database.MatchTypeTitle {
			titleMatches++
		} else {
			contentMatches++
		}
	}

	if err := d.contentRepo.MarkProcessed(contentID, time.Now().UTC()); err != nil {
		return titleMatches, contentMatches, fmt.Errorf("failed to mark content processed: %w", err)
	}

	slog.Debug("Content processed", "content_id", contentID,
		"title_matches", titleMatches, "content_matches", contentMatches)

	return titleMatches, contentMatches, nil
}

// RecentMentions returns mentions of an entity ordered by the referenced
// content item's publish date, newest first.
func (d *Detector) RecentMentions(entityID string, limit int) ([]database.EntityMention, error) {
	entity, err := d.entityRepo.GetEntity(entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entity: %w", err)
	}
	if entity == nil {
		return nil, errs.NotFound("entity %s not found", entityID)
	}

	mentions, err := d.mentionRepo.GetMentionsByEntity(entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load mentions: %w", err)
	}

	return mentions, nil
}

// contextWindow extracts a fixed-width snippet centered on the match offset.
func contextWindow(text string, pos int) string {
	start := pos - contextRadius
	if start < 0 {
		start = 0
	}
	end := pos + contextRadius
	if end > len(text) {
		end = len(text)
	}

	return strings.TrimSpace(text[start:end])
}
