package detect

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/errs"
)

type fakeEntityRepo struct {
	entities []database.Entity
}

func (r *fakeEntityRepo) GetAllEntities() ([]database.Entity, error) {
	return r.entities, nil
}

func (r *fakeEntityRepo) GetEntity(id string) (*database.Entity, error) {
	for _, entity := range r.entities {
		if entity.ID == id {
			copied := entity
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeEntityRepo) UpsertEntity(canonicalName, sport, team string, aliases []string) (string, error) {
	return "", errors.New("not implemented")
}

func (r *fakeEntityRepo) GetEntityCount() (int, error) {
	return len(r.entities), nil
}

type fakeContentRepo struct {
	items     map[string]*database.ContentItem
	processed []string
}

func newFakeContentRepo() *fakeContentRepo {
	return &fakeContentRepo{items: make(map[string]*database.ContentItem)}
}

func (r *fakeContentRepo) UpsertContent(item database.NewContentItem, forceUpdate bool) (string, bool, error) {
	return "", false, errors.New("not implemented")
}

func (r *fakeContentRepo) GetContent(id string) (*database.ContentItem, error) {
	item, ok := r.items[id]
	if !ok {
		return nil, nil
	}
	copied := *item
	return &copied, nil
}

func (r *fakeContentRepo) CheckDuplicate(contentType, externalID, contentHash string) (bool, error) {
	return false, nil
}

func (r *fakeContentRepo) GetItemsForDetection(cursorCreatedAt time.Time, cursorID string, limit int) ([]database.ContentItem, error) {
	return nil, nil
}

func (r *fakeContentRepo) MarkProcessed(id string, at time.Time) error {
	r.processed = append(r.processed, id)
	return nil
}

func (r *fakeContentRepo) ClearProcessed(contentType string) (int, error) {
	return 0, nil
}

func (r *fakeContentRepo) GetItemsForExtraction(limit int) ([]database.ItemForExtraction, error) {
	return nil, nil
}

func (r *fakeContentRepo) UpdateExtractedBody(id, body, status string, extractedAt *time.Time) error {
	return nil
}

func (r *fakeContentRepo) GetContentCount() (int, error) {
	return len(r.items), nil
}

func (r *fakeContentRepo) GetUnprocessedCount() (int, error) {
	return 0, nil
}

type fakeMentionRepo struct {
	mentions []database.Mention
}

func (r *fakeMentionRepo) UpsertMention(m database.Mention) (bool, error) {
	for i, existing := range r.mentions {
		if existing.ContentID == m.ContentID && existing.EntityID == m.EntityID && existing.MatchType == m.MatchType {
			if m.Confidence > existing.Confidence {
				r.mentions[i] = m
				return false, nil
			}
			return false, nil
		}
	}
	r.mentions = append(r.mentions, m)
	return true, nil
}

func (r *fakeMentionRepo) GetMentionsByEntity(entityID string, limit int) ([]database.EntityMention, error) {
	var out []database.EntityMention
	for _, m := range r.mentions {
		if m.EntityID == entityID {
			out = append(out, database.EntityMention{Mention: m})
		}
	}
	return out, nil
}

func (r *fakeMentionRepo) GetMentionsByContent(contentID string) ([]database.Mention, error) {
	var out []database.Mention
	for _, m := range r.mentions {
		if m.ContentID == contentID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMentionRepo) GetMentionCount() (int, error) {
	return len(r.mentions), nil
}

func newTestDetector(entities []database.Entity) (*Detector, *fakeContentRepo, *fakeMentionRepo) {
	contentRepo := newFakeContentRepo()
	mentionRepo := &fakeMentionRepo{}
	detector := NewDetector(&fakeEntityRepo{entities: entities}, contentRepo, mentionRepo)
	return detector, contentRepo, mentionRepo
}

func TestDetect_TitleMatchFullConfidence(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, err := detector.BuildMatcher()
	if err != nil {
		t.Fatalf("BuildMatcher failed: %v", err)
	}

	detections := detector.Detect("Jane Doe breaks the record", "", matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}

	d := detections[0]
	if d.EntityID != "e1" {
		t.Errorf("Expected entity e1, got %s", d.EntityID)
	}
	if d.Confidence != 1.0 {
		t.Errorf("Title match should score 1.0, got %f", d.Confidence)
	}
	if d.MatchType != database.MatchTypeTitle {
		t.Errorf("Expected title match type, got %s", d.MatchType)
	}
}

func TestDetect_BodyCanonicalConfidence(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	detections := detector.Detect("", "Great performance by Jane Doe tonight.", matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}

	d := detections[0]
	if d.Confidence != 0.6 {
		t.Errorf("Single canonical body match should score 0.6, got %f", d.Confidence)
	}
	if d.MatchType != database.MatchTypeContent {
		t.Errorf("Expected content match type, got %s", d.MatchType)
	}
}

func TestDetect_BodyAliasConfidence(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	detections := detector.Detect("", "Analysis from J. Doe after the game.", matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}
	if detections[0].Confidence != 0.5 {
		t.Errorf("Single alias body match should score 0.5, got %f", detections[0].Confidence)
	}
}

func TestDetect_RepeatedOccurrencesRaiseConfidence(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	body := "Ronaldo scored early. Ronaldo assisted later. Ronaldo won it."
	detections := detector.Detect("", body, matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 deduplicated detection, got %d", len(detections))
	}

	// 0.6 base + 0.1 for each of the two extra occurrences
	want := 0.6 + 0.1 + 0.1
	if diff := detections[0].Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("Expected confidence %f, got %f", want, detections[0].Confidence)
	}
}

func TestDetect_BodyConfidenceCapped(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	body := strings.Repeat("Ronaldo did it again. ", 10)
	detections := detector.Detect("", body, matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}
	if detections[0].Confidence != 0.95 {
		t.Errorf("Body confidence must cap at 0.95, got %f", detections[0].Confidence)
	}
}

func TestDetect_TitleAndBodyProduceSeparateDetections(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	detections := detector.Detect("Jane Doe interview", "Jane Doe talks about the final.", matcher)
	if len(detections) != 2 {
		t.Fatalf("Expected separate title and body detections, got %d", len(detections))
	}

	types := map[string]float64{}
	for _, d := range detections {
		types[d.MatchType] = d.Confidence
	}
	if types[database.MatchTypeTitle] != 1.0 {
		t.Errorf("Expected title detection at 1.0, got %f", types[database.MatchTypeTitle])
	}
	if types[database.MatchTypeContent] != 0.6 {
		t.Errorf("Expected body detection at 0.6, got %f", types[database.MatchTypeContent])
	}
}

func TestDetect_TitleDeduplicatesPerEntity(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	detections := detector.Detect("Ronaldo vs Ronaldo: the Ronaldo story", "", matcher)
	if len(detections) != 1 {
		t.Errorf("Expected one title detection per entity, got %d", len(detections))
	}
}

func TestDetect_ContextWindow(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	padding := strings.Repeat("x", 300)
	body := padding + " Ronaldo " + padding
	detections := detector.Detect("", body, matcher)
	if len(detections) != 1 {
		t.Fatalf("Expected 1 detection, got %d", len(detections))
	}

	context := detections[0].Context
	if !strings.Contains(context, "ronaldo") {
		t.Errorf("Context should contain the folded match, got %q", context)
	}
	if len(context) > 2*120+len("ronaldo") {
		t.Errorf("Context window too wide: %d bytes", len(context))
	}
}

func TestProcessContent_UpsertsMentionsAndMarksProcessed(t *testing.T) {
	detector, contentRepo, mentionRepo := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	contentRepo.items["c1"] = &database.ContentItem{
		ID:    "c1",
		Title: "Jane Doe shines",
		Body:  "Commentary praised J. Doe throughout.",
	}

	titleMatches, contentMatches, err := detector.ProcessContent("c1", matcher)
	if err != nil {
		t.Fatalf("ProcessContent failed: %v", err)
	}
	if titleMatches != 1 || contentMatches != 1 {
		t.Errorf("Expected 1 title and 1 content match, got %d and %d", titleMatches, contentMatches)
	}

	if len(mentionRepo.mentions) != 2 {
		t.Errorf("Expected 2 mention rows, got %d", len(mentionRepo.mentions))
	}
	if len(contentRepo.processed) != 1 || contentRepo.processed[0] != "c1" {
		t.Errorf("Expected content to be marked processed")
	}
}

func TestProcessContent_Idempotent(t *testing.T) {
	detector, contentRepo, mentionRepo := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	contentRepo.items["c1"] = &database.ContentItem{
		ID:    "c1",
		Title: "Jane Doe shines",
		Body:  "Jane Doe was everywhere.",
	}

	if _, _, err := detector.ProcessContent("c1", matcher); err != nil {
		t.Fatalf("First run failed: %v", err)
	}
	firstCount := len(mentionRepo.mentions)

	if _, _, err := detector.ProcessContent("c1", matcher); err != nil {
		t.Fatalf("Second run failed: %v", err)
	}

	if len(mentionRepo.mentions) != firstCount {
		t.Errorf("Re-running on unchanged content must not add rows: %d -> %d",
			firstCount, len(mentionRepo.mentions))
	}
}

func TestProcessContent_UnknownContent(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())
	matcher, _ := detector.BuildMatcher()

	_, _, err := detector.ProcessContent("missing", matcher)
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestRecentMentions_UnknownEntity(t *testing.T) {
	detector, _, _ := newTestDetector(testEntities())

	_, err := detector.RecentMentions("nope", 10)
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestRecentMentions_ReturnsEntityMentions(t *testing.T) {
	detector, _, mentionRepo := newTestDetector(testEntities())
	mentionRepo.mentions = []database.Mention{
		{ContentID: "c1", EntityID: "e1", MatchType: database.MatchTypeTitle, Confidence: 1.0},
		{ContentID: "c2", EntityID: "e2", MatchType: database.MatchTypeContent, Confidence: 0.6},
	}

	mentions, err := detector.RecentMentions("e1", 10)
	if err != nil {
		t.Fatalf("RecentMentions failed: %v", err)
	}
	if len(mentions) != 1 || mentions[0].EntityID != "e1" {
		t.Errorf("Expected only e1 mentions, got %+v", mentions)
	}
}
