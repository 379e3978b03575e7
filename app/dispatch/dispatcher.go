// Package dispatch turns validated WebSub notification payloads into
// ingested content items and queues them for mention detection.
package dispatch

import (
	"bytes"
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/mmcdole/gofeed"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/errs"
)

// DetectionEnqueuer queues a content item for asynchronous mention
// detection.
type DetectionEnqueuer interface {
	EnqueueDetection(contentID string) error
}

// Dispatcher parses raw feed payloads and upserts the changed episodes.
// Parsing failures never touch subscription state; the notification was
// already acknowledged by the time Dispatch runs.
type Dispatcher struct {
	parser      *gofeed.Parser
	contentRepo database.ContentRepository
	enqueuer    DetectionEnqueuer
}

func NewDispatcher(contentRepo database.ContentRepository, enqueuer DetectionEnqueuer) *Dispatcher {
	return &Dispatcher{
		parser:      gofeed.NewParser(),
		contentRepo: contentRepo,
		enqueuer:    enqueuer,
	}
}

// Dispatch parses the payload, deduplicates items against their previously
// seen content hash, and ingests the changed ones. Returns the number of
// items ingested and skipped.
func (d *Dispatcher) Dispatch(topicURL string, rawBody []byte) (int, int, error) {
	parsed, err := d.parser.Parse(bytes.NewReader(rawBody))
	if err != nil {
		return 0, 0, errs.Processing(fmt.Sprintf("failed to parse notification payload for topic %s", topicURL), err)
	}

	ingested := 0
	skipped := 0

	for _, item := range parsed.Items {
		guid := cmp.Or(item.GUID, item.Link)
		if guid == "" {
			skipped++
			continue
		}

		body := cmp.Or(item.Content, item.Description)
		hash := contentHash(item.Title, item.Link, body)

		duplicate, err := d.contentRepo.CheckDuplicate(database.ContentTypePodcast, guid, hash)
		if err != nil {
			return ingested, skipped, fmt.Errorf("failed to check duplicate for %s: %w", guid, err)
		}
		if duplicate {
			skipped++
			continue
		}

		newItem := database.NewContentItem{
			ContentType: database.ContentTypePodcast,
			ExternalID:  guid,
			Title:       item.Title,
			Body:        body,
			Link:        item.Link,
			ContentHash: hash,
			PublishedAt: item.PublishedParsed,
			UpdatedAt:   item.UpdatedParsed,
		}

		contentID, created, err := d.contentRepo.UpsertContent(newItem, false)
		if err != nil {
			return ingested, skipped, fmt.Errorf("failed to upsert content for %s: %w", guid, err)
		}

		if err := d.enqueuer.EnqueueDetection(contentID); err != nil {
			slog.Warn("Failed to enqueue detection", "content_id", contentID, "error", err)
		}

		ingested++
		slog.Debug("Content item ingested", "topic", topicURL, "guid", guid, "created", created)
	}

	slog.Info("Notification dispatched", "topic", topicURL,
		"items", len(parsed.Items), "ingested", ingested, "skipped", skipped)

	return ingested, skipped, nil
}

func contentHash(title, link, body string) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", title, link, body)))
	return hex.EncodeToString(hash[:])
}
