package database

import (
	"time"
)

// NewContentItem carries the fields supplied by ingestion collaborators
// when upserting a content item.
type NewContentItem struct {
	ContentType string
	ExternalID  string
	Title       string
	Body        string
	Link        string
	ContentHash string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// ItemForExtraction identifies a content item whose page body still needs
// to be fetched and extracted.
type ItemForExtraction struct {
	ID   string
	Link string
}

type SubscriptionRepository interface {
	UpsertPending(topicURL, hubURL, secret, verifyToken string, deadline time.Time) (string, error)
	GetByTopic(topicURL string) (*Subscription, error)
	GetByTopicAndToken(topicURL, verifyToken string) (*Subscription, error)

	// ConfirmVerification transitions a pending or renewing subscription to
	// verified, recording the granted lease. Returns false when the row is
	// no longer in a confirmable state.
	ConfirmVerification(id string, leaseSeconds int, expiresAt time.Time) (bool, error)

	// BeginRenewal atomically moves a verified subscription to renewing and
	// installs a fresh secret and verify token. Returns false when another
	// sweep already owns the row.
	BeginRenewal(id, secret, verifyToken string, deadline time.Time) (bool, error)

	MarkFailed(id string) error
	Delete(id string) error

	GetAllSubscriptions() ([]Subscription, error)
	GetExpiringWithin(window time.Duration) ([]Subscription, error)
	ExpireOverdue() (int, error)
	GetSubscriptionCount() (int, error)
	GetCountByState(state string) (int, error)
}

type EntityRepository interface {
	GetAllEntities() ([]Entity, error)
	GetEntity(id string) (*Entity, error)
	UpsertEntity(canonicalName, sport, team string, aliases []string) (string, error)
	GetEntityCount() (int, error)
}

type ContentRepository interface {
	UpsertContent(item NewContentItem, forceUpdate bool) (string, bool, error)
	GetContent(id string) (*ContentItem, error)
	CheckDuplicate(contentType, externalID, contentHash string) (bool, error)

	// GetItemsForDetection pages through unprocessed items in stable
	// (created_at, id) order. The cursor is the last item of the previous
	// page; pass zero values to start from the beginning.
	GetItemsForDetection(cursorCreatedAt time.Time, cursorID string, limit int) ([]ContentItem, error)
	MarkProcessed(id string, at time.Time) error
	ClearProcessed(contentType string) (int, error)

	GetItemsForExtraction(limit int) ([]ItemForExtraction, error)
	UpdateExtractedBody(id, body, status string, extractedAt *time.Time) error

	GetContentCount() (int, error)
	GetUnprocessedCount() (int, error)
}

type MentionRepository interface {
	// UpsertMention inserts a mention or raises the confidence of an
	// existing (content, entity, match type) row. An existing row is left
	// untouched unless the new confidence strictly improves on it.
	UpsertMention(m Mention) (bool, error)

	GetMentionsByEntity(entityID string, limit int) ([]EntityMention, error)
	GetMentionsByContent(contentID string) ([]Mention, error)
	GetMentionCount() (int, error)
}
