package database

import (
	"time"
)

// Subscription states. A subscription is created pending, becomes verified
// once the hub confirms the callback, moves through renewing during a lease
// renewal, and ends up expired or failed when the hub stops cooperating.
const (
	SubscriptionPending  = "pending"
	SubscriptionVerified = "verified"
	SubscriptionRenewing = "renewing"
	SubscriptionExpired  = "expired"
	SubscriptionFailed   = "failed"
)

// Content types stored in content_items.
const (
	ContentTypePodcast = "podcast"
	ContentTypeVideo   = "video"
)

// Mention match types.
const (
	MatchTypeTitle   = "title"
	MatchTypeContent = "content"
)

type Subscription struct {
	ID                   string
	TopicURL             string
	HubURL               string
	Secret               string // HMAC key, never exposed outside the WebSub manager
	VerifyToken          string
	LeaseSeconds         int
	State                string
	ExpiresAt            *time.Time
	VerificationDeadline *time.Time
	LastVerifiedAt       *time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

type Entity struct {
	ID            string
	CanonicalName string
	Sport         string
	Team          string
	Aliases       []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type ContentItem struct {
	ID                   string
	ContentType          string
	ExternalID           string
	Title                string
	Body                 string
	Link                 string
	ContentHash          string
	PublishedAt          *time.Time
	UpdatedAt            *time.Time
	ProcessedAt          *time.Time
	BodyExtractedAt      *time.Time
	BodyExtractionStatus string // pending, success, failed, skipped
	CreatedAt            time.Time
}

type Mention struct {
	ID         string
	ContentID  string
	EntityID   string
	MatchType  string
	Confidence float64
	Context    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntityMention is a mention joined with its content item, returned by
// entity-centric queries.
type EntityMention struct {
	Mention
	ContentTitle       string
	ContentType        string
	ContentPublishedAt *time.Time
}
