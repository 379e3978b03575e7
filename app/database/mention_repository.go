package database

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ MentionRepository = (*MentionRepositoryImpl)(nil)

// MentionRepositoryImpl handles database operations for detected mentions
type MentionRepositoryImpl struct {
	db *DB
}

func NewMentionRepository(db *DB) *MentionRepositoryImpl {
	return &MentionRepositoryImpl{db: db}
}

// UpsertMention inserts a mention keyed by (content_id, entity_id,
// match_type). The conditional DO UPDATE keeps re-detection idempotent: an
// existing row only changes when the new confidence strictly improves.
func (r *MentionRepositoryImpl) UpsertMention(m Mention) (bool, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		INSERT INTO mentions (id, content_id, entity_id, match_type, confidence, context, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (content_id, entity_id, match_type) DO UPDATE SET
			confidence = excluded.confidence,
			context = excluded.context,
			updated_at = excluded.updated_at
		WHERE excluded.confidence > mentions.confidence
	`, uuid.NewString(), m.ContentID, m.EntityID, m.MatchType, m.Confidence, m.Context, now, now)

	if err != nil {
		return false, fmt.Errorf("failed to upsert mention: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// GetMentionsByEntity returns mentions of an entity joined with their
// content items, newest published content first.
func (r *MentionRepositoryImpl) GetMentionsByEntity(entityID string, limit int) ([]EntityMention, error) {
	rows, err := r.db.Query(`
		SELECT m.id, m.content_id, m.entity_id, m.match_type, m.confidence, m.context,
		       m.created_at, m.updated_at,
		       c.title, c.content_type, c.published_at
		FROM mentions m
		JOIN content_items c ON c.id = m.content_id
		WHERE m.entity_id = ?
		ORDER BY c.published_at DESC, m.created_at DESC
		LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get mentions by entity: %w", err)
	}
	defer rows.Close()

	var mentions []EntityMention
	for rows.Next() {
		var m EntityMention
		err := rows.Scan(
			&m.ID, &m.ContentID, &m.EntityID, &m.MatchType, &m.Confidence, &m.Context,
			&m.CreatedAt, &m.UpdatedAt,
			&m.ContentTitle, &m.ContentType, &m.ContentPublishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mention row: %w", err)
		}
		mentions = append(mentions, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mention rows: %w", err)
	}

	return mentions, nil
}

func (r *MentionRepositoryImpl) GetMentionsByContent(contentID string) ([]Mention, error) {
	rows, err := r.db.Query(`
		SELECT id, content_id, entity_id, match_type, confidence, context, created_at, updated_at
		FROM mentions
		WHERE content_id = ?
		ORDER BY confidence DESC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get mentions by content: %w", err)
	}
	defer rows.Close()

	var mentions []Mention
	for rows.Next() {
		var m Mention
		err := rows.Scan(&m.ID, &m.ContentID, &m.EntityID, &m.MatchType, &m.Confidence,
			&m.Context, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mention row: %w", err)
		}
		mentions = append(mentions, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating mention rows: %w", err)
	}

	return mentions, nil
}

func (r *MentionRepositoryImpl) GetMentionCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM mentions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get mention count: %w", err)
	}
	return count, nil
}
