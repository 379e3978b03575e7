package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ ContentRepository = (*ContentRepositoryImpl)(nil)

// ContentRepositoryImpl handles database operations for ingested content items
type ContentRepositoryImpl struct {
	db *DB
}

func NewContentRepository(db *DB) *ContentRepositoryImpl {
	return &ContentRepositoryImpl{db: db}
}

// UpsertContent inserts a content item or updates an existing one keyed by
// (content_type, external_id). Without forceUpdate an existing row is only
// refreshed when the content hash changed; a refresh clears processed_at so
// the item is picked up again for detection. Returns the row id and whether
// the row was created or updated.
func (r *ContentRepositoryImpl) UpsertContent(item NewContentItem, forceUpdate bool) (string, bool, error) {
	existing, err := r.getByExternalID(item.ContentType, item.ExternalID)
	if err != nil {
		return "", false, err
	}

	now := time.Now().UTC()

	if existing == nil {
		id := uuid.NewString()
		_, err := r.db.Exec(`
			INSERT INTO content_items (id, content_type, external_id, title, body, link, content_hash,
			                           published_at, updated_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, item.ContentType, item.ExternalID, item.Title, item.Body, item.Link, item.ContentHash,
			item.PublishedAt, item.UpdatedAt, now)
		if err != nil {
			return "", false, fmt.Errorf("failed to insert content item: %w", err)
		}
		return id, true, nil
	}

	if !forceUpdate && existing.ContentHash == item.ContentHash {
		return existing.ID, false, nil
	}

	_, err = r.db.Exec(`
		UPDATE content_items
		SET title = ?, body = ?, link = ?, content_hash = ?, published_at = ?, updated_at = ?,
		    processed_at = NULL
		WHERE id = ?
	`, item.Title, item.Body, item.Link, item.ContentHash, item.PublishedAt, item.UpdatedAt, existing.ID)
	if err != nil {
		return "", false, fmt.Errorf("failed to update content item: %w", err)
	}

	return existing.ID, false, nil
}

func (r *ContentRepositoryImpl) GetContent(id string) (*ContentItem, error) {
	return r.getOne(`WHERE id = ?`, id)
}

func (r *ContentRepositoryImpl) getByExternalID(contentType, externalID string) (*ContentItem, error) {
	return r.getOne(`WHERE content_type = ? AND external_id = ?`, contentType, externalID)
}

func (r *ContentRepositoryImpl) getOne(where string, args ...interface{}) (*ContentItem, error) {
	var item ContentItem
	err := r.db.QueryRow(`
		SELECT id, content_type, external_id, title, body, link, content_hash,
		       published_at, updated_at, processed_at, body_extracted_at,
		       body_extraction_status, created_at
		FROM content_items
		`+where, args...).Scan(
		&item.ID, &item.ContentType, &item.ExternalID, &item.Title, &item.Body,
		&item.Link, &item.ContentHash, &item.PublishedAt, &item.UpdatedAt,
		&item.ProcessedAt, &item.BodyExtractedAt, &item.BodyExtractionStatus,
		&item.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item: %w", err)
	}

	return &item, nil
}

// CheckDuplicate reports whether the item identified by external id was
// already ingested with the same content hash, i.e. nothing changed since
// the last notification.
func (r *ContentRepositoryImpl) CheckDuplicate(contentType, externalID, contentHash string) (bool, error) {
	var one int
	err := r.db.QueryRow(`
		SELECT 1 FROM content_items
		WHERE content_type = ? AND external_id = ? AND content_hash = ?
		LIMIT 1
	`, contentType, externalID, contentHash).Scan(&one)

	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check duplicate: %w", err)
	}

	return true, nil
}

// GetItemsForDetection returns content items that were never processed or
// were refreshed since the last detection pass, oldest first. The
// processed_at column doubles as the crash-resume point, while the
// (created_at, id) cursor lets a single run walk past items that errored
// without revisiting them.
func (r *ContentRepositoryImpl) GetItemsForDetection(cursorCreatedAt time.Time, cursorID string, limit int) ([]ContentItem, error) {
	rows, err := r.db.Query(`
		SELECT id, content_type, external_id, title, body, link, content_hash,
		       published_at, updated_at, processed_at, body_extracted_at,
		       body_extraction_status, created_at
		FROM content_items
		WHERE processed_at IS NULL
		  AND (created_at > ? OR (created_at = ? AND id > ?))
		ORDER BY created_at, id
		LIMIT ?
	`, cursorCreatedAt, cursorCreatedAt, cursorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for detection: %w", err)
	}
	defer rows.Close()

	return scanContentItems(rows)
}

func (r *ContentRepositoryImpl) MarkProcessed(id string, at time.Time) error {
	_, err := r.db.Exec(`UPDATE content_items SET processed_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark content processed: %w", err)
	}
	return nil
}

// ClearProcessed resets the detection cursor for all items of a content
// type (or all items when contentType is empty), forcing a re-detection
// pass on the next batch run.
func (r *ContentRepositoryImpl) ClearProcessed(contentType string) (int, error) {
	var result sql.Result
	var err error

	if contentType == "" {
		result, err = r.db.Exec(`UPDATE content_items SET processed_at = NULL`)
	} else {
		result, err = r.db.Exec(`UPDATE content_items SET processed_at = NULL WHERE content_type = ?`, contentType)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear processed marks: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

// GetItemsForExtraction returns podcast items with a link whose page body
// has not been extracted yet.
func (r *ContentRepositoryImpl) GetItemsForExtraction(limit int) ([]ItemForExtraction, error) {
	rows, err := r.db.Query(`
		SELECT id, link
		FROM content_items
		WHERE link != '' AND body_extracted_at IS NULL AND body_extraction_status IN ('', 'pending')
		ORDER BY created_at
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get items for extraction: %w", err)
	}
	defer rows.Close()

	var items []ItemForExtraction
	for rows.Next() {
		var item ItemForExtraction
		if err := rows.Scan(&item.ID, &item.Link); err != nil {
			return nil, fmt.Errorf("failed to scan extraction row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating extraction rows: %w", err)
	}

	return items, nil
}

// UpdateExtractedBody stores the extracted page text. A non-empty body
// replaces the feed description and re-opens the item for detection.
func (r *ContentRepositoryImpl) UpdateExtractedBody(id, body, status string, extractedAt *time.Time) error {
	var err error
	if body != "" {
		_, err = r.db.Exec(`
			UPDATE content_items
			SET body = ?, body_extraction_status = ?, body_extracted_at = ?, processed_at = NULL
			WHERE id = ?
		`, body, status, extractedAt, id)
	} else {
		_, err = r.db.Exec(`
			UPDATE content_items
			SET body_extraction_status = ?, body_extracted_at = ?
			WHERE id = ?
		`, status, extractedAt, id)
	}

	if err != nil {
		return fmt.Errorf("failed to update extracted body: %w", err)
	}

	return nil
}

func (r *ContentRepositoryImpl) GetContentCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM content_items`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get content count: %w", err)
	}
	return count, nil
}

func (r *ContentRepositoryImpl) GetUnprocessedCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM content_items WHERE processed_at IS NULL`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unprocessed count: %w", err)
	}
	return count, nil
}

func scanContentItems(rows *sql.Rows) ([]ContentItem, error) {
	var items []ContentItem
	for rows.Next() {
		var item ContentItem
		err := rows.Scan(
			&item.ID, &item.ContentType, &item.ExternalID, &item.Title, &item.Body,
			&item.Link, &item.ContentHash, &item.PublishedAt, &item.UpdatedAt,
			&item.ProcessedAt, &item.BodyExtractedAt, &item.BodyExtractionStatus,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan content row: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating content rows: %w", err)
	}

	return items, nil
}
