package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var _ SubscriptionRepository = (*SubscriptionRepositoryImpl)(nil)

// SubscriptionRepositoryImpl handles database operations for WebSub subscriptions
type SubscriptionRepositoryImpl struct {
	db *DB
}

func NewSubscriptionRepository(db *DB) *SubscriptionRepositoryImpl {
	return &SubscriptionRepositoryImpl{db: db}
}

// UpsertPending creates a pending subscription for the topic, or resets an
// existing row to pending with fresh credentials. The topic URL is unique,
// so a re-subscribe replaces the previous handshake state.
func (r *SubscriptionRepositoryImpl) UpsertPending(topicURL, hubURL, secret, verifyToken string, deadline time.Time) (string, error) {
	now := time.Now().UTC()

	var id string
	err := r.db.QueryRow(`
		INSERT INTO subscriptions (id, topic_url, hub_url, secret, verify_token, state, verification_deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (topic_url) DO UPDATE SET
			hub_url = excluded.hub_url,
			secret = excluded.secret,
			verify_token = excluded.verify_token,
			state = excluded.state,
			verification_deadline = excluded.verification_deadline,
			updated_at = excluded.updated_at
		RETURNING id
	`, uuid.NewString(), topicURL, hubURL, secret, verifyToken, SubscriptionPending, deadline, now, now).Scan(&id)

	if err != nil {
		return "", fmt.Errorf("failed to upsert pending subscription: %w", err)
	}

	return id, nil
}

func (r *SubscriptionRepositoryImpl) GetByTopic(topicURL string) (*Subscription, error) {
	return r.getOne(`WHERE topic_url = ?`, topicURL)
}

func (r *SubscriptionRepositoryImpl) GetByTopicAndToken(topicURL, verifyToken string) (*Subscription, error) {
	return r.getOne(`WHERE topic_url = ? AND verify_token = ?`, topicURL, verifyToken)
}

func (r *SubscriptionRepositoryImpl) getOne(where string, args ...interface{}) (*Subscription, error) {
	var sub Subscription
	err := r.db.QueryRow(`
		SELECT id, topic_url, hub_url, secret, verify_token, lease_seconds, state,
		       expires_at, verification_deadline, last_verified_at, created_at, updated_at
		FROM subscriptions
		`+where, args...).Scan(
		&sub.ID, &sub.TopicURL, &sub.HubURL, &sub.Secret, &sub.VerifyToken,
		&sub.LeaseSeconds, &sub.State, &sub.ExpiresAt, &sub.VerificationDeadline,
		&sub.LastVerifiedAt, &sub.CreatedAt, &sub.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

// ConfirmVerification transitions a pending or renewing subscription to
// verified. The conditional WHERE keeps concurrent verification retries
// idempotent: only one transition takes effect, replays match zero rows once
// the state is already verified and are handled by the caller.
func (r *SubscriptionRepositoryImpl) ConfirmVerification(id string, leaseSeconds int, expiresAt time.Time) (bool, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE subscriptions
		SET state = ?, lease_seconds = ?, expires_at = ?, verification_deadline = NULL,
		    last_verified_at = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?)
	`, SubscriptionVerified, leaseSeconds, expiresAt, now, now, id, SubscriptionPending, SubscriptionRenewing)

	if err != nil {
		return false, fmt.Errorf("failed to confirm verification: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

// BeginRenewal atomically claims a verified subscription for renewal.
// The state condition is the single-writer lock: two sweeps racing on the
// same topic see exactly one row update succeed.
func (r *SubscriptionRepositoryImpl) BeginRenewal(id, secret, verifyToken string, deadline time.Time) (bool, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE subscriptions
		SET state = ?, secret = ?, verify_token = ?, verification_deadline = ?, updated_at = ?
		WHERE id = ? AND state = ?
	`, SubscriptionRenewing, secret, verifyToken, deadline, now, id, SubscriptionVerified)

	if err != nil {
		return false, fmt.Errorf("failed to begin renewal: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return affected > 0, nil
}

func (r *SubscriptionRepositoryImpl) MarkFailed(id string) error {
	_, err := r.db.Exec(`
		UPDATE subscriptions
		SET state = ?, updated_at = ?
		WHERE id = ?
	`, SubscriptionFailed, time.Now().UTC(), id)

	if err != nil {
		return fmt.Errorf("failed to mark subscription failed: %w", err)
	}

	return nil
}

func (r *SubscriptionRepositoryImpl) Delete(id string) error {
	_, err := r.db.Exec(`DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	return nil
}

func (r *SubscriptionRepositoryImpl) GetAllSubscriptions() ([]Subscription, error) {
	rows, err := r.db.Query(`
		SELECT id, topic_url, hub_url, secret, verify_token, lease_seconds, state,
		       expires_at, verification_deadline, last_verified_at, created_at, updated_at
		FROM subscriptions
		ORDER BY topic_url
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		err := rows.Scan(
			&sub.ID, &sub.TopicURL, &sub.HubURL, &sub.Secret, &sub.VerifyToken,
			&sub.LeaseSeconds, &sub.State, &sub.ExpiresAt, &sub.VerificationDeadline,
			&sub.LastVerifiedAt, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return subs, nil
}

// GetExpiringWithin returns verified subscriptions whose lease ends within
// the given window, oldest expiry first.
func (r *SubscriptionRepositoryImpl) GetExpiringWithin(window time.Duration) ([]Subscription, error) {
	cutoff := time.Now().UTC().Add(window)

	rows, err := r.db.Query(`
		SELECT id, topic_url, hub_url, secret, verify_token, lease_seconds, state,
		       expires_at, verification_deadline, last_verified_at, created_at, updated_at
		FROM subscriptions
		WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at
	`, SubscriptionVerified, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to get expiring subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		err := rows.Scan(
			&sub.ID, &sub.TopicURL, &sub.HubURL, &sub.Secret, &sub.VerifyToken,
			&sub.LeaseSeconds, &sub.State, &sub.ExpiresAt, &sub.VerificationDeadline,
			&sub.LastVerifiedAt, &sub.CreatedAt, &sub.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription row: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating subscription rows: %w", err)
	}

	return subs, nil
}

// ExpireOverdue marks verified subscriptions whose lease already ended as
// expired, so they stop accepting notifications until re-subscribed.
func (r *SubscriptionRepositoryImpl) ExpireOverdue() (int, error) {
	now := time.Now().UTC()

	result, err := r.db.Exec(`
		UPDATE subscriptions
		SET state = ?, updated_at = ?
		WHERE state = ? AND expires_at IS NOT NULL AND expires_at <= ?
	`, SubscriptionExpired, now, SubscriptionVerified, now)

	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue subscriptions: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return int(affected), nil
}

func (r *SubscriptionRepositoryImpl) GetSubscriptionCount() (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscription count: %w", err)
	}
	return count, nil
}

func (r *SubscriptionRepositoryImpl) GetCountByState(state string) (int, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM subscriptions WHERE state = ?`, state).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get subscription count by state: %w", err)
	}
	return count, nil
}
