// Package websub implements the subscriber side of the WebSub
// (PubSubHubbub) protocol: hub subscription, challenge-response
// verification, signed-notification validation, and lease renewal.
package websub

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/errs"
)

const (
	maxSubscribeAttempts = 3
	subscribeBackoffBase = time.Second
)

// NotificationSink receives validated notification payloads for
// asynchronous processing. Detection work must never run on the
// notification request path; the sink is expected to enqueue and return.
type NotificationSink interface {
	EnqueueNotification(topicURL string, body []byte) error
}

// Manager owns the subscribe/verify/notify/renew protocol state machine.
// All handshake state lives in the subscription store, keyed by
// (topic, verify token), so verification requests may be served by a
// different process instance than the one that issued the subscribe.
type Manager struct {
	subRepo       database.SubscriptionRepository
	sink          NotificationSink
	httpClient    *http.Client
	callbackURL   string
	leaseSeconds  int
	verifyTTL     time.Duration
	renewalWindow time.Duration
	algorithm     string
	userAgent     string
}

type Options struct {
	CallbackURL   string
	LeaseSeconds  int
	VerifyTTL     time.Duration
	RenewalWindow time.Duration
	Algorithm     string
	UserAgent     string
}

func NewManager(subRepo database.SubscriptionRepository, sink NotificationSink,
	httpClient *http.Client, opts Options) (*Manager, error) {
	if opts.CallbackURL == "" {
		return nil, errs.Fatal("callback URL is required for WebSub subscriptions", nil)
	}
	if opts.Algorithm != AlgorithmSHA1 && opts.Algorithm != AlgorithmSHA256 {
		return nil, errs.Fatal(fmt.Sprintf("unsupported signature algorithm: %s", opts.Algorithm), nil)
	}

	return &Manager{
		subRepo:       subRepo,
		sink:          sink,
		httpClient:    httpClient,
		callbackURL:   opts.CallbackURL,
		leaseSeconds:  opts.LeaseSeconds,
		verifyTTL:     opts.VerifyTTL,
		renewalWindow: opts.RenewalWindow,
		algorithm:     opts.Algorithm,
		userAgent:     opts.UserAgent,
	}, nil
}

// Subscribe registers a pending subscription and asks the hub to start the
// verification handshake. The secret and verify token are generated here
// and never leave the manager except inside the hub subscribe request.
func (m *Manager) Subscribe(ctx context.Context, topicURL, hubURL string) error {
	if topicURL == "" || hubURL == "" {
		return errs.Validation("topic URL and hub URL are required")
	}

	secret := generateToken(32)
	verifyToken := generateToken(16)
	deadline := time.Now().UTC().Add(m.verifyTTL)

	id, err := m.subRepo.UpsertPending(topicURL, hubURL, secret, verifyToken, deadline)
	if err != nil {
		return fmt.Errorf("failed to persist pending subscription: %w", err)
	}

	if err := m.sendHubRequest(ctx, hubURL, "subscribe", topicURL, verifyToken, secret); err != nil {
		if markErr := m.subRepo.MarkFailed(id); markErr != nil {
			slog.Error("Failed to mark subscription failed", "topic", topicURL, "error", markErr)
		}
		return err
	}

	slog.Info("Subscription requested", "topic", topicURL, "hub", hubURL)
	return nil
}

// Unsubscribe asks the hub to cancel the subscription. The row is removed
// when the hub confirms via the verification callback.
func (m *Manager) Unsubscribe(ctx context.Context, topicURL string) error {
	sub, err := m.subRepo.GetByTopic(topicURL)
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return errs.NotFound("no subscription for topic %s", topicURL)
	}

	if err := m.sendHubRequest(ctx, sub.HubURL, "unsubscribe", topicURL, sub.VerifyToken, ""); err != nil {
		return err
	}

	slog.Info("Unsubscribe requested", "topic", topicURL)
	return nil
}

// VerificationQuery carries the hub.* query parameters of a verification GET.
type VerificationQuery struct {
	Mode         string
	Topic        string
	Challenge    string
	VerifyToken  string
	LeaseSeconds string
}

// HandleVerification processes the hub's challenge-response callback.
// On success it returns the challenge string, which the HTTP handler must
// echo back byte-exact with status 200. Any mismatch returns a NotFound
// error with no state change; the handler maps that to 404.
//
// The handler is idempotent: replaying a valid subscribe verification
// against an already-verified row returns the challenge again without
// altering state.
func (m *Manager) HandleVerification(q VerificationQuery) (string, error) {
	if q.Mode != "subscribe" && q.Mode != "unsubscribe" {
		return "", errs.NotFound("unsupported hub.mode: %s", q.Mode)
	}
	if q.Topic == "" || q.Challenge == "" {
		return "", errs.NotFound("missing hub.topic or hub.challenge")
	}

	sub, err := m.subRepo.GetByTopicAndToken(q.Topic, q.VerifyToken)
	if err != nil {
		return "", fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return "", errs.NotFound("no matching subscription for topic %s", q.Topic)
	}

	if q.Mode == "unsubscribe" {
		if err := m.subRepo.Delete(sub.ID); err != nil {
			return "", fmt.Errorf("failed to delete subscription: %w", err)
		}
		slog.Info("Unsubscribe verified", "topic", q.Topic)
		return q.Challenge, nil
	}

	switch sub.State {
	case database.SubscriptionPending, database.SubscriptionRenewing:
		if sub.VerificationDeadline != nil && sub.VerificationDeadline.Before(time.Now().UTC()) {
			return "", errs.NotFound("verification window expired for topic %s", q.Topic)
		}

		leaseSeconds := m.leaseSeconds
		if q.LeaseSeconds != "" {
			if parsed, err := strconv.Atoi(q.LeaseSeconds); err == nil && parsed > 0 {
				leaseSeconds = parsed
			}
		}
		expiresAt := time.Now().UTC().Add(time.Duration(leaseSeconds) * time.Second)

		ok, err := m.subRepo.ConfirmVerification(sub.ID, leaseSeconds, expiresAt)
		if err != nil {
			return "", fmt.Errorf("failed to confirm verification: %w", err)
		}
		if !ok {
			// Lost the race against a concurrent verification of the same
			// row; the subscription is verified either way.
			slog.Debug("Verification already confirmed concurrently", "topic", q.Topic)
		}

		slog.Info("Subscription verified", "topic", q.Topic, "lease_seconds", leaseSeconds)
		return q.Challenge, nil

	case database.SubscriptionVerified:
		// Replay of a verification we already accepted.
		return q.Challenge, nil

	default:
		return "", errs.NotFound("subscription for topic %s is %s", q.Topic, sub.State)
	}
}

// HandleNotification validates a pushed notification. On success the raw
// body is handed to the sink for asynchronous processing and the caller
// responds 200 immediately, keeping within the hub's response-time
// expectations.
func (m *Manager) HandleNotification(topicURL, signatureHeader string, body []byte) error {
	if topicURL == "" {
		return errs.Validation("missing topic header")
	}

	sub, err := m.subRepo.GetByTopic(topicURL)
	if err != nil {
		return fmt.Errorf("failed to look up subscription: %w", err)
	}
	if sub == nil {
		return errs.NotFound("no subscription for topic %s", topicURL)
	}
	if sub.State != database.SubscriptionVerified && sub.State != database.SubscriptionRenewing {
		return errs.NotFound("subscription for topic %s is %s", topicURL, sub.State)
	}

	if err := ValidateSignature(signatureHeader, m.algorithm, sub.Secret, body); err != nil {
		return errs.Authentication("notification signature rejected: %v", err)
	}

	if err := m.sink.EnqueueNotification(topicURL, body); err != nil {
		return errs.Processing("failed to enqueue notification", err)
	}

	return nil
}

// RenewDueSubscriptions sweeps subscriptions whose lease ends within the
// renewal window and re-issues the subscribe handshake with a fresh verify
// token. The conditional verified->renewing transition in the store
// serializes sweeps per topic; overdue leases are marked expired first.
func (m *Manager) RenewDueSubscriptions(ctx context.Context) (int, int, error) {
	if expired, err := m.subRepo.ExpireOverdue(); err != nil {
		return 0, 0, fmt.Errorf("failed to expire overdue subscriptions: %w", err)
	} else if expired > 0 {
		slog.Warn("Subscriptions expired without renewal", "count", expired)
	}

	due, err := m.subRepo.GetExpiringWithin(m.renewalWindow)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to select subscriptions for renewal: %w", err)
	}

	renewed := 0
	failed := 0

	for _, sub := range due {
		select {
		case <-ctx.Done():
			return renewed, failed, ctx.Err()
		default:
		}

		// The secret stays stable across renewal: the hub keeps signing with
		// it until the new lease is confirmed, so rotating here would break
		// validation of in-flight notifications.
		verifyToken := generateToken(16)
		deadline := time.Now().UTC().Add(m.verifyTTL)

		ok, err := m.subRepo.BeginRenewal(sub.ID, sub.Secret, verifyToken, deadline)
		if err != nil {
			slog.Error("Failed to claim subscription for renewal", "topic", sub.TopicURL, "error", err)
			failed++
			continue
		}
		if !ok {
			slog.Debug("Subscription already claimed by another sweep", "topic", sub.TopicURL)
			continue
		}

		if err := m.sendHubRequest(ctx, sub.HubURL, "subscribe", sub.TopicURL, verifyToken, sub.Secret); err != nil {
			slog.Error("Subscription renewal failed", "topic", sub.TopicURL, "error", err)
			if markErr := m.subRepo.MarkFailed(sub.ID); markErr != nil {
				slog.Error("Failed to mark subscription failed", "topic", sub.TopicURL, "error", markErr)
			}
			failed++
			continue
		}

		slog.Info("Subscription renewal requested", "topic", sub.TopicURL)
		renewed++
	}

	return renewed, failed, nil
}

// sendHubRequest posts a subscribe or unsubscribe form to the hub, retrying
// transient failures with bounded exponential backoff.
func (m *Manager) sendHubRequest(ctx context.Context, hubURL, mode, topicURL, verifyToken, secret string) error {
	form := url.Values{}
	form.Set("hub.mode", mode)
	form.Set("hub.topic", topicURL)
	form.Set("hub.callback", m.callbackURL)
	form.Set("hub.verify_token", verifyToken)
	if secret != "" {
		form.Set("hub.secret", secret)
	}
	if mode == "subscribe" {
		form.Set("hub.lease_seconds", strconv.Itoa(m.leaseSeconds))
	}

	var lastErr error
	for attempt := 1; attempt <= maxSubscribeAttempts; attempt++ {
		if attempt > 1 {
			backoff := subscribeBackoffBase << uint(attempt-2)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = m.postForm(ctx, hubURL, form)
		if lastErr == nil {
			return nil
		}

		slog.Warn("Hub request failed", "hub", hubURL, "mode", mode, "topic", topicURL,
			"attempt", attempt, "error", lastErr)
	}

	return errs.Transient(fmt.Sprintf("hub %s request failed after %d attempts", mode, maxSubscribeAttempts), lastErr)
}

func (m *Manager) postForm(ctx context.Context, hubURL string, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hubURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create hub request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", m.userAgent)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hub request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("hub returned status %d", resp.StatusCode)
	}

	return nil
}
