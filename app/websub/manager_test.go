package websub

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/errs"
)

// fakeSubRepo is an in-memory SubscriptionRepository mirroring the state
// transition rules of the real one.
type fakeSubRepo struct {
	mu     sync.Mutex
	subs   map[string]*database.Subscription
	nextID int

	markedFailed []string
	deleted      []string
}

func newFakeSubRepo() *fakeSubRepo {
	return &fakeSubRepo{subs: make(map[string]*database.Subscription)}
}

func (r *fakeSubRepo) add(sub database.Subscription) *database.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	sub.ID = fmt.Sprintf("sub-%d", r.nextID)
	r.subs[sub.ID] = &sub
	return r.subs[sub.ID]
}

func (r *fakeSubRepo) UpsertPending(topicURL, hubURL, secret, verifyToken string, deadline time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, sub := range r.subs {
		if sub.TopicURL == topicURL {
			sub.HubURL = hubURL
			sub.Secret = secret
			sub.VerifyToken = verifyToken
			sub.State = database.SubscriptionPending
			sub.VerificationDeadline = &deadline
			return sub.ID, nil
		}
	}

	r.nextID++
	id := fmt.Sprintf("sub-%d", r.nextID)
	r.subs[id] = &database.Subscription{
		ID: id, TopicURL: topicURL, HubURL: hubURL, Secret: secret,
		VerifyToken: verifyToken, State: database.SubscriptionPending,
		VerificationDeadline: &deadline,
	}
	return id, nil
}

func (r *fakeSubRepo) GetByTopic(topicURL string) (*database.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TopicURL == topicURL {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) GetByTopicAndToken(topicURL, verifyToken string) (*database.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sub := range r.subs {
		if sub.TopicURL == topicURL && sub.VerifyToken == verifyToken {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, nil
}

func (r *fakeSubRepo) ConfirmVerification(id string, leaseSeconds int, expiresAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return false, nil
	}
	if sub.State != database.SubscriptionPending && sub.State != database.SubscriptionRenewing {
		return false, nil
	}
	now := time.Now().UTC()
	sub.State = database.SubscriptionVerified
	sub.LeaseSeconds = leaseSeconds
	sub.ExpiresAt = &expiresAt
	sub.LastVerifiedAt = &now
	sub.VerificationDeadline = nil
	return true, nil
}

func (r *fakeSubRepo) BeginRenewal(id, secret, verifyToken string, deadline time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok || sub.State != database.SubscriptionVerified {
		return false, nil
	}
	sub.State = database.SubscriptionRenewing
	sub.Secret = secret
	sub.VerifyToken = verifyToken
	sub.VerificationDeadline = &deadline
	return true, nil
}

func (r *fakeSubRepo) MarkFailed(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub, ok := r.subs[id]; ok {
		sub.State = database.SubscriptionFailed
	}
	r.markedFailed = append(r.markedFailed, id)
	return nil
}

func (r *fakeSubRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *fakeSubRepo) GetAllSubscriptions() ([]database.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []database.Subscription
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	return out, nil
}

func (r *fakeSubRepo) GetExpiringWithin(window time.Duration) ([]database.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().UTC().Add(window)
	var out []database.Subscription
	for _, sub := range r.subs {
		if sub.State == database.SubscriptionVerified && sub.ExpiresAt != nil && sub.ExpiresAt.Before(cutoff) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) ExpireOverdue() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	expired := 0
	for _, sub := range r.subs {
		if sub.State == database.SubscriptionVerified && sub.ExpiresAt != nil && sub.ExpiresAt.Before(now) {
			sub.State = database.SubscriptionExpired
			expired++
		}
	}
	return expired, nil
}

func (r *fakeSubRepo) GetSubscriptionCount() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs), nil
}

func (r *fakeSubRepo) GetCountByState(state string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, sub := range r.subs {
		if sub.State == state {
			count++
		}
	}
	return count, nil
}

func (r *fakeSubRepo) get(id string) *database.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

type fakeSink struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
	err    error
}

func (s *fakeSink) EnqueueNotification(topicURL string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topicURL)
	s.bodies = append(s.bodies, body)
	return nil
}

func newTestManager(t *testing.T, repo *fakeSubRepo, sink NotificationSink, callbackURL string) *Manager {
	t.Helper()
	manager, err := NewManager(repo, sink, &http.Client{Timeout: 5 * time.Second}, Options{
		CallbackURL:   callbackURL,
		LeaseSeconds:  86400,
		VerifyTTL:     10 * time.Minute,
		RenewalWindow: 24 * time.Hour,
		Algorithm:     AlgorithmSHA256,
		UserAgent:     "sportscan-test",
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return manager
}

func TestNewManager_RequiresCallbackURL(t *testing.T) {
	_, err := NewManager(newFakeSubRepo(), &fakeSink{}, http.DefaultClient, Options{
		Algorithm: AlgorithmSHA256,
	})
	if err == nil {
		t.Errorf("Expected error without callback URL")
	}
}

func TestNewManager_RejectsUnknownAlgorithm(t *testing.T) {
	_, err := NewManager(newFakeSubRepo(), &fakeSink{}, http.DefaultClient, Options{
		CallbackURL: "https://example.com/cb",
		Algorithm:   "md5",
	})
	if err == nil {
		t.Errorf("Expected error for unsupported algorithm")
	}
}

func TestSubscribe_PersistsPendingAndCallsHub(t *testing.T) {
	var gotForm map[string]string
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		gotForm = map[string]string{
			"hub.mode":     r.PostFormValue("hub.mode"),
			"hub.topic":    r.PostFormValue("hub.topic"),
			"hub.callback": r.PostFormValue("hub.callback"),
			"hub.secret":   r.PostFormValue("hub.secret"),
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hub.Close()

	repo := newFakeSubRepo()
	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/websub/callback")

	if err := manager.Subscribe(context.Background(), "https://feeds.example.com/show.xml", hub.URL); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	sub, _ := repo.GetByTopic("https://feeds.example.com/show.xml")
	if sub == nil {
		t.Fatal("Expected pending subscription to be persisted")
	}
	if sub.State != database.SubscriptionPending {
		t.Errorf("Expected pending state, got %s", sub.State)
	}
	if sub.Secret == "" || sub.VerifyToken == "" {
		t.Errorf("Expected generated secret and verify token")
	}
	if sub.VerificationDeadline == nil {
		t.Errorf("Expected a verification deadline")
	}

	if gotForm["hub.mode"] != "subscribe" {
		t.Errorf("Expected hub.mode=subscribe, got %s", gotForm["hub.mode"])
	}
	if gotForm["hub.topic"] != "https://feeds.example.com/show.xml" {
		t.Errorf("Unexpected hub.topic: %s", gotForm["hub.topic"])
	}
	if gotForm["hub.callback"] != "https://example.com/websub/callback" {
		t.Errorf("Unexpected hub.callback: %s", gotForm["hub.callback"])
	}
	if gotForm["hub.secret"] != sub.Secret {
		t.Errorf("Hub should receive the persisted secret")
	}
}

func TestSubscribe_HubFailureMarksFailed(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer hub.Close()

	repo := newFakeSubRepo()
	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/websub/callback")

	err := manager.Subscribe(context.Background(), "https://feeds.example.com/show.xml", hub.URL)
	if err == nil {
		t.Fatal("Expected error when hub rejects the request")
	}
	if !errs.IsKind(err, errs.KindTransient) {
		t.Errorf("Expected transient error, got %v", err)
	}

	if len(repo.markedFailed) != 1 {
		t.Errorf("Expected subscription to be marked failed, got %d", len(repo.markedFailed))
	}
}

func TestSubscribe_EmptyArguments(t *testing.T) {
	manager := newTestManager(t, newFakeSubRepo(), &fakeSink{}, "https://example.com/cb")

	if err := manager.Subscribe(context.Background(), "", "https://hub.example.com"); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty topic, got %v", err)
	}
	if err := manager.Subscribe(context.Background(), "https://feeds.example.com/a.xml", ""); !errs.IsKind(err, errs.KindValidation) {
		t.Errorf("Expected validation error for empty hub, got %v", err)
	}
}

func TestHandleVerification_ConfirmsPending(t *testing.T) {
	repo := newFakeSubRepo()
	deadline := time.Now().UTC().Add(10 * time.Minute)
	sub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", HubURL: "https://hub.example.com",
		Secret: "s", VerifyToken: "token-1", State: database.SubscriptionPending,
		VerificationDeadline: &deadline,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	challenge, err := manager.HandleVerification(VerificationQuery{
		Mode:         "subscribe",
		Topic:        "https://feeds.example.com/show.xml",
		Challenge:    "challenge-abc",
		VerifyToken:  "token-1",
		LeaseSeconds: "3600",
	})
	if err != nil {
		t.Fatalf("HandleVerification failed: %v", err)
	}
	if challenge != "challenge-abc" {
		t.Errorf("Expected challenge echoed back, got %q", challenge)
	}

	stored := repo.get(sub.ID)
	if stored.State != database.SubscriptionVerified {
		t.Errorf("Expected verified state, got %s", stored.State)
	}
	if stored.LeaseSeconds != 3600 {
		t.Errorf("Expected hub-granted lease of 3600, got %d", stored.LeaseSeconds)
	}
	if stored.ExpiresAt == nil {
		t.Errorf("Expected expiry to be recorded")
	}
}

func TestHandleVerification_UnknownTokenIs404(t *testing.T) {
	repo := newFakeSubRepo()
	repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", VerifyToken: "token-1",
		State: database.SubscriptionPending,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	_, err := manager.HandleVerification(VerificationQuery{
		Mode: "subscribe", Topic: "https://feeds.example.com/show.xml",
		Challenge: "c", VerifyToken: "wrong-token",
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error for token mismatch, got %v", err)
	}
}

func TestHandleVerification_UnknownTopicIs404(t *testing.T) {
	manager := newTestManager(t, newFakeSubRepo(), &fakeSink{}, "https://example.com/cb")

	_, err := manager.HandleVerification(VerificationQuery{
		Mode: "subscribe", Topic: "https://feeds.example.com/unknown.xml",
		Challenge: "c", VerifyToken: "t",
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error for unknown topic, got %v", err)
	}
}

func TestHandleVerification_ExpiredDeadlineRejected(t *testing.T) {
	repo := newFakeSubRepo()
	deadline := time.Now().UTC().Add(-time.Minute)
	sub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", VerifyToken: "token-1",
		State: database.SubscriptionPending, VerificationDeadline: &deadline,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	_, err := manager.HandleVerification(VerificationQuery{
		Mode: "subscribe", Topic: "https://feeds.example.com/show.xml",
		Challenge: "c", VerifyToken: "token-1",
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error after deadline, got %v", err)
	}
	if repo.get(sub.ID).State != database.SubscriptionPending {
		t.Errorf("Late verification must not change state")
	}
}

func TestHandleVerification_ReplayOnVerifiedIsIdempotent(t *testing.T) {
	repo := newFakeSubRepo()
	expires := time.Now().UTC().Add(24 * time.Hour)
	sub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", VerifyToken: "token-1",
		State: database.SubscriptionVerified, LeaseSeconds: 86400, ExpiresAt: &expires,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	challenge, err := manager.HandleVerification(VerificationQuery{
		Mode: "subscribe", Topic: "https://feeds.example.com/show.xml",
		Challenge: "replayed", VerifyToken: "token-1", LeaseSeconds: "1",
	})
	if err != nil {
		t.Fatalf("Replayed verification should succeed: %v", err)
	}
	if challenge != "replayed" {
		t.Errorf("Expected challenge echoed on replay")
	}

	stored := repo.get(sub.ID)
	if stored.LeaseSeconds != 86400 {
		t.Errorf("Replay must not alter the recorded lease, got %d", stored.LeaseSeconds)
	}
}

func TestHandleVerification_UnsubscribeDeletesRow(t *testing.T) {
	repo := newFakeSubRepo()
	sub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", VerifyToken: "token-1",
		State: database.SubscriptionVerified,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	challenge, err := manager.HandleVerification(VerificationQuery{
		Mode: "unsubscribe", Topic: "https://feeds.example.com/show.xml",
		Challenge: "bye", VerifyToken: "token-1",
	})
	if err != nil {
		t.Fatalf("Unsubscribe verification failed: %v", err)
	}
	if challenge != "bye" {
		t.Errorf("Expected challenge echoed, got %q", challenge)
	}
	if repo.get(sub.ID) != nil {
		t.Errorf("Expected subscription row to be deleted")
	}
}

func TestHandleVerification_UnsupportedMode(t *testing.T) {
	manager := newTestManager(t, newFakeSubRepo(), &fakeSink{}, "https://example.com/cb")

	_, err := manager.HandleVerification(VerificationQuery{
		Mode: "dance", Topic: "https://feeds.example.com/show.xml", Challenge: "c",
	})
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error for unsupported mode, got %v", err)
	}
}

func TestHandleNotification_ValidSignatureEnqueues(t *testing.T) {
	repo := newFakeSubRepo()
	repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", Secret: "shared-secret",
		State: database.SubscriptionVerified,
	})

	sink := &fakeSink{}
	manager := newTestManager(t, repo, sink, "https://example.com/cb")

	body := []byte("<rss><channel><item><title>Ep 1</title></item></channel></rss>")
	header, _ := Sign(AlgorithmSHA256, "shared-secret", body)

	if err := manager.HandleNotification("https://feeds.example.com/show.xml", header, body); err != nil {
		t.Fatalf("HandleNotification failed: %v", err)
	}

	if len(sink.topics) != 1 || sink.topics[0] != "https://feeds.example.com/show.xml" {
		t.Errorf("Expected one enqueued notification, got %v", sink.topics)
	}
	if string(sink.bodies[0]) != string(body) {
		t.Errorf("Sink must receive the raw body unchanged")
	}
}

func TestHandleNotification_BadSignatureRejected(t *testing.T) {
	repo := newFakeSubRepo()
	repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", Secret: "shared-secret",
		State: database.SubscriptionVerified,
	})

	sink := &fakeSink{}
	manager := newTestManager(t, repo, sink, "https://example.com/cb")

	body := []byte("payload")
	header, _ := Sign(AlgorithmSHA256, "attacker-secret", body)

	err := manager.HandleNotification("https://feeds.example.com/show.xml", header, body)
	if !errs.IsKind(err, errs.KindAuthentication) {
		t.Errorf("Expected authentication error, got %v", err)
	}
	if len(sink.topics) != 0 {
		t.Errorf("Rejected notification must not reach the sink")
	}
}

func TestHandleNotification_UnknownTopic(t *testing.T) {
	manager := newTestManager(t, newFakeSubRepo(), &fakeSink{}, "https://example.com/cb")

	err := manager.HandleNotification("https://feeds.example.com/nope.xml", "sha256=00", []byte("x"))
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestHandleNotification_PendingSubscriptionRejected(t *testing.T) {
	repo := newFakeSubRepo()
	repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/show.xml", Secret: "shared-secret",
		State: database.SubscriptionPending,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	body := []byte("payload")
	header, _ := Sign(AlgorithmSHA256, "shared-secret", body)

	err := manager.HandleNotification("https://feeds.example.com/show.xml", header, body)
	if !errs.IsKind(err, errs.KindNotFound) {
		t.Errorf("Expected not-found error for unverified subscription, got %v", err)
	}
}

func TestRenewDueSubscriptions_RenewsOnlyWithinWindow(t *testing.T) {
	hubCalls := 0
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hubCalls++
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hub.Close()

	repo := newFakeSubRepo()
	soon := time.Now().UTC().Add(12 * time.Hour)
	later := time.Now().UTC().Add(48 * time.Hour)
	dueSub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/due.xml", HubURL: hub.URL,
		Secret: "old-secret", VerifyToken: "old-token",
		State: database.SubscriptionVerified, ExpiresAt: &soon,
	})
	freshSub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/fresh.xml", HubURL: hub.URL,
		State: database.SubscriptionVerified, ExpiresAt: &later,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	renewed, failed, err := manager.RenewDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("RenewDueSubscriptions failed: %v", err)
	}
	if renewed != 1 || failed != 0 {
		t.Errorf("Expected 1 renewed, 0 failed; got %d, %d", renewed, failed)
	}
	if hubCalls != 1 {
		t.Errorf("Expected exactly one hub request, got %d", hubCalls)
	}

	stored := repo.get(dueSub.ID)
	if stored.State != database.SubscriptionRenewing {
		t.Errorf("Due subscription should be renewing, got %s", stored.State)
	}
	if stored.VerifyToken == "old-token" {
		t.Errorf("Renewal must rotate the verify token")
	}
	if stored.Secret != "old-secret" {
		t.Errorf("Renewal must keep the live secret until the hub confirms")
	}

	if repo.get(freshSub.ID).State != database.SubscriptionVerified {
		t.Errorf("Subscription outside the window must be left alone")
	}
}

func TestRenewDueSubscriptions_ExpiresOverdueFirst(t *testing.T) {
	repo := newFakeSubRepo()
	past := time.Now().UTC().Add(-time.Hour)
	overdue := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/old.xml", HubURL: "https://hub.example.com",
		State: database.SubscriptionVerified, ExpiresAt: &past,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	renewed, failed, err := manager.RenewDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("RenewDueSubscriptions failed: %v", err)
	}
	if renewed != 0 || failed != 0 {
		t.Errorf("Expected nothing renewed, got %d renewed %d failed", renewed, failed)
	}
	if repo.get(overdue.ID).State != database.SubscriptionExpired {
		t.Errorf("Overdue subscription should be expired, got %s", repo.get(overdue.ID).State)
	}
}

func TestRenewDueSubscriptions_HubFailureMarksFailed(t *testing.T) {
	hub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer hub.Close()

	repo := newFakeSubRepo()
	soon := time.Now().UTC().Add(time.Hour)
	sub := repo.add(database.Subscription{
		TopicURL: "https://feeds.example.com/due.xml", HubURL: hub.URL,
		State: database.SubscriptionVerified, ExpiresAt: &soon,
	})

	manager := newTestManager(t, repo, &fakeSink{}, "https://example.com/cb")

	renewed, failed, err := manager.RenewDueSubscriptions(context.Background())
	if err != nil {
		t.Fatalf("RenewDueSubscriptions failed: %v", err)
	}
	if renewed != 0 || failed != 1 {
		t.Errorf("Expected 0 renewed, 1 failed; got %d, %d", renewed, failed)
	}
	if repo.get(sub.ID).State != database.SubscriptionFailed {
		t.Errorf("Expected failed state, got %s", repo.get(sub.ID).State)
	}
}
