package tasks

import (
	"context"
	"log/slog"

	"github.com/sportscan/sportscan/app/config"
	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/websub"
)

// SyncSubscriptionsTask reconciles the subscription store against the
// configured feed topics: missing or dead topics are re-subscribed,
// topics no longer configured are unsubscribed.
type SyncSubscriptionsTask struct {
	Task
	configCache *config.ConfigCache
	subRepo     database.SubscriptionRepository
	manager     *websub.Manager
}

func NewSyncSubscriptionsTask(configCache *config.ConfigCache, subRepo database.SubscriptionRepository,
	manager *websub.Manager) *SyncSubscriptionsTask {
	return &SyncSubscriptionsTask{
		Task:        NewTask(TaskTypeSyncSubscriptions, "all"),
		configCache: configCache,
		subRepo:     subRepo,
		manager:     manager,
	}
}

func (t *SyncSubscriptionsTask) Execute(ctx context.Context) error {
	desired := make(map[string]*config.Config)
	for _, cfg := range t.configCache.GetEnabledConfigs() {
		if cfg.Feed.Topic != "" {
			desired[cfg.Feed.Topic] = cfg
		}
	}

	existing, err := t.subRepo.GetAllSubscriptions()
	if err != nil {
		return err
	}

	existingByTopic := make(map[string]database.Subscription, len(existing))
	for _, sub := range existing {
		existingByTopic[sub.TopicURL] = sub
	}

	subscribed := 0
	for topic, cfg := range desired {
		sub, ok := existingByTopic[topic]
		if ok && (sub.State == database.SubscriptionVerified || sub.State == database.SubscriptionPending ||
			sub.State == database.SubscriptionRenewing) {
			continue
		}

		if err := t.manager.Subscribe(ctx, topic, cfg.Feed.Hub); err != nil {
			slog.Warn("Failed to subscribe to configured topic", "source", cfg.Name, "topic", topic, "error", err)
			continue
		}
		subscribed++
	}

	unsubscribed := 0
	for _, sub := range existing {
		if _, ok := desired[sub.TopicURL]; ok {
			continue
		}

		if err := t.manager.Unsubscribe(ctx, sub.TopicURL); err != nil {
			slog.Warn("Failed to unsubscribe removed topic", "topic", sub.TopicURL, "error", err)
			continue
		}
		unsubscribed++
	}

	slog.Info("Task completed", "type", "SyncSubscriptions", "duration", t.GetDuration(),
		"configured", len(desired), "subscribed", subscribed, "unsubscribed", unsubscribed)

	return nil
}
