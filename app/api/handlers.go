package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sportscan/sportscan/app/config"
	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/detect"
	"github.com/sportscan/sportscan/app/errs"
	"github.com/sportscan/sportscan/app/ingest"
	"github.com/sportscan/sportscan/app/tasks"
	"github.com/sportscan/sportscan/app/websub"
)

// maxNotificationBody caps how much a hub may push in one notification.
const maxNotificationBody = 10 << 20

type Handler struct {
	manager      *websub.Manager
	subRepo      database.SubscriptionRepository
	entityRepo   database.EntityRepository
	contentRepo  database.ContentRepository
	detector     *detect.Detector
	matcherCache *detect.MatcherCache
	orchestrator *ingest.Orchestrator
	configCache  *config.ConfigCache
	scheduler    tasks.TaskSchedulerInterface
}

func NewHandler(manager *websub.Manager, subRepo database.SubscriptionRepository,
	entityRepo database.EntityRepository, contentRepo database.ContentRepository,
	detector *detect.Detector, matcherCache *detect.MatcherCache,
	orchestrator *ingest.Orchestrator, configCache *config.ConfigCache,
	scheduler tasks.TaskSchedulerInterface) *Handler {
	return &Handler{
		manager:      manager,
		subRepo:      subRepo,
		entityRepo:   entityRepo,
		contentRepo:  contentRepo,
		detector:     detector,
		matcherCache: matcherCache,
		orchestrator: orchestrator,
		configCache:  configCache,
		scheduler:    scheduler,
	}
}

// VerifyCallback answers the hub's challenge-response verification GET.
// The challenge must be echoed byte-exact with 200; any mismatch is 404
// with an empty body.
func (h *Handler) VerifyCallback(c *gin.Context) {
	challenge, err := h.manager.HandleVerification(websub.VerificationQuery{
		Mode:         c.Query("hub.mode"),
		Topic:        c.Query("hub.topic"),
		Challenge:    c.Query("hub.challenge"),
		VerifyToken:  c.Query("hub.verify_token"),
		LeaseSeconds: c.Query("hub.lease_seconds"),
	})

	if err != nil {
		slog.Warn("Verification rejected", "topic", c.Query("hub.topic"), "mode", c.Query("hub.mode"), "error", err)
		c.Status(errs.HTTPStatus(err))
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(challenge))
}

// NotifyCallback accepts a pushed notification. The signature is validated
// synchronously; parsing and detection run in background tasks so the hub
// gets its 200 within its response-time limit.
func (h *Handler) NotifyCallback(c *gin.Context) {
	topic := c.GetHeader("X-Hub-Topic")
	signature := c.GetHeader("X-Hub-Signature")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBody))
	if err != nil {
		slog.Error("Failed to read notification body", "topic", topic, "error", err)
		c.Status(http.StatusInternalServerError)
		return
	}

	if err := h.manager.HandleNotification(topic, signature, body); err != nil {
		slog.Warn("Notification rejected", "topic", topic, "error", err)
		c.Status(errs.HTTPStatus(err))
		return
	}

	c.Status(http.StatusOK)
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if subCount, err := h.subRepo.GetSubscriptionCount(); err == nil {
		health["subscriptions"] = subCount
	}
	if entityCount, err := h.entityRepo.GetEntityCount(); err == nil {
		health["entities"] = entityCount
	}

	health["loaded_configurations"] = h.configCache.GetConfigCount()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) GetStats(c *gin.Context) {
	stats := map[string]interface{}{}

	if count, err := h.subRepo.GetSubscriptionCount(); err == nil {
		stats["subscriptions"] = count
	}
	if count, err := h.subRepo.GetCountByState(database.SubscriptionVerified); err == nil {
		stats["verified_subscriptions"] = count
	}
	if count, err := h.entityRepo.GetEntityCount(); err == nil {
		stats["entities"] = count
	}
	if count, err := h.contentRepo.GetContentCount(); err == nil {
		stats["content_items"] = count
	}
	if count, err := h.contentRepo.GetUnprocessedCount(); err == nil {
		stats["unprocessed_content_items"] = count
	}

	c.JSON(http.StatusOK, stats)
}

// APIListSubscriptions lists subscriptions without their secrets or verify
// tokens; those never leave the WebSub manager.
func (h *Handler) APIListSubscriptions(c *gin.Context) {
	subs, err := h.subRepo.GetAllSubscriptions()
	if err != nil {
		slog.Error("Database error", "operation", "list_subscriptions", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]interface{}, 0, len(subs))
	for _, sub := range subs {
		result = append(result, map[string]interface{}{
			"topic_url":        sub.TopicURL,
			"hub_url":          sub.HubURL,
			"state":            sub.State,
			"lease_seconds":    sub.LeaseSeconds,
			"expires_at":       sub.ExpiresAt,
			"last_verified_at": sub.LastVerifiedAt,
			"created_at":       sub.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"subscriptions": result,
		"total":         len(result),
	})
}

type createSubscriptionRequest struct {
	TopicURL string `json:"topic_url" binding:"required"`
	HubURL   string `json:"hub_url" binding:"required"`
}

func (h *Handler) APICreateSubscription(c *gin.Context) {
	var req createSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic_url and hub_url are required"})
		return
	}

	if err := h.manager.Subscribe(c.Request.Context(), req.TopicURL, req.HubURL); err != nil {
		slog.Error("Subscribe failed", "topic", req.TopicURL, "error", err)
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Subscription requested, awaiting hub verification",
		"topic":   req.TopicURL,
	})
}

func (h *Handler) APIDeleteSubscription(c *gin.Context) {
	topic := c.Query("topic")
	if topic == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing topic parameter"})
		return
	}

	if err := h.manager.Unsubscribe(c.Request.Context(), topic); err != nil {
		slog.Error("Unsubscribe failed", "topic", topic, "error", err)
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"message": "Unsubscribe requested, awaiting hub verification",
		"topic":   topic,
	})
}

func (h *Handler) APIListEntities(c *gin.Context) {
	entities, err := h.entityRepo.GetAllEntities()
	if err != nil {
		slog.Error("Database error", "operation", "list_entities", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	result := make([]map[string]interface{}, 0, len(entities))
	for _, entity := range entities {
		result = append(result, map[string]interface{}{
			"id":             entity.ID,
			"canonical_name": entity.CanonicalName,
			"sport":          entity.Sport,
			"team":           entity.Team,
			"aliases":        entity.Aliases,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"entities": result,
		"total":    len(result),
	})
}

type upsertEntityRequest struct {
	CanonicalName string   `json:"canonical_name" binding:"required"`
	Sport         string   `json:"sport"`
	Team          string   `json:"team"`
	Aliases       []string `json:"aliases"`
}

func (h *Handler) APIUpsertEntity(c *gin.Context) {
	var req upsertEntityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "canonical_name is required"})
		return
	}

	id, err := h.entityRepo.UpsertEntity(req.CanonicalName, req.Sport, req.Team, req.Aliases)
	if err != nil {
		slog.Error("Entity upsert failed", "canonical_name", req.CanonicalName, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	// Compiled patterns are stale once the registry changes.
	h.matcherCache.Invalidate()

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"id":      id,
	})
}

func (h *Handler) APIGetEntityMentions(c *gin.Context) {
	entityID := c.Param("id")

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	mentions, err := h.detector.RecentMentions(entityID, limit)
	if err != nil {
		slog.Error("Failed to get entity mentions", "entity_id", entityID, "error", err)
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	result := make([]map[string]interface{}, 0, len(mentions))
	for _, m := range mentions {
		result = append(result, map[string]interface{}{
			"content_id":   m.ContentID,
			"title":        m.ContentTitle,
			"content_type": m.ContentType,
			"published_at": m.ContentPublishedAt,
			"match_type":   m.MatchType,
			"confidence":   m.Confidence,
			"context":      m.Context,
		})
	}

	c.JSON(http.StatusOK, map[string]interface{}{
		"entity_id": entityID,
		"mentions":  result,
		"total":     len(result),
	})
}

func (h *Handler) APIDetectContent(c *gin.Context) {
	contentID := c.Param("id")

	if c.Query("async") == "true" {
		if err := h.scheduler.EnqueueDetection(contentID); err != nil {
			slog.Error("Failed to enqueue detection", "content_id", contentID, "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Task queue is full"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"content_id": contentID, "queued": true})
		return
	}

	matcher, err := h.matcherCache.Get()
	if err != nil {
		slog.Error("Failed to build matcher", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build matcher"})
		return
	}

	titleMatches, contentMatches, err := h.detector.ProcessContent(contentID, matcher)
	if err != nil {
		slog.Error("Content detection failed", "content_id", contentID, "error", err)
		c.JSON(errs.HTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"content_id":      contentID,
		"title_matches":   titleMatches,
		"content_matches": contentMatches,
	})
}

func (h *Handler) APIRunDetection(c *gin.Context) {
	result, err := h.orchestrator.ProcessAllEpisodes(c.Request.Context())
	if err != nil {
		slog.Error("Batch detection run failed", "processed", result.Processed, "errors", result.Errors, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":     err.Error(),
			"processed": result.Processed,
			"errors":    result.Errors,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed": result.Processed,
		"errors":    result.Errors,
	})
}

type importChannelRequest struct {
	Limit int  `json:"limit"`
	Force bool `json:"force"`
}

func (h *Handler) APIImportChannel(c *gin.Context) {
	channelID := c.Param("id")

	var req importChannelRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	result := h.orchestrator.ProcessChannel(channelID, ingest.ChannelOptions{
		VideosPerChannel: req.Limit,
		ForceUpdate:      req.Force,
	})

	status := http.StatusOK
	switch result.Status {
	case ingest.ChannelStatusNotFound:
		status = http.StatusNotFound
	case ingest.ChannelStatusError:
		status = http.StatusInternalServerError
	}

	c.JSON(status, gin.H{
		"status":   result.Status,
		"imported": result.Imported,
		"updated":  result.Updated,
		"message":  result.Message,
	})
}
