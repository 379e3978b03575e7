// Package ingest drives batch content processing: the resumable
// walk-all-episodes detection run and per-channel video imports.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/detect"
)

const detectionBatchSize = 100

// Orchestrator walks content items and invokes the mention detector,
// isolating per-item failures so one bad item never halts a run.
type Orchestrator struct {
	contentRepo database.ContentRepository
	detector    *detect.Detector
	source      VideoSource
	workerCount int

	// MaxItems bounds a single ProcessAllEpisodes run; zero means no bound.
	MaxItems int
}

func NewOrchestrator(contentRepo database.ContentRepository, detector *detect.Detector,
	source VideoSource, workerCount int) *Orchestrator {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Orchestrator{
		contentRepo: contentRepo,
		detector:    detector,
		source:      source,
		workerCount: workerCount,
	}
}

// ProcessAllEpisodes runs mention detection over every content item that
// still needs it. The matcher is built once and shared by the whole run.
// Items are processed by a bounded worker pool; a failure is logged,
// counted, and skipped past via the page cursor, so the loop always reaches
// the last item. Successfully processed items are marked in the store,
// which is what makes a crashed run resumable.
func (o *Orchestrator) ProcessAllEpisodes(ctx context.Context) (BatchResult, error) {
	matcher, err := o.detector.BuildMatcher()
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to build matcher: %w", err)
	}

	var result BatchResult
	var mu sync.Mutex

	cursorCreatedAt := time.Time{}
	cursorID := ""
	started := time.Now()

	for {
		select {
		case <-ctx.Done():
			slog.Warn("Batch run cancelled", "processed", result.Processed, "errors", result.Errors)
			return result, ctx.Err()
		default:
		}

		limit := detectionBatchSize
		if o.MaxItems > 0 {
			remaining := o.MaxItems - result.Processed - result.Errors
			if remaining <= 0 {
				break
			}
			if remaining < limit {
				limit = remaining
			}
		}

		items, err := o.contentRepo.GetItemsForDetection(cursorCreatedAt, cursorID, limit)
		if err != nil {
			return result, fmt.Errorf("failed to fetch detection batch: %w", err)
		}
		if len(items) == 0 {
			break
		}

		last := items[len(items)-1]
		cursorCreatedAt = last.CreatedAt
		cursorID = last.ID

		jobs := make(chan database.ContentItem)
		var wg sync.WaitGroup

		for i := 0; i < o.workerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for item := range jobs {
					if err := o.processOne(item.ID, matcher); err != nil {
						slog.Error("Content detection failed", "content_id", item.ID,
							"content_type", item.ContentType, "error", err)
						mu.Lock()
						result.Errors++
						mu.Unlock()
						continue
					}
					mu.Lock()
					result.Processed++
					mu.Unlock()
				}
			}()
		}

		for _, item := range items {
			jobs <- item
		}
		close(jobs)
		wg.Wait()
	}

	slog.Info("Batch detection run completed", "processed", result.Processed,
		"errors", result.Errors, "duration", time.Since(started))

	return result, nil
}

// processOne shields the batch from panics in a single item's detection.
func (o *Orchestrator) processOne(contentID string, matcher *detect.Matcher) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during detection: %v", r)
		}
	}()

	_, _, err = o.detector.ProcessContent(contentID, matcher)
	return err
}

// ProcessChannel imports video metadata for one channel. The tri-state
// result is returned instead of an error so callers branch on Status.
func (o *Orchestrator) ProcessChannel(channelID string, opts ChannelOptions) ChannelResult {
	videos, err := o.source.ChannelVideos(channelID, opts.VideosPerChannel)
	if err != nil {
		if errors.Is(err, ErrChannelNotFound) {
			return ChannelResult{Status: ChannelStatusNotFound, Message: fmt.Sprintf("channel %s not found", channelID)}
		}
		slog.Error("Channel fetch failed", "channel_id", channelID, "error", err)
		return ChannelResult{Status: ChannelStatusError, Message: err.Error()}
	}

	result := ChannelResult{Status: ChannelStatusOK}

	for _, video := range videos {
		if video.ExternalID == "" {
			continue
		}

		item := database.NewContentItem{
			ContentType: database.ContentTypeVideo,
			ExternalID:  video.ExternalID,
			Title:       video.Title,
			Body:        video.Description,
			Link:        video.Link,
			ContentHash: videoContentHash(video),
			PublishedAt: video.PublishedAt,
		}

		_, created, err := o.contentRepo.UpsertContent(item, opts.ForceUpdate)
		if err != nil {
			slog.Error("Video upsert failed", "channel_id", channelID,
				"video_id", video.ExternalID, "error", err)
			result.Status = ChannelStatusError
			result.Message = err.Error()
			continue
		}

		if created {
			result.Imported++
		} else {
			result.Updated++
		}
	}

	slog.Info("Channel processed", "channel_id", channelID,
		"imported", result.Imported, "updated", result.Updated, "status", result.Status)

	return result
}

func videoContentHash(video Video) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s", video.Title, video.Link, video.Description)))
	return hex.EncodeToString(hash[:])
}
