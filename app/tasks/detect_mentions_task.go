package tasks

import (
	"context"
	"log/slog"

	"github.com/sportscan/sportscan/app/detect"
)

// DetectMentionsTask runs mention detection for a single content item,
// typically right after a notification ingested it.
type DetectMentionsTask struct {
	Task
	detector     *detect.Detector
	matcherCache *detect.MatcherCache
	contentID    string
}

func NewDetectMentionsTask(detector *detect.Detector, matcherCache *detect.MatcherCache, contentID string) *DetectMentionsTask {
	return &DetectMentionsTask{
		Task:         NewTask(TaskTypeDetectMentions, contentID),
		detector:     detector,
		matcherCache: matcherCache,
		contentID:    contentID,
	}
}

func (t *DetectMentionsTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	matcher, err := t.matcherCache.Get()
	if err != nil {
		return err
	}

	titleMatches, contentMatches, err := t.detector.ProcessContent(t.contentID, matcher)
	if err != nil {
		return err
	}

	slog.Info("Task completed", "type", "DetectMentions", "content_id", t.contentID,
		"duration", t.GetDuration(), "title_matches", titleMatches, "content_matches", contentMatches)

	return nil
}
