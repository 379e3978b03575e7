package tasks

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/sportscan/sportscan/app/database"
)

const extractionBatchSize = 20

// ExtractNotesTask fetches episode pages and extracts the full show notes
// into the content body, giving the detector more text to work with than
// the feed description alone.
type ExtractNotesTask struct {
	Task
	contentRepo database.ContentRepository
	httpClient  *http.Client
	userAgent   string
}

func NewExtractNotesTask(contentRepo database.ContentRepository, httpClient *http.Client,
	userAgent string) *ExtractNotesTask {
	return &ExtractNotesTask{
		Task:        NewTask(TaskTypeExtractNotes, "all"),
		contentRepo: contentRepo,
		httpClient:  httpClient,
		userAgent:   userAgent,
	}
}

func (t *ExtractNotesTask) Execute(ctx context.Context) error {
	items, err := t.contentRepo.GetItemsForExtraction(extractionBatchSize)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}

	extracted := 0
	failed := 0

	for _, item := range items {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		now := time.Now().UTC()

		body, err := t.extractPage(ctx, item.Link)
		if err != nil {
			slog.Warn("Show notes extraction failed", "content_id", item.ID, "link", item.Link, "error", err)
			if updateErr := t.contentRepo.UpdateExtractedBody(item.ID, "", "failed", &now); updateErr != nil {
				slog.Error("Failed to record extraction failure", "content_id", item.ID, "error", updateErr)
			}
			failed++
			continue
		}

		if err := t.contentRepo.UpdateExtractedBody(item.ID, body, "success", &now); err != nil {
			slog.Error("Failed to store extracted notes", "content_id", item.ID, "error", err)
			failed++
			continue
		}
		extracted++
	}

	slog.Info("Task completed", "type", "ExtractNotes", "duration", t.GetDuration(),
		"extracted", extracted, "failed", failed)

	return nil
}

func (t *ExtractNotesTask) extractPage(ctx context.Context, link string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, link, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", t.userAgent)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	pageURL, _ := url.Parse(link)
	article, err := readability.FromReader(bytes.NewReader(data), pageURL)
	if err != nil {
		return "", fmt.Errorf("failed to extract content: %w", err)
	}

	return article.TextContent, nil
}
