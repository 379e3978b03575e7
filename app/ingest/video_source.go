package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"
)

const defaultChannelFeedURL = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// FeedVideoSource reads a channel's public feed and maps its entries to
// video metadata. Channel feeds are ordinary Atom documents, so no
// platform API credentials are needed.
type FeedVideoSource struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	feedURL    string
	userAgent  string
}

func NewFeedVideoSource(httpClient *http.Client, userAgent string) *FeedVideoSource {
	return &FeedVideoSource{
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		feedURL:    defaultChannelFeedURL,
		userAgent:  userAgent,
	}
}

// ChannelVideos fetches and parses the channel feed. A 404 from the
// platform maps to ErrChannelNotFound so callers can branch on it.
func (s *FeedVideoSource) ChannelVideos(channelID string, limit int) ([]Video, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	feedURL := fmt.Sprintf(s.feedURL, channelID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create channel feed request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch channel feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return nil, ErrChannelNotFound
	}
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("channel feed returned status %d", resp.StatusCode)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse channel feed: %w", err)
	}

	videos := make([]Video, 0, len(feed.Items))
	for _, item := range feed.Items {
		if limit > 0 && len(videos) >= limit {
			break
		}

		externalID := item.GUID
		if externalID == "" {
			externalID = item.Link
		}
		if externalID == "" {
			continue
		}

		videos = append(videos, Video{
			ExternalID:  externalID,
			Title:       item.Title,
			Description: item.Description,
			Link:        item.Link,
			PublishedAt: item.PublishedParsed,
		})
	}

	return videos, nil
}
