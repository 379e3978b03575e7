package ingest

import (
	"errors"
	"time"
)

// ErrChannelNotFound is returned by a VideoSource when the channel id is
// unknown to the upstream service.
var ErrChannelNotFound = errors.New("channel not found")

// Video is one video's metadata as returned by the external source.
type Video struct {
	ExternalID  string
	Title       string
	Description string
	Link        string
	PublishedAt *time.Time
}

// VideoSource fetches video metadata for a channel. Implementations wrap
// the external video platform API and are substituted with fakes in tests.
type VideoSource interface {
	// ChannelVideos returns up to limit videos for the channel; a
	// non-positive limit means all available videos.
	ChannelVideos(channelID string, limit int) ([]Video, error)
}

// BatchResult summarizes a detection batch run. It is returned, not
// persisted.
type BatchResult struct {
	Processed int
	Errors    int
}

// Channel import statuses. The tri-state result lets callers branch
// without unwrapping errors.
const (
	ChannelStatusOK       = "ok"
	ChannelStatusNotFound = "not_found"
	ChannelStatusError    = "error"
)

type ChannelOptions struct {
	VideosPerChannel int // non-positive means all
	ForceUpdate      bool
}

type ChannelResult struct {
	Status   string
	Imported int
	Updated  int
	Message  string
}
