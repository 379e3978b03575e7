package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sportscan/sportscan/app/ingest"
)

// ProcessChannelTask imports video metadata for one configured channel.
type ProcessChannelTask struct {
	Task
	orchestrator *ingest.Orchestrator
	channelID    string
	options      ingest.ChannelOptions
}

func NewProcessChannelTask(source string, orchestrator *ingest.Orchestrator, channelID string,
	options ingest.ChannelOptions) *ProcessChannelTask {
	return &ProcessChannelTask{
		Task:         NewTask(TaskTypeProcessChannel, source),
		orchestrator: orchestrator,
		channelID:    channelID,
		options:      options,
	}
}

func (t *ProcessChannelTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	result := t.orchestrator.ProcessChannel(t.channelID, t.options)

	switch result.Status {
	case ingest.ChannelStatusOK:
		slog.Info("Task completed", "type", "ProcessChannel", "source", t.Source,
			"channel_id", t.channelID, "duration", t.GetDuration(),
			"imported", result.Imported, "updated", result.Updated)
		return nil
	case ingest.ChannelStatusNotFound:
		slog.Warn("Channel not found", "source", t.Source, "channel_id", t.channelID)
		return nil
	default:
		return fmt.Errorf("channel import failed: %s", result.Message)
	}
}
