package tasks

import (
	"context"
	"log/slog"

	"github.com/sportscan/sportscan/app/dispatch"
)

// ProcessNotificationTask parses one validated notification payload off the
// request path and ingests the changed episodes.
type ProcessNotificationTask struct {
	Task
	dispatcher *dispatch.Dispatcher
	topicURL   string
	rawBody    []byte
}

func NewProcessNotificationTask(dispatcher *dispatch.Dispatcher, topicURL string, rawBody []byte) *ProcessNotificationTask {
	return &ProcessNotificationTask{
		Task:       NewTask(TaskTypeProcessNotification, topicURL),
		dispatcher: dispatcher,
		topicURL:   topicURL,
		rawBody:    rawBody,
	}
}

func (t *ProcessNotificationTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ingested, skipped, err := t.dispatcher.Dispatch(t.topicURL, t.rawBody)
	if err != nil {
		return err
	}

	slog.Info("Task completed", "type", "ProcessNotification", "topic", t.topicURL,
		"duration", t.GetDuration(), "ingested", ingested, "skipped", skipped)

	return nil
}
