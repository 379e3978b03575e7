package tasks

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/sportscan/sportscan/app/websub"
)

// RenewSubscriptionsTask runs one lease renewal sweep. The scheduler keeps
// at most one sweep in flight via the running flag; per-topic serialization
// happens inside the manager through conditional state transitions.
type RenewSubscriptionsTask struct {
	Task
	manager *websub.Manager
	running *atomic.Bool
}

func NewRenewSubscriptionsTask(manager *websub.Manager, running *atomic.Bool) *RenewSubscriptionsTask {
	task := NewTask(TaskTypeRenewSubscriptions, "all")
	task.MaxRetries = 0 // the next sweep covers any failures

	return &RenewSubscriptionsTask{
		Task:    task,
		manager: manager,
		running: running,
	}
}

func (t *RenewSubscriptionsTask) Execute(ctx context.Context) error {
	defer t.running.Store(false)

	renewed, failed, err := t.manager.RenewDueSubscriptions(ctx)
	if err != nil {
		return err
	}

	if renewed > 0 || failed > 0 {
		slog.Info("Task completed", "type", "RenewSubscriptions", "duration", t.GetDuration(),
			"renewed", renewed, "failed", failed)
	}

	return nil
}
