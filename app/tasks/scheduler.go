package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sportscan/sportscan/app/cfg"
	"github.com/sportscan/sportscan/app/config"
	"github.com/sportscan/sportscan/app/database"
	"github.com/sportscan/sportscan/app/detect"
	"github.com/sportscan/sportscan/app/dispatch"
	"github.com/sportscan/sportscan/app/ingest"
	"github.com/sportscan/sportscan/app/websub"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

const channelImportInterval = time.Hour

type Scheduler struct {
	configCache  *config.ConfigCache
	subRepo      database.SubscriptionRepository
	contentRepo  database.ContentRepository
	manager      *websub.Manager
	dispatcher   *dispatch.Dispatcher
	detector     *detect.Detector
	matcherCache *detect.MatcherCache
	orchestrator *ingest.Orchestrator
	httpClient   *http.Client
	userAgent    string
	interval     time.Duration
	workerCount  int
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	taskQueue    chan TaskInterface

	renewalRunning    atomic.Bool
	lastChannelImport time.Time
}

func NewScheduler(configCache *config.ConfigCache, subRepo database.SubscriptionRepository,
	contentRepo database.ContentRepository, detector *detect.Detector,
	matcherCache *detect.MatcherCache, orchestrator *ingest.Orchestrator,
	httpClient *http.Client) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := cfg.Get()

	return &Scheduler{
		configCache:  configCache,
		subRepo:      subRepo,
		contentRepo:  contentRepo,
		detector:     detector,
		matcherCache: matcherCache,
		orchestrator: orchestrator,
		httpClient:   httpClient,
		userAgent:    cfg.UserAgent,
		interval:     time.Duration(cfg.SchedulerInterval) * time.Second,
		workerCount:  cfg.WorkerCount,
		ctx:          ctx,
		cancel:       cancel,
		taskQueue:    make(chan TaskInterface, 300),
	}
}

// Bind wires the WebSub manager and dispatcher in after construction.
// The scheduler is their async boundary, so they are built with a
// reference to it and handed back here before Start.
func (s *Scheduler) Bind(manager *websub.Manager, dispatcher *dispatch.Dispatcher) {
	s.manager = manager
	s.dispatcher = dispatcher
}

func (s *Scheduler) Start() {
	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.enqueueStartupTasks()

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.enqueueTasks()
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
	close(s.taskQueue)
}

func (s *Scheduler) EnqueueTask(task TaskInterface) error {
	select {
	case s.taskQueue <- task:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("task queue is full")
	}
}

// EnqueueNotification queues a validated notification payload for
// asynchronous dispatch, satisfying the WebSub manager's sink.
func (s *Scheduler) EnqueueNotification(topicURL string, body []byte) error {
	return s.EnqueueTask(NewProcessNotificationTask(s.dispatcher, topicURL, body))
}

// EnqueueDetection queues mention detection for one content item.
func (s *Scheduler) EnqueueDetection(contentID string) error {
	return s.EnqueueTask(NewDetectMentionsTask(s.detector, s.matcherCache, contentID))
}

func (s *Scheduler) enqueueStartupTasks() {
	syncTask := NewSyncSubscriptionsTask(s.configCache, s.subRepo, s.manager)
	if err := s.EnqueueTask(syncTask); err != nil {
		slog.Warn("Failed to enqueue SyncSubscriptionsTask", "error", err)
	}

	s.enqueueChannelTasks()
	s.enqueueExtractionTask()
}

func (s *Scheduler) enqueueTasks() {
	// Single sweep in flight; the next tick retries if this one is still
	// running or failed to enqueue.
	if s.renewalRunning.CompareAndSwap(false, true) {
		renewTask := NewRenewSubscriptionsTask(s.manager, &s.renewalRunning)
		if err := s.EnqueueTask(renewTask); err != nil {
			slog.Warn("Failed to enqueue RenewSubscriptionsTask", "error", err)
			s.renewalRunning.Store(false)
		}
	}

	if time.Since(s.lastChannelImport) >= channelImportInterval {
		s.enqueueChannelTasks()
	}

	s.enqueueExtractionTask()
}

// enqueueExtractionTask queues a show-notes extraction batch when at least
// one enabled source opted into it.
func (s *Scheduler) enqueueExtractionTask() {
	wanted := false
	for _, sourceConfig := range s.configCache.GetEnabledConfigs() {
		if sourceConfig.Settings.ExtractNotes {
			wanted = true
			break
		}
	}
	if !wanted {
		return
	}

	extractTask := NewExtractNotesTask(s.contentRepo, s.httpClient, s.userAgent)
	if err := s.EnqueueTask(extractTask); err != nil {
		slog.Warn("Failed to enqueue ExtractNotesTask", "error", err)
	}
}

func (s *Scheduler) enqueueChannelTasks() {
	configs := s.configCache.GetEnabledConfigs()

	enqueued := 0
	for _, sourceConfig := range configs {
		if sourceConfig.Channel.ID == "" {
			continue
		}

		task := NewProcessChannelTask(sourceConfig.Name, s.orchestrator, sourceConfig.Channel.ID,
			ingest.ChannelOptions{VideosPerChannel: sourceConfig.Channel.VideosPerChannel})
		if err := s.EnqueueTask(task); err != nil {
			slog.Warn("Failed to enqueue ProcessChannelTask", "source", sourceConfig.Name, "error", err)
			continue
		}
		enqueued++
	}

	if enqueued > 0 {
		s.lastChannelImport = time.Now()
		slog.Debug("Channel import tasks enqueued", "count", enqueued)
	}
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case task, ok := <-s.taskQueue:
			if !ok {
				return
			}
			s.executeTask(id, task)

		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) executeTask(workerID int, task TaskInterface) {
	task.Start()

	taskCtx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()

	err := task.Execute(taskCtx)

	if err != nil {
		slog.Error("Worker task execution failed", "worker_id", workerID, "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", err)

		if task.CanRetry() {
			task.IncrementRetryCount()
			retryDelay := time.Duration(1<<uint(task.GetRetryCount()-1)) * time.Second
			if retryDelay > 30*time.Second {
				retryDelay = 30 * time.Second
			}

			slog.Warn("Task retry scheduled", "type", string(task.GetType()), "source", task.GetSource(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "delay", retryDelay.String())

			go func() {
				time.Sleep(retryDelay)
				select {
				case <-s.ctx.Done():
					slog.Debug("Scheduler stopped, skipping task retry", "type", string(task.GetType()), "id", task.GetID())
					return
				default:
					if retryErr := s.EnqueueTask(task); retryErr != nil {
						slog.Error("Failed to re-enqueue task for retry", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "error", retryErr)
					}
				}
			}()
		} else {
			slog.Error("Task failed after maximum retries", "type", string(task.GetType()), "id", task.GetID(), "retry_count", task.GetRetryCount(), "max_retries", task.GetMaxRetries(), "last_error", err)
		}
	}
}
