package tasks

// TaskSchedulerInterface defines the interface for task scheduling
// operations. The scheduler also acts as the asynchronous boundary for the
// WebSub manager (notification payloads) and the dispatcher (detection
// work): both enqueue instead of running inline.
type TaskSchedulerInterface interface {
	Start()
	Stop()
	EnqueueTask(task TaskInterface) error
	EnqueueNotification(topicURL string, body []byte) error
	EnqueueDetection(contentID string) error
}
