package bus

// Sync event topics.
const (
	TopicSyncStarted       = "sync.started"
	TopicSyncCompleted     = "sync.completed"
	TopicSyncSourceSkipped = "sync.source_skipped"
	TopicRecencyUpdated    = "recency.updated"
)

// Query offload pool topics.
const (
	TopicPoolReady           = "pool.ready"
	TopicPoolWorkerFailed    = "pool.worker_failed"
	TopicPoolWorkerRestarted = "pool.worker_restarted"
)

// SyncEvent is published on sync.started and sync.completed.
type SyncEvent struct {
	UserID   string
	Source   string
	Inserted int
	Updated  int
	Deleted  int
	Skipped  int
	Total    int
}

// SourceSkippedEvent is published when an unavailable source is skipped.
type SourceSkippedEvent struct {
	UserID string
	Source string
	Reason string
}

// RecencyEvent is published after an incremental recency update.
type RecencyEvent struct {
	UserID      string
	PhoneKey    string
	RowsTouched int
}
