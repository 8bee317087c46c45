package core

import "time"

// Redis queue keys and the default visibility timeout.
const (
	PendingQueueKey    = "pending_analysis"
	ProcessingQueueKey = "processing_analysis"
	// DefaultVisibilityTimeout bounds how long a worker may hold a task
	// before the reclaimer hands it to another worker. Analysis runs call
	// an external engine, so this is generous.
	DefaultVisibilityTimeout = 5 * time.Minute
)
