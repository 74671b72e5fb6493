package bus

import "context"

// MessageBus routes dispatch jobs from the request path to the worker pool.
// It is a bounded in-process queue: publishing never blocks, consuming blocks
// until a job arrives or the context is cancelled.
type MessageBus struct {
	dispatch chan DispatchJob
}

// New creates a bus with the given queue capacity.
func New(capacity int) *MessageBus {
	if capacity <= 0 {
		capacity = 64
	}
	return &MessageBus{
		dispatch: make(chan DispatchJob, capacity),
	}
}

// PublishDispatch enqueues a job. Returns false when the queue is full so the
// caller can release its claim instead of blocking the request path.
func (b *MessageBus) PublishDispatch(job DispatchJob) bool {
	select {
	case b.dispatch <- job:
		return true
	default:
		return false
	}
}

// ConsumeDispatch blocks until a job is available. The second return value is
// false when the context is done.
func (b *MessageBus) ConsumeDispatch(ctx context.Context) (DispatchJob, bool) {
	select {
	case job := <-b.dispatch:
		return job, true
	case <-ctx.Done():
		return DispatchJob{}, false
	}
}

// Pending returns the number of queued jobs.
func (b *MessageBus) Pending() int {
	return len(b.dispatch)
}
