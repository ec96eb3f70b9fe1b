// Package queue provides the bounded in-memory FIFO buffer that feeds
// transcode jobs to the worker pool.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/rcoury/transcodarr/internal/models"
)

var (
	// ErrQueueFull is returned when the queue is at capacity.
	ErrQueueFull = errors.New("queue is full")
	// ErrQueueClosed is returned once the queue has been shut down.
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue is a bounded FIFO buffer of job IDs. Enqueue never blocks; when the
// buffer is at capacity it fails fast so callers can reject the submission.
// Removing a cancelled entry frees its slot right away; the pending map also
// covers the race where a worker dequeues an entry as it is being removed.
type Queue struct {
	ch chan models.ULID

	mu      sync.Mutex
	pending map[models.ULID]struct{}
	closed  bool
}

// New creates a queue holding at most capacity jobs.
func New(capacity int) *Queue {
	return &Queue{
		ch:      make(chan models.ULID, capacity),
		pending: make(map[models.ULID]struct{}, capacity),
	}
}

// Enqueue adds a job ID to the tail of the queue. Returns ErrQueueFull when
// at capacity and ErrQueueClosed after Close.
func (q *Queue) Enqueue(id models.ULID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.ch <- id:
		q.pending[id] = struct{}{}
		return nil
	default:
		return ErrQueueFull
	}
}

// Dequeue blocks until a job ID is available, the context is cancelled, or
// the queue is closed and drained. Entries removed via Remove are skipped.
func (q *Queue) Dequeue(ctx context.Context) (models.ULID, error) {
	for {
		select {
		case <-ctx.Done():
			return models.ULID{}, ctx.Err()
		case id, ok := <-q.ch:
			if !ok {
				return models.ULID{}, ErrQueueClosed
			}
			q.mu.Lock()
			_, live := q.pending[id]
			delete(q.pending, id)
			q.mu.Unlock()
			if !live {
				continue
			}
			return id, nil
		}
	}
}

// Remove drops a still-queued job ID from the queue. Returns false when the
// ID is not currently queued. The buffer is compacted so the freed slot is
// admissible to Enqueue immediately.
func (q *Queue) Remove(id models.ULID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.pending[id]; !ok {
		return false
	}
	delete(q.pending, id)

	if q.closed {
		// Dequeue drains the closed buffer and skips the dead entry.
		return true
	}

	// Rebuild the buffer without the removed entry. Entries a worker grabbed
	// concurrently are simply absent from the drain; order is preserved for
	// the rest.
	kept := make([]models.ULID, 0, len(q.ch))
	for {
		select {
		case queued := <-q.ch:
			if _, live := q.pending[queued]; live {
				kept = append(kept, queued)
			}
			continue
		default:
		}
		break
	}
	for _, queued := range kept {
		q.ch <- queued
	}
	return true
}

// Depth returns the number of jobs currently waiting.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Capacity returns the maximum number of jobs the queue can hold.
func (q *Queue) Capacity() int {
	return cap(q.ch)
}

// Close stops accepting new jobs. Queued entries remain available to
// Dequeue until drained; after that Dequeue returns ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
