// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/llmtap/lib/capture"
	"github.com/bureau-foundation/llmtap/lib/config"
)

// ErrQueueClosed is returned by [Queue.Push] after [Queue.Close].
var ErrQueueClosed = errors.New("intercept: queue closed")

// Queue is a FIFO of capture events bounded by event count and by
// total event size. It sits between the tee points (any number of
// producers) and one consumer.
//
// When a push does not fit, the policy decides: [config.DropOldest]
// evicts from the head until it fits and counts each eviction;
// [config.Block] waits until the consumer makes room. An event larger
// than the byte bound on its own is admitted once the queue is empty.
//
// The notify channel (capacity 1) signals the consumer when events
// are available. The consumer selects on Notify() alongside Done().
//
// Thread-safe: all methods may be called concurrently.
type Queue struct {
	mu        sync.Mutex
	entries   []queueEntry
	totalSize int
	capacity  int
	maxSize   int
	policy    config.QueuePolicy
	dropped   int64
	closed    bool

	notify chan struct{}
	done   chan struct{}

	// room is closed and replaced whenever entries leave the queue,
	// waking every blocked producer.
	room chan struct{}
}

// queueEntry is one event with its size cached for O(1) accounting.
type queueEntry struct {
	event capture.Event
	size  int
}

// NewQueue creates a Queue. Capacity and maxSize must be positive.
func NewQueue(capacity, maxSize int, policy config.QueuePolicy) *Queue {
	if capacity <= 0 {
		panic(fmt.Sprintf("intercept: queue capacity must be positive, got %d", capacity))
	}
	if maxSize <= 0 {
		panic(fmt.Sprintf("intercept: queue maxSize must be positive, got %d", maxSize))
	}
	if policy == "" {
		policy = config.DropOldest
	}
	return &Queue{
		capacity: capacity,
		maxSize:  maxSize,
		policy:   policy,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		room:     make(chan struct{}),
	}
}

// Policy returns the backpressure policy.
func (q *Queue) Policy() config.QueuePolicy {
	return q.policy
}

// Push appends an event. Under the block policy Push waits for room
// until ctx is done or the queue is closed; ctx is ignored under
// drop-oldest. An event pushed after Close is counted as dropped.
func (q *Queue) Push(ctx context.Context, event capture.Event) error {
	size := event.Size()

	q.mu.Lock()
	for {
		if q.closed {
			q.dropped++
			q.mu.Unlock()
			return ErrQueueClosed
		}
		if q.fits(size) {
			break
		}
		if q.policy != config.Block {
			q.evictOldest()
			continue
		}

		room := q.room
		q.mu.Unlock()
		select {
		case <-room:
		case <-q.done:
		case <-ctx.Done():
			q.mu.Lock()
			q.dropped++
			q.mu.Unlock()
			return ctx.Err()
		}
		q.mu.Lock()
	}

	q.entries = append(q.entries, queueEntry{event: event, size: size})
	q.totalSize += size
	q.mu.Unlock()

	// Non-blocking signal to the consumer.
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// fits reports whether an entry of the given size can be appended.
// Caller holds mu.
func (q *Queue) fits(size int) bool {
	if len(q.entries) == 0 {
		return true
	}
	return len(q.entries) < q.capacity && q.totalSize+size <= q.maxSize
}

// evictOldest drops the head entry. Caller holds mu.
func (q *Queue) evictOldest() {
	q.removeHead()
	q.dropped++
}

// removeHead pops the head entry and wakes blocked producers. Caller
// holds mu and has checked the queue is non-empty.
func (q *Queue) removeHead() capture.Event {
	head := q.entries[0]
	q.entries[0] = queueEntry{} // release data for GC
	q.entries = q.entries[1:]
	q.totalSize -= head.size

	close(q.room)
	q.room = make(chan struct{})
	return head.event
}

// Pop removes and returns the oldest event. The second return is false
// when the queue is empty.
func (q *Queue) Pop() (capture.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return capture.Event{}, false
	}
	return q.removeHead(), true
}

// Close stops the queue accepting events and releases blocked
// producers. Queued events stay poppable. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// SizeBytes returns the total size of queued events.
func (q *Queue) SizeBytes() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.totalSize
}

// Dropped returns the number of events lost since creation: evicted,
// given up on by a blocked producer, or pushed after Close.
func (q *Queue) Dropped() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Notify returns a channel that receives a signal (at most once per
// Push) when events are available.
func (q *Queue) Notify() <-chan struct{} {
	return q.notify
}

// Done returns a channel closed by Close.
func (q *Queue) Done() <-chan struct{} {
	return q.done
}
