package staging

import (
	"sync"
	"sync/atomic"

	"github.com/yeti47/crop-exporter/frames"
	"github.com/yeti47/crop-exporter/metrics"
)

// DefaultQueueCapacity is the number of records held before the oldest is evicted
const DefaultQueueCapacity = 10

// Queue is a fixed-capacity FIFO of records with drop-oldest overflow.
//
// Enqueue never blocks: at capacity the oldest resident record is evicted to
// make room. Dequeue blocks until a record arrives or the queue is closed.
// Records are kept in a ring so eviction is O(1).
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []*frames.Record
	head   int
	size   int
	closed bool

	dropped   atomic.Uint64
	discarded atomic.Uint64
	metrics   *metrics.Pipeline
}

// NewQueue creates a queue holding at most capacity records.
// A non-positive capacity falls back to DefaultQueueCapacity.
func NewQueue(capacity int, m *metrics.Pipeline) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if m == nil {
		m = metrics.Discard()
	}
	q := &Queue{
		ring:    make([]*frames.Record, capacity),
		metrics: m,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends a record, evicting the oldest one when the queue is full.
// Records offered to a closed queue are discarded.
func (q *Queue) Enqueue(record *frames.Record) {
	q.mu.Lock()

	if q.closed {
		q.mu.Unlock()
		q.discarded.Add(1)
		q.metrics.Discarded.Inc()
		return
	}

	if q.size == len(q.ring) {
		// evict oldest
		q.ring[q.head] = nil
		q.head = (q.head + 1) % len(q.ring)
		q.size--
		q.dropped.Add(1)
		q.metrics.Dropped.Inc()
	}

	q.ring[(q.head+q.size)%len(q.ring)] = record
	q.size++
	depth := q.size

	q.cond.Signal()
	q.mu.Unlock()

	q.metrics.Enqueued.Inc()
	q.metrics.QueueDepth.Set(float64(depth))
}

// Dequeue blocks until a record is available or the queue is closed.
// ok is false once the queue is closed; resident records are left for Discard.
func (q *Queue) Dequeue() (record *frames.Record, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return nil, false
	}

	record = q.ring[q.head]
	q.ring[q.head] = nil
	q.head = (q.head + 1) % len(q.ring)
	q.size--
	q.metrics.QueueDepth.Set(float64(q.size))

	return record, true
}

// Close raises the shutdown signal and wakes every blocked consumer
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Reopen clears the shutdown signal so a stopped pipeline can start again
func (q *Queue) Reopen() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// Discard drops every resident record and returns how many were dropped
func (q *Queue) Discard() int {
	q.mu.Lock()
	n := q.size
	for i := range q.ring {
		q.ring[i] = nil
	}
	q.head = 0
	q.size = 0
	q.mu.Unlock()

	q.discarded.Add(uint64(n))
	q.metrics.Discarded.Add(float64(n))
	q.metrics.QueueDepth.Set(0)
	return n
}

// Snapshot returns the resident records in FIFO order
func (q *Queue) Snapshot() []*frames.Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*frames.Record, 0, q.size)
	for i := 0; i < q.size; i++ {
		out = append(out, q.ring[(q.head+i)%len(q.ring)])
	}
	return out
}

// Len returns the number of resident records
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Capacity returns the maximum number of resident records
func (q *Queue) Capacity() int {
	return len(q.ring)
}

// Dropped returns how many records were evicted by overflow
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}

// Discarded returns how many records were thrown away by shutdown
func (q *Queue) Discarded() uint64 {
	return q.discarded.Load()
}
