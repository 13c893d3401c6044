package gojob

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

const DedupPolicyDrop job.DeduplicationPolicy = "drop"

// MemoryQueue is an in-process go-job queue. Messages enqueued with the drop
// dedup policy are ignored while a message with the same idempotency key is
// pending or in flight.
type MemoryQueue struct {
	mu       sync.Mutex
	ready    []*job.ExecutionMessage
	inflight map[string]struct{}
	dead     []*job.ExecutionMessage
	notify   chan struct{}
	closed   bool
	logger   job.Logger
}

type MemoryQueueOption func(*MemoryQueue)

// WithQueueLogger reports dead lettered messages.
func WithQueueLogger(logger job.Logger) MemoryQueueOption {
	return func(q *MemoryQueue) {
		q.logger = logger
	}
}

func NewMemoryQueue(opts ...MemoryQueueOption) *MemoryQueue {
	q := &MemoryQueue{
		inflight: map[string]struct{}{},
		notify:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(q)
		}
	}
	return q
}

func (q *MemoryQueue) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return fmt.Errorf("gojob: execution message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("gojob: queue is closed")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && msg.DedupPolicy == DedupPolicyDrop {
		if _, ok := q.inflight[key]; ok {
			return nil
		}
		q.inflight[key] = struct{}{}
	}
	q.ready = append(q.ready, msg)
	q.signal()
	return nil
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (queue.Delivery, error) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			msg := q.ready[0]
			q.ready = q.ready[1:]
			if len(q.ready) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return &memoryDelivery{queue: q, msg: msg}, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("gojob: queue is closed")
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports the number of messages waiting to be dequeued.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *MemoryQueue) DeadLetters() []*job.ExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*job.ExecutionMessage(nil), q.dead...)
}

func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.signal()
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryQueue) release(msg *job.ExecutionMessage) {
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		delete(q.inflight, key)
	}
}

func (q *MemoryQueue) requeue(msg *job.ExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.release(msg)
		return
	}
	q.ready = append(q.ready, msg)
	q.signal()
}

type memoryDelivery struct {
	queue *MemoryQueue
	msg   *job.ExecutionMessage
	once  sync.Once
}

func (d *memoryDelivery) Message() *job.ExecutionMessage {
	return d.msg
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.once.Do(func() {
		d.queue.mu.Lock()
		defer d.queue.mu.Unlock()
		d.queue.release(d.msg)
	})
	return nil
}

func (d *memoryDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	d.once.Do(func() {
		switch {
		case opts.Requeue:
			if opts.Delay > 0 {
				time.AfterFunc(opts.Delay, func() { d.queue.requeue(d.msg) })
				return
			}
			d.queue.requeue(d.msg)
		default:
			d.queue.mu.Lock()
			defer d.queue.mu.Unlock()
			d.queue.release(d.msg)
			if opts.DeadLetter {
				d.queue.dead = append(d.queue.dead, d.msg)
				if d.queue.logger != nil {
					d.queue.logger.Info("job dead lettered", "job_id", d.msg.JobID, "reason", opts.Reason)
				}
			}
		}
	})
	return nil
}

var (
	_ queue.Enqueuer = (*MemoryQueue)(nil)
	_ queue.Dequeuer = (*MemoryQueue)(nil)
	_ queue.Delivery = (*memoryDelivery)(nil)
)
