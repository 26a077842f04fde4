package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// MemoryQueue is an in-process job queue used by tests and single-process
// deployments. Jobs are competed for by subscribers; each delivery reaches
// exactly one of them.
type MemoryQueue struct {
	mu     sync.Mutex
	jobs   chan Delivery
	seq    atomic.Uint64
	closed bool
}

func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 128
	}
	return &MemoryQueue{jobs: make(chan Delivery, buffer)}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.TranscodeJob) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	delivery := Delivery{
		ID:  fmt.Sprintf("mem-%d", q.seq.Add(1)),
		Job: job,
	}
	select {
	case q.jobs <- delivery:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *MemoryQueue) Subscribe() Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &memorySubscription{
		queue:  q,
		cancel: cancel,
		ch:     make(chan Delivery),
	}
	go sub.run(ctx)
	return sub
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	close(q.jobs)
	return nil
}

type memorySubscription struct {
	queue  *MemoryQueue
	cancel context.CancelFunc

	once sync.Once
	ch   chan Delivery
}

func (s *memorySubscription) Deliveries() <-chan Delivery {
	return s.ch
}

func (s *memorySubscription) Ack(context.Context, Delivery) error {
	return nil
}

func (s *memorySubscription) Requeue(ctx context.Context, delivery Delivery) error {
	job := delivery.Job
	job.Attempt++
	return s.queue.Enqueue(ctx, job)
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.cancel()
	})
}

func (s *memorySubscription) run(ctx context.Context) {
	defer close(s.ch)
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-s.queue.jobs:
			if !ok {
				return
			}
			select {
			case s.ch <- delivery:
			case <-ctx.Done():
				// Hand the job back so another subscriber can take it.
				s.queue.mu.Lock()
				closed := s.queue.closed
				s.queue.mu.Unlock()
				if !closed {
					select {
					case s.queue.jobs <- delivery:
					default:
					}
				}
				return
			}
		}
	}
}

var _ Queue = (*MemoryQueue)(nil)
