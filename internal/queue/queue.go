// Package queue carries transcode jobs from the upload path to the worker
// fleet. Delivery is at-least-once: a job stays pending until the consumer
// acknowledges it, and unacknowledged jobs are redelivered.
package queue

import (
	"context"
	"errors"

	"github.com/coding-cat0-0/streaming-site/internal/models"
)

// ErrClosed is returned when operating on a closed queue.
var ErrClosed = errors.New("queue: closed")

// MaxAttempts is the retry ceiling. A job whose attempt counter reaches this
// value is not requeued again.
const MaxAttempts = 3

// Delivery is a job handed to a consumer together with its queue entry ID.
// The consumer must settle it with Ack or Requeue.
type Delivery struct {
	ID  string
	Job models.TranscodeJob
}

// Subscription is a consumer attached to the queue.
type Subscription interface {
	// Deliveries yields jobs as they become available. The channel closes
	// when the subscription is closed.
	Deliveries() <-chan Delivery

	// Ack settles the delivery permanently.
	Ack(ctx context.Context, delivery Delivery) error

	// Requeue settles the delivery and re-enqueues the job with its attempt
	// counter incremented.
	Requeue(ctx context.Context, delivery Delivery) error

	Close()
}

// Queue accepts transcode jobs and fans them out to subscribers.
type Queue interface {
	Enqueue(ctx context.Context, job models.TranscodeJob) error
	Subscribe() Subscription
	Close() error
}
