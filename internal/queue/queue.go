// Package queue implements the bounded, priority-aware buffer (C2) that
// sits between ingress and the worker pool. It is a mapping from
// priority to a FIFO-ordered sequence, bounded in total across all
// priorities, with backpressure on enqueue instead of silent drops.
package queue

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

// ErrFull is returned when enqueue's block_timeout elapses with no free
// slot.
var ErrFull = errors.New("queue: full")

// ErrClosed is returned when enqueue is attempted after close_and_drain
// has stopped accepting new work.
var ErrClosed = errors.New("queue: closed")

// pollTick bounds how finely Enqueue/Dequeue/close_and_drain re-check
// their condition. Short enough that shutdown stays responsive, matching
// the busy-wait-with-pause idiom used in worker/pool.go.
const pollTick = 5 * time.Millisecond

// priorityOrder is the explicit, stable priority ordering, encoded
// directly rather than relied on via declaration order.
var priorityOrder = []message.Priority{
	message.PriorityHigh,
	message.PriorityNormal,
	message.PriorityLow,
}

// Queue is a bounded multi-producer/multi-consumer priority buffer.
type Queue struct {
	mu      sync.Mutex
	lanes   map[message.Priority][]*message.Message
	maxSize int
	depth   int
	closed  bool

	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates a Queue bounded at maxSize total messages across all
// priority lanes.
func New(maxSize int, logger *zap.Logger, metrics *observability.Metrics) *Queue {
	return &Queue{
		lanes: map[message.Priority][]*message.Message{
			message.PriorityHigh:   nil,
			message.PriorityNormal: nil,
			message.PriorityLow:    nil,
		},
		maxSize: maxSize,
		logger:  logger,
		metrics: metrics,
	}
}

// Enqueue adds msg to its priority lane, blocking up to blockTimeout for
// a free slot. Producers wait rather than being silently dropped; only
// after the timeout elapses does this return ErrFull.
func (q *Queue) Enqueue(msg *message.Message, blockTimeout time.Duration) error {
	deadline := time.Now().Add(blockTimeout)

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.depth < q.maxSize {
			q.lanes[msg.Priority] = append(q.lanes[msg.Priority], msg)
			q.depth++
			depth := q.depth
			laneDepth := len(q.lanes[msg.Priority])
			q.mu.Unlock()

			if q.metrics != nil {
				q.metrics.EnqueuedTotal.Inc()
				q.metrics.QueueDepth.Set(float64(depth))
				q.metrics.QueueDepthByPriority.WithLabelValues(string(msg.Priority)).Set(float64(laneDepth))
			}
			if q.logger != nil {
				q.logger.Info("message enqueued",
					zap.String("sms_id", msg.SMSID),
					zap.String("priority", string(msg.Priority)),
					zap.Int("queue_depth", depth))
			}
			return nil
		}
		q.mu.Unlock()

		if time.Now().After(deadline) {
			if q.logger != nil {
				q.logger.Error("queue full — backpressure timeout", zap.String("sms_id", msg.SMSID))
			}
			return ErrFull
		}
		time.Sleep(nextTick(deadline))
	}
}

// Dequeue removes and returns the highest-priority, oldest-enqueued
// message, waiting up to wait for one to arrive. Within a priority lane,
// FIFO order is exact; across lanes, High always preempts Normal/Low for
// the next dequeue.
func (q *Queue) Dequeue(wait time.Duration) (*message.Message, bool) {
	deadline := time.Now().Add(wait)

	for {
		if msg, ok := q.tryDequeue(); ok {
			return msg, true
		}
		if time.Now().After(deadline) {
			return nil, false
		}
		time.Sleep(nextTick(deadline))
	}
}

func (q *Queue) tryDequeue() (*message.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, p := range priorityOrder {
		lane := q.lanes[p]
		if len(lane) == 0 {
			continue
		}
		msg := lane[0]
		q.lanes[p] = lane[1:]
		q.depth--

		if q.metrics != nil {
			q.metrics.QueueDepth.Set(float64(q.depth))
			q.metrics.QueueDepthByPriority.WithLabelValues(string(p)).Set(float64(len(q.lanes[p])))
		}
		return msg, true
	}
	return nil, false
}

// Depth returns the current total element count across all lanes.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

// MaxSize returns the configured bound.
func (q *Queue) MaxSize() int { return q.maxSize }

// LaneDepths is a point-in-time snapshot of per-priority-lane depth,
// for callers (the /api/metrics endpoint) that need the breakdown
// rather than just the aggregate total.
type LaneDepths struct {
	High    int
	Normal  int
	Low     int
	Total   int
	MaxSize int
}

// Metrics returns the current per-lane and aggregate depth.
func (q *Queue) Metrics() LaneDepths {
	q.mu.Lock()
	defer q.mu.Unlock()
	return LaneDepths{
		High:    len(q.lanes[message.PriorityHigh]),
		Normal:  len(q.lanes[message.PriorityNormal]),
		Low:     len(q.lanes[message.PriorityLow]),
		Total:   q.depth,
		MaxSize: q.maxSize,
	}
}

// CloseAndDrain stops accepting new enqueues and waits up to timeout for
// workers to drain what remains. It does not cancel in-flight workers —
// that is the worker pool's responsibility.
func (q *Queue) CloseAndDrain(timeout time.Duration) {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		if q.Depth() == 0 {
			return
		}
		if time.Now().After(deadline) {
			if q.logger != nil {
				q.logger.Warn("drain timeout reached", zap.Int("remaining", q.Depth()))
			}
			return
		}
		time.Sleep(nextTick(deadline))
	}
}

func nextTick(deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	if remaining < pollTick {
		if remaining <= 0 {
			return 0
		}
		return remaining
	}
	return pollTick
}
