// Package worker implements the consumer pool (C3) that drains the
// bounded queue and drives each message through the delivery channels
// in priority order, with retry-with-backoff and dead-lettering on
// exhaustion. The lifecycle (fixed goroutine pool, stop channel,
// WaitGroup-gated shutdown, periodic metrics log) is carried over from
// the original worker pool's Start/Stop/metricsLogger shape.
package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
	"otp-gateway/internal/queue"
)

// dequeueWait bounds how long a worker blocks per poll, keeping
// shutdown responsive even with an empty queue.
const dequeueWait = 200 * time.Millisecond

// Channel is a delivery capability a worker can attempt in sequence.
// It never returns an error value to the caller — per-attempt failures
// are recorded as last_error and the worker simply moves to the next
// channel.
type Channel interface {
	Name() string
	Send(ctx context.Context, msg *message.Message) bool
}

// DeadLetterSink receives messages that exhausted every delivery
// attempt and every retry.
type DeadLetterSink interface {
	Capture(msg *message.Message, reason string) error
}

// TransitionRecorder observes every status change a message passes
// through, for the audit trail. It must never block or fail delivery —
// implementations are expected to log and swallow their own errors.
type TransitionRecorder interface {
	RecordTransition(ctx context.Context, smsID string, from, to message.Status, nodeID string)
}

// Config configures a Pool.
type Config struct {
	Concurrency  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	RequeueWait  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.RequeueWait <= 0 {
		c.RequeueWait = 5 * time.Second
	}
	return c
}

// Pool drains a queue.Queue with a fixed set of goroutines, each
// trying the registered primary channels in order, falling back, and
// dead-lettering on total exhaustion.
type Pool struct {
	cfg       Config
	q         *queue.Queue
	primaries []Channel
	fallback  Channel
	dlo       DeadLetterSink
	audit     TransitionRecorder
	logger    *zap.Logger
	metrics   *observability.Metrics

	wg   sync.WaitGroup
	stop chan struct{}

	mu        sync.Mutex
	processed int64
	failed    int64
	deadLett  int64
}

// New builds a Pool. primaries are tried in order for every message;
// fallback is tried only if every primary fails.
func New(cfg Config, q *queue.Queue, primaries []Channel, fallback Channel, dlo DeadLetterSink, logger *zap.Logger, metrics *observability.Metrics) *Pool {
	return &Pool{
		cfg:       cfg.withDefaults(),
		q:         q,
		primaries: primaries,
		fallback:  fallback,
		dlo:       dlo,
		logger:    logger,
		metrics:   metrics,
		stop:      make(chan struct{}),
	}
}

// SetAuditRecorder wires an optional audit sink that observes every
// status transition. Safe to call before Start; nil disables recording.
func (p *Pool) SetAuditRecorder(r TransitionRecorder) {
	p.audit = r
}

// recordTransition is a no-op when no audit sink is configured.
func (p *Pool) recordTransition(ctx context.Context, msg *message.Message, from, to message.Status) {
	if p.audit == nil {
		return
	}
	p.audit.RecordTransition(ctx, msg.SMSID, from, to, msg.NodeID)
}

// Start launches the worker goroutines and a periodic metrics logger.
func (p *Pool) Start(ctx context.Context) {
	if p.logger != nil {
		p.logger.Info("worker pool starting", zap.Int("concurrency", p.cfg.Concurrency))
	}

	for i := 0; i < p.cfg.Concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	p.wg.Add(1)
	go p.metricsLogger(ctx)
}

// Stop signals every worker to exit and waits up to drainTimeout for
// in-flight work to finish.
func (p *Pool) Stop(drainTimeout time.Duration) {
	if p.logger != nil {
		p.logger.Info("worker pool stopping")
	}
	close(p.stop)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.logger != nil {
			p.logger.Info("worker pool stopped gracefully")
		}
	case <-time.After(drainTimeout):
		if p.logger != nil {
			p.logger.Warn("worker pool drain timeout reached")
		}
	}
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Processed    int64
	Failed       int64
	DeadLettered int64
}

// Stats returns a snapshot of delivery counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Processed: p.processed, Failed: p.failed, DeadLettered: p.deadLett}
}

func (p *Pool) run(ctx context.Context, workerID int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		msg, ok := p.q.Dequeue(dequeueWait)
		if !ok {
			continue
		}

		p.process(ctx, msg, workerID)
	}
}

func (p *Pool) process(ctx context.Context, msg *message.Message, workerID int) {
	prev := msg.Status
	msg.Status = message.StatusProcessing
	p.recordTransition(ctx, msg, prev, msg.Status)

	if p.deliver(ctx, msg) {
		p.recordTransition(ctx, msg, msg.Status, message.StatusDelivered)
		msg.Status = message.StatusDelivered
		p.mu.Lock()
		p.processed++
		p.mu.Unlock()
		if p.logger != nil {
			p.logger.Info("message delivered",
				zap.String("sms_id", msg.SMSID),
				zap.Int("worker_id", workerID))
		}
		if p.metrics != nil {
			p.metrics.DeliveredTotal.Inc()
		}
		return
	}

	p.handleFailure(ctx, msg, workerID)
}

// deliver tries every primary channel in order, then the fallback.
// Each attempt's failure is recorded on the message without ever
// logging its body.
func (p *Pool) deliver(ctx context.Context, msg *message.Message) bool {
	for _, ch := range p.primaries {
		if ch.Send(ctx, msg) {
			return true
		}
		msg.LastError = ch.Name() + ": delivery failed"
	}

	if p.fallback != nil {
		if p.fallback.Send(ctx, msg) {
			return true
		}
		msg.LastError = p.fallback.Name() + ": delivery failed"
	}

	return false
}

// handleFailure either schedules a retry with exponential backoff or,
// once retries are exhausted, routes the message to the dead-letter
// sink.
func (p *Pool) handleFailure(ctx context.Context, msg *message.Message, workerID int) {
	msg.RetryCount++

	p.mu.Lock()
	p.failed++
	p.mu.Unlock()
	if p.metrics != nil {
		p.metrics.FailedTotal.Inc()
	}

	if !msg.IsRetriable() {
		p.recordTransition(ctx, msg, msg.Status, message.StatusDeadLettered)
		msg.Status = message.StatusDeadLettered
		p.mu.Lock()
		p.deadLett++
		p.mu.Unlock()
		if p.metrics != nil {
			p.metrics.DeadLetteredTotal.Inc()
		}
		if p.logger != nil {
			p.logger.Error("message exhausted retries — dead-lettering",
				zap.String("sms_id", msg.SMSID),
				zap.Int("retry_count", msg.RetryCount),
				zap.Int("worker_id", workerID))
		}
		if p.dlo != nil {
			if err := p.dlo.Capture(msg, msg.LastError); err != nil && p.logger != nil {
				p.logger.Error("dead-letter capture failed", zap.String("sms_id", msg.SMSID), zap.Error(err))
			}
		}
		return
	}

	p.recordTransition(ctx, msg, msg.Status, message.StatusFailed)
	msg.Status = message.StatusFailed
	backoff := p.backoffFor(msg.RetryCount)

	if p.logger != nil {
		p.logger.Warn("message delivery failed — scheduling retry",
			zap.String("sms_id", msg.SMSID),
			zap.Int("retry_count", msg.RetryCount),
			zap.Duration("backoff", backoff))
	}
	if p.metrics != nil {
		p.metrics.RetriesTotal.Inc()
	}

	go p.scheduleRetry(ctx, msg, backoff)
}

func (p *Pool) scheduleRetry(ctx context.Context, msg *message.Message, backoff time.Duration) {
	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return
	case <-p.stop:
		return
	}

	p.recordTransition(ctx, msg, msg.Status, message.StatusQueued)
	msg.Status = message.StatusQueued
	if err := p.q.Enqueue(msg, p.cfg.RequeueWait); err != nil && p.logger != nil {
		p.logger.Error("retry re-enqueue failed", zap.String("sms_id", msg.SMSID), zap.Error(err))
	}
}

// backoffFor implements min(2^retry_count, max_backoff) seconds.
func (p *Pool) backoffFor(retryCount int) time.Duration {
	backoff := p.cfg.BaseBackoff * (1 << uint(retryCount))
	if backoff > p.cfg.MaxBackoff || backoff <= 0 {
		return p.cfg.MaxBackoff
	}
	return backoff
}

func (p *Pool) metricsLogger(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := p.Stats()
			if p.logger != nil {
				p.logger.Info("worker pool stats",
					zap.Int64("processed", stats.Processed),
					zap.Int64("failed", stats.Failed),
					zap.Int64("dead_lettered", stats.DeadLettered),
					zap.Int("queue_depth", p.q.Depth()))
			}
		}
	}
}
