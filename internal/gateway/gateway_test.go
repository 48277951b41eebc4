package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"otp-gateway/internal/config"
	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		QueueMaxSize:               10,
		MaxRetryAttempts:           2,
		DLOTTLHours:                72,
		ConsumerConcurrency:        1,
		HealthCheckIntervalSeconds: 30,
		BatteryLowThreshold:        20,
		SignalLowThreshold:         -100,
		HeartbeatTimeoutSeconds:    120,
		AlertCooldownSeconds:       300,
		IngressBlockTimeout:        50 * time.Millisecond,
	}
}

// TestNewDegradesWithoutOptionalBackends verifies that a Gateway
// constructed with no Redis/NATS/Postgres URL configured still builds
// every component, running the DLO and audit trail in their
// degraded (in-memory / no-op) modes.
func TestNewDegradesWithoutOptionalBackends(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gw, err := New(context.Background(), testConfig(), nil, metrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if gw.Queue == nil || gw.Pool == nil || gw.DLO == nil || gw.Health == nil || gw.Incidents == nil {
		t.Fatal("expected every core component to be constructed")
	}
	if gw.Audit != nil {
		t.Error("Audit should be nil when no postgres url is configured")
	}
	if gw.Events != nil {
		t.Error("Events should be nil when no nats url is configured")
	}
}

// TestEnqueueAndDrain exercises the full in-process pipeline: enqueue
// through the Gateway, and confirm the worker pool picks it up and
// records an outcome in its stats (the test's chatbot channel has no bot
// token configured, so chatbot.Send will fail fast and fall through to
// the equally-unconfigured email fallback — the message is expected to
// eventually dead-letter, proving the whole chain is wired together).
func TestEnqueueAndDrain(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	gw, err := New(context.Background(), testConfig(), nil, metrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	gw.Start(ctx)
	defer func() {
		cancel()
		gw.Shutdown(time.Second)
	}()

	msg := message.New("", "+15551234567", "otp is 000000", "", "node-1", message.PriorityNormal, 1)
	if err := gw.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stats := gw.Pool.Stats()
		if stats.Failed > 0 || stats.DeadLettered > 0 || stats.Processed > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("message was never picked up by the worker pool")
}

// TestEnqueueRejectsWhenQueueFull confirms the ingress backpressure
// timeout is honored rather than blocking forever once the queue is at
// capacity (Start is not called here, so nothing drains it).
func TestEnqueueRejectsWhenQueueFull(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := testConfig()
	cfg.QueueMaxSize = 1
	gw, err := New(context.Background(), cfg, nil, metrics)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	first := message.New("", "+15551234567", "a", "", "node-1", message.PriorityNormal, 1)
	if err := gw.Enqueue(first); err != nil {
		t.Fatalf("first Enqueue() error = %v", err)
	}

	second := message.New("", "+15551234567", "b", "", "node-1", message.PriorityNormal, 1)
	start := time.Now()
	err = gw.Enqueue(second)
	if err == nil {
		t.Fatal("expected Enqueue to report the queue as full")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Enqueue blocked for %v, want roughly cfg.IngressBlockTimeout (%v)", elapsed, cfg.IngressBlockTimeout)
	}
}
