package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"

	"otp-gateway/internal/config"
	"otp-gateway/internal/gateway"
	"otp-gateway/internal/observability"
)

// newTestGateway builds a fully in-memory Gateway: no Redis, NATS or
// Postgres URL is set, so every auxiliary component degrades exactly
// as gateway.New documents.
func newTestGateway(t *testing.T) (*gateway.Gateway, *fiber.App) {
	t.Helper()

	cfg := &config.Config{
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

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	gw, err := gateway.New(context.Background(), cfg, nil, metrics)
	if err != nil {
		t.Fatalf("gateway.New() error = %v", err)
	}

	handlers := NewHandlers(gw)
	app := fiber.New()
	SetupRoutes(app, handlers, nil)
	return gw, app
}

func TestHealthzAlwaysOK(t *testing.T) {
	_, app := newTestGateway(t)

	resp, err := app.Test(httptest.NewRequest("GET", "/healthz", nil))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestInboundSMSRejectsMissingSender(t *testing.T) {
	_, app := newTestGateway(t)

	body, _ := json.Marshal(inboundRequest{Body: "hello"})
	req := httptest.NewRequest("POST", "/api/sms/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestInboundSMSAccepted(t *testing.T) {
	_, app := newTestGateway(t)

	body, _ := json.Marshal(inboundRequest{Sender: "+911234567890", Body: "otp is 123456", NodeID: "node-1"})
	req := httptest.NewRequest("POST", "/api/sms/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestInboundSMSRejectsWhenQueueFull(t *testing.T) {
	// gw.Start is never called in this fixture, so nothing drains the
	// queue while it fills to max_size.
	_, app := newTestGateway(t)

	for i := 0; i < 10; i++ {
		body, _ := json.Marshal(inboundRequest{Sender: "+911234567890", Body: "x"})
		req := httptest.NewRequest("POST", "/api/sms/inbound", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if _, err := app.Test(req); err != nil {
			t.Fatal(err)
		}
	}

	body, _ := json.Marshal(inboundRequest{Sender: "+911234567890", Body: "overflow"})
	req := httptest.NewRequest("POST", "/api/sms/inbound", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, 2000)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Errorf("status = %d, want 429", resp.StatusCode)
	}
}

func TestTelemetryMergesMissingFields(t *testing.T) {
	gw, app := newTestGateway(t)

	first := telemetryRequest{NodeID: "node-1", BatteryMV: intPtr(3800), WifiRSSI: intPtr(-60)}
	body, _ := json.Marshal(first)
	req := httptest.NewRequest("POST", "/api/telemetry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req); err != nil {
		t.Fatal(err)
	}

	// Second update omits wifi_rssi — it must retain -60, not reset to 0.
	second := telemetryRequest{NodeID: "node-1", BatteryMV: intPtr(3900)}
	body, _ = json.Marshal(second)
	req = httptest.NewRequest("POST", "/api/telemetry", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if _, err := app.Test(req); err != nil {
		t.Fatal(err)
	}

	sample := gw.Telemetry.Snapshot()["node-1"]
	if sample.WifiRSSI != -60 {
		t.Errorf("WifiRSSI = %d, want -60 retained from the first update", sample.WifiRSSI)
	}
	if sample.BatteryMV != 3900 {
		t.Errorf("BatteryMV = %d, want 3900 from the second update", sample.BatteryMV)
	}

	req = httptest.NewRequest("GET", "/api/health", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRetryDLOReturns404WhenAbsent(t *testing.T) {
	_, app := newTestGateway(t)

	req := httptest.NewRequest("POST", "/api/dlo/unknown-id/retry", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestPurgeDLOEmpty(t *testing.T) {
	_, app := newTestGateway(t)

	req := httptest.NewRequest("DELETE", "/api/dlo", nil)
	resp, err := app.Test(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func intPtr(v int) *int { return &v }
