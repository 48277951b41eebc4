package chatbot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}

func TestSendUnconfiguredReturnsFalse(t *testing.T) {
	d := New(Config{}, nil, newTestMetrics())
	msg := message.New("a", "s", "b", "t", "n", message.PriorityNormal, 5)

	if d.Send(context.Background(), msg) {
		t.Fatal("expected unconfigured dispatcher to fail immediately")
	}
}

func TestSendSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{APIBase: srv.URL, BotToken: "tok", ChatID: "123", BaseBackoff: time.Millisecond}, nil, newTestMetrics())
	defer d.Close()

	msg := message.New("a", "s", "b", "t", "n", message.PriorityNormal, 5)
	if !d.Send(context.Background(), msg) {
		t.Fatal("expected success")
	}
}

func TestSendRetriesOn429ThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"parameters": map[string]int{"retry_after": 0},
			})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := New(Config{APIBase: srv.URL, BotToken: "tok", ChatID: "123", BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, nil, newTestMetrics())
	defer d.Close()

	msg := message.New("a", "s", "b", "t", "n", message.PriorityNormal, 5)
	if !d.Send(context.Background(), msg) {
		t.Fatal("expected eventual success after 429")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestSendFailsAfterExhaustingRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	d := New(Config{APIBase: srv.URL, BotToken: "tok", ChatID: "123", MaxRetries: 2, BaseBackoff: time.Millisecond}, nil, newTestMetrics())
	defer d.Close()

	msg := message.New("a", "s", "b", "t", "n", message.PriorityNormal, 5)
	if d.Send(context.Background(), msg) {
		t.Fatal("expected failure after exhausting retries")
	}
}

func TestFormatMessageContainsBodyAndSender(t *testing.T) {
	d := New(Config{BotToken: "t", ChatID: "c"}, nil, newTestMetrics())
	msg := message.New("id-1", "+15551234", "one time code 555", "2026-01-01T00:00:00Z", "node-1", message.PriorityHigh, 5)

	text := d.formatMessage(msg)
	if !strings.Contains(text, "+15551234") || !strings.Contains(text, "one time code 555") {
		t.Errorf("formatted message missing expected fields: %q", text)
	}
}
