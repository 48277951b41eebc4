package dlo

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

func newTestStore() *Store {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	return New(nil, 72, nil, metrics, nil)
}

func TestCaptureAndListAllRedactsBody(t *testing.T) {
	s := newTestStore()
	msg := message.New("a", "sender", "secret otp 1234", "t", "node-1", message.PriorityNormal, 3)
	msg.RetryCount = 3

	if err := s.Capture(msg, "all channels failed"); err != nil {
		t.Fatalf("Capture: %v", err)
	}

	views := s.ListAll()
	if len(views) != 1 {
		t.Fatalf("expected 1 dead letter, got %d", len(views))
	}
	if views[0].Body != message.RedactedBody {
		t.Errorf("ListAll leaked body: %q", views[0].Body)
	}
	if views[0].SMSID != "a" {
		t.Errorf("SMSID = %q, want a", views[0].SMSID)
	}
}

func TestGetReturnsRawBodyForRetry(t *testing.T) {
	s := newTestStore()
	msg := message.New("a", "sender", "secret otp 1234", "t", "node-1", message.PriorityNormal, 3)
	s.Capture(msg, "failed")

	dl, ok := s.Get("a")
	if !ok {
		t.Fatal("expected dead letter to be found")
	}
	if dl.Body != "secret otp 1234" {
		t.Errorf("Get() body = %q, want raw body for retry capability", dl.Body)
	}
}

func TestRetryRequeuesAndRemoves(t *testing.T) {
	s := newTestStore()
	msg := message.New("a", "sender", "body", "t", "node-1", message.PriorityNormal, 3)
	msg.RetryCount = 3
	s.Capture(msg, "failed")

	var requeued *message.Message
	ok := s.Retry(context.Background(), "a", func(ctx context.Context, m *message.Message) error {
		requeued = m
		return nil
	})
	if !ok {
		t.Fatal("expected retry to succeed")
	}
	if requeued == nil || requeued.RetryCount != 0 {
		t.Fatalf("expected requeued message with retry_count reset, got %+v", requeued)
	}

	if _, ok := s.Get("a"); ok {
		t.Error("expected dead letter to be removed after successful retry")
	}
}

func TestRetryUnknownIDFails(t *testing.T) {
	s := newTestStore()
	ok := s.Retry(context.Background(), "missing", func(ctx context.Context, m *message.Message) error {
		return nil
	})
	if ok {
		t.Fatal("expected retry of unknown id to fail")
	}
}

func TestPurgeExpiredRemovesOldEntriesOnly(t *testing.T) {
	s := newTestStore()
	s.ttl = time.Millisecond

	msg := message.New("old", "s", "b", "t", "n", message.PriorityNormal, 3)
	s.Capture(msg, "failed")

	time.Sleep(10 * time.Millisecond)

	fresh := message.New("new", "s", "b", "t", "n", message.PriorityNormal, 3)
	s.inMemory["new"] = DeadLetter{SMSID: fresh.SMSID, DeadLetteredAt: float64(nowUnix())}

	purged := s.PurgeExpired()
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	if _, ok := s.Get("new"); !ok {
		t.Error("fresh entry should survive purge")
	}
}

func TestPurgeAllClearsEverything(t *testing.T) {
	s := newTestStore()
	s.Capture(message.New("a", "s", "b", "t", "n", message.PriorityNormal, 3), "e1")
	s.Capture(message.New("b", "s", "b", "t", "n", message.PriorityNormal, 3), "e2")

	count := s.PurgeAll()
	if count != 2 {
		t.Fatalf("expected 2 purged, got %d", count)
	}
	if len(s.ListAll()) != 0 {
		t.Error("expected empty store after PurgeAll")
	}
}

func TestCaptureFiresAlertCallback(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	var alerted *DeadLetter
	s := New(nil, 72, nil, metrics, func(dl DeadLetter) {
		alerted = &dl
	})

	s.Capture(message.New("a", "s", "b", "t", "n", message.PriorityNormal, 3), "failed")

	if alerted == nil || alerted.SMSID != "a" {
		t.Fatal("expected alert callback to fire with captured dead letter")
	}
}
