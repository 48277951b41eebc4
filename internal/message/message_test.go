package message

import "testing"

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in   string
		want Priority
	}{
		{"high", PriorityHigh},
		{"normal", PriorityNormal},
		{"low", PriorityLow},
		{"", PriorityNormal},
		{"urgent", PriorityNormal},
	}

	for _, tt := range tests {
		if got := ParsePriority(tt.in); got != tt.want {
			t.Errorf("ParsePriority(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewDefaultsMaxRetries(t *testing.T) {
	msg := New("", "+911234", "secret otp", "", "node-1", PriorityHigh, 0)
	if msg.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", msg.MaxRetries, DefaultMaxRetries)
	}
	if msg.SMSID == "" {
		t.Error("expected generated sms_id")
	}
	if msg.Status != StatusQueued {
		t.Errorf("Status = %q, want Queued", msg.Status)
	}
}

func TestIsRetriable(t *testing.T) {
	msg := New("id-1", "s", "b", "t", "n", PriorityNormal, 2)
	if !msg.IsRetriable() {
		t.Fatal("expected retriable at retry_count 0")
	}
	msg.RetryCount = 2
	if msg.IsRetriable() {
		t.Fatal("expected exhausted at retry_count == max_retries")
	}
}

func TestRedactedNeverLeaksBody(t *testing.T) {
	msg := New("id-1", "+911234", "the actual OTP code", "t", "n", PriorityNormal, 5)
	view := msg.Redacted()
	if view.Body != RedactedBody {
		t.Errorf("Redacted().Body = %q, want %q", view.Body, RedactedBody)
	}
}
