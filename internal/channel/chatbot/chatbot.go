// Package chatbot implements the primary delivery channel (C4): a
// rate-limited HTTP sender against a chat-bot transport's Bot API. The
// wire format and throttle discipline are carried over unchanged from
// the Python original's telegram_dispatcher.py.
package chatbot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

const defaultAPIBase = "https://api.telegram.org"

// Config configures a Dispatcher.
type Config struct {
	APIBase     string
	BotToken    string
	ChatID      string
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (c Config) withDefaults() Config {
	if c.APIBase == "" {
		c.APIBase = defaultAPIBase
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	return c
}

// Dispatcher sends messages via the chat-bot HTTP API, honoring both
// client-side pacing (30 req/s cap) and server-signalled 429 back-off.
type Dispatcher struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics

	client *http.Client

	mu           sync.Mutex
	lastSendTime time.Time
	minInterval  time.Duration
}

// New builds a Dispatcher. If BotToken or ChatID is empty, Send always
// returns false immediately without touching the network.
func New(cfg Config, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	cfg = cfg.withDefaults()
	return &Dispatcher{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxConnsPerHost:     10,
				MaxIdleConnsPerHost: 5,
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
			},
		},
		minInterval: time.Second / 30,
	}
}

// Close releases the pooled HTTP client's connections. Idempotent.
func (d *Dispatcher) Close() {
	d.client.CloseIdleConnections()
}

// Send attempts to deliver msg, retrying on transient failure and
// 429 responses up to MaxRetries total attempts.
func (d *Dispatcher) Send(ctx context.Context, msg *message.Message) bool {
	if d.cfg.BotToken == "" || d.cfg.ChatID == "" {
		if d.logger != nil {
			d.logger.Error("chatbot: not configured — missing bot token or chat id")
		}
		return false
	}

	text := d.formatMessage(msg)
	url := fmt.Sprintf("%s/bot%s/sendMessage", d.cfg.APIBase, d.cfg.BotToken)

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		d.throttle()

		ok, rateLimited, retryAfter, err := d.attempt(ctx, url, text)
		if ok {
			if d.metrics != nil {
				d.metrics.ChatbotSentTotal.Inc()
			}
			if d.logger != nil {
				d.logger.Info("chatbot: delivered", zap.String("sms_id", msg.SMSID), zap.Int("attempt", attempt+1))
			}
			return true
		}

		if rateLimited {
			if d.metrics != nil {
				d.metrics.ChatbotRateLimitedTotal.Inc()
			}
			backoff := maxDuration(retryAfter, d.backoffFor(attempt))
			if d.logger != nil {
				d.logger.Warn("chatbot: rate limited",
					zap.String("sms_id", msg.SMSID),
					zap.Duration("backoff", backoff),
					zap.Int("attempt", attempt+1))
			}
			sleep(ctx, backoff)
			continue
		}

		if d.metrics != nil {
			d.metrics.ChatbotErrorsTotal.Inc()
		}
		if d.logger != nil {
			d.logger.Error("chatbot: send failed",
				zap.String("sms_id", msg.SMSID),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}

		if attempt < d.cfg.MaxRetries-1 {
			sleep(ctx, d.backoffFor(attempt))
		}
	}

	if d.logger != nil {
		d.logger.Error("chatbot: all retries exhausted", zap.String("sms_id", msg.SMSID))
	}
	return false
}

// attempt performs a single HTTP POST and classifies the outcome.
func (d *Dispatcher) attempt(ctx context.Context, url, text string) (ok, rateLimited bool, retryAfter time.Duration, err error) {
	body, marshalErr := json.Marshal(map[string]any{
		"chat_id":                  d.cfg.ChatID,
		"text":                     text,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	if marshalErr != nil {
		return false, false, 0, marshalErr
	}

	req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if reqErr != nil {
		return false, false, 0, reqErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, doErr := d.client.Do(req)
	if doErr != nil {
		return false, false, 0, doErr
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, false, 0, nil
	case http.StatusTooManyRequests:
		return false, true, parseRetryAfter(resp.Body), nil
	default:
		data, _ := io.ReadAll(resp.Body)
		return false, false, 0, fmt.Errorf("chatbot: unexpected status %d: %s", resp.StatusCode, string(data))
	}
}

type retryAfterPayload struct {
	Parameters struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

func parseRetryAfter(r io.Reader) time.Duration {
	var payload retryAfterPayload
	_ = json.NewDecoder(r).Decode(&payload)
	return time.Duration(payload.Parameters.RetryAfter) * time.Second
}

func (d *Dispatcher) backoffFor(attempt int) time.Duration {
	backoff := d.cfg.BaseBackoff * (1 << attempt)
	if backoff > d.cfg.MaxBackoff {
		return d.cfg.MaxBackoff
	}
	return backoff
}

// throttle enforces the minimum interval between sends (30 req/s cap).
func (d *Dispatcher) throttle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	elapsed := time.Since(d.lastSendTime)
	if elapsed < d.minInterval {
		time.Sleep(d.minInterval - elapsed)
	}
	d.lastSendTime = time.Now()
}

func (d *Dispatcher) formatMessage(msg *message.Message) string {
	return fmt.Sprintf(
		"<b>Gateway Alert</b>\n\n<b>From:</b> <code>%s</code>\n<b>Time:</b> %s\n<b>Node:</b> %s\n\n<b>Message:</b>\n<code>%s</code>\n\n<i>ID: %s</i>",
		msg.Sender, msg.Timestamp, msg.NodeID, msg.Body, msg.SMSID,
	)
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// sleep is a cancellable backoff wait — cancelled on shutdown rather
// than left to run to completion.
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
