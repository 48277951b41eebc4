// Package dlo implements the Dead Letter Office (C6): a persistent
// record of every message that exhausted all delivery retries, backed
// by Redis with an in-memory fallback when Redis is unreachable.
// Ported from the original gateway's dead_letter_office.py — a hash
// keyed by sms_id, with an aggregate TTL applied to the whole hash.
package dlo

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

// redisKey is the hash holding every dead letter, matching the
// original's DLO_REDIS_KEY constant.
const redisKey = "sms_gateway:dlo"

// DeadLetter is a message that exhausted all delivery attempts.
type DeadLetter struct {
	SMSID            string  `json:"sms_id"`
	Sender           string  `json:"sender"`
	Body             string  `json:"body"` // kept (possibly encrypted) for manual retry
	Timestamp        string  `json:"timestamp"`
	NodeID           string  `json:"node_id"`
	RetryCount       int     `json:"retry_count"`
	LastError        string  `json:"last_error"`
	DeadLetteredAt   float64 `json:"dead_lettered_at"`
	ManualRetryCount int     `json:"manual_retry_count"`
}

// View is the redacted, externally-safe projection of a DeadLetter —
// body is always the sentinel; the raw body never leaves the store.
type View struct {
	SMSID            string  `json:"sms_id"`
	Sender           string  `json:"sender"`
	Body             string  `json:"body"`
	Timestamp        string  `json:"timestamp"`
	NodeID           string  `json:"node_id"`
	RetryCount       int     `json:"retry_count"`
	LastError        string  `json:"last_error"`
	DeadLetteredAt   float64 `json:"dead_lettered_at"`
	ManualRetryCount int     `json:"manual_retry_count"`
}

// Redacted projects dl to its externally-safe View.
func (dl DeadLetter) Redacted() View {
	return View{
		SMSID:            dl.SMSID,
		Sender:           dl.Sender,
		Body:             message.RedactedBody,
		Timestamp:        dl.Timestamp,
		NodeID:           dl.NodeID,
		RetryCount:       dl.RetryCount,
		LastError:        dl.LastError,
		DeadLetteredAt:   dl.DeadLetteredAt,
		ManualRetryCount: dl.ManualRetryCount,
	}
}

// MarshalForStorage serializes dl including body, for Redis round-trip.
func (dl DeadLetter) MarshalForStorage() ([]byte, error) {
	return json.Marshal(dl)
}

// FromJSON reverses MarshalForStorage.
func FromJSON(data []byte) (DeadLetter, error) {
	var dl DeadLetter
	err := json.Unmarshal(data, &dl)
	return dl, err
}

// AlertFunc is called with every newly captured dead letter.
type AlertFunc func(dl DeadLetter)

// RequeueFunc re-injects a dead letter into the delivery pipeline as a
// fresh message with retry_count reset to zero.
type RequeueFunc func(ctx context.Context, msg *message.Message) error

// Store manages dead letter retention and recovery. Redis is the
// primary backend; an in-memory map is the fallback used whenever
// Redis is unset or a call against it fails.
type Store struct {
	redis   *redis.Client
	ttl     time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	onAlert AlertFunc

	mu       sync.Mutex
	inMemory map[string]DeadLetter
}

// New builds a Store. redisClient may be nil, in which case the store
// runs entirely in memory.
func New(redisClient *redis.Client, ttlHours int, logger *zap.Logger, metrics *observability.Metrics, onAlert AlertFunc) *Store {
	if ttlHours <= 0 {
		ttlHours = 72
	}
	return &Store{
		redis:    redisClient,
		ttl:      time.Duration(ttlHours) * time.Hour,
		logger:   logger,
		metrics:  metrics,
		onAlert:  onAlert,
		inMemory: make(map[string]DeadLetter),
	}
}

// Capture records msg as a dead letter and fires the alert callback.
func (s *Store) Capture(msg *message.Message, reason string) error {
	dl := DeadLetter{
		SMSID:          msg.SMSID,
		Sender:         msg.Sender,
		Body:           msg.Body,
		Timestamp:      msg.Timestamp,
		NodeID:         msg.NodeID,
		RetryCount:     msg.RetryCount,
		LastError:      reason,
		DeadLetteredAt: float64(nowUnix()),
	}

	ctx := context.Background()
	if s.redis != nil {
		data, err := dl.MarshalForStorage()
		if err == nil {
			if err := s.redis.HSet(ctx, redisKey, dl.SMSID, data).Err(); err == nil {
				s.redis.Expire(ctx, redisKey, s.ttl)
				s.afterCapture(dl)
				return nil
			}
		}
		if s.logger != nil {
			s.logger.Error("dlo: redis capture failed — falling back to memory", zap.String("sms_id", dl.SMSID))
		}
	}

	s.mu.Lock()
	s.inMemory[dl.SMSID] = dl
	s.mu.Unlock()
	s.afterCapture(dl)
	return nil
}

func (s *Store) afterCapture(dl DeadLetter) {
	if s.metrics != nil {
		s.metrics.DLOCapturedTotal.Inc()
	}
	if s.logger != nil {
		s.logger.Warn("dlo: captured",
			zap.String("sms_id", dl.SMSID),
			zap.String("last_error", truncate(dl.LastError, 100)),
			zap.Int("retry_count", dl.RetryCount))
	}
	if s.onAlert != nil {
		s.onAlert(dl)
	}
}

// ListAll returns every dead letter as a redacted view.
func (s *Store) ListAll() []View {
	ctx := context.Background()

	if s.redis != nil {
		raw, err := s.redis.HGetAll(ctx, redisKey).Result()
		if err == nil {
			views := make([]View, 0, len(raw))
			for _, v := range raw {
				dl, err := FromJSON([]byte(v))
				if err != nil {
					continue
				}
				views = append(views, dl.Redacted())
			}
			return views
		}
		if s.logger != nil {
			s.logger.Error("dlo: redis list failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	views := make([]View, 0, len(s.inMemory))
	for _, dl := range s.inMemory {
		views = append(views, dl.Redacted())
	}
	return views
}

// Get returns the raw dead letter (including body) for sms_id.
func (s *Store) Get(smsID string) (DeadLetter, bool) {
	ctx := context.Background()

	if s.redis != nil {
		raw, err := s.redis.HGet(ctx, redisKey, smsID).Result()
		if err == nil {
			dl, err := FromJSON([]byte(raw))
			if err == nil {
				return dl, true
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dl, ok := s.inMemory[smsID]
	return dl, ok
}

// Retry re-injects the dead letter identified by smsID via requeue,
// removing it from the store on success.
func (s *Store) Retry(ctx context.Context, smsID string, requeue RequeueFunc) bool {
	dl, ok := s.Get(smsID)
	if !ok {
		if s.logger != nil {
			s.logger.Warn("dlo: retry — sms id not found", zap.String("sms_id", smsID))
		}
		return false
	}

	dl.ManualRetryCount++
	msg := message.New(dl.SMSID, dl.Sender, dl.Body, dl.Timestamp, dl.NodeID, message.PriorityNormal, message.DefaultMaxRetries)
	msg.RetryCount = 0

	if err := requeue(ctx, msg); err != nil {
		if s.logger != nil {
			s.logger.Error("dlo: retry requeue failed", zap.String("sms_id", smsID), zap.Error(err))
		}
		return false
	}

	s.Remove(smsID)
	if s.metrics != nil {
		s.metrics.DLORetriedTotal.Inc()
	}
	if s.logger != nil {
		s.logger.Info("dlo: re-enqueued", zap.String("sms_id", smsID), zap.Int("manual_retry_count", dl.ManualRetryCount))
	}
	return true
}

// Remove deletes a single dead letter.
func (s *Store) Remove(smsID string) bool {
	ctx := context.Background()

	if s.redis != nil {
		removed, err := s.redis.HDel(ctx, redisKey, smsID).Result()
		if err == nil {
			return removed > 0
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inMemory[smsID]; ok {
		delete(s.inMemory, smsID)
		return true
	}
	return false
}

// PurgeExpired removes every dead letter older than the configured
// TTL, returning the count purged.
func (s *Store) PurgeExpired() int {
	ctx := context.Background()
	cutoff := float64(nowUnix()) - s.ttl.Seconds()
	purged := 0

	if s.redis != nil {
		raw, err := s.redis.HGetAll(ctx, redisKey).Result()
		if err == nil {
			for smsID, v := range raw {
				dl, err := FromJSON([]byte(v))
				if err != nil {
					continue
				}
				if dl.DeadLetteredAt < cutoff {
					s.redis.HDel(ctx, redisKey, smsID)
					purged++
				}
			}
			s.afterPurge(purged)
			return purged
		}
		if s.logger != nil {
			s.logger.Error("dlo: redis purge failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	for smsID, dl := range s.inMemory {
		if dl.DeadLetteredAt < cutoff {
			delete(s.inMemory, smsID)
			purged++
		}
	}
	s.mu.Unlock()

	s.afterPurge(purged)
	return purged
}

// PurgeAll removes every dead letter unconditionally.
func (s *Store) PurgeAll() int {
	ctx := context.Background()

	if s.redis != nil {
		count, err := s.redis.HLen(ctx, redisKey).Result()
		if err == nil {
			s.redis.Del(ctx, redisKey)
			s.afterPurge(int(count))
			return int(count)
		}
	}

	s.mu.Lock()
	count := len(s.inMemory)
	s.inMemory = make(map[string]DeadLetter)
	s.mu.Unlock()

	s.afterPurge(count)
	return count
}

func (s *Store) afterPurge(count int) {
	if count == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.DLOPurgedTotal.Add(float64(count))
	}
	if s.logger != nil {
		s.logger.Info("dlo: purged", zap.Int("count", count))
	}
}

// PurgeLoop runs PurgeExpired on interval until ctx is cancelled.
func (s *Store) PurgeLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.PurgeExpired()
		}
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nowUnix() float64 { return float64(time.Now().UnixNano()) / 1e9 }
