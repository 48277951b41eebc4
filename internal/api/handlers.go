// Package api is the thin ingress adapter: request parsing, routing and
// response shaping around the gateway container. It owns no pipeline
// state itself — every operation is a direct call into internal/gateway.
package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"otp-gateway/internal/gateway"
	"otp-gateway/internal/message"
	"otp-gateway/internal/queue"
	"otp-gateway/internal/telemetry"
)

// Handlers holds the gateway container every route handler reads from.
type Handlers struct {
	gw *gateway.Gateway
}

// NewHandlers builds Handlers around a constructed Gateway.
func NewHandlers(gw *gateway.Gateway) *Handlers {
	return &Handlers{gw: gw}
}

// inboundRequest is the body of POST /api/sms/inbound.
type inboundRequest struct {
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp string `json:"timestamp"`
	SMSID     string `json:"sms_id"`
	NodeID    string `json:"node_id"`
	Encrypted bool   `json:"encrypted"`
	Priority  string `json:"priority"`
}

// InboundSMS handles POST /api/sms/inbound.
//
//	@Summary		Accept an inbound SMS
//	@Description	Build a Message from an edge-device forwarded SMS and enqueue it for delivery
//	@Tags			Ingress
//	@Accept			json
//	@Produce		json
//	@Param			request	body		inboundRequest	true	"Inbound SMS"
//	@Success		200		{object}	fiber.Map		"Accepted"
//	@Failure		429		{object}	fiber.Map		"Queue full"
//	@Failure		503		{object}	fiber.Map		"Pipeline not ready"
//	@Router			/api/sms/inbound [post]
func (h *Handlers) InboundSMS(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}

	var req inboundRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.Sender == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "sender is required"})
	}

	body := req.Body
	if !req.Encrypted && h.gw.Cipher.Enabled() {
		encrypted, err := h.gw.Cipher.Encrypt(body)
		if err == nil {
			body = encrypted
		}
	}

	priority := message.ParsePriority(req.Priority)
	msg := message.New(req.SMSID, req.Sender, body, req.Timestamp, req.NodeID, priority, h.gw.Config.MaxRetryAttempts)

	if err := h.gw.Enqueue(msg); err != nil {
		switch err {
		case queue.ErrFull:
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "queue full"})
		case queue.ErrClosed:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline shutting down"})
		default:
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"sms_id": msg.SMSID, "status": msg.Status})
}

// telemetryRequest is the body of POST /api/telemetry. Fields absent
// from the payload are represented as nil so Telemetry can retain the
// node's prior reading for them instead of resetting to zero.
type telemetryRequest struct {
	NodeID       string `json:"node_id"`
	BatteryMV    *int   `json:"battery_mv"`
	WifiRSSI     *int   `json:"wifi_rssi"`
	WifiState    *int   `json:"wifi_state"`
	Reconnects   *int   `json:"reconnects"`
	WDTResets    *int   `json:"wdt_resets"`
	StoredSMSIDs *int   `json:"stored_sms_ids"`
	UptimeSec    *int   `json:"uptime_sec"`
	HeapFree     *int   `json:"heap_free"`
}

// Telemetry handles POST /api/telemetry.
//
//	@Summary		Update node telemetry
//	@Description	Merge a telemetry sample into the registry, refreshing last_seen
//	@Tags			Ingress
//	@Accept			json
//	@Produce		json
//	@Router			/api/telemetry [post]
func (h *Handlers) Telemetry(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}

	var req telemetryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	if req.NodeID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "node_id is required"})
	}

	prior, hasPrior := h.gw.Telemetry.Snapshot()[req.NodeID]
	update := telemetry.Update{NodeID: req.NodeID}

	update.BatteryMV = intOr(req.BatteryMV, hasPrior, prior.BatteryMV)
	update.WifiRSSI = intOrDefault(req.WifiRSSI, hasPrior, prior.WifiRSSI, -127)
	update.WifiState = intOr(req.WifiState, hasPrior, prior.WifiState)
	update.Reconnects = intOr(req.Reconnects, hasPrior, prior.Reconnects)
	update.WDTResets = intOr(req.WDTResets, hasPrior, prior.WDTResets)
	update.StoredSMSIDs = intOr(req.StoredSMSIDs, hasPrior, prior.StoredSMSIDs)
	update.UptimeSec = intOr(req.UptimeSec, hasPrior, prior.UptimeSec)
	update.HeapFree = intOr(req.HeapFree, hasPrior, prior.HeapFree)

	h.gw.Telemetry.Update(update)

	return c.Status(fiber.StatusOK).JSON(fiber.Map{"node_id": req.NodeID, "status": "ok"})
}

func intOr(v *int, hasPrior bool, prior int) int {
	return intOrDefault(v, hasPrior, prior, 0)
}

func intOrDefault(v *int, hasPrior bool, prior, def int) int {
	if v != nil {
		return *v
	}
	if hasPrior {
		return prior
	}
	return def
}

// Health handles GET /api/health.
//
//	@Summary		Current health report
//	@Router			/api/health [get]
func (h *Handlers) Health(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}
	return c.JSON(h.gw.Health.Evaluate())
}

// ListDLO handles GET /api/dlo.
//
//	@Summary		List dead letters
//	@Router			/api/dlo [get]
func (h *Handlers) ListDLO(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}
	return c.JSON(h.gw.DLO.ListAll())
}

// RetryDLO handles POST /api/dlo/{sms_id}/retry.
//
//	@Summary		Manually retry a dead letter
//	@Router			/api/dlo/{sms_id}/retry [post]
func (h *Handlers) RetryDLO(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}

	smsID := c.Params("sms_id")
	if _, ok := h.gw.DLO.Get(smsID); !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "sms_id not found"})
	}

	ok := h.gw.DLO.Retry(c.Context(), smsID, h.gw.Requeue)
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "retry failed"})
	}
	return c.JSON(fiber.Map{"sms_id": smsID, "status": "requeued"})
}

// PurgeDLO handles DELETE /api/dlo.
//
//	@Summary		Purge every dead letter
//	@Router			/api/dlo [delete]
func (h *Handlers) PurgeDLO(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}
	count := h.gw.DLO.PurgeAll()
	return c.JSON(fiber.Map{"purged": count})
}

// Metrics handles GET /api/metrics — an aggregated-counters JSON view,
// distinct from the raw Prometheus exposition served at /metrics.
//
//	@Summary		Aggregated pipeline counters
//	@Router			/api/metrics [get]
func (h *Handlers) Metrics(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}

	poolStats := h.gw.Pool.Stats()
	laneDepths := h.gw.Queue.Metrics()
	return c.JSON(fiber.Map{
		"queue_depth":          laneDepths.Total,
		"queue_max_size":       laneDepths.MaxSize,
		"queue_depth_by_priority": fiber.Map{
			"high":   laneDepths.High,
			"normal": laneDepths.Normal,
			"low":    laneDepths.Low,
		},
		"processed_total":     poolStats.Processed,
		"failed_total":        poolStats.Failed,
		"dead_lettered_total": poolStats.DeadLettered,
		"nodes_registered":    h.gw.Telemetry.NodeCount(),
	})
}

// Incidents handles GET /api/incidents?limit=N.
//
//	@Summary		Recent incidents
//	@Router			/api/incidents [get]
func (h *Handlers) Incidents(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "pipeline not ready"})
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	return c.JSON(h.gw.Incidents.Incidents(limit))
}

// HealthCheck handles GET /healthz — process-level liveness, not to be
// confused with the gateway's own /api/health report.
func (h *Handlers) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "timestamp": time.Now().Unix()})
}

// ReadyCheck handles GET /readyz.
func (h *Handlers) ReadyCheck(c *fiber.Ctx) error {
	if h.gw == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "not ready"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}
