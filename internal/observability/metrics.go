package observability

import "github.com/prometheus/client_golang/prometheus"

// Metrics aggregates the counters and gauges exposed by every pipeline
// component (C10). Each component's package increments these directly
// rather than exposing its own ad-hoc numbers, so /api/metrics has a
// single source of truth.
type Metrics struct {
	EnqueuedTotal     prometheus.Counter
	DeliveredTotal    prometheus.Counter
	FailedTotal       prometheus.Counter
	DeadLetteredTotal prometheus.Counter
	RetriesTotal      prometheus.Counter

	ChatbotSentTotal        prometheus.Counter
	ChatbotRateLimitedTotal prometheus.Counter
	ChatbotErrorsTotal      prometheus.Counter

	EmailSentTotal   prometheus.Counter
	EmailErrorsTotal prometheus.Counter

	DLOCapturedTotal prometheus.Counter
	DLORetriedTotal  prometheus.Counter
	DLOPurgedTotal   prometheus.Counter

	AlertsTotal     prometheus.Counter
	SuppressedTotal prometheus.Counter
	WebhooksSent    prometheus.Counter
	WebhookErrors   prometheus.Counter

	QueueDepth          prometheus.Gauge
	QueueDepthByPriority *prometheus.GaugeVec

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the full counter/gauge set against the given
// registerer (pass prometheus.DefaultRegisterer in production, a fresh
// prometheus.NewRegistry() in tests to avoid collisions).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EnqueuedTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_enqueued_total", Help: "Messages accepted at ingress."}),
		DeliveredTotal:    prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_delivered_total", Help: "Messages delivered via any channel."}),
		FailedTotal:       prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_failed_total", Help: "Delivery attempts that failed (including retried ones)."}),
		DeadLetteredTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_dead_lettered_total", Help: "Messages routed to the dead-letter store."}),
		RetriesTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_retries_total", Help: "Retry re-enqueues."}),

		ChatbotSentTotal:        prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_chatbot_sent_total", Help: "Messages sent via the chat-bot channel."}),
		ChatbotRateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_chatbot_rate_limited_total", Help: "429 responses from the chat-bot API."}),
		ChatbotErrorsTotal:      prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_chatbot_errors_total", Help: "Non-429 chat-bot send errors."}),

		EmailSentTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_email_sent_total", Help: "Messages sent via the email fallback channel."}),
		EmailErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_email_errors_total", Help: "Email fallback send errors."}),

		DLOCapturedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_dlo_captured_total", Help: "Messages captured into the dead-letter store."}),
		DLORetriedTotal:  prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_dlo_retried_total", Help: "Dead letters manually re-injected."}),
		DLOPurgedTotal:   prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_dlo_purged_total", Help: "Dead letters purged (expired or manual)."}),

		AlertsTotal:     prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_incident_alerts_total", Help: "Alerts evaluated by the incident engine."}),
		SuppressedTotal: prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_incident_suppressed_total", Help: "Alerts suppressed by cooldown."}),
		WebhooksSent:    prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_incident_webhooks_sent_total", Help: "Incident webhooks that received an HTTP response."}),
		WebhookErrors:   prometheus.NewCounter(prometheus.CounterOpts{Name: "gateway_incident_webhook_errors_total", Help: "Incident webhook transport errors."}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{Name: "gateway_queue_depth", Help: "Current pipeline queue depth."}),
		QueueDepthByPriority: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_queue_depth_by_priority", Help: "Current pipeline queue depth, by priority lane.",
		}, []string{"priority"}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_http_requests_total", Help: "HTTP requests handled by the ingress adapter.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "gateway_http_request_duration_seconds", Help: "HTTP request latency, by route.",
		}, []string{"method", "path", "status"}),
	}

	reg.MustRegister(
		m.EnqueuedTotal, m.DeliveredTotal, m.FailedTotal, m.DeadLetteredTotal, m.RetriesTotal,
		m.ChatbotSentTotal, m.ChatbotRateLimitedTotal, m.ChatbotErrorsTotal,
		m.EmailSentTotal, m.EmailErrorsTotal,
		m.DLOCapturedTotal, m.DLORetriedTotal, m.DLOPurgedTotal,
		m.AlertsTotal, m.SuppressedTotal, m.WebhooksSent, m.WebhookErrors,
		m.QueueDepth, m.QueueDepthByPriority, m.HTTPRequestsTotal, m.HTTPRequestDuration,
	)
	return m
}
