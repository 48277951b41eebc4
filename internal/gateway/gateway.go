// Package gateway wires every pipeline component into a single
// container constructed once at startup and torn down in reverse
// order on shutdown.
package gateway

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"otp-gateway/internal/audit"
	"otp-gateway/internal/channel/chatbot"
	"otp-gateway/internal/channel/email"
	"otp-gateway/internal/config"
	"otp-gateway/internal/crypto"
	"otp-gateway/internal/dlo"
	"otp-gateway/internal/health"
	"otp-gateway/internal/incident"
	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
	"otp-gateway/internal/queue"
	"otp-gateway/internal/telemetry"
	"otp-gateway/internal/worker"
)

// Gateway owns every long-lived component of the delivery pipeline.
type Gateway struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics
	Cipher  *crypto.Cipher

	Queue      *queue.Queue
	Chatbot    *chatbot.Dispatcher
	Email      *email.Dispatcher
	Pool       *worker.Pool
	DLO        *dlo.Store
	Telemetry  *telemetry.Registry
	Health     *health.Evaluator
	Incidents  *incident.Engine
	Audit      *audit.Store
	Events     *audit.EventPublisher

	redisClient *redis.Client
}

// New constructs every component and wires their dependencies. Redis,
// NATS and Postgres are optional: a failed or unconfigured connection
// degrades the relevant component (DLO falls back to memory, audit
// trail and event publishing become no-ops) rather than failing
// startup, matching the original gateway's graceful-degradation
// posture for auxiliary systems.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) (*Gateway, error) {
	g := &Gateway{Config: cfg, Logger: logger, Metrics: metrics}

	g.Cipher = crypto.NewCipher(cfg.FernetEncryptionKey)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opts)
			if err := client.Ping(ctx).Err(); err == nil {
				g.redisClient = client
			} else if logger != nil {
				logger.Warn("redis unreachable — DLO will run in-memory", zap.Error(err))
			}
		}
	}

	g.Queue = queue.New(cfg.QueueMaxSize, logger, metrics)

	g.Telemetry = telemetry.New(logger)

	if cfg.NATSURL != "" {
		publisher, err := audit.NewEventPublisher(cfg.NATSURL, logger)
		if err != nil && logger != nil {
			logger.Warn("nats unreachable — event publishing disabled", zap.Error(err))
		} else {
			g.Events = publisher
		}
	}

	if cfg.PostgresURL != "" {
		store, err := audit.NewPostgres(ctx, cfg.PostgresURL, logger)
		if err != nil {
			if logger != nil {
				logger.Warn("postgres unreachable — audit trail disabled", zap.Error(err))
			}
		} else {
			if err := store.RunMigrations("migrations"); err != nil && logger != nil {
				logger.Warn("audit migrations failed", zap.Error(err))
			}
			g.Audit = store
		}
	}

	g.Incidents = incident.New(incident.Config{
		WebhookURL:      cfg.N8NWebhookURL,
		WebhookSecret:   cfg.N8NWebhookSecret,
		CooldownSeconds: cfg.AlertCooldownSeconds,
	}, logger, metrics)

	g.DLO = dlo.New(g.redisClient, cfg.DLOTTLHours, logger, metrics, func(dl dlo.DeadLetter) {
		g.onDeadLetter(ctx, dl)
	})

	g.Health = health.New(g.Telemetry, health.Thresholds{
		BatteryLow:       cfg.BatteryLowThreshold,
		SignalLow:        cfg.SignalLowThreshold,
		HeartbeatTimeout: time.Duration(cfg.HeartbeatTimeoutSeconds) * time.Second,
		CheckInterval:    time.Duration(cfg.HealthCheckIntervalSeconds) * time.Second,
	}, func() health.QueueStats {
		return health.QueueStats{Depth: g.Queue.Depth(), MaxSize: g.Queue.MaxSize()}
	}, logger, g.onHealthAlert)

	g.Chatbot = chatbot.New(chatbot.Config{
		BotToken:   cfg.TelegramBotToken,
		ChatID:     cfg.TelegramChatID,
		MaxRetries: cfg.MaxRetryAttempts,
	}, logger, metrics)

	g.Email = email.New(email.Config{
		Host:      cfg.SMTPHost,
		Port:      cfg.SMTPPort,
		Username:  cfg.SMTPUsername,
		Password:  cfg.SMTPPassword,
		Recipient: cfg.EmailRecipient,
	}, nil, logger, metrics)

	primaries := []worker.Channel{channelAdapter{name: "chatbot", send: g.Chatbot.Send}}
	fallback := channelAdapter{name: "email", send: g.Email.Send}

	g.Pool = worker.New(worker.Config{
		Concurrency: cfg.ConsumerConcurrency,
	}, g.Queue, primaries, fallback, g.DLO, logger, metrics)

	if g.Audit != nil {
		g.Pool.SetAuditRecorder(g.Audit)
	}

	return g, nil
}

// channelAdapter satisfies worker.Channel for any Send-shaped closure,
// letting both the chatbot and email dispatchers (distinct concrete
// types) register against the pool without an intermediate interface
// in each package.
type channelAdapter struct {
	name string
	send func(ctx context.Context, msg *message.Message) bool
}

func (c channelAdapter) Name() string { return c.name }
func (c channelAdapter) Send(ctx context.Context, msg *message.Message) bool {
	return c.send(ctx, msg)
}

// Start launches every background loop: the worker pool, the health
// evaluator, and the dead-letter purge loop.
func (g *Gateway) Start(ctx context.Context) {
	g.Pool.Start(ctx)
	go g.Health.Run(ctx)
	go g.DLO.PurgeLoop(ctx, time.Hour)
}

// Shutdown tears down components in reverse construction order.
func (g *Gateway) Shutdown(drainTimeout time.Duration) {
	g.Pool.Stop(drainTimeout)
	g.Chatbot.Close()
	if g.Audit != nil {
		g.Audit.Close()
	}
	if g.Events != nil {
		g.Events.Close()
	}
	if g.redisClient != nil {
		g.redisClient.Close()
	}
}

// defaultIngressBlockTimeout is the producer-side backpressure wait used
// when Config.IngressBlockTimeout is left unset (e.g. a zero-value
// Config built directly in tests rather than via config.Load).
const defaultIngressBlockTimeout = 10 * time.Second

func (g *Gateway) ingressBlockTimeout() time.Duration {
	if g.Config != nil && g.Config.IngressBlockTimeout > 0 {
		return g.Config.IngressBlockTimeout
	}
	return defaultIngressBlockTimeout
}

// Enqueue hands msg to the pipeline queue, blocking up to the configured
// backpressure window before reporting ErrFull to the caller.
func (g *Gateway) Enqueue(msg *message.Message) error {
	return g.Queue.Enqueue(msg, g.ingressBlockTimeout())
}

// Requeue satisfies dlo.RequeueFunc: it re-injects a manually retried
// dead letter back into the pipeline as a fresh message.
func (g *Gateway) Requeue(ctx context.Context, msg *message.Message) error {
	return g.Queue.Enqueue(msg, g.ingressBlockTimeout())
}

func (g *Gateway) onDeadLetter(ctx context.Context, dl dlo.DeadLetter) {
	if g.Events != nil {
		g.Events.PublishDeadLetter(dl.SMSID, dl.LastError)
	}
	if g.Audit != nil {
		g.Audit.RecordDeadLetter(ctx, dl.SMSID, dl.LastError)
	}
}

func (g *Gateway) onHealthAlert(status health.Status, issues []string, report health.Report) {
	ctx := context.Background()
	inc := g.Incidents.TriggerAlert(ctx, string(status), issues, report)
	if inc == nil {
		return
	}
	if g.Events != nil {
		g.Events.PublishIncident(inc.IncidentID, inc.AlertType, string(inc.Severity), string(inc.Action))
	}
	if g.Audit != nil {
		g.Audit.RecordIncident(ctx, inc.IncidentID, inc.AlertType, string(inc.Severity), string(inc.Action))
	}
}
