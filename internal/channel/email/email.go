// Package email implements the fallback delivery channel (C5): SMTP
// with STARTTLS, used when the chat-bot channel fails outright. Ported
// from the original gateway's email_dispatcher.py, with aiosmtplib's
// role filled by net/smtp behind a Sender seam for testability.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"time"

	"go.uber.org/zap"

	"otp-gateway/internal/message"
	"otp-gateway/internal/observability"
)

// Sender abstracts the SMTP mechanics so tests can substitute a fake
// without opening real network connections.
type Sender interface {
	Send(ctx context.Context, host string, port int, username, password, recipient string, data []byte) error
}

// Config configures a Dispatcher.
type Config struct {
	Host       string
	Port       int
	Username   string
	Password   string
	Recipient  string
	MaxRetries int
}

func (c Config) configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.Recipient != ""
}

// Dispatcher sends fallback notifications over SMTP.
type Dispatcher struct {
	cfg     Config
	sender  Sender
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New builds a Dispatcher. If sender is nil, a net/smtp-backed
// SMTPSender is used.
func New(cfg Config, sender Sender, logger *zap.Logger, metrics *observability.Metrics) *Dispatcher {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if sender == nil {
		sender = SMTPSender{}
	}
	return &Dispatcher{cfg: cfg, sender: sender, logger: logger, metrics: metrics}
}

// Send attempts delivery via SMTP, retrying up to MaxRetries times with
// exponential backoff (2^attempt seconds), matching the original
// dispatcher's behavior. Returns false immediately if unconfigured.
func (d *Dispatcher) Send(ctx context.Context, msg *message.Message) bool {
	if !d.cfg.configured() {
		if d.logger != nil {
			d.logger.Warn("email: not configured — skipping fallback")
		}
		return false
	}

	data := d.buildMessage(msg)

	for attempt := 0; attempt < d.cfg.MaxRetries; attempt++ {
		err := d.sender.Send(ctx, d.cfg.Host, d.cfg.Port, d.cfg.Username, d.cfg.Password, d.cfg.Recipient, data)
		if err == nil {
			if d.metrics != nil {
				d.metrics.EmailSentTotal.Inc()
			}
			if d.logger != nil {
				d.logger.Info("email: delivered", zap.String("sms_id", msg.SMSID), zap.Int("attempt", attempt+1))
			}
			return true
		}

		if d.metrics != nil {
			d.metrics.EmailErrorsTotal.Inc()
		}
		if d.logger != nil {
			d.logger.Error("email: send failed",
				zap.String("sms_id", msg.SMSID),
				zap.Int("attempt", attempt+1),
				zap.Int("max_attempts", d.cfg.MaxRetries),
				zap.Error(err))
		}

		if attempt < d.cfg.MaxRetries-1 {
			backoff := time.Duration(1<<attempt) * time.Second
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false
			}
		}
	}

	return false
}

func (d *Dispatcher) buildMessage(msg *message.Message) []byte {
	subject := fmt.Sprintf("SMS Gateway: Message from %s", msg.Sender)
	body := fmt.Sprintf(
		"SMS Gateway Notification\n\nFrom: %s\nTime: %s\nNode: %s\n\nMessage:\n%s\n\nSMS ID: %s",
		msg.Sender, msg.Timestamp, msg.NodeID, msg.Body, msg.SMSID,
	)

	return []byte(fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n",
		d.cfg.Username, d.cfg.Recipient, subject, body,
	))
}

// SMTPSender is the default Sender, using net/smtp with STARTTLS.
type SMTPSender struct{}

// Send implements Sender using a plain net/smtp STARTTLS handshake.
func (SMTPSender) Send(ctx context.Context, host string, port int, username, password, recipient string, data []byte) error {
	addr := fmt.Sprintf("%s:%d", host, port)

	c, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("email: dial %s: %w", addr, err)
	}
	defer c.Close()

	if err := c.StartTLS(&tls.Config{ServerName: host}); err != nil {
		return fmt.Errorf("email: starttls: %w", err)
	}

	auth := smtp.PlainAuth("", username, password, host)
	if err := c.Auth(auth); err != nil {
		return fmt.Errorf("email: auth: %w", err)
	}

	if err := c.Mail(username); err != nil {
		return fmt.Errorf("email: mail from: %w", err)
	}
	if err := c.Rcpt(recipient); err != nil {
		return fmt.Errorf("email: rcpt to: %w", err)
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("email: data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("email: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("email: close: %w", err)
	}

	return c.Quit()
}
