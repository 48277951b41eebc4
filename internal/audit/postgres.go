// Package audit implements a best-effort historical record of message
// status transitions and gateway events, supplementing the in-memory
// pipeline with a queryable trail for post-incident review. It is not
// load-bearing for delivery guarantees — only the dead-letter store is:
// a write failure here is logged, never propagated as a delivery
// failure.
package audit

import (
	"context"
	"database/sql"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"otp-gateway/internal/message"
)

// Store persists message lifecycle transitions, dead-letter reasons and
// incident metadata. Message bodies are never written here — only
// sms_id, status, node_id, last_error reasons, incident fields and
// timestamps.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgres opens a pooled connection sized for high-concurrency
// write paths.
func NewPostgres(ctx context.Context, url string, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

// RunMigrations applies every pending migration under migrationsPath.
func (s *Store) RunMigrations(migrationsPath string) error {
	driver, err := postgres.WithInstance(s.db, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+absPath, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

// RecordTransition logs a status transition for sms_id. Failures are
// logged and swallowed — the audit trail must never block or fail a
// delivery attempt.
func (s *Store) RecordTransition(ctx context.Context, smsID string, from, to message.Status, nodeID string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO message_audit_log (sms_id, from_status, to_status, node_id, transitioned_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		smsID, string(from), string(to), nodeID, time.Now().UTC(),
	)
	if err != nil && s.logger != nil {
		s.logger.Error("audit: record transition failed", zap.String("sms_id", smsID), zap.Error(err))
	}
}

// RecordDeadLetter logs a terminal dead-letter event.
func (s *Store) RecordDeadLetter(ctx context.Context, smsID, reason string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_audit_log (sms_id, reason, captured_at) VALUES ($1, $2, $3)`,
		smsID, reason, time.Now().UTC(),
	)
	if err != nil && s.logger != nil {
		s.logger.Error("audit: record dead letter failed", zap.String("sms_id", smsID), zap.Error(err))
	}
}

// RecordIncident logs an incident's metadata (no message bodies ever
// flow through this path).
func (s *Store) RecordIncident(ctx context.Context, incidentID, alertType, severity, action string) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO incident_audit_log (incident_id, alert_type, severity, action, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		incidentID, alertType, severity, action, time.Now().UTC(),
	)
	if err != nil && s.logger != nil {
		s.logger.Error("audit: record incident failed", zap.String("incident_id", incidentID), zap.Error(err))
	}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
