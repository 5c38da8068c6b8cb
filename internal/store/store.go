// Package store provides the durable storage interface for the assistant
// pipeline: audit records, reminders, and notifications. Handler and
// background code depend on the interface, making it easy to swap between
// in-memory (tests, local dev) and PostgreSQL (production) implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stridehq/stride/pkg/models"
)

// Store is the composed storage interface.
type Store interface {
	AuditStore
	ReminderStore
	NotificationStore

	// Ping checks if the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error
}

// ── Audit Store ─────────────────────────────────────────────

// AuditStore persists immutable audit records. The pipeline only ever
// inserts; retention and deletion are an external policy concern.
type AuditStore interface {
	// InsertAuditBatch writes the batch in a single transaction.
	InsertAuditBatch(ctx context.Context, records []*models.AuditRecord) error

	// ListAuditRecords returns filtered records for inspection tooling.
	ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

// ── Reminder Store ──────────────────────────────────────────

type ReminderStore interface {
	CreateReminder(ctx context.Context, r *models.Reminder) error

	// ListDueReminders returns unsent reminders with remind_at <= now,
	// oldest first. Past-due reminders are due immediately.
	ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error)

	// MarkReminderSent flips is_sent to true. Marking an already-sent
	// reminder reports updated=false and is not an error — this is the
	// linearizing step when several instances sweep concurrently.
	MarkReminderSent(ctx context.Context, id string) (updated bool, err error)

	ListReminders(ctx context.Context, userID string) ([]models.Reminder, error)
	DeleteReminder(ctx context.Context, id, userID string) error
}

// ── Notification Store ──────────────────────────────────────

type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	SetNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, at time.Time) error
	MarkNotificationRead(ctx context.Context, id, userID string) error
	ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error)

	// AppendNotificationHistory records one delivery attempt. Append-only.
	AppendNotificationHistory(ctx context.Context, h *models.NotificationHistory) error
	ListNotificationHistory(ctx context.Context, notificationID string) ([]models.NotificationHistory, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is a store not-found error.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
