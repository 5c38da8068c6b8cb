// Package store — PostgreSQL Store implementation backed by pgx.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stridehq/stride/pkg/models"
)

// PostgresStore implements Store over a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database at url.
func NewPostgresStore(ctx context.Context, url string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// ── Audit ───────────────────────────────────────────────────

const insertAuditSQL = `
	INSERT INTO audit_records
		(request_id, user_id, tenant_id, session_id, query, intent,
		 entities, action, outcome, response_summary, timestamp,
		 remote_addr, user_agent)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	ON CONFLICT (request_id) DO NOTHING`

// InsertAuditBatch writes the whole batch in one transaction. The conflict
// clause makes redelivery of a batch after a partial failure idempotent on
// request_id.
func (p *PostgresStore) InsertAuditBatch(ctx context.Context, records []*models.AuditRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		entities, err := json.Marshal(r.Entities)
		if err != nil {
			return fmt.Errorf("encode audit entities %s: %w", r.RequestID, err)
		}
		batch.Queue(insertAuditSQL,
			r.RequestID, r.UserID, r.TenantID, r.SessionID, r.Query, r.Intent,
			entities, r.Action, string(r.Outcome), r.ResponseSummary, r.Timestamp,
			r.RemoteAddr, r.UserAgent)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit batch: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert audit batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit audit batch: %w", err)
	}
	return nil
}

func (p *PostgresStore) ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT request_id, user_id, tenant_id, session_id, query, intent,
		       entities, action, outcome, response_summary, timestamp,
		       remote_addr, user_agent
		FROM audit_records
		WHERE ($1 = '' OR user_id = $1)
		  AND ($2 = '' OR tenant_id = $2)
		  AND ($3::timestamptz IS NULL OR timestamp >= $3)
		ORDER BY timestamp DESC
		LIMIT $4`

	rows, err := p.pool.Query(ctx, query, filter.UserID, filter.TenantID, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var r models.AuditRecord
		var entities []byte
		var outcome string
		if err := rows.Scan(&r.RequestID, &r.UserID, &r.TenantID, &r.SessionID,
			&r.Query, &r.Intent, &entities, &r.Action, &outcome,
			&r.ResponseSummary, &r.Timestamp, &r.RemoteAddr, &r.UserAgent); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		r.Outcome = models.AuditOutcome(outcome)
		if len(entities) > 0 {
			if err := json.Unmarshal(entities, &r.Entities); err != nil {
				return nil, fmt.Errorf("decode audit entities %s: %w", r.RequestID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Reminders ───────────────────────────────────────────────

func (p *PostgresStore) CreateReminder(ctx context.Context, r *models.Reminder) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO reminders
			(id, user_id, entity_type, entity_id, message, remind_at,
			 is_sent, created_via, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.UserID, r.EntityType, r.EntityID, r.Message, r.RemindAt,
		r.IsSent, string(r.CreatedVia), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create reminder %s: %w", r.ID, err)
	}
	return nil
}

func (p *PostgresStore) ListDueReminders(ctx context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, entity_type, entity_id, message, remind_at,
		       is_sent, created_via, created_at
		FROM reminders
		WHERE is_sent = false AND remind_at <= $1
		ORDER BY remind_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

// MarkReminderSent is a guarded update: the is_sent = false predicate makes
// the second mark a no-op, so two instances sweeping the same reminder agree
// on a single winner.
func (p *PostgresStore) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE reminders SET is_sent = true WHERE id = $1 AND is_sent = false`, id)
	if err != nil {
		return false, fmt.Errorf("mark reminder sent %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Already sent, or unknown id.
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM reminders WHERE id = $1)`, id).Scan(&exists); err != nil {
			return false, fmt.Errorf("check reminder %s: %w", id, err)
		}
		if !exists {
			return false, &ErrNotFound{Entity: "reminder", Key: id}
		}
		return false, nil
	}
	return true, nil
}

func (p *PostgresStore) ListReminders(ctx context.Context, userID string) ([]models.Reminder, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, entity_type, entity_id, message, remind_at,
		       is_sent, created_via, created_at
		FROM reminders
		WHERE user_id = $1
		ORDER BY remind_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reminders for %s: %w", userID, err)
	}
	defer rows.Close()
	return scanReminders(rows)
}

func (p *PostgresStore) DeleteReminder(ctx context.Context, id, userID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM reminders WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete reminder %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "reminder", Key: id}
	}
	return nil
}

func scanReminders(rows pgx.Rows) ([]models.Reminder, error) {
	var out []models.Reminder
	for rows.Next() {
		var r models.Reminder
		var via string
		if err := rows.Scan(&r.ID, &r.UserID, &r.EntityType, &r.EntityID,
			&r.Message, &r.RemindAt, &r.IsSent, &via, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.CreatedVia = models.ReminderOrigin(via)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ── Notifications ───────────────────────────────────────────

func (p *PostgresStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	entity, err := json.Marshal(n.Entity)
	if err != nil {
		return fmt.Errorf("encode notification entity %s: %w", n.ID, err)
	}
	payload, err := json.Marshal(n.Context)
	if err != nil {
		return fmt.Errorf("encode notification context %s: %w", n.ID, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO notifications
			(id, user_id, type, title, message, entity, status, channel,
			 created_at, sent_at, read_at, context)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		n.ID, n.UserID, string(n.Type), n.Title, n.Message, entity,
		string(n.Status), string(n.Channel), n.CreatedAt, n.SentAt, n.ReadAt, payload)
	if err != nil {
		return fmt.Errorf("create notification %s: %w", n.ID, err)
	}
	return nil
}

func (p *PostgresStore) SetNotificationStatus(ctx context.Context, id string, status models.NotificationStatus, at time.Time) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	switch status {
	case models.NotificationSent:
		tag, err = p.pool.Exec(ctx,
			`UPDATE notifications SET status = $2, sent_at = $3 WHERE id = $1`,
			id, string(status), at)
	case models.NotificationRead:
		tag, err = p.pool.Exec(ctx,
			`UPDATE notifications SET status = $2, read_at = $3 WHERE id = $1`,
			id, string(status), at)
	default:
		tag, err = p.pool.Exec(ctx,
			`UPDATE notifications SET status = $2 WHERE id = $1`,
			id, string(status))
	}
	if err != nil {
		return fmt.Errorf("set notification status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "notification", Key: id}
	}
	return nil
}

func (p *PostgresStore) MarkNotificationRead(ctx context.Context, id, userID string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE notifications SET status = $3, read_at = now()
		WHERE id = $1 AND user_id = $2`,
		id, userID, string(models.NotificationRead))
	if err != nil {
		return fmt.Errorf("mark notification read %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return &ErrNotFound{Entity: "notification", Key: id}
	}
	return nil
}

func (p *PostgresStore) ListNotifications(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, type, title, message, entity, status, channel,
		       created_at, sent_at, read_at, context
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications for %s: %w", userID, err)
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var typ, status, channel string
		var entity, payload []byte
		if err := rows.Scan(&n.ID, &n.UserID, &typ, &n.Title, &n.Message,
			&entity, &status, &channel, &n.CreatedAt, &n.SentAt, &n.ReadAt, &payload); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.Type = models.NotificationType(typ)
		n.Status = models.NotificationStatus(status)
		n.Channel = models.Channel(channel)
		if len(entity) > 0 && string(entity) != "null" {
			if err := json.Unmarshal(entity, &n.Entity); err != nil {
				return nil, fmt.Errorf("decode notification entity %s: %w", n.ID, err)
			}
		}
		if len(payload) > 0 && string(payload) != "null" {
			if err := json.Unmarshal(payload, &n.Context); err != nil {
				return nil, fmt.Errorf("decode notification context %s: %w", n.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (p *PostgresStore) AppendNotificationHistory(ctx context.Context, h *models.NotificationHistory) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO notification_history
			(id, notification_id, channel, success, error_code, error_message, attempted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		h.ID, h.NotificationID, string(h.Channel), h.Success,
		h.ErrorCode, h.ErrorMessage, h.AttemptedAt)
	if err != nil {
		return fmt.Errorf("append notification history %s: %w", h.NotificationID, err)
	}
	return nil
}

func (p *PostgresStore) ListNotificationHistory(ctx context.Context, notificationID string) ([]models.NotificationHistory, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, notification_id, channel, success, error_code, error_message, attempted_at
		FROM notification_history
		WHERE notification_id = $1
		ORDER BY attempted_at ASC`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("list notification history %s: %w", notificationID, err)
	}
	defer rows.Close()

	var out []models.NotificationHistory
	for rows.Next() {
		var h models.NotificationHistory
		var channel string
		if err := rows.Scan(&h.ID, &h.NotificationID, &channel, &h.Success,
			&h.ErrorCode, &h.ErrorMessage, &h.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan notification history: %w", err)
		}
		h.Channel = models.Channel(channel)
		out = append(out, h)
	}
	return out, rows.Err()
}
