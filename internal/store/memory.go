// Package store — in-memory Store implementation.
// Used when DATABASE_URL is not configured (local dev, tests).
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stridehq/stride/pkg/models"
)

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu            sync.RWMutex
	auditRecords  []*models.AuditRecord               // append-only log
	reminders     map[string]*models.Reminder         // key: id
	notifications map[string]*models.Notification     // key: id
	history       map[string][]*models.NotificationHistory // key: notification id
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auditRecords:  make([]*models.AuditRecord, 0),
		reminders:     make(map[string]*models.Reminder),
		notifications: make(map[string]*models.Notification),
		history:       make(map[string][]*models.NotificationHistory),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }
func (m *MemoryStore) Close() error               { return nil }

// ── Audit ───────────────────────────────────────────────────

func (m *MemoryStore) InsertAuditBatch(_ context.Context, records []*models.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		cp := *r
		m.auditRecords = append(m.auditRecords, &cp)
	}
	return nil
}

func (m *MemoryStore) ListAuditRecords(_ context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []models.AuditRecord
	for i := len(m.auditRecords) - 1; i >= 0 && len(out) < limit; i-- {
		r := m.auditRecords[i]
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.TenantID != "" && r.TenantID != filter.TenantID {
			continue
		}
		if filter.Since != nil && r.Timestamp.Before(*filter.Since) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// ── Reminders ───────────────────────────────────────────────

func (m *MemoryStore) CreateReminder(_ context.Context, r *models.Reminder) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.reminders[r.ID] = &cp
	return nil
}

func (m *MemoryStore) ListDueReminders(_ context.Context, now time.Time, limit int) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []models.Reminder
	for _, r := range m.reminders {
		if !r.IsSent && !r.RemindAt.After(now) {
			due = append(due, *r)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RemindAt.Before(due[j].RemindAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) MarkReminderSent(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return false, &ErrNotFound{Entity: "reminder", Key: id}
	}
	if r.IsSent {
		return false, nil
	}
	r.IsSent = true
	return true, nil
}

func (m *MemoryStore) ListReminders(_ context.Context, userID string) ([]models.Reminder, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.Reminder
	for _, r := range m.reminders {
		if r.UserID == userID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

func (m *MemoryStore) DeleteReminder(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reminders[id]
	if !ok {
		return &ErrNotFound{Entity: "reminder", Key: id}
	}
	if r.UserID != userID {
		return &ErrNotFound{Entity: "reminder", Key: id}
	}
	delete(m.reminders, id)
	return nil
}

// ── Notifications ───────────────────────────────────────────

func (m *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.notifications[n.ID] = &cp
	return nil
}

func (m *MemoryStore) SetNotificationStatus(_ context.Context, id string, status models.NotificationStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok {
		return &ErrNotFound{Entity: "notification", Key: id}
	}
	n.Status = status
	switch status {
	case models.NotificationSent:
		n.SentAt = &at
	case models.NotificationRead:
		n.ReadAt = &at
	}
	return nil
}

func (m *MemoryStore) MarkNotificationRead(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.notifications[id]
	if !ok || n.UserID != userID {
		return &ErrNotFound{Entity: "notification", Key: id}
	}
	now := time.Now().UTC()
	n.Status = models.NotificationRead
	n.ReadAt = &now
	return nil
}

func (m *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendNotificationHistory(_ context.Context, h *models.NotificationHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *h
	m.history[h.NotificationID] = append(m.history[h.NotificationID], &cp)
	return nil
}

func (m *MemoryStore) ListNotificationHistory(_ context.Context, notificationID string) ([]models.NotificationHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.NotificationHistory
	for _, h := range m.history[notificationID] {
		out = append(out, *h)
	}
	return out, nil
}
