// Package models defines the shared domain types for the Stride assistant
// pipeline: conversation sessions, audit records, reminders, and
// notifications. Types here are serialized both over the API and into the
// durable store, so field names are part of the external contract.
package models

import "time"

// ── Entity references ────────────────────────────────────────

// EntityRef points at a domain entity (task, project, bug, ...) without
// pulling in the entity schema itself.
type EntityRef struct {
	Type  string `json:"type" db:"entity_type"`
	ID    string `json:"id" db:"entity_id"`
	Title string `json:"title,omitempty" db:"title"`
}

// ── Conversation sessions ────────────────────────────────────

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in a conversation session.
type Message struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Entities  []EntityRef `json:"entities,omitempty"`
}

// Session holds multi-turn conversation state for one user. The message list
// is append-only and capped; eviction from the session never touches the
// audit trail.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	Messages       []Message `json:"messages"`

	// LastEntity tracks the most recently referenced entity per type,
	// used for "that task" style references.
	LastEntity map[string]EntityRef `json:"last_entity,omitempty"`

	// LastResults is the last structured result set shown to the user,
	// used for ordinal references ("the first one").
	LastResults []EntityRef `json:"last_results,omitempty"`
}

// ChatTurn is the wire shape handed to a model backend.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ── Assistant query I/O ──────────────────────────────────────

// QueryRequest is an inbound free-text assistant query.
type QueryRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
	TenantID  string `json:"tenant_id"`
	Query     string `json:"query"`

	// Caller network metadata, recorded in the audit trail.
	RemoteAddr string `json:"-"`
	UserAgent  string `json:"-"`
}

// TableSummary is a derived tabular view over a large result set.
type TableSummary struct {
	Columns   []string   `json:"columns"`
	Rows      [][]string `json:"rows"`
	Truncated bool       `json:"truncated"`
}

// QueryResponse is what the assistant returns to the caller.
type QueryResponse struct {
	SessionID        string        `json:"session_id"`
	Text             string        `json:"text"`
	EntityCards      []EntityRef   `json:"entity_cards"`
	SuggestedActions []string      `json:"suggested_actions"`
	Table            *TableSummary `json:"table,omitempty"`
	Fallback         bool          `json:"fallback"`
}

// ── Retrieved domain data ────────────────────────────────────

// ResultSet is one typed slice of retrieved domain rows. Rows are loosely
// typed maps because retrieval is an external collaborator.
type ResultSet struct {
	EntityType string           `json:"entity_type"`
	Items      []map[string]any `json:"items"`
}

// RetrievedData bundles everything the retrieval layer found for a query.
type RetrievedData struct {
	Sets []ResultSet `json:"sets"`
}

// TotalItems returns the item count across all sets.
func (d *RetrievedData) TotalItems() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, s := range d.Sets {
		n += len(s.Items)
	}
	return n
}

// ── Audit trail ──────────────────────────────────────────────

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailed  AuditOutcome = "failed"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditRecord is the durable trace of one assistant request. The Query field
// is always redacted before the record leaves the request path; records are
// immutable once written.
type AuditRecord struct {
	RequestID       string       `json:"request_id" db:"request_id"`
	UserID          string       `json:"user_id" db:"user_id"`
	TenantID        string       `json:"tenant_id" db:"tenant_id"`
	SessionID       string       `json:"session_id" db:"session_id"`
	Query           string       `json:"query" db:"query"`
	Intent          string       `json:"intent" db:"intent"`
	Entities        []EntityRef  `json:"entities,omitempty" db:"entities"`
	Action          string       `json:"action,omitempty" db:"action"`
	Outcome         AuditOutcome `json:"outcome" db:"outcome"`
	ResponseSummary string       `json:"response_summary" db:"response_summary"`
	Timestamp       time.Time    `json:"timestamp" db:"timestamp"`
	RemoteAddr      string       `json:"remote_addr" db:"remote_addr"`
	UserAgent       string       `json:"user_agent" db:"user_agent"`
}

// AuditFilter selects audit records for inspection tooling.
type AuditFilter struct {
	UserID   string
	TenantID string
	Since    *time.Time
	Limit    int
}

// ── Reminders ────────────────────────────────────────────────

type ReminderOrigin string

const (
	ReminderViaChat ReminderOrigin = "chat"
	ReminderViaUI   ReminderOrigin = "ui"
	ReminderViaAPI  ReminderOrigin = "api"
)

// Reminder is a deferred notification tied to an entity. A remind_at in the
// past is valid — the reminder is simply due immediately. Once IsSent flips
// to true it never goes back.
type Reminder struct {
	ID         string         `json:"id" db:"id"`
	UserID     string         `json:"user_id" db:"user_id"`
	EntityType string         `json:"entity_type" db:"entity_type"`
	EntityID   string         `json:"entity_id" db:"entity_id"`
	Message    string         `json:"message" db:"message"`
	RemindAt   time.Time      `json:"remind_at" db:"remind_at"`
	IsSent     bool           `json:"is_sent" db:"is_sent"`
	CreatedVia ReminderOrigin `json:"created_via" db:"created_via"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// ── Notifications ────────────────────────────────────────────

type NotificationType string

const (
	NotificationAssignment    NotificationType = "assignment"
	NotificationTeamEvent     NotificationType = "team_event"
	NotificationBulkOperation NotificationType = "bulk_operation"
	NotificationReminder      NotificationType = "reminder"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
	NotificationRead    NotificationStatus = "read"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "in_app"
	ChannelPush  Channel = "push"
)

// Notification is a user-facing event awaiting (or past) delivery.
type Notification struct {
	ID        string             `json:"id" db:"id"`
	UserID    string             `json:"user_id" db:"user_id"`
	Type      NotificationType   `json:"type" db:"type"`
	Title     string             `json:"title" db:"title"`
	Message   string             `json:"message" db:"message"`
	Entity    *EntityRef         `json:"entity,omitempty" db:"entity"`
	Status    NotificationStatus `json:"status" db:"status"`
	Channel   Channel            `json:"channel" db:"channel"`
	CreatedAt time.Time          `json:"created_at" db:"created_at"`
	SentAt    *time.Time         `json:"sent_at,omitempty" db:"sent_at"`
	ReadAt    *time.Time         `json:"read_at,omitempty" db:"read_at"`
	Context   map[string]any     `json:"context,omitempty" db:"context"`
}

// NotificationHistory records one delivery attempt on one channel.
// Append-only, one-to-many from Notification.
type NotificationHistory struct {
	ID             string    `json:"id" db:"id"`
	NotificationID string    `json:"notification_id" db:"notification_id"`
	Channel        Channel   `json:"channel" db:"channel"`
	Success        bool      `json:"success" db:"success"`
	ErrorCode      string    `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage   string    `json:"error_message,omitempty" db:"error_message"`
	AttemptedAt    time.Time `json:"attempted_at" db:"attempted_at"`
}
