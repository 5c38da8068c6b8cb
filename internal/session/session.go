// Package session manages short-lived, TTL-bound conversation state for the
// assistant. Sessions live in the shared kv store keyed by session ID, so a
// conversation can continue on whichever instance the load balancer picks.
//
// Expiry is not an error: Get on an evicted or unknown session reports
// not-found and the orchestrator starts a fresh session.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stridehq/stride/internal/kv"
	"github.com/stridehq/stride/pkg/models"
)

const keyPrefix = "session:"

// OrdinalScopeGlobal resolves ordinals against the last result set shown,
// whatever its type; OrdinalScopePerType filters that set to the entity type
// named in the reference first.
const (
	OrdinalScopeGlobal  = "global"
	OrdinalScopePerType = "per_type"
)

// Config bounds session lifetime and history.
type Config struct {
	TTL          time.Duration
	MaxMessages  int
	OrdinalScope string
}

// Store is the conversation context store.
type Store struct {
	kv  kv.Store
	cfg Config
}

// NewStore creates a session store over the given kv backend.
func NewStore(backend kv.Store, cfg Config) *Store {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Minute
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 20
	}
	if cfg.OrdinalScope == "" {
		cfg.OrdinalScope = OrdinalScopeGlobal
	}
	return &Store{kv: backend, cfg: cfg}
}

// Create initializes a new session. A caller-supplied id is honored (the web
// layer may mint them); an empty id gets a fresh UUID.
func (s *Store) Create(ctx context.Context, sessionID, userID, tenantID string) (*models.Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	now := time.Now().UTC()
	sess := &models.Session{
		ID:             sessionID,
		UserID:         userID,
		TenantID:       tenantID,
		CreatedAt:      now,
		LastActivityAt: now,
		LastEntity:     make(map[string]models.EntityRef),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session. An expired or unknown session reports found=false.
func (s *Store) Get(ctx context.Context, sessionID string) (*models.Session, bool, error) {
	raw, found, err := s.kv.Get(ctx, keyPrefix+sessionID)
	if err != nil {
		return nil, false, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if !found {
		return nil, false, nil
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	sess.LastActivityAt = time.Now().UTC()
	if err := s.save(ctx, &sess); err != nil {
		return nil, false, err
	}
	return &sess, true, nil
}

// AppendMessage adds one turn to the session history, trimming the oldest
// turns past the cap. Assistant turns carrying entity references refresh the
// last-entity-per-type map and the last structured result set.
func (s *Store) AppendMessage(ctx context.Context, sessionID string, msg models.Message) error {
	sess, found, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	sess.Messages = append(sess.Messages, msg)
	if over := len(sess.Messages) - s.cfg.MaxMessages; over > 0 {
		sess.Messages = sess.Messages[over:]
	}

	if msg.Role == models.RoleAssistant && len(msg.Entities) > 0 {
		if sess.LastEntity == nil {
			sess.LastEntity = make(map[string]models.EntityRef)
		}
		for _, ref := range msg.Entities {
			sess.LastEntity[ref.Type] = ref
		}
		sess.LastResults = msg.Entities
	}

	sess.LastActivityAt = time.Now().UTC()
	return s.save(ctx, sess)
}

// Touch extends the session's TTL without other mutation.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.kv.Expire(ctx, keyPrefix+sessionID, s.cfg.TTL)
}

// Delete removes a session. Idempotent: deleting an expired or unknown
// session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.kv.Delete(ctx, keyPrefix+sessionID)
}

func (s *Store) save(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.kv.Set(ctx, keyPrefix+sess.ID, string(raw), s.cfg.TTL); err != nil {
		return fmt.Errorf("store session %s: %w", sess.ID, err)
	}
	return nil
}
