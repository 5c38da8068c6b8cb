// Package orchestrator drives one assistant query end to end: admission
// check, session context, domain-data retrieval, model invocation with a hard
// timeout, reply parsing, and the audit record. Model trouble of any kind
// degrades to a deterministic fallback — the assistant always answers.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stridehq/stride/internal/ratelimit"
	"github.com/stridehq/stride/internal/session"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/contracts"
	"github.com/stridehq/stride/pkg/models"
)

const (
	defaultModelTimeout = 20 * time.Second

	// historyTurns bounds how much prior conversation goes into the prompt.
	historyTurns = 6
)

const systemPrompt = `You are the Stride assistant. You answer questions about
the user's projects, tasks, and bugs using only the structured data provided
in the conversation. Be concise. When you reference an item, mention its title
and id exactly as given. Never invent items that are not in the data.`

// AuditSink receives the one audit record each handled request produces.
type AuditSink interface {
	Record(rec *models.AuditRecord)
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	limiter      *ratelimit.Controller
	sessions     *session.Store
	retriever    contracts.Retriever
	model        contracts.ModelBackend // nil means fallback-only deployment
	auditor      AuditSink
	reminders    store.ReminderStore
	modelTimeout time.Duration
	tracer       trace.Tracer
}

// New creates an orchestrator. model may be nil, in which case every query
// takes the fallback path.
func New(limiter *ratelimit.Controller, sessions *session.Store, retriever contracts.Retriever,
	model contracts.ModelBackend, auditor AuditSink, reminders store.ReminderStore,
	modelTimeout time.Duration) *Orchestrator {

	if modelTimeout <= 0 {
		modelTimeout = defaultModelTimeout
	}
	return &Orchestrator{
		limiter:      limiter,
		sessions:     sessions,
		retriever:    retriever,
		model:        model,
		auditor:      auditor,
		reminders:    reminders,
		modelTimeout: modelTimeout,
		tracer:       otel.Tracer("stride/orchestrator"),
	}
}

// Handle runs one query through the pipeline. A denied request returns the
// admission decision with a nil response: no session is touched and no audit
// record is written for it. Any other internal failure degrades to the
// fallback response rather than an error.
func (o *Orchestrator) Handle(ctx context.Context, req *models.QueryRequest) (*models.QueryResponse, ratelimit.Decision, error) {
	ctx, span := o.tracer.Start(ctx, "assistant.query",
		trace.WithAttributes(attribute.String("tenant.id", req.TenantID)))
	defer span.End()

	if strings.TrimSpace(req.Query) == "" {
		return nil, ratelimit.Decision{Allowed: true}, fmt.Errorf("empty query")
	}

	decision, err := o.limiter.Consume(ctx, req.UserID)
	if err != nil {
		// Bucket store trouble must not take the assistant down; admit and
		// let the shared store recover.
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("admission check failed, admitting")
		decision = ratelimit.Decision{Allowed: true}
	}
	if !decision.Allowed {
		span.SetAttributes(attribute.String("admission.window", decision.Window))
		return nil, decision, nil
	}

	sess, err := o.loadOrCreateSession(ctx, req)
	if err != nil {
		return nil, decision, fmt.Errorf("session: %w", err)
	}

	// A reference like "the second one" is resolved against the session
	// before retrieval so the retriever sees a concrete entity.
	query := req.Query
	if ref, ok, _ := o.sessions.ResolveReference(ctx, sess.ID, req.Query); ok {
		query = fmt.Sprintf("%s (referring to %s %q, id %s)", req.Query, ref.Type, ref.Title, ref.ID)
		span.SetAttributes(attribute.String("reference.entity_id", ref.ID))
	}

	data, outcome := o.retrieve(ctx, req, query)

	reply, fellBack := o.invokeModel(ctx, sess, query, data)

	resp := o.buildResponse(sess.ID, reply, fellBack, data)

	o.appendTurns(ctx, sess.ID, req.Query, resp)

	var reminder *models.Reminder
	if r := o.maybeCreateReminder(ctx, sess, req); r != nil {
		reminder = r
		resp.SuggestedActions = appendUnique(resp.SuggestedActions, "view reminders")
	}

	o.auditor.Record(&models.AuditRecord{
		RequestID:       uuid.New().String(),
		UserID:          req.UserID,
		TenantID:        req.TenantID,
		SessionID:       sess.ID,
		Query:           req.Query,
		Intent:          classifyIntent(req.Query),
		Entities:        resp.EntityCards,
		Action:          auditAction(reminder),
		Outcome:         outcome,
		ResponseSummary: resp.Text,
		Timestamp:       time.Now().UTC(),
		RemoteAddr:      req.RemoteAddr,
		UserAgent:       req.UserAgent,
	})

	return resp, decision, nil
}

func (o *Orchestrator) loadOrCreateSession(ctx context.Context, req *models.QueryRequest) (*models.Session, error) {
	if req.SessionID != "" {
		sess, found, err := o.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		if found {
			return sess, nil
		}
		// Expired or unknown: start fresh under the same id so the client
		// keeps a stable handle. Not surfaced as a failure.
	}
	return o.sessions.Create(ctx, req.SessionID, req.UserID, req.TenantID)
}

// retrieve fetches domain data. Retrieval failure is absorbed: the request
// continues with no data and the audit outcome records the failure.
func (o *Orchestrator) retrieve(ctx context.Context, req *models.QueryRequest, query string) (*models.RetrievedData, models.AuditOutcome) {
	if o.retriever == nil {
		return &models.RetrievedData{}, models.OutcomeSuccess
	}
	data, err := o.retriever.Retrieve(ctx, req.UserID, req.TenantID, query)
	if err != nil {
		log.Warn().Err(err).Str("user_id", req.UserID).Msg("retrieval failed")
		return &models.RetrievedData{}, models.OutcomeFailed
	}
	if data == nil {
		data = &models.RetrievedData{}
	}
	return data, models.OutcomeSuccess
}

// invokeModel calls the model under a hard deadline. Timeout, transport
// failure, and malformed output all take the same edge: one warning log and
// the fallback text. No silent retry — a degraded model must not double tail
// latency.
func (o *Orchestrator) invokeModel(ctx context.Context, sess *models.Session, query string, data *models.RetrievedData) (string, bool) {
	if o.model == nil {
		return fallbackText(data), true
	}

	turns := promptTurns(sess, query, data)

	mctx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()

	reply, err := o.model.Complete(mctx, systemPrompt, turns)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("model call failed, using fallback")
		return fallbackText(data), true
	}
	if strings.TrimSpace(reply) == "" {
		log.Warn().Str("session_id", sess.ID).Msg("model returned empty reply, using fallback")
		return fallbackText(data), true
	}
	return reply, false
}

// promptTurns assembles the bounded conversation slice plus the current query
// and a structured dump of the retrieved data.
func promptTurns(sess *models.Session, query string, data *models.RetrievedData) []models.ChatTurn {
	msgs := sess.Messages
	if len(msgs) > historyTurns {
		msgs = msgs[len(msgs)-historyTurns:]
	}

	turns := make([]models.ChatTurn, 0, len(msgs)+1)
	for _, m := range msgs {
		turns = append(turns, models.ChatTurn{Role: string(m.Role), Content: m.Content})
	}

	var b strings.Builder
	b.WriteString(query)
	if data.TotalItems() > 0 {
		dump, err := json.Marshal(data.Sets)
		if err == nil {
			b.WriteString("\n\nRetrieved data:\n")
			b.Write(dump)
		}
	} else {
		b.WriteString("\n\nRetrieved data: none")
	}
	turns = append(turns, models.ChatTurn{Role: string(models.RoleUser), Content: b.String()})
	return turns
}

func (o *Orchestrator) buildResponse(sessionID, reply string, fellBack bool, data *models.RetrievedData) *models.QueryResponse {
	resp := &models.QueryResponse{
		SessionID: sessionID,
		Text:      reply,
		Fallback:  fellBack,
	}
	if fellBack {
		// No synthesis on the fallback path: surface the top results as
		// cards and let the template text carry the counts.
		resp.EntityCards = leadingRefs(data, maxFallbackCards)
	} else {
		resp.EntityCards = referencedRefs(reply, data)
	}
	resp.SuggestedActions = suggestActions(reply)
	resp.Table = tableSummary(data)
	return resp
}

// appendTurns records the exchange in the session. The assistant turn carries
// the entity cards so later ordinal and demonstrative references resolve.
func (o *Orchestrator) appendTurns(ctx context.Context, sessionID, query string, resp *models.QueryResponse) {
	if err := o.sessions.AppendMessage(ctx, sessionID, models.Message{
		Role:    models.RoleUser,
		Content: query,
	}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("append user turn failed")
		return
	}
	if err := o.sessions.AppendMessage(ctx, sessionID, models.Message{
		Role:     models.RoleAssistant,
		Content:  resp.Text,
		Entities: resp.EntityCards,
	}); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("append assistant turn failed")
	}
}

func auditAction(r *models.Reminder) string {
	if r != nil {
		return "reminder_created"
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
