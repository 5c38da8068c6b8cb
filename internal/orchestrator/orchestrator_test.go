package orchestrator_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stridehq/stride/internal/kv"
	"github.com/stridehq/stride/internal/orchestrator"
	"github.com/stridehq/stride/internal/ratelimit"
	"github.com/stridehq/stride/internal/session"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/contracts"
	"github.com/stridehq/stride/pkg/models"
)

// ── Fakes ───────────────────────────────────────────────────

type fakeRetriever struct {
	data *models.RetrievedData
	err  error
}

func (f *fakeRetriever) Retrieve(context.Context, string, string, string) (*models.RetrievedData, error) {
	return f.data, f.err
}

type fakeModel struct {
	reply string
	err   error
	delay time.Duration
}

func (f *fakeModel) Complete(ctx context.Context, _ string, _ []models.ChatTurn) (string, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.reply, f.err
}

type captureAudit struct {
	mu      sync.Mutex
	records []*models.AuditRecord
}

func (c *captureAudit) Record(rec *models.AuditRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *rec
	c.records = append(c.records, &cp)
}

func (c *captureAudit) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func (c *captureAudit) last(t *testing.T) *models.AuditRecord {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.records) == 0 {
		t.Fatal("no audit record written")
	}
	return c.records[len(c.records)-1]
}

type fixture struct {
	orch     *orchestrator.Orchestrator
	audit    *captureAudit
	sessions *session.Store
	store    *store.MemoryStore
}

func newFixture(t *testing.T, model *fakeModel, retr *fakeRetriever, windows ...ratelimit.Window) *fixture {
	t.Helper()
	if len(windows) == 0 {
		windows = []ratelimit.Window{ratelimit.MinuteWindow(60, 10), ratelimit.HourWindow(1000)}
	}
	buckets := ratelimit.NewMemoryBuckets()
	t.Cleanup(func() { buckets.Close() })

	backend := kv.NewMemory()
	t.Cleanup(func() { backend.Close() })
	sessions := session.NewStore(backend, session.Config{TTL: time.Minute})

	audit := &captureAudit{}
	mem := store.NewMemoryStore()

	// A nil *fakeModel must reach the orchestrator as a nil interface.
	var mb contracts.ModelBackend
	if model != nil {
		mb = model
	}

	orch := orchestrator.New(ratelimit.NewController(buckets, windows...),
		sessions, retr, mb, audit, mem, 100*time.Millisecond)
	return &fixture{orch: orch, audit: audit, sessions: sessions, store: mem}
}

func taskData() *models.RetrievedData {
	return &models.RetrievedData{Sets: []models.ResultSet{
		{EntityType: "task", Items: []map[string]any{
			{"id": "t-1", "title": "Fix login", "status": "open"},
			{"id": "t-2", "title": "Update docs", "status": "open"},
		}},
		{EntityType: "bug", Items: []map[string]any{
			{"id": "b-1", "title": "Crash on save", "status": "open"},
		}},
	}}
}

func query(userID string) *models.QueryRequest {
	return &models.QueryRequest{UserID: userID, TenantID: "tenant-1", Query: "show me my tasks"}
}

// ── Tests ───────────────────────────────────────────────────

func TestHandle_SuccessPath(t *testing.T) {
	f := newFixture(t,
		&fakeModel{reply: "You have two tasks. The most urgent is Fix login (t-1); you should assign it."},
		&fakeRetriever{data: taskData()})

	resp, decision, err := f.orch.Handle(context.Background(), query("user-ok"))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !decision.Allowed {
		t.Fatal("request denied unexpectedly")
	}
	if resp.Fallback {
		t.Error("Fallback = true on a healthy model")
	}
	if resp.SessionID == "" {
		t.Error("no session id assigned")
	}

	// Only the item the reply mentions becomes a card.
	if len(resp.EntityCards) != 1 || resp.EntityCards[0].ID != "t-1" {
		t.Errorf("EntityCards = %+v, want just t-1", resp.EntityCards)
	}
	if len(resp.SuggestedActions) != 1 || resp.SuggestedActions[0] != "assign" {
		t.Errorf("SuggestedActions = %v, want [assign]", resp.SuggestedActions)
	}

	rec := f.audit.last(t)
	if rec.Outcome != models.OutcomeSuccess {
		t.Errorf("audit outcome = %q, want success", rec.Outcome)
	}
	if rec.Intent != "search" {
		t.Errorf("audit intent = %q, want search", rec.Intent)
	}
}

func TestHandle_DeniedRequestHasNoSideEffects(t *testing.T) {
	// Tiny window: one token total.
	f := newFixture(t, &fakeModel{reply: "ok"}, &fakeRetriever{data: taskData()},
		ratelimit.Window{Name: ratelimit.WindowMinute, Capacity: 1, RefillPerSec: 0.001})
	ctx := context.Background()

	if _, d, err := f.orch.Handle(ctx, query("user-deny")); err != nil || !d.Allowed {
		t.Fatalf("first request: allowed=%v err=%v, want admitted", d.Allowed, err)
	}

	resp, d, err := f.orch.Handle(ctx, query("user-deny"))
	if err != nil {
		t.Fatalf("denied request error = %v, want nil (denial is not an error)", err)
	}
	if d.Allowed {
		t.Fatal("second request admitted past capacity")
	}
	if resp != nil {
		t.Error("denied request produced a response")
	}
	if d.RetryAfter <= 0 {
		t.Errorf("RetryAfter = %v, want positive", d.RetryAfter)
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	// Exactly one audit record: the admitted request's.
	if f.audit.count() != 1 {
		t.Errorf("audit records = %d, want 1 (none for the denial)", f.audit.count())
	}
}

func TestHandle_ModelTimeoutFallsBack(t *testing.T) {
	f := newFixture(t,
		&fakeModel{reply: "too late", delay: time.Second}, // past the 100ms budget
		&fakeRetriever{data: taskData()})

	resp, _, err := f.orch.Handle(context.Background(), query("user-slow"))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !resp.Fallback {
		t.Fatal("Fallback = false after model timeout")
	}
	// Deterministic template reports per-type counts.
	if !strings.Contains(resp.Text, "2 tasks") || !strings.Contains(resp.Text, "1 bug") {
		t.Errorf("fallback text = %q, want per-type counts", resp.Text)
	}

	rec := f.audit.last(t)
	if rec.Outcome != models.OutcomeSuccess {
		t.Errorf("audit outcome = %q, want success (fallback answers the caller)", rec.Outcome)
	}
	if f.audit.count() != 1 {
		t.Errorf("audit records = %d, want exactly 1", f.audit.count())
	}
}

func TestHandle_ModelErrorFallsBack(t *testing.T) {
	f := newFixture(t,
		&fakeModel{err: errors.New("model unavailable")},
		&fakeRetriever{data: &models.RetrievedData{}})

	resp, _, err := f.orch.Handle(context.Background(), query("user-err"))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !resp.Fallback {
		t.Fatal("Fallback = false after model error")
	}
	if !strings.Contains(resp.Text, "no matching items") {
		t.Errorf("fallback text = %q, want the empty-result template", resp.Text)
	}
}

func TestHandle_NilModelAlwaysFallsBack(t *testing.T) {
	f := newFixture(t, nil, &fakeRetriever{data: taskData()})

	resp, _, err := f.orch.Handle(context.Background(), query("user-nomodel"))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if !resp.Fallback {
		t.Error("Fallback = false with no model configured")
	}
}

func TestHandle_RetrievalFailureDegrades(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: "nothing to report"},
		&fakeRetriever{err: errors.New("search backend down")})

	resp, _, err := f.orch.Handle(context.Background(), query("user-retr"))
	if err != nil {
		t.Fatalf("Handle() error = %v, want graceful degradation", err)
	}
	if resp == nil {
		t.Fatal("no response despite degradation contract")
	}
	if f.audit.last(t).Outcome != models.OutcomeFailed {
		t.Errorf("audit outcome = %q, want failed when retrieval broke", f.audit.last(t).Outcome)
	}
}

func TestHandle_SessionCarriesAcrossTurns(t *testing.T) {
	f := newFixture(t,
		&fakeModel{reply: "Your top task is Fix login (t-1)."},
		&fakeRetriever{data: taskData()})
	ctx := context.Background()

	resp, _, err := f.orch.Handle(ctx, query("user-sess"))
	if err != nil {
		t.Fatalf("first turn error = %v", err)
	}

	// Second turn reuses the session and can resolve "that task".
	ref, ok, err := f.sessions.ResolveReference(ctx, resp.SessionID, "close that task")
	if err != nil {
		t.Fatalf("ResolveReference() error = %v", err)
	}
	if !ok || ref.ID != "t-1" {
		t.Errorf("that task = %q (ok=%v), want t-1 from the previous turn", ref.ID, ok)
	}
}

func TestHandle_RemindMeCreatesOneReminder(t *testing.T) {
	f := newFixture(t,
		&fakeModel{reply: "Done, I will remind you about Fix login (t-1)."},
		&fakeRetriever{data: taskData()})
	ctx := context.Background()

	req := query("user-rem")
	req.Query = "remind me about the first task in 2 hours"
	before := time.Now().UTC()

	if _, _, err := f.orch.Handle(ctx, req); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	reminders, err := f.store.ListReminders(ctx, "user-rem")
	if err != nil {
		t.Fatalf("ListReminders() error = %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("reminders = %d, want exactly 1", len(reminders))
	}
	r := reminders[0]
	if r.CreatedVia != models.ReminderViaChat {
		t.Errorf("CreatedVia = %q, want chat", r.CreatedVia)
	}
	want := before.Add(2 * time.Hour)
	if r.RemindAt.Before(want.Add(-time.Minute)) || r.RemindAt.After(want.Add(time.Minute)) {
		t.Errorf("RemindAt = %v, want about %v", r.RemindAt, want)
	}

	if f.audit.last(t).Action != "reminder_created" {
		t.Errorf("audit action = %q, want reminder_created", f.audit.last(t).Action)
	}
}

func TestHandle_LargeResultSetGetsTable(t *testing.T) {
	items := make([]map[string]any, 8)
	for i := range items {
		items[i] = map[string]any{"id": "t-x", "title": "Task", "status": "open"}
	}
	f := newFixture(t, &fakeModel{reply: "Lots of tasks."},
		&fakeRetriever{data: &models.RetrievedData{Sets: []models.ResultSet{{EntityType: "task", Items: items}}}})

	resp, _, err := f.orch.Handle(context.Background(), query("user-table"))
	if err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if resp.Table == nil {
		t.Fatal("Table = nil for a large result set")
	}
	if len(resp.Table.Columns) != 3 {
		t.Errorf("columns = %v, want the 3 common keys", resp.Table.Columns)
	}
	if len(resp.Table.Rows) != 8 {
		t.Errorf("rows = %d, want all 8 (under the cap)", len(resp.Table.Rows))
	}
}

func TestHandle_EmptyQueryRejected(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: "ok"}, &fakeRetriever{data: &models.RetrievedData{}})

	if _, _, err := f.orch.Handle(context.Background(), &models.QueryRequest{
		UserID: "user-empty", TenantID: "tenant-1", Query: "   ",
	}); err == nil {
		t.Error("Handle() accepted a blank query")
	}
	if f.audit.count() != 0 {
		t.Errorf("audit records = %d, want 0 for a rejected blank query", f.audit.count())
	}
}
