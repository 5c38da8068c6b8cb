package notify_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stridehq/stride/internal/notify"
	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/models"
)

type flakyDriver struct {
	kind models.Channel

	mu       sync.Mutex
	failures int
	sends    int
}

func (f *flakyDriver) Kind() models.Channel { return f.kind }

func (f *flakyDriver) Send(context.Context, *models.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends++
	if f.failures > 0 {
		f.failures--
		return errors.New("endpoint unavailable")
	}
	return nil
}

func TestDispatch_SuccessRecordsHistory(t *testing.T) {
	mem := store.NewMemoryStore()
	d := notify.NewDispatcher(mem)
	d.RegisterDriver(&flakyDriver{kind: models.ChannelInApp})
	ctx := context.Background()

	n := &models.Notification{
		UserID:  "u1",
		Type:    models.NotificationAssignment,
		Title:   "Assigned",
		Message: "You were assigned Fix login",
		Channel: models.ChannelInApp,
	}
	if err := d.Dispatch(ctx, n); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	list, _ := mem.ListNotifications(ctx, "u1", 0)
	if len(list) != 1 || list[0].Status != models.NotificationSent {
		t.Fatalf("notifications = %+v, want one sent", list)
	}
	history, _ := mem.ListNotificationHistory(ctx, n.ID)
	if len(history) != 1 || !history[0].Success {
		t.Errorf("history = %+v, want one successful attempt", history)
	}
}

func TestDispatch_RetriesAndRecordsEachAttempt(t *testing.T) {
	mem := store.NewMemoryStore()
	d := notify.NewDispatcher(mem)
	driver := &flakyDriver{kind: models.ChannelInApp, failures: 2}
	d.RegisterDriver(driver)
	ctx := context.Background()

	n := &models.Notification{UserID: "u1", Channel: models.ChannelInApp, Type: models.NotificationReminder}
	if err := d.Dispatch(ctx, n); err != nil {
		t.Fatalf("Dispatch() error = %v, want recovery on third attempt", err)
	}

	history, _ := mem.ListNotificationHistory(ctx, n.ID)
	if len(history) != 3 {
		t.Fatalf("history rows = %d, want one per attempt (3)", len(history))
	}
	if history[0].Success || history[1].Success || !history[2].Success {
		t.Errorf("attempt outcomes = %v %v %v, want fail fail success",
			history[0].Success, history[1].Success, history[2].Success)
	}
	if history[0].ErrorCode != "delivery_error" || history[0].ErrorMessage == "" {
		t.Errorf("failed attempt = %+v, want error code and message", history[0])
	}
}

func TestDispatch_ExhaustedRetriesMarksFailed(t *testing.T) {
	mem := store.NewMemoryStore()
	d := notify.NewDispatcher(mem)
	d.RegisterDriver(&flakyDriver{kind: models.ChannelInApp, failures: 10})
	ctx := context.Background()

	n := &models.Notification{UserID: "u1", Channel: models.ChannelInApp}
	if err := d.Dispatch(ctx, n); err == nil {
		t.Fatal("Dispatch() error = nil, want failure after exhausted retries")
	}

	list, _ := mem.ListNotifications(ctx, "u1", 0)
	if list[0].Status != models.NotificationFailed {
		t.Errorf("status = %q, want failed", list[0].Status)
	}
	history, _ := mem.ListNotificationHistory(ctx, n.ID)
	if len(history) != 3 {
		t.Errorf("history rows = %d, want 3 recorded attempts", len(history))
	}
}

func TestDispatch_UnknownChannelFails(t *testing.T) {
	mem := store.NewMemoryStore()
	d := notify.NewDispatcher(mem)
	ctx := context.Background()

	n := &models.Notification{UserID: "u1", Channel: models.ChannelPush}
	if err := d.Dispatch(ctx, n); err == nil {
		t.Fatal("Dispatch() succeeded with no driver registered")
	}
	history, _ := mem.ListNotificationHistory(ctx, n.ID)
	if len(history) != 1 || history[0].ErrorCode != "no_driver" {
		t.Errorf("history = %+v, want a single no_driver attempt", history)
	}
}

func TestDispatchReminder_BuildsInAppNotification(t *testing.T) {
	mem := store.NewMemoryStore()
	d := notify.NewDispatcher(mem)
	d.RegisterDriver(notify.NewInAppDriver())
	ctx := context.Background()

	err := d.DispatchReminder(ctx, &models.Reminder{
		ID:         "r-1",
		UserID:     "u1",
		EntityType: "task",
		EntityID:   "t-1",
		Message:    "Check on Fix login",
	})
	if err != nil {
		t.Fatalf("DispatchReminder() error = %v", err)
	}

	list, _ := mem.ListNotifications(ctx, "u1", 0)
	if len(list) != 1 {
		t.Fatalf("notifications = %d, want 1", len(list))
	}
	n := list[0]
	if n.Type != models.NotificationReminder || n.Channel != models.ChannelInApp {
		t.Errorf("type/channel = %s/%s, want reminder/in_app", n.Type, n.Channel)
	}
	if n.Entity == nil || n.Entity.ID != "t-1" {
		t.Errorf("entity = %+v, want the reminder's task", n.Entity)
	}
	if n.Context["reminder_id"] != "r-1" {
		t.Errorf("context = %v, want reminder_id r-1", n.Context)
	}
}

func TestWebhookDriver_SignsPayload(t *testing.T) {
	const secret = "s3cret"
	var (
		gotSig  string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Stride-Signature")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	driver := notify.NewWebhookDriver(models.ChannelPush, srv.URL, secret)
	err := driver.Send(context.Background(), &models.Notification{
		ID: "n-1", UserID: "u1", Channel: models.ChannelPush, Type: models.NotificationTeamEvent,
	})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(gotBody)
	want := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	if gotSig != want {
		t.Errorf("signature = %q, want %q", gotSig, want)
	}
}

func TestWebhookDriver_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	driver := notify.NewWebhookDriver(models.ChannelPush, srv.URL, "")
	if err := driver.Send(context.Background(), &models.Notification{ID: "n-1"}); err == nil {
		t.Error("Send() error = nil for HTTP 502")
	}
}
