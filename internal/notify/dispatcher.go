// Package notify delivers notifications over pluggable channel drivers and
// records every delivery attempt in the notification history.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/contracts"
	"github.com/stridehq/stride/pkg/models"
)

const (
	maxSendAttempts = 3
	attemptInterval = 500 * time.Millisecond
)

// Dispatcher routes notifications to the driver registered for their channel.
type Dispatcher struct {
	store store.NotificationStore

	mu      sync.RWMutex
	drivers map[models.Channel]contracts.ChannelDriver
}

// NewDispatcher creates a dispatcher with no drivers registered.
func NewDispatcher(s store.NotificationStore) *Dispatcher {
	return &Dispatcher{
		store:   s,
		drivers: make(map[models.Channel]contracts.ChannelDriver),
	}
}

// RegisterDriver adds (or replaces) the driver for its channel.
func (d *Dispatcher) RegisterDriver(driver contracts.ChannelDriver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.drivers[driver.Kind()] = driver
}

func (d *Dispatcher) driverFor(ch models.Channel) (contracts.ChannelDriver, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	driver, ok := d.drivers[ch]
	return driver, ok
}

// Dispatch persists n and attempts delivery on its channel, recording one
// history row per attempt. The final status is sent or failed; a failed
// notification keeps its history for inspection and later retry.
func (d *Dispatcher) Dispatch(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	n.Status = models.NotificationPending

	if err := d.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	driver, ok := d.driverFor(n.Channel)
	if !ok {
		d.recordAttempt(ctx, n, fmt.Errorf("no driver for channel %s", n.Channel), "no_driver")
		d.setStatus(ctx, n.ID, models.NotificationFailed)
		return fmt.Errorf("no driver registered for channel %s", n.Channel)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(attemptInterval), maxSendAttempts-1), ctx)
	err := backoff.Retry(func() error {
		sendErr := driver.Send(ctx, n)
		d.recordAttempt(ctx, n, sendErr, "delivery_error")
		return sendErr
	}, bo)
	if err != nil {
		d.setStatus(ctx, n.ID, models.NotificationFailed)
		return fmt.Errorf("deliver notification %s via %s: %w", n.ID, n.Channel, err)
	}

	d.setStatus(ctx, n.ID, models.NotificationSent)
	log.Info().
		Str("notification_id", n.ID).
		Str("channel", string(n.Channel)).
		Str("user_id", n.UserID).
		Msg("notification delivered")
	return nil
}

// DispatchReminder turns a due reminder into an in-app notification.
func (d *Dispatcher) DispatchReminder(ctx context.Context, r *models.Reminder) error {
	n := &models.Notification{
		UserID:  r.UserID,
		Type:    models.NotificationReminder,
		Title:   "Reminder",
		Message: r.Message,
		Channel: models.ChannelInApp,
		Context: map[string]any{"reminder_id": r.ID},
	}
	if r.EntityID != "" {
		n.Entity = &models.EntityRef{Type: r.EntityType, ID: r.EntityID}
	}
	return d.Dispatch(ctx, n)
}

func (d *Dispatcher) recordAttempt(ctx context.Context, n *models.Notification, sendErr error, code string) {
	h := &models.NotificationHistory{
		ID:             uuid.New().String(),
		NotificationID: n.ID,
		Channel:        n.Channel,
		Success:        sendErr == nil,
		AttemptedAt:    time.Now().UTC(),
	}
	if sendErr != nil {
		h.ErrorCode = code
		h.ErrorMessage = sendErr.Error()
	}
	if err := d.store.AppendNotificationHistory(ctx, h); err != nil {
		log.Error().Err(err).Str("notification_id", n.ID).Msg("append notification history failed")
	}
}

func (d *Dispatcher) setStatus(ctx context.Context, id string, status models.NotificationStatus) {
	if err := d.store.SetNotificationStatus(ctx, id, status, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("notification_id", id).Msg("set notification status failed")
	}
}
