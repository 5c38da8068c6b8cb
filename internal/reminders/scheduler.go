// Package reminders runs the periodic sweep that turns due reminders into
// notifications. One loop per instance; when several instances sweep the same
// reminder, the idempotent mark-as-sent decides the single winner.
package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/internal/store"
	"github.com/stridehq/stride/pkg/models"
)

// Dispatcher delivers one due reminder to the user.
type Dispatcher interface {
	DispatchReminder(ctx context.Context, r *models.Reminder) error
}

// Scheduler sweeps the reminder store on a fixed interval.
type Scheduler struct {
	store      store.ReminderStore
	dispatcher Dispatcher
	interval   time.Duration
	limit      int

	// inFlight dedupes dispatch within this instance: a reminder being
	// delivered right now is skipped by an overlapping sweep.
	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(s store.ReminderStore, d Dispatcher, interval time.Duration, limit int) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if limit <= 0 {
		limit = 200
	}
	return &Scheduler{
		store:      s,
		dispatcher: d,
		interval:   interval,
		limit:      limit,
		inFlight:   make(map[string]struct{}),
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
// It blocks; run it in its own goroutine.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("interval", s.interval).Msg("reminder scheduler started")

	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep lists due reminders and delivers each one. Dispatch failure leaves
// the reminder unsent for the next interval; nothing here is fatal.
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.ListDueReminders(ctx, time.Now().UTC(), s.limit)
	if err != nil {
		log.Error().Err(err).Msg("list due reminders failed")
		return
	}

	for i := range due {
		if ctx.Err() != nil {
			return
		}
		s.deliver(ctx, &due[i])
	}
}

func (s *Scheduler) deliver(ctx context.Context, r *models.Reminder) {
	if !s.claim(r.ID) {
		return
	}
	defer s.release(r.ID)

	// Dispatch first, then mark. If we crash in between, the reminder is
	// re-delivered next interval — the trade chosen over silently losing it.
	if err := s.dispatcher.DispatchReminder(ctx, r); err != nil {
		log.Warn().
			Err(err).
			Str("reminder_id", r.ID).
			Str("user_id", r.UserID).
			Msg("reminder dispatch failed, will retry next interval")
		return
	}

	updated, err := s.store.MarkReminderSent(ctx, r.ID)
	if err != nil {
		log.Error().Err(err).Str("reminder_id", r.ID).Msg("mark reminder sent failed")
		return
	}
	if !updated {
		// Another instance got there first. The dispatch dedup upstream is
		// best-effort, so this can mean a duplicate delivery; log it.
		log.Debug().Str("reminder_id", r.ID).Msg("reminder already marked sent")
		return
	}
	log.Info().
		Str("reminder_id", r.ID).
		Str("user_id", r.UserID).
		Msg("reminder delivered")
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[id]; busy {
		return false
	}
	s.inFlight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, id)
}
