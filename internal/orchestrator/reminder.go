package orchestrator

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stridehq/stride/pkg/models"
)

// defaultReminderDelay applies when the query asks for a reminder without a
// parseable time expression.
const defaultReminderDelay = 24 * time.Hour

var (
	remindTrigger = regexp.MustCompile(`(?i)\bremind me\b`)
	inPattern     = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(minute|hour|day|week)s?\b`)
	tomorrowWord  = regexp.MustCompile(`(?i)\btomorrow\b`)
	nextWeekWords = regexp.MustCompile(`(?i)\bnext\s+week\b`)
)

// maybeCreateReminder creates exactly one reminder row when the query asks for
// one ("remind me ..."). The reminder is tied to the entity the query refers
// to, when one resolves from session context. Reminder trouble never fails
// the request.
func (o *Orchestrator) maybeCreateReminder(ctx context.Context, sess *models.Session, req *models.QueryRequest) *models.Reminder {
	if o.reminders == nil || !remindTrigger.MatchString(req.Query) {
		return nil
	}

	r := &models.Reminder{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		Message:    strings.TrimSpace(req.Query),
		RemindAt:   parseRemindAt(req.Query, time.Now().UTC()),
		CreatedVia: models.ReminderViaChat,
		CreatedAt:  time.Now().UTC(),
	}
	if ref, ok, _ := o.sessions.ResolveReference(ctx, sess.ID, req.Query); ok {
		r.EntityType = ref.Type
		r.EntityID = ref.ID
	}

	if err := o.reminders.CreateReminder(ctx, r); err != nil {
		log.Error().Err(err).Str("user_id", req.UserID).Msg("create chat reminder failed")
		return nil
	}
	log.Info().
		Str("reminder_id", r.ID).
		Time("remind_at", r.RemindAt).
		Msg("reminder created from chat")
	return r
}

// parseRemindAt extracts a due time from the query text relative to now.
func parseRemindAt(query string, now time.Time) time.Time {
	if m := inPattern.FindStringSubmatch(query); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil && n > 0 {
			switch strings.ToLower(m[2]) {
			case "minute":
				return now.Add(time.Duration(n) * time.Minute)
			case "hour":
				return now.Add(time.Duration(n) * time.Hour)
			case "day":
				return now.AddDate(0, 0, n)
			case "week":
				return now.AddDate(0, 0, 7*n)
			}
		}
	}
	if tomorrowWord.MatchString(query) {
		return now.AddDate(0, 0, 1)
	}
	if nextWeekWords.MatchString(query) {
		return now.AddDate(0, 0, 7)
	}
	return now.Add(defaultReminderDelay)
}
