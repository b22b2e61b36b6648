package followup

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/medsense-ai/medsense/internal/engine"
	"github.com/medsense-ai/medsense/internal/models"
	"github.com/medsense-ai/medsense/internal/storage"
)

// Scheduler sends the 24-hour post-diagnosis check-ins. Reminder rows are
// created by the diagnosis tool; this ticker only delivers the due ones.
type Scheduler struct {
	store      *storage.Store
	dispatcher engine.Dispatcher
	interval   time.Duration
	log        logr.Logger
}

// New creates the scheduler.
func New(store *storage.Store, dispatcher engine.Dispatcher, interval time.Duration, log logr.Logger) *Scheduler {
	return &Scheduler{store: store, dispatcher: dispatcher, interval: interval, log: log}
}

// Run delivers due reminders on a ticker until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Tick sends every due reminder once. A send failure leaves the reminder
// unsent so the next tick retries it.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.store.DueFollowUps(ctx, time.Now())
	if err != nil {
		s.log.Error(err, "loading due follow-ups failed")
		return
	}

	for _, rem := range due {
		resp := models.Response{
			UserID:   rem.UserID,
			Platform: models.Platform(rem.Platform),
			Kind:     models.ResponseFollowUp,
			Text:     engine.FollowUpPromptMsg,
		}
		if err := s.dispatcher.Send(ctx, resp); err != nil {
			s.log.Error(err, "follow-up send failed", "userID", rem.UserID, "reminderID", rem.ID)
			continue
		}
		if err := s.store.MarkFollowUpSent(ctx, rem.ID); err != nil {
			s.log.Error(err, "marking follow-up sent failed", "reminderID", rem.ID)
		}
		s.log.V(1).Info("follow-up sent", "userID", rem.UserID, "reminderID", rem.ID)
	}
}
