package notification

import (
	"context"
	"time"

	"github.com/nerrad567/triggerflow-core/internal/automation"
)

// Logger is the subset of logging.Logger used here.
type Logger interface {
	Warn(msg string, args ...any)
}

// Pusher delivers a stored notification to live clients.
type Pusher interface {
	Publish(ctx context.Context, n *Notification) error
}

// Fanout implements automation.NotificationSink: it persists each
// notification and then pushes it to live clients.
type Fanout struct {
	repo   Repository
	pusher Pusher
	logger Logger
	now    func() time.Time
}

var _ automation.NotificationSink = (*Fanout)(nil)

// NewFanout creates a sink. pusher and logger may be nil.
func NewFanout(repo Repository, pusher Pusher, logger Logger) *Fanout {
	return &Fanout{repo: repo, pusher: pusher, logger: logger, now: time.Now}
}

// Notify stores n and pushes it. Only a storage failure is returned;
// push failures are logged.
func (f *Fanout) Notify(ctx context.Context, n automation.Notification) error {
	rec := &Notification{
		UserID:    n.UserID,
		Type:      n.Type,
		Title:     n.Title,
		Body:      n.Body,
		RuleID:    n.RuleID,
		RuleName:  n.RuleName,
		CreatedAt: f.now().UTC(),
	}
	if err := f.repo.Create(ctx, rec); err != nil {
		return err
	}

	if f.pusher == nil {
		return nil
	}
	if err := f.pusher.Publish(ctx, rec); err != nil && f.logger != nil {
		f.logger.Warn("notification push failed", "notification_id", rec.ID, "user_id", rec.UserID, "error", err)
	}
	return nil
}
