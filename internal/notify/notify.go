// Package notify delivers progress milestone and status change notifications.
// Delivery is best effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const (
	KindMilestone     = "progress.milestone"
	KindStatusChanged = "status.changed"
)

type Notification struct {
	Kind         string    `json:"kind"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Title        string    `json:"title"`
	OldValue     string    `json:"old_value"`
	NewValue     string    `json:"new_value"`
	RecipientIDs []string  `json:"recipient_ids,omitempty"`
	OrgID        string    `json:"org_id"`
	TS           time.Time `json:"ts"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Func adapts a plain function to Notifier.
type Func func(ctx context.Context, n Notification) error

func (f Func) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// Nop drops every notification.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if nt == nil {
			continue
		}
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(ctx context.Context, n Notification) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "notification",
		"kind", n.Kind,
		"entity_type", n.EntityType,
		"entity_id", n.EntityID,
		"title", n.Title,
		"old", n.OldValue,
		"new", n.NewValue,
		"recipients", n.RecipientIDs,
		"org_id", n.OrgID,
	)
	return nil
}

// CrossedMilestones returns the thresholds t with prev < t <= next, in the
// order given. Downward moves cross nothing.
func CrossedMilestones(prev, next int, thresholds []int) []int {
	if next <= prev {
		return nil
	}
	var crossed []int
	for _, t := range thresholds {
		if prev < t && t <= next {
			crossed = append(crossed, t)
		}
	}
	return crossed
}
