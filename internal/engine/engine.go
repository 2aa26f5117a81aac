package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stratline/internal/config"
	"stratline/internal/events"
	"stratline/internal/notify"
	"stratline/internal/repo"
)

const systemActor = "system"

type Engine struct {
	Store    repo.Store
	Notifier notify.Notifier
	Logger   *slog.Logger
	Config   *config.Config
	Now      func() time.Time
}

type Option func(*Engine)

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.Notifier = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.Now = now }
}

func New(store repo.Store, cfg *config.Config, opts ...Option) Engine {
	if cfg == nil {
		cfg = config.Default("default")
	}
	e := Engine{
		Store:    store,
		Notifier: notify.Nop{},
		Logger:   slog.Default(),
		Config:   cfg,
		Now:      time.Now,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// now is UTC at the precision the store keeps.
func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default("default")
}

// audit appends an event through store, which is the transaction-bound
// store when called inside InTx.
func (e Engine) audit(ctx context.Context, store repo.Store, evtType, orgID, entityKind, entityID, actorID string, payload events.EventPayload) error {
	if actorID == "" {
		actorID = systemActor
	}
	return events.Writer{Now: e.now}.Append(ctx, store, evtType, orgID, entityKind, entityID, actorID, payload)
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.NewString()
}

func sameOrg(callerOrg, entityOrg string) bool {
	return callerOrg == "" || callerOrg == entityOrg
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
