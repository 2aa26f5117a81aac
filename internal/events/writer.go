package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stratline/internal/domain"
	"stratline/internal/repo"
)

// Writer appends audit events through whatever store it is handed, so events
// land in the same transaction as the write they describe.
type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

func (w Writer) Append(ctx context.Context, store repo.Store, evtType, orgID, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	return store.AppendEvent(ctx, domain.Event{
		TS:         w.Now().UTC().Format(repo.TimeLayout),
		Type:       evtType,
		OrgID:      orgID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    actorID,
		Payload:    string(data),
	})
}
