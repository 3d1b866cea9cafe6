package api

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/matheus3301/forumdm/internal/bus"
	"github.com/matheus3301/forumdm/internal/rpc"
)

// toEvent wraps a bus event for a stream. Payloads that fail to encode are
// sent without one; the kind alone still tells the client to refetch.
func toEvent(profile string, evt bus.Event) *rpc.Event {
	out := &rpc.Event{
		ID:           uuid.NewString(),
		Profile:      profile,
		Kind:         evt.Kind,
		OccurredAtMs: evt.Timestamp.UnixMilli(),
	}
	if evt.Payload != nil {
		if raw, err := json.Marshal(evt.Payload); err == nil {
			out.Payload = raw
		}
	}
	return out
}
