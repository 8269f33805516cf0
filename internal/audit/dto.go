package audit

import (
	"encoding/json"
	"time"

	auditmodel "github.com/frahmantamala/payout-engine/internal/core/datamodel/audit"
)

type EventResponse struct {
	ID         string                 `json:"id"`
	EventType  auditmodel.EventType   `json:"event_type"`
	EntityType auditmodel.EntityType  `json:"entity_type"`
	EntityID   int64                  `json:"entity_id"`
	ActorID    *int64                 `json:"actor_id,omitempty"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func ToResponses(events []auditmodel.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, ev := range events {
		resp := EventResponse{
			ID:         ev.ID,
			EventType:  ev.EventType,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			ActorID:    ev.ActorID,
			Message:    ev.Message,
			CreatedAt:  ev.CreatedAt,
		}
		if ev.Details != "" {
			// rows are written by Entry.ToEvent, so details are always an object
			_ = json.Unmarshal([]byte(ev.Details), &resp.Details)
		}
		out = append(out, resp)
	}
	return out
}
