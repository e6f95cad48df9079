package chat

import "context"

// EventKind names a room event published to observers.
type EventKind string

const (
	EventJoined  EventKind = "joined"
	EventLeft    EventKind = "left"
	EventPosted  EventKind = "posted"
	EventEdited  EventKind = "edited"
	EventDeleted EventKind = "deleted"
)

// Event is the payload published to chat.events.<kind> subjects. It never
// carries message text, so private messages stay private.
type Event struct {
	Kind        EventKind   `json:"kind"`
	Participant string      `json:"participant"`          // actor or subject of the event
	MessageID   string      `json:"message_id,omitempty"` // for message events
	MessageType MessageType `json:"message_type,omitempty"`
	Ts          int64       `json:"ts"` // unix milliseconds
}

// EventSink receives room events after the corresponding change is stored.
// Emit must not block the caller for long and must not fail the operation.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

type discard struct{}

func (discard) Emit(context.Context, Event) {}

// Discard is an EventSink that drops every event.
var Discard EventSink = discard{}
