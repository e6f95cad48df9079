// Package chat defines the room's domain model: participants, messages, the
// visibility rule that decides which messages a viewer may read, and the
// storage contract every persistence backend implements.
package chat

import "time"

const (
	// Broadcast is the recipient value meaning "everyone in the room".
	Broadcast = "Todos"

	// JoinText and LeaveText are the fixed status phrases announced when a
	// participant registers and when the reaper evicts them.
	JoinText  = "entra na sala..."
	LeaveText = "sai da sala..."

	// TimeLayout formats Message.Time as HH:mm:ss wall-clock time.
	TimeLayout = "15:04:05"
)

// MessageType discriminates status notices, public and private messages.
type MessageType string

const (
	TypeStatus  MessageType = "status"
	TypeMessage MessageType = "message"
	TypePrivate MessageType = "private_message"
)

// Public reports whether messages of this type are visible to every viewer.
func (t MessageType) Public() bool {
	return t == TypeStatus || t == TypeMessage
}

// Participant is a registered display name and its last liveness signal.
type Participant struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"` // unix milliseconds
}

// Message is one entry of the room log.
type Message struct {
	ID   string      `json:"id"`
	From string      `json:"from"`
	To   string      `json:"to"`
	Text string      `json:"text"`
	Type MessageType `json:"type"`
	Time string      `json:"time"`
}

// MessageBody holds the client-supplied, mutable fields of a message.
// The max on Text must equal MaxTextChars.
type MessageBody struct {
	To   string      `json:"to" validate:"required"`
	Text string      `json:"text" validate:"required,max=2000"`
	Type MessageType `json:"type" validate:"required,oneof=message private_message"`
}

// StatusMessage builds the broadcast status notice for name.
func StatusMessage(id, name, text string, at time.Time) Message {
	return Message{
		ID:   id,
		From: name,
		To:   Broadcast,
		Text: text,
		Type: TypeStatus,
		Time: at.Format(TimeLayout),
	}
}
