//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=mocks/mock_store.go -package=mocks
package chat

import "context"

// NoticeFunc builds the status message written for an evicted participant.
type NoticeFunc func(name string) Message

// Store is the persistence boundary shared by the registry, the message
// service and the reaper. Implementations must make InsertParticipant and
// EvictParticipants atomic units.
type Store interface {
	// InsertParticipant stores p together with its announcement message.
	// It returns ErrConflict if a participant with the same name exists,
	// in which case nothing is written.
	InsertParticipant(ctx context.Context, p Participant, announce Message) error

	// FindParticipants returns every present participant, in no particular order.
	FindParticipants(ctx context.Context) ([]Participant, error)

	// FindParticipant returns ErrNotFound if name is not present.
	FindParticipant(ctx context.Context, name string) (Participant, error)

	// TouchParticipant sets LastStatus, or returns ErrNotFound.
	TouchParticipant(ctx context.Context, name string, lastStatus int64) error

	// EvictParticipants deletes each named participant whose LastStatus is
	// still below cutoff and appends notice(name) for every deleted one.
	// It returns the names actually removed.
	EvictParticipants(ctx context.Context, names []string, cutoff int64, notice NoticeFunc) ([]string, error)

	// InsertMessage appends msg to the log.
	InsertMessage(ctx context.Context, msg Message) error

	// FindMessages returns the whole log in insertion order.
	FindMessages(ctx context.Context) ([]Message, error)

	// FindMessage returns ErrNotFound if no message has the id.
	FindMessage(ctx context.Context, id string) (Message, error)

	// UpdateMessage replaces to, text and type of the message matching
	// {id, from}. It returns ErrNotFound if id is unknown and
	// ErrUnauthorized if the message has a different author.
	UpdateMessage(ctx context.Context, id, from string, body MessageBody) error

	// DeleteMessage removes the message matching {id, from}, with the same
	// errors as UpdateMessage.
	DeleteMessage(ctx context.Context, id, from string) error

	Close() error
}
