// Package badgerstore implements chat.Store on an embedded BadgerDB. It needs
// no external service and is the default backend for single-node deployments.
//
// Key layout:
//
//	participant:<name>  -> JSON chat.Participant
//	message:<id>        -> JSON record{Seq, Message}
//	order:<seq padded>  -> <id>
//
// Badger transactions are serializable snapshots: two concurrent
// registrations of the same name cannot both commit, the loser gets
// badger.ErrConflict and is retried against the new state.
//
// Log positions are taken from a sequence before commit, so two concurrent
// appends may become visible out of sequence order: a reader can see seq N+1
// before seq N lands behind it. Every committed message is listed; only the
// moment a lower position appears is not monotonic.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"github.com/whisper/chatroom/internal/chat"
)

const (
	participantPrefix = "participant:"
	messagePrefix     = "message:"
	orderPrefix       = "order:"
	sequenceKey       = "seq:messages"

	// maxAttempts bounds retries of a transaction that lost a write conflict.
	maxAttempts = 5
)

// record is the stored form of a message; Seq keys its position in the log.
type record struct {
	Seq     uint64       `json:"seq"`
	Message chat.Message `json:"message"`
}

// Store is a chat.Store backed by BadgerDB.
type Store struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
}

// Open opens (or creates) the database at path.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLoggingLevel(badger.ERROR))
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", path, err)
	}
	seq, err := db.GetSequence([]byte(sequenceKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badgerstore: sequence: %w", err)
	}
	return &Store{db: db, seq: seq, log: log}, nil
}

// Close releases the sequence lease and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.log.Warn("badgerstore: release sequence", "err", err)
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on write conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debug("badgerstore: transaction conflict, retrying", "attempt", attempt+1)
	}
	return err
}

func participantKey(name string) []byte { return []byte(participantPrefix + name) }
func messageKey(id string) []byte       { return []byte(messagePrefix + id) }
func orderKey(seq uint64) []byte        { return []byte(fmt.Sprintf("%s%020d", orderPrefix, seq)) }

func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// appendMessage writes m at the next sequence position inside txn.
func (s *Store) appendMessage(txn *badger.Txn, m chat.Message) error {
	seq, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}
	if err := setJSON(txn, messageKey(m.ID), record{Seq: seq, Message: m}); err != nil {
		return err
	}
	return txn.Set(orderKey(seq), []byte(m.ID))
}

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant, announce chat.Message) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(participantKey(p.Name))
		if err == nil {
			return chat.ErrConflict
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := setJSON(txn, participantKey(p.Name), p); err != nil {
			return err
		}
		return s.appendMessage(txn, announce)
	})
	if err != nil && !errors.Is(err, chat.ErrConflict) {
		return fmt.Errorf("badgerstore: insert participant: %w", err)
	}
	return err
}

func (s *Store) FindParticipants(ctx context.Context) ([]chat.Participant, error) {
	participants := []chat.Participant{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(participantPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var p chat.Participant
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			}); err != nil {
				return err
			}
			participants = append(participants, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: find participants: %w", err)
	}
	return participants, nil
}

func (s *Store) FindParticipant(ctx context.Context, name string) (chat.Participant, error) {
	var p chat.Participant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, participantKey(name), &p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Participant{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Participant{}, fmt.Errorf("badgerstore: find participant: %w", err)
	}
	return p, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		var p chat.Participant
		if err := getJSON(txn, participantKey(name), &p); err != nil {
			return err
		}
		p.LastStatus = lastStatus
		return setJSON(txn, participantKey(name), p)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badgerstore: touch participant: %w", err)
	}
	return nil
}

func (s *Store) EvictParticipants(ctx context.Context, names []string, cutoff int64, notice chat.NoticeFunc) ([]string, error) {
	var removed []string
	err := s.update(ctx, func(txn *badger.Txn) error {
		removed = removed[:0]
		for _, name := range names {
			var p chat.Participant
			err := getJSON(txn, participantKey(name), &p)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if p.LastStatus >= cutoff {
				continue
			}
			if err := txn.Delete(participantKey(name)); err != nil {
				return err
			}
			if err := s.appendMessage(txn, notice(name)); err != nil {
				return err
			}
			removed = append(removed, name)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: evict participants: %w", err)
	}
	return removed, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) error {
	if err := s.update(ctx, func(txn *badger.Txn) error {
		return s.appendMessage(txn, msg)
	}); err != nil {
		return fmt.Errorf("badgerstore: insert message: %w", err)
	}
	return nil
}

// FindMessages walks the order index, which sorts lexicographically by the
// zero-padded sequence, and resolves each id.
func (s *Store) FindMessages(ctx context.Context) ([]chat.Message, error) {
	msgs := []chat.Message{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(orderPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var rec record
			if err := getJSON(txn, messageKey(string(id)), &rec); err != nil {
				return fmt.Errorf("message %s: %w", id, err)
			}
			msgs = append(msgs, rec.Message)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerstore: find messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) FindMessage(ctx context.Context, id string) (chat.Message, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, messageKey(id), &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("badgerstore: find message: %w", err)
	}
	return rec.Message, nil
}

// authored loads the record for id and checks its author.
func authored(txn *badger.Txn, id, from string) (record, error) {
	var rec record
	err := getJSON(txn, messageKey(id), &rec)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return record{}, chat.ErrNotFound
	}
	if err != nil {
		return record{}, err
	}
	if rec.Message.From != from {
		return record{}, chat.ErrUnauthorized
	}
	return rec, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id, from string, body chat.MessageBody) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := authored(txn, id, from)
		if err != nil {
			return err
		}
		rec.Message.To = body.To
		rec.Message.Text = body.Text
		rec.Message.Type = body.Type
		return setJSON(txn, messageKey(id), rec)
	})
	if err != nil && !errors.Is(err, chat.ErrNotFound) && !errors.Is(err, chat.ErrUnauthorized) {
		return fmt.Errorf("badgerstore: update message: %w", err)
	}
	return err
}

func (s *Store) DeleteMessage(ctx context.Context, id, from string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := authored(txn, id, from)
		if err != nil {
			return err
		}
		if err := txn.Delete(messageKey(id)); err != nil {
			return err
		}
		return txn.Delete(orderKey(rec.Seq))
	})
	if err != nil && !errors.Is(err, chat.ErrNotFound) && !errors.Is(err, chat.ErrUnauthorized) {
		return fmt.Errorf("badgerstore: delete message: %w", err)
	}
	return err
}

var _ chat.Store = (*Store)(nil)
