// Package redisstore implements chat.Store on Redis. Every multi-key unit
// (registration with its announcement, eviction with its farewells,
// author-checked edits and deletes) runs as a Lua script so it is atomic.
//
//	chat:participants   HASH  name -> lastStatus (unix ms)
//	chat:messages       HASH  id -> JSON chat.Message
//	chat:message_order  ZSET  id scored by chat:message_seq
//	chat:message_seq    STRING counter
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/chatroom/internal/chat"
)

const (
	ParticipantsKey = "chat:participants"
	MessagesKey     = "chat:messages"
	OrderKey        = "chat:message_order"
	SequenceKey     = "chat:message_seq"
)

// Script results shared by the author-checked scripts.
const (
	resultOK           = 1
	resultNotFound     = -1
	resultUnauthorized = -2
)

// Store is a chat.Store backed by Redis.
type Store struct {
	rdb            *redis.Client
	registerScript *redis.Script
	touchScript    *redis.Script
	evictScript    *redis.Script
	appendScript   *redis.Script
	listScript     *redis.Script
	updateScript   *redis.Script
	deleteScript   *redis.Script
}

// Options configures the Redis connection.
type Options struct {
	Addr string
	DB   int
}

// Open connects to Redis and verifies the connection.
func Open(opts Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: opts.Addr, DB: opts.DB})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redisstore: redis connection failed: %w", err)
	}
	return New(rdb), nil
}

// New wraps an existing client.
func New(rdb *redis.Client) *Store {
	return &Store{
		rdb:            rdb,
		registerScript: redis.NewScript(registerLua),
		touchScript:    redis.NewScript(touchLua),
		evictScript:    redis.NewScript(evictLua),
		appendScript:   redis.NewScript(appendLua),
		listScript:     redis.NewScript(listLua),
		updateScript:   redis.NewScript(updateLua),
		deleteScript:   redis.NewScript(deleteLua),
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

var messageKeys = []string{MessagesKey, OrderKey, SequenceKey}

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant, announce chat.Message) error {
	data, err := json.Marshal(announce)
	if err != nil {
		return fmt.Errorf("redisstore: marshal announcement: %w", err)
	}
	keys := append([]string{ParticipantsKey}, messageKeys...)
	res, err := s.registerScript.Run(ctx, s.rdb, keys, p.Name, p.LastStatus, announce.ID, data).Int()
	if err != nil {
		return fmt.Errorf("redisstore: insert participant: %w", err)
	}
	if res == 0 {
		return chat.ErrConflict
	}
	return nil
}

func (s *Store) FindParticipants(ctx context.Context) ([]chat.Participant, error) {
	all, err := s.rdb.HGetAll(ctx, ParticipantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: find participants: %w", err)
	}
	participants := make([]chat.Participant, 0, len(all))
	for name, raw := range all {
		lastStatus, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redisstore: participant %s: %w", name, err)
		}
		participants = append(participants, chat.Participant{Name: name, LastStatus: lastStatus})
	}
	return participants, nil
}

func (s *Store) FindParticipant(ctx context.Context, name string) (chat.Participant, error) {
	lastStatus, err := s.rdb.HGet(ctx, ParticipantsKey, name).Int64()
	if errors.Is(err, redis.Nil) {
		return chat.Participant{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Participant{}, fmt.Errorf("redisstore: find participant: %w", err)
	}
	return chat.Participant{Name: name, LastStatus: lastStatus}, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	res, err := s.touchScript.Run(ctx, s.rdb, []string{ParticipantsKey}, name, lastStatus).Int()
	if err != nil {
		return fmt.Errorf("redisstore: touch participant: %w", err)
	}
	if res == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// EvictParticipants passes every candidate with its prepared notice; the
// script only deletes and announces those still below cutoff.
func (s *Store) EvictParticipants(ctx context.Context, names []string, cutoff int64, notice chat.NoticeFunc) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, 0, 1+3*len(names))
	args = append(args, cutoff)
	for _, name := range names {
		m := notice(name)
		data, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("redisstore: marshal notice: %w", err)
		}
		args = append(args, name, m.ID, data)
	}
	keys := append([]string{ParticipantsKey}, messageKeys...)
	removed, err := s.evictScript.Run(ctx, s.rdb, keys, args...).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisstore: evict participants: %w", err)
	}
	return removed, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redisstore: marshal message: %w", err)
	}
	if err := s.appendScript.Run(ctx, s.rdb, messageKeys, msg.ID, data).Err(); err != nil {
		return fmt.Errorf("redisstore: insert message: %w", err)
	}
	return nil
}

func (s *Store) FindMessages(ctx context.Context) ([]chat.Message, error) {
	raw, err := s.listScript.Run(ctx, s.rdb, []string{MessagesKey, OrderKey}).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("redisstore: find messages: %w", err)
	}
	msgs := make([]chat.Message, 0, len(raw))
	for _, r := range raw {
		var m chat.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("redisstore: decode message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *Store) FindMessage(ctx context.Context, id string) (chat.Message, error) {
	raw, err := s.rdb.HGet(ctx, MessagesKey, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("redisstore: find message: %w", err)
	}
	var m chat.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return chat.Message{}, fmt.Errorf("redisstore: decode message: %w", err)
	}
	return m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id, from string, body chat.MessageBody) error {
	res, err := s.updateScript.Run(ctx, s.rdb, []string{MessagesKey}, id, from, body.To, body.Text, string(body.Type)).Int()
	if err != nil {
		return fmt.Errorf("redisstore: update message: %w", err)
	}
	return scriptResult(res)
}

func (s *Store) DeleteMessage(ctx context.Context, id, from string) error {
	res, err := s.deleteScript.Run(ctx, s.rdb, []string{MessagesKey, OrderKey}, id, from).Int()
	if err != nil {
		return fmt.Errorf("redisstore: delete message: %w", err)
	}
	return scriptResult(res)
}

func scriptResult(res int) error {
	switch res {
	case resultOK:
		return nil
	case resultNotFound:
		return chat.ErrNotFound
	case resultUnauthorized:
		return chat.ErrUnauthorized
	default:
		return fmt.Errorf("redisstore: unexpected script result %d", res)
	}
}

var _ chat.Store = (*Store)(nil)

// registerLua inserts the participant and its announcement, or returns 0 if
// the name is taken.
//
//	KEYS: participants, messages, order, seq
//	ARGV: name, lastStatus, messageID, messageJSON
const registerLua = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
local seq = redis.call('INCR', KEYS[4])
redis.call('HSET', KEYS[2], ARGV[3], ARGV[4])
redis.call('ZADD', KEYS[3], seq, ARGV[3])
return 1
`

// touchLua updates lastStatus only for a present participant.
const touchLua = `
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`

// evictLua removes participants whose lastStatus is below the cutoff and
// appends their notices, returning the removed names.
//
//	KEYS: participants, messages, order, seq
//	ARGV: cutoff, then (name, messageID, messageJSON) triples
const evictLua = `
local cutoff = tonumber(ARGV[1])
local removed = {}
for i = 2, #ARGV, 3 do
    local name = ARGV[i]
    local last = redis.call('HGET', KEYS[1], name)
    if last and tonumber(last) < cutoff then
        redis.call('HDEL', KEYS[1], name)
        local seq = redis.call('INCR', KEYS[4])
        redis.call('HSET', KEYS[2], ARGV[i+1], ARGV[i+2])
        redis.call('ZADD', KEYS[3], seq, ARGV[i+1])
        table.insert(removed, name)
    end
end
return removed
`

// appendLua appends one message at the next sequence position.
const appendLua = `
local seq = redis.call('INCR', KEYS[3])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return seq
`

// listLua returns every message JSON in sequence order.
const listLua = `
local ids = redis.call('ZRANGE', KEYS[2], 0, -1)
local out = {}
for _, id in ipairs(ids) do
    local m = redis.call('HGET', KEYS[1], id)
    if m then table.insert(out, m) end
end
return out
`

// updateLua rewrites to, text and type of a message owned by ARGV[2].
const updateLua = `
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return -1 end
local m = cjson.decode(raw)
if m['from'] ~= ARGV[2] then return -2 end
m['to'] = ARGV[3]
m['text'] = ARGV[4]
m['type'] = ARGV[5]
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(m))
return 1
`

// deleteLua removes a message owned by ARGV[2].
const deleteLua = `
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return -1 end
local m = cjson.decode(raw)
if m['from'] ~= ARGV[2] then return -2 end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`
