// Package postgres implements chat.Store on PostgreSQL. Registration
// uniqueness is the participants primary key; registration and eviction run
// in transactions together with the status messages they produce. Message
// order is the BIGSERIAL seq column.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/whisper/chatroom/internal/chat"
)

//go:embed migrations/*.sql
var migrations embed.FS

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// Store manages participants and messages in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to databaseURL (postgres:// form), applies pending
// migrations and returns a ready Store.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := Migrate(databaseURL); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return New(db), nil
}

// New wraps an existing handle whose schema is already migrated.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded migrations to databaseURL.
func Migrate(databaseURL string) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: migrations source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, databaseURL)
	if err != nil {
		return fmt.Errorf("postgres: migrate init: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: migrate up: %w", err)
	}
	return nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMessage(ctx context.Context, ex execer, m chat.Message) error {
	const query = `
		INSERT INTO messages (id, from_name, to_name, text, type, time)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := ex.ExecContext(ctx, query, m.ID, m.From, m.To, m.Text, string(m.Type), m.Time)
	return err
}

func (s *Store) InsertParticipant(ctx context.Context, p chat.Participant, announce chat.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO participants (name, last_status)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING`

	res, err := tx.ExecContext(ctx, query, p.Name, p.LastStatus)
	if err != nil {
		return fmt.Errorf("postgres: insert participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: insert participant: %w", err)
	}
	if n == 0 {
		return chat.ErrConflict
	}

	if err := insertMessage(ctx, tx, announce); err != nil {
		return fmt.Errorf("postgres: insert announcement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return chat.ErrConflict
		}
		return fmt.Errorf("postgres: commit participant: %w", err)
	}
	return nil
}

func (s *Store) FindParticipants(ctx context.Context) ([]chat.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, last_status FROM participants`)
	if err != nil {
		return nil, fmt.Errorf("postgres: find participants: %w", err)
	}
	defer rows.Close()

	participants := []chat.Participant{}
	for rows.Next() {
		var p chat.Participant
		if err := rows.Scan(&p.Name, &p.LastStatus); err != nil {
			return nil, fmt.Errorf("postgres: scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find participants: %w", err)
	}
	return participants, nil
}

func (s *Store) FindParticipant(ctx context.Context, name string) (chat.Participant, error) {
	const query = `SELECT name, last_status FROM participants WHERE name = $1`

	var p chat.Participant
	err := s.db.QueryRowContext(ctx, query, name).Scan(&p.Name, &p.LastStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Participant{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Participant{}, fmt.Errorf("postgres: find participant: %w", err)
	}
	return p, nil
}

func (s *Store) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	const query = `UPDATE participants SET last_status = $2 WHERE name = $1`

	res, err := s.db.ExecContext(ctx, query, name, lastStatus)
	if err != nil {
		return fmt.Errorf("postgres: touch participant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: touch participant: %w", err)
	}
	if n == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// EvictParticipants deletes with the cutoff re-checked in the WHERE clause,
// so a heartbeat that landed after the reaper's snapshot keeps the row.
func (s *Store) EvictParticipants(ctx context.Context, names []string, cutoff int64, notice chat.NoticeFunc) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback()

	const query = `
		DELETE FROM participants
		WHERE name = ANY($1) AND last_status < $2
		RETURNING name`

	rows, err := tx.QueryContext(ctx, query, pq.Array(names), cutoff)
	if err != nil {
		return nil, fmt.Errorf("postgres: evict participants: %w", err)
	}
	var removed []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("postgres: scan evicted: %w", err)
		}
		removed = append(removed, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: evict participants: %w", err)
	}

	for _, name := range removed {
		if err := insertMessage(ctx, tx, notice(name)); err != nil {
			return nil, fmt.Errorf("postgres: insert farewell: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("postgres: commit eviction: %w", err)
	}
	return removed, nil
}

func (s *Store) InsertMessage(ctx context.Context, msg chat.Message) error {
	if err := insertMessage(ctx, s.db, msg); err != nil {
		return fmt.Errorf("postgres: insert message: %w", err)
	}
	return nil
}

func (s *Store) FindMessages(ctx context.Context) ([]chat.Message, error) {
	const query = `
		SELECT id, from_name, to_name, text, type, time
		FROM messages
		ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: find messages: %w", err)
	}
	defer rows.Close()

	msgs := []chat.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: find messages: %w", err)
	}
	return msgs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.Message, error) {
	var (
		m   chat.Message
		typ string
	)
	if err := row.Scan(&m.ID, &m.From, &m.To, &m.Text, &typ, &m.Time); err != nil {
		return chat.Message{}, err
	}
	m.Type = chat.MessageType(typ)
	return m, nil
}

func (s *Store) FindMessage(ctx context.Context, id string) (chat.Message, error) {
	const query = `
		SELECT id, from_name, to_name, text, type, time
		FROM messages
		WHERE id = $1`

	m, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, fmt.Errorf("postgres: find message: %w", err)
	}
	return m, nil
}

func (s *Store) UpdateMessage(ctx context.Context, id, from string, body chat.MessageBody) error {
	const query = `
		UPDATE messages
		SET to_name = $3, text = $4, type = $5
		WHERE id = $1 AND from_name = $2`

	res, err := s.db.ExecContext(ctx, query, id, from, body.To, body.Text, string(body.Type))
	if err != nil {
		return fmt.Errorf("postgres: update message: %w", err)
	}
	return s.explainMiss(ctx, res, id)
}

func (s *Store) DeleteMessage(ctx context.Context, id, from string) error {
	const query = `DELETE FROM messages WHERE id = $1 AND from_name = $2`

	res, err := s.db.ExecContext(ctx, query, id, from)
	if err != nil {
		return fmt.Errorf("postgres: delete message: %w", err)
	}
	return s.explainMiss(ctx, res, id)
}

// explainMiss turns a zero-row author-filtered mutation into ErrNotFound or
// ErrUnauthorized depending on whether the id exists at all.
func (s *Store) explainMiss(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM messages WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("postgres: message exists: %w", err)
	}
	if exists {
		return chat.ErrUnauthorized
	}
	return chat.ErrNotFound
}

var _ chat.Store = (*Store)(nil)
