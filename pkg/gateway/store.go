package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrStoreClosed is returned by Store operations after Close.
var ErrStoreClosed = errors.New("message store is closed")

// ErrMessageNotFound is returned when updating an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// StoredMessage is a persisted channel message.
type StoredMessage struct {
	ID             string    `json:"id"`
	ChannelID      string    `json:"channel_id"`
	Text           string    `json:"text"`
	AgentGenerated bool      `json:"ai_generated"`
	SenderID       string    `json:"sender_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store persists channel messages in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// OpenStore opens (creating if needed) the SQLite database at path.
// ":memory:" keeps everything in process.
func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			channel_id TEXT NOT NULL,
			text TEXT NOT NULL,
			ai_generated INTEGER NOT NULL DEFAULT 0,
			sender_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_channel ON messages(channel_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Insert stores a new message.
func (s *Store) Insert(ctx context.Context, msg StoredMessage) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.UpdatedAt.IsZero() {
		msg.UpdatedAt = msg.CreatedAt
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, channel_id, text, ai_generated, sender_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ChannelID, msg.Text, msg.AgentGenerated, msg.SenderID,
		msg.CreatedAt.UnixNano(), msg.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// UpdateText replaces a message's text and returns the updated row.
func (s *Store) UpdateText(ctx context.Context, id, text string) (StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return StoredMessage{}, ErrStoreClosed
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().UnixNano(), id,
	)
	if err != nil {
		return StoredMessage{}, fmt.Errorf("failed to update message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return StoredMessage{}, fmt.Errorf("failed to update message: %w", err)
	}
	if n == 0 {
		return StoredMessage{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return s.get(ctx, id)
}

// Get returns one message by ID.
func (s *Store) Get(ctx context.Context, id string) (StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return StoredMessage{}, ErrStoreClosed
	}
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (StoredMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, channel_id, text, ai_generated, sender_id, created_at, updated_at
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return StoredMessage{}, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}
	return msg, err
}

// History returns up to limit most recent messages of a channel, oldest first.
func (s *Store) History(ctx context.Context, channelID string, limit int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, text, ai_generated, sender_id, created_at, updated_at FROM (
			SELECT rowid AS seq, * FROM messages WHERE channel_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?
		 ) ORDER BY created_at ASC, seq ASC`,
		channelID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	messages := make([]StoredMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// Close closes the database. Later calls are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (StoredMessage, error) {
	var (
		msg              StoredMessage
		created, updated int64
	)
	if err := row.Scan(&msg.ID, &msg.ChannelID, &msg.Text, &msg.AgentGenerated, &msg.SenderID, &created, &updated); err != nil {
		return StoredMessage{}, err
	}
	msg.CreatedAt = time.Unix(0, created)
	msg.UpdatedAt = time.Unix(0, updated)
	return msg, nil
}
