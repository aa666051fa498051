package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSessionNotFound indicates no session exists for the given user and
// session id.
var ErrSessionNotFound = errors.New("session not found")

// schema is the session table bootstrap DDL, applied idempotently at
// startup.
const schema = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id          BIGSERIAL PRIMARY KEY,
	session_id  UUID NOT NULL UNIQUE,
	user_id     BIGINT NOT NULL,
	messages    JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_chat_sessions_user ON chat_sessions (user_id);
`

// Store persists chat sessions in PostgreSQL. Safe for concurrent use;
// turns on the same session serialize on a row lock so concurrent writers
// cannot lose updates.
type Store struct {
	pool    *pgxpool.Pool
	maxSize int
	logger  *slog.Logger
}

// NewStore creates a Store. maxSize bounds every session transcript; values
// below 1 fall back to 100.
func NewStore(pool *pgxpool.Pool, maxSize int, logger *slog.Logger) *Store {
	if maxSize < 1 {
		maxSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:    pool,
		maxSize: maxSize,
		logger:  logger,
	}
}

// Bootstrap creates the session table if absent.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("bootstrapping session schema: %w", err)
	}
	return nil
}

// Create starts a new session for the user with a generated session id and
// an empty transcript.
func (s *Store) Create(ctx context.Context, userID int64) (*Session, error) {
	sess := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Messages:  []Message{},
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_sessions (session_id, user_id, messages)
		 VALUES ($1, $2, '[]') RETURNING id, created_at, updated_at`,
		sess.SessionID, userID,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	s.logger.Debug("session created", "session_id", sess.SessionID, "user_id", userID)
	return sess, nil
}

// Get loads the session with the given id belonging to the user.
func (s *Store) Get(ctx context.Context, userID int64, sessionID string) (*Session, error) {
	sess := &Session{SessionID: sessionID, UserID: userID}

	err := s.pool.QueryRow(ctx,
		`SELECT id, messages, created_at, updated_at
		 FROM chat_sessions WHERE user_id = $1 AND session_id = $2`,
		userID, sessionID,
	).Scan(&sess.ID, &sess.Messages, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	return sess, nil
}

// AppendTurn records one completed (user, assistant) turn on the session,
// applying the memory-size trim, and returns the updated transcript. The
// session row is locked for the duration of the update so concurrent turns
// on the same session serialize.
func (s *Store) AppendTurn(ctx context.Context, sessionID, userText, assistantText string) ([]Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var messages []Message
	err = tx.QueryRow(ctx,
		`SELECT messages FROM chat_sessions WHERE session_id = $1 FOR UPDATE`,
		sessionID,
	).Scan(&messages)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("locking session %s: %w", sessionID, err)
	}

	messages = AppendTurn(messages, userText, assistantText, s.maxSize)

	if _, err := tx.Exec(ctx,
		`UPDATE chat_sessions SET messages = $1, updated_at = now() WHERE session_id = $2`,
		messages, sessionID,
	); err != nil {
		return nil, fmt.Errorf("updating session %s: %w", sessionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing session %s: %w", sessionID, err)
	}
	return messages, nil
}
