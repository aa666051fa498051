package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// EphemeralStore keeps sessions in process memory. It backs one-shot
// terminal use where a database round-trip buys nothing; transcripts vanish
// with the process.
type EphemeralStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	maxSize  int
}

// NewEphemeralStore creates an in-process session store. maxSize bounds
// every transcript the same way the persistent store does.
func NewEphemeralStore(maxSize int) *EphemeralStore {
	if maxSize < 1 {
		maxSize = 100
	}
	return &EphemeralStore{
		sessions: make(map[string]*Session),
		maxSize:  maxSize,
	}
}

// Create starts a new in-memory session for the user.
func (s *EphemeralStore) Create(_ context.Context, userID int64) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Messages:  []Message{},
	}
	s.sessions[sess.SessionID] = sess
	return copySession(sess), nil
}

// Get loads the session with the given id belonging to the user.
func (s *EphemeralStore) Get(_ context.Context, userID int64, sessionID string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return copySession(sess), nil
}

// AppendTurn records one completed turn, applying the memory-size trim.
func (s *EphemeralStore) AppendTurn(_ context.Context, sessionID, userText, assistantText string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.Messages = AppendTurn(sess.Messages, userText, assistantText, s.maxSize)

	out := make([]Message, len(sess.Messages))
	copy(out, sess.Messages)
	return out, nil
}

// copySession hands callers their own transcript slice so later appends
// cannot alias it.
func copySession(sess *Session) *Session {
	cp := *sess
	cp.Messages = make([]Message, len(sess.Messages))
	copy(cp.Messages, sess.Messages)
	return &cp
}
