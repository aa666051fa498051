// Package memory bounds chat transcripts to a fixed maximum length and
// persists them per session in PostgreSQL.
//
// A transcript grows by exactly two entries per completed chat turn (user
// then assistant) and is trimmed from the front whenever it exceeds the
// configured maximum, oldest entries first.
package memory

import "time"

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single entry in a session transcript.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Session is a persisted chat session.
type Session struct {
	ID        int64
	SessionID string // UUID, the external identifier
	UserID    int64
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AppendTurn appends the user entry then the assistant entry, in that strict
// order, then trims entries from the front until the history is within
// maxSize. Pure function: the input slice is never mutated.
//
// Trimming operates on whole entries, not (user, assistant) pairs, so a trim
// boundary can leave an assistant entry at the head of the retained window
// with no preceding user entry.
func AppendTurn(history []Message, userText, assistantText string, maxSize int) []Message {
	out := make([]Message, 0, len(history)+2)
	out = append(out, history...)
	out = append(out,
		Message{Role: RoleUser, Content: userText},
		Message{Role: RoleAssistant, Content: assistantText},
	)
	if maxSize > 0 && len(out) > maxSize {
		out = out[len(out)-maxSize:]
	}
	return out
}
