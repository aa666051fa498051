package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/intrachat/intrachat/internal/chat"
	"github.com/intrachat/intrachat/internal/memory"
)

// maxChatBodyBytes bounds the chat request body.
const maxChatBodyBytes = 1 << 20

// ChatService answers user questions.
type ChatService interface {
	Ask(ctx context.Context, userID int64, sessionID, content string) (*chat.Answer, error)
}

type chatHandler struct {
	chat   ChatService
	logger *slog.Logger
}

type chatRequest struct {
	UserID    int64  `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Content   string `json:"content"`
	Thinking  string `json:"thinking,omitempty"`
}

func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	body := http.MaxBytesReader(w, r.Body, maxChatBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	if req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_user", "user_id is required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "empty_content", "content is required")
		return
	}

	answer, err := h.chat.Ask(r.Context(), req.UserID, req.SessionID, req.Content)
	if err != nil {
		if errors.Is(err, memory.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session_not_found", "chat session not found")
			return
		}
		h.logger.Error("answering chat request", "user_id", req.UserID, "error", err)
		writeError(w, http.StatusInternalServerError, "chat_failed", "failed to answer")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		SessionID: answer.SessionID,
		Content:   answer.Content,
		Thinking:  answer.Thinking,
	})
}
