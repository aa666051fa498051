// Package chat answers user questions with the chat model, grounding each
// answer in passages retrieved from the vector store and persisting the
// conversation in the session store.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"github.com/intrachat/intrachat/internal/memory"
	"github.com/intrachat/intrachat/internal/vectorstore"
)

const (
	// retrievalTimeout limits how long passage retrieval can take per request.
	retrievalTimeout = 5 * time.Second

	// systemPreamble frames the retrieved passages for the model. The
	// numbered context block is appended below it when retrieval succeeds.
	systemPreamble = "You are a helpful assistant. Use the provided context to answer when it is relevant; otherwise answer from general knowledge."

	// warmupPrompt triggers model load without producing a long completion.
	warmupPrompt = "Warmup, answer short as possible as you can."
)

// ErrModelFailed indicates the chat model call itself failed.
var ErrModelFailed = errors.New("chat model request failed")

// ModelClient is the part of the Ollama API the service uses.
// *api.Client satisfies it.
type ModelClient interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
	List(ctx context.Context) (*api.ListResponse, error)
	Pull(ctx context.Context, req *api.PullRequest, fn api.PullProgressFunc) error
}

// SessionStore persists conversations.
type SessionStore interface {
	Create(ctx context.Context, userID int64) (*memory.Session, error)
	Get(ctx context.Context, userID int64, sessionID string) (*memory.Session, error)
	AppendTurn(ctx context.Context, sessionID, userText, assistantText string) ([]memory.Message, error)
}

// Retriever finds passages relevant to a query.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]vectorstore.Result, error)
}

// Config contains all required parameters for the chat service.
type Config struct {
	Client    ModelClient
	Sessions  SessionStore
	Retriever Retriever // nil disables retrieval
	Logger    *slog.Logger

	Model string // chat model name, e.g. "qwen3:8b"
	TopK  int    // passages retrieved per question

	// Optional proactive rate limiting (nil = use default).
	RateLimiter *rate.Limiter
}

func (cfg Config) validate() error {
	if cfg.Client == nil {
		return errors.New("model client is required")
	}
	if cfg.Sessions == nil {
		return errors.New("session store is required")
	}
	if cfg.Model == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Answer is one completed question/answer exchange.
type Answer struct {
	SessionID string
	Content   string
	Thinking  string // reasoning stripped from the raw reply, may be empty
}

// Service answers questions against the chat model. Stateless and safe for
// concurrent use; all configuration is captured at construction.
type Service struct {
	client    ModelClient
	sessions  SessionStore
	retriever Retriever
	limiter   *rate.Limiter
	logger    *slog.Logger

	model string
	topK  int
}

// New creates a chat Service.
func New(cfg Config) (*Service, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	topK := cfg.TopK
	if topK < 1 {
		topK = 5
	}

	// Default: 10 requests/sec sustained, burst of 30.
	limiter := cfg.RateLimiter
	if limiter == nil {
		limiter = rate.NewLimiter(10, 30)
	}

	return &Service{
		client:    cfg.Client,
		sessions:  cfg.Sessions,
		retriever: cfg.Retriever,
		limiter:   limiter,
		logger:    logger,
		model:     cfg.Model,
		topK:      topK,
	}, nil
}

// Ask answers content for the user. An empty sessionID starts a new session;
// otherwise the existing session supplies the running history. Retrieval
// failures degrade to answering without context, with a warning. The
// completed turn is persisted with the store's memory-size trim.
func (s *Service) Ask(ctx context.Context, userID int64, sessionID, content string) (*Answer, error) {
	var (
		sess *memory.Session
		err  error
	)
	if sessionID == "" {
		sess, err = s.sessions.Create(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("creating session: %w", err)
		}
	} else {
		sess, err = s.sessions.Get(ctx, userID, sessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
	}

	contextBlock := s.retrieve(ctx, content)

	messages := make([]api.Message, 0, len(sess.Messages)+2)
	system := systemPreamble
	if contextBlock != "" {
		system += "\n\n" + contextBlock
	}
	messages = append(messages, api.Message{Role: "system", Content: system})
	for _, m := range sess.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, api.Message{Role: "user", Content: content})

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limit: %w", err)
	}

	stream := false
	var raw strings.Builder
	err = s.client.Chat(ctx, &api.ChatRequest{
		Model:    s.model,
		Messages: messages,
		Stream:   &stream,
	}, func(resp api.ChatResponse) error {
		raw.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelFailed, err)
	}

	answer, thinking := splitThinking(raw.String())

	// Best-effort: the answer already exists, so a persistence failure is
	// logged rather than surfaced to the user.
	if _, err := s.sessions.AppendTurn(ctx, sess.SessionID, content, answer); err != nil {
		s.logger.Warn("persisting chat turn", "session_id", sess.SessionID, "error", err)
	}

	return &Answer{
		SessionID: sess.SessionID,
		Content:   answer,
		Thinking:  thinking,
	}, nil
}

// retrieve fetches the context block for a question. Any failure degrades to
// an empty block with a warning; the question is still answered.
func (s *Service) retrieve(ctx context.Context, query string) string {
	if s.retriever == nil {
		return ""
	}

	searchCtx, cancel := context.WithTimeout(ctx, retrievalTimeout)
	defer cancel()

	results, err := s.retriever.Search(searchCtx, query, s.topK)
	if err != nil {
		s.logger.Warn("retrieval failed, answering without context", "error", err)
		return ""
	}
	if len(results) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Payload.Text)
	}
	s.logger.Debug("retrieved context", "passages", len(results))
	return b.String()
}

// PullModel downloads the chat model if the Ollama instance does not already
// have it.
func (s *Service) PullModel(ctx context.Context) error {
	list, err := s.client.List(ctx)
	if err != nil {
		return fmt.Errorf("listing models: %w", err)
	}
	for _, m := range list.Models {
		if m.Name == s.model || m.Model == s.model {
			return nil
		}
	}

	s.logger.Info("pulling chat model", "model", s.model)
	err = s.client.Pull(ctx, &api.PullRequest{Model: s.model}, func(resp api.ProgressResponse) error {
		s.logger.Debug("pull progress", "model", s.model, "status", resp.Status)
		return nil
	})
	if err != nil {
		return fmt.Errorf("pulling model %s: %w", s.model, err)
	}
	s.logger.Info("chat model pulled", "model", s.model)
	return nil
}

// Warmup loads the model into memory with a throwaway request. Best-effort:
// failures are logged, never returned.
func (s *Service) Warmup(ctx context.Context) {
	stream := false
	err := s.client.Chat(ctx, &api.ChatRequest{
		Model:    s.model,
		Messages: []api.Message{{Role: "user", Content: warmupPrompt}},
		Stream:   &stream,
	}, func(api.ChatResponse) error { return nil })
	if err != nil {
		s.logger.Warn("model warmup failed", "model", s.model, "error", err)
		return
	}
	s.logger.Info("model warmed up", "model", s.model)
}

// splitThinking separates <think>…</think> reasoning from the answer body.
// Replies without the tags pass through unchanged.
func splitThinking(raw string) (content, thinking string) {
	const open, closing = "<think>", "</think>"

	start := strings.Index(raw, open)
	end := strings.Index(raw, closing)
	if start < 0 || end < 0 || end < start {
		return raw, ""
	}

	thinking = strings.TrimSpace(raw[start+len(open) : end])
	content = strings.TrimSpace(raw[:start] + raw[end+len(closing):])
	return content, thinking
}
