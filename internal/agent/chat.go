package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/resilience"
	"github.com/ginkida/chat-gateway/internal/session"
)

// ChatConfig holds settings shared by every chat session.
type ChatConfig struct {
	SystemPrompt string
	HistoryTurns int                 // completed turns replayed into the prompt; 0 keeps all
	Breaker      *resilience.Breaker // optional; fast-fails queries while the model is failing
}

// ChatBackend compiles one prompt+model chain and hands out sessions that share it.
type ChatBackend struct {
	runnable compose.Runnable[map[string]any, *schema.Message]
	cfg      ChatConfig
}

// NewChatBackend compiles the chat chain around cm.
func NewChatBackend(ctx context.Context, cm model.ChatModel, cfg ChatConfig) (*ChatBackend, error) {
	tpl := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl)
	chain.AppendChatModel(cm)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile chat chain: %w", err)
	}
	return &ChatBackend{runnable: runnable, cfg: cfg}, nil
}

// NewSession implements session.Factory.
func (b *ChatBackend) NewSession(id string) (session.Session, error) {
	return &ChatSession{id: id, backend: b}, nil
}

// ChatSession is one conversation with the model. Completed turns are kept
// and replayed on later queries.
type ChatSession struct {
	id      string
	backend *ChatBackend

	mu      sync.Mutex
	history []*schema.Message
}

func (s *ChatSession) ID() string { return s.id }

// History returns a copy of the completed turns.
func (s *ChatSession) History() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*schema.Message(nil), s.history...)
}

// Query implements session.Session. Model deltas are emitted as answer items.
func (s *ChatSession) Query(ctx context.Context, text string) (session.Stream, error) {
	breaker := s.backend.cfg.Breaker
	if breaker != nil {
		if err := breaker.Allow(); err != nil {
			return nil, fmt.Errorf("chat model unavailable: %w", err)
		}
	}

	input := map[string]any{
		"system":  s.backend.cfg.SystemPrompt,
		"history": s.recentHistory(),
		"query":   text,
	}

	reader, err := s.backend.runnable.Stream(ctx, input)
	if err != nil {
		if breaker != nil {
			breaker.Record(err)
		}
		return nil, fmt.Errorf("stream chat chain: %w", err)
	}

	zerolog.Ctx(ctx).Debug().Str("session_id", s.id).Int("query_len", len(text)).Msg("chat query started")
	return &chatStream{owner: s, query: text, reader: reader, breaker: breaker}, nil
}

func (s *ChatSession) recentHistory() []*schema.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	hist := s.history
	if n := s.backend.cfg.HistoryTurns; n > 0 && len(hist) > 2*n {
		hist = hist[len(hist)-2*n:]
	}
	return append([]*schema.Message(nil), hist...)
}

func (s *ChatSession) appendTurn(query, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, schema.UserMessage(query), schema.AssistantMessage(reply, nil))
}

type chatStream struct {
	owner    *ChatSession
	query    string
	reader   *schema.StreamReader[*schema.Message]
	breaker  *resilience.Breaker
	reply    strings.Builder
	done     bool
	recorded bool
}

// record reports the stream outcome to the breaker once.
func (st *chatStream) record(err error) {
	if st.breaker == nil || st.recorded {
		return
	}
	st.recorded = true
	st.breaker.Record(err)
}

func (st *chatStream) Recv() (session.Item, error) {
	if st.done {
		return session.Item{}, io.EOF
	}
	for {
		chunk, err := st.reader.Recv()
		if errors.Is(err, io.EOF) {
			st.done = true
			st.record(nil)
			st.owner.appendTurn(st.query, st.reply.String())
			return session.Item{}, io.EOF
		}
		if err != nil {
			st.record(err)
			return session.Item{}, fmt.Errorf("receive chunk: %w", err)
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}
		st.reply.WriteString(chunk.Content)
		return session.Item{Type: TypeAnswer, Content: chunk.Content}, nil
	}
}

// Close releases the model stream. A stream abandoned before its end counts
// as a success so a half-open breaker is not left waiting.
func (st *chatStream) Close() error {
	st.record(nil)
	st.reader.Close()
	return nil
}
