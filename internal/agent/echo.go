package agent

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/ginkida/chat-gateway/internal/session"
)

// Item types emitted by the built-in backends.
const (
	TypeThinking = "thinking"
	TypeAnswer   = "answer"
)

// EchoSession answers every query by repeating it back word by word.
// It needs no credentials and is the default backend for local runs.
type EchoSession struct {
	id    string
	delay time.Duration
}

// NewEchoSession creates an echo session that pauses delay before each answer item.
func NewEchoSession(id string, delay time.Duration) *EchoSession {
	return &EchoSession{id: id, delay: delay}
}

func (s *EchoSession) ID() string { return s.id }

// Query implements session.Session.
func (s *EchoSession) Query(ctx context.Context, text string) (session.Stream, error) {
	return &echoStream{
		ctx:   ctx,
		delay: s.delay,
		words: strings.Fields(text),
	}, nil
}

type echoStream struct {
	ctx     context.Context
	delay   time.Duration
	words   []string
	started bool
}

func (st *echoStream) Recv() (session.Item, error) {
	if !st.started {
		st.started = true
		return session.Bare(TypeThinking), nil
	}
	if len(st.words) == 0 {
		return session.Item{}, io.EOF
	}

	if st.delay > 0 {
		t := time.NewTimer(st.delay)
		select {
		case <-st.ctx.Done():
			t.Stop()
			return session.Item{}, st.ctx.Err()
		case <-t.C:
		}
	}

	word := st.words[0]
	st.words = st.words[1:]
	return session.Item{Type: TypeAnswer, Content: word}, nil
}

func (st *echoStream) Close() error {
	st.words = nil
	return nil
}
