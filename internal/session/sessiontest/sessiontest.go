// Package sessiontest provides scripted Session implementations for tests.
package sessiontest

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/ginkida/chat-gateway/internal/session"
)

// Step is one scripted action of a Stream.
type Step struct {
	Item  session.Item
	Delay time.Duration // sleep before yielding Item
	Err   error         // return Err instead of Item
	Panic any           // panic with this value instead of yielding
	Wait  <-chan struct{}
}

// Item yields it immediately.
func Item(eventType, content string) Step {
	return Step{Item: session.Item{Type: eventType, Content: content}}
}

// Bare yields a type-only item immediately.
func Bare(eventType string) Step {
	return Step{Item: session.Bare(eventType)}
}

// Session replays the same script for every query and records the queries it saw.
type Session struct {
	Script   []Step
	QueryErr error

	mu      sync.Mutex
	queries []string
	closed  int
}

// New returns a Session replaying steps.
func New(steps ...Step) *Session {
	return &Session{Script: steps}
}

// Query implements session.Session.
func (s *Session) Query(_ context.Context, text string) (session.Stream, error) {
	s.mu.Lock()
	s.queries = append(s.queries, text)
	s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	return &stream{owner: s, steps: append([]Step(nil), s.Script...)}, nil
}

// Queries returns the texts passed to Query so far.
func (s *Session) Queries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

// Closed returns how many streams were closed.
func (s *Session) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stream struct {
	owner *Session
	steps []Step
}

func (st *stream) Recv() (session.Item, error) {
	if len(st.steps) == 0 {
		return session.Item{}, io.EOF
	}
	step := st.steps[0]
	st.steps = st.steps[1:]

	if step.Wait != nil {
		<-step.Wait
	}
	if step.Delay > 0 {
		time.Sleep(step.Delay)
	}
	if step.Panic != nil {
		panic(step.Panic)
	}
	if step.Err != nil {
		return session.Item{}, step.Err
	}
	return step.Item, nil
}

func (st *stream) Close() error {
	st.owner.mu.Lock()
	st.owner.closed++
	st.owner.mu.Unlock()
	return nil
}

// Factory returns a session.Factory that hands out sessions replaying steps.
func Factory(steps ...Step) session.Factory {
	return func(string) (session.Session, error) {
		return New(steps...), nil
	}
}
