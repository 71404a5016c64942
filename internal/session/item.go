package session

import "context"

// Item is one unit of output produced by a Session while answering a query.
type Item struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Bare returns an item carrying only an event type.
func Bare(eventType string) Item {
	return Item{Type: eventType}
}

// Stream is a pull-based, finite, non-restartable sequence of items.
// Recv may block arbitrarily between items and returns io.EOF once exhausted.
type Stream interface {
	Recv() (Item, error)
	Close() error
}

// Session is a conversational context owned by an external engine.
// Its internal state is opaque to the gateway.
type Session interface {
	Query(ctx context.Context, text string) (Stream, error)
}

// Factory builds a Session bound to a freshly generated id.
type Factory func(id string) (Session, error)
