package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ginkida/chat-gateway/internal/session"
)

// Options tunes the bridge timing and buffering.
type Options struct {
	PollInterval      time.Duration // bound on each wait for the next item
	HeartbeatInterval time.Duration // idle time before a keep-alive comment
	JoinTimeout       time.Duration // wait for the producer after the loop ends
	QueueSize         int           // hand-off queue capacity
	Retry             time.Duration // client reconnect hint; zero omits the retry frame
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PollInterval:      time.Second,
		HeartbeatInterval: 15 * time.Second,
		JoinTimeout:       200 * time.Millisecond,
		QueueSize:         128,
		Retry:             15 * time.Second,
	}
}

// Observer is notified of bridge activity. All methods must be safe for concurrent use.
type Observer interface {
	StreamStarted()
	StreamFinished()
	ItemSent()
	HeartbeatSent()
	ClientGone()
	ProducerFailed()
	ProducerDetached()
}

type nopObserver struct{}

func (nopObserver) StreamStarted()    {}
func (nopObserver) StreamFinished()   {}
func (nopObserver) ItemSent()         {}
func (nopObserver) HeartbeatSent()    {}
func (nopObserver) ClientGone()       {}
func (nopObserver) ProducerFailed()   {}
func (nopObserver) ProducerDetached() {}

// Summary describes how a single stream ended.
type Summary struct {
	Items        int
	Heartbeats   int
	Disconnected bool  // client went away before the producer finished
	ProducerErr  error // error that ended production early, if any
	Detached     bool  // producer was still running when the stream was torn down
}

// message is the hand-off queue element: either an item or the end marker.
type message struct {
	item session.Item
	end  bool
	err  error // set with end when production stopped on an error
}

// Bridge turns a session's blocking item stream into a live frame stream.
type Bridge struct {
	opts     Options
	observer Observer
	active   atomic.Int64
}

// NewBridge creates a bridge. Zero option fields fall back to DefaultOptions.
func NewBridge(opts Options, observer Observer) *Bridge {
	def := DefaultOptions()
	if opts.PollInterval <= 0 {
		opts.PollInterval = def.PollInterval
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = def.HeartbeatInterval
	}
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = def.JoinTimeout
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = def.QueueSize
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Bridge{opts: opts, observer: observer}
}

// Options returns the effective options.
func (b *Bridge) Options() Options {
	return b.opts
}

// Active returns the number of streams currently being relayed.
func (b *Bridge) Active() int {
	return int(b.active.Load())
}

// Stream runs sess.Query(query) in a background goroutine and relays its items
// to fw until production ends or the client goes away (ctx done or a failed write).
//
// The producer is not cancelled on disconnect: it gets JoinTimeout to finish and
// is then left to run on its own. A producer abandoned with a full queue stays
// blocked on its send.
func (b *Bridge) Stream(ctx context.Context, fw FrameWriter, sess session.Session, query string) Summary {
	logger := zerolog.Ctx(ctx)
	b.active.Add(1)
	defer b.active.Add(-1)
	b.observer.StreamStarted()
	defer b.observer.StreamFinished()

	queue := make(chan message, b.opts.QueueSize)
	done := make(chan struct{})
	go b.produce(context.WithoutCancel(ctx), sess, query, queue, done)

	var sum Summary
	if b.relay(ctx, fw, queue, &sum) {
		sum.Disconnected = true
		b.observer.ClientGone()
		logger.Debug().Int("items", sum.Items).Msg("client disconnected mid-stream")
	}

	select {
	case <-done:
	case <-time.After(b.opts.JoinTimeout):
		sum.Detached = true
		b.observer.ProducerDetached()
		logger.Warn().Dur("join_timeout", b.opts.JoinTimeout).Msg("producer still running, detaching")
	}

	// Best effort after a disconnect; the write error carries no information.
	_ = fw.WriteFrame(Frame{Kind: FrameEnd})

	if sum.ProducerErr != nil {
		b.observer.ProducerFailed()
		logger.Warn().Err(sum.ProducerErr).Int("items", sum.Items).Msg("production ended with error")
	}
	return sum
}

// relay writes frames until the end marker arrives or the client is gone.
// It reports whether the client went away.
func (b *Bridge) relay(ctx context.Context, fw FrameWriter, queue <-chan message, sum *Summary) bool {
	if b.opts.Retry > 0 {
		if err := fw.WriteFrame(Frame{Kind: FrameRetry, Retry: b.opts.Retry}); err != nil {
			return true
		}
	}
	if err := fw.WriteFrame(Frame{Kind: FrameStart}); err != nil {
		return true
	}
	lastSent := time.Now()

	poll := time.NewTicker(b.opts.PollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return true

		case msg := <-queue:
			if msg.end {
				sum.ProducerErr = msg.err
				return false
			}
			if err := fw.WriteFrame(Frame{Kind: FrameData, Item: msg.item}); err != nil {
				return true
			}
			sum.Items++
			b.observer.ItemSent()
			lastSent = time.Now()

		case now := <-poll.C:
			if now.Sub(lastSent) < b.opts.HeartbeatInterval {
				continue
			}
			if err := fw.WriteFrame(Frame{Kind: FrameHeartbeat}); err != nil {
				return true
			}
			sum.Heartbeats++
			b.observer.HeartbeatSent()
			lastSent = now
		}
	}
}

// produce pulls every item from the session into queue and always finishes
// with exactly one end marker, even when the session fails or panics.
func (b *Bridge) produce(ctx context.Context, sess session.Session, query string, queue chan<- message, done chan<- struct{}) {
	var err error
	defer close(done)
	defer func() { queue <- message{end: true, err: err} }()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("session panicked: %v", r)
		}
	}()

	err = pull(ctx, sess, query, queue)
}

func pull(ctx context.Context, sess session.Session, query string, queue chan<- message) error {
	stream, err := sess.Query(ctx, query)
	if err != nil {
		return fmt.Errorf("start query: %w", err)
	}
	defer stream.Close()

	for {
		item, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		queue <- message{item: item}
	}
}

