package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ginkida/chat-gateway/internal/session"
)

// FrameKind identifies the shape of a frame on the wire.
type FrameKind int

const (
	FrameRetry FrameKind = iota
	FrameStart
	FrameData
	FrameHeartbeat
	FrameEnd
)

func (k FrameKind) String() string {
	switch k {
	case FrameRetry:
		return "retry"
	case FrameStart:
		return "start"
	case FrameData:
		return "data"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameEnd:
		return "end"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one message of a query stream, independent of transport.
type Frame struct {
	Kind  FrameKind
	Item  session.Item  // FrameData only
	Retry time.Duration // FrameRetry only
}

// FrameWriter delivers frames to a client. An error means the client is gone.
type FrameWriter interface {
	WriteFrame(f Frame) error
}

var (
	startFrame     = []byte("event: start\ndata: {}\n\n")
	endFrame       = []byte("event: end\ndata: {}\n\n")
	heartbeatFrame = []byte(": keep-alive\n\n")
)

// Encode renders f in Server-Sent Events wire format, blank-line terminated.
func Encode(f Frame) ([]byte, error) {
	switch f.Kind {
	case FrameRetry:
		return []byte(fmt.Sprintf("retry: %d\n\n", f.Retry.Milliseconds())), nil
	case FrameStart:
		return startFrame, nil
	case FrameHeartbeat:
		return heartbeatFrame, nil
	case FrameEnd:
		return endFrame, nil
	case FrameData:
		payload, err := MarshalItem(f.Item)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, len(payload)+8)
		buf = append(buf, "data: "...)
		buf = append(buf, payload...)
		buf = append(buf, "\n\n"...)
		return buf, nil
	default:
		return nil, fmt.Errorf("unknown frame kind %v", f.Kind)
	}
}

// MarshalItem encodes an item as single-line JSON: {"type":..,"content":..}.
func MarshalItem(item session.Item) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(item); err != nil {
		return nil, fmt.Errorf("marshal item: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
