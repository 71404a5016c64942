package sse

import (
	"errors"
	"net/http"
	"time"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("streaming not supported")

// ResponseWriter writes frames to an HTTP response as Server-Sent Events,
// flushing after every frame.
type ResponseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewResponseWriter wraps w. It fails before any header is written when w cannot flush.
func NewResponseWriter(w http.ResponseWriter) (*ResponseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &ResponseWriter{w: w, flusher: flusher}, nil
}

// Open commits the SSE response headers.
func (rw *ResponseWriter) Open() {
	// Keep SSE connection exempt from server WriteTimeout.
	_ = http.NewResponseController(rw.w).SetWriteDeadline(time.Time{})

	h := rw.w.Header()
	h.Set("Content-Type", "text/event-stream; charset=utf-8")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	rw.w.WriteHeader(http.StatusOK)
	rw.flusher.Flush()
}

// WriteFrame encodes f, writes it and flushes.
func (rw *ResponseWriter) WriteFrame(f Frame) error {
	data, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := rw.w.Write(data); err != nil {
		return err // client gone
	}
	rw.flusher.Flush()
	return nil
}
