package sse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type plainWriter struct {
	header http.Header
}

func (p *plainWriter) Header() http.Header         { return p.header }
func (p *plainWriter) Write(b []byte) (int, error) { return len(b), nil }
func (p *plainWriter) WriteHeader(int)             {}

func TestNewResponseWriterRequiresFlusher(t *testing.T) {
	_, err := NewResponseWriter(&plainWriter{header: http.Header{}})
	require.ErrorIs(t, err, ErrStreamingUnsupported)
}

func TestResponseWriterFlushesEachFrame(t *testing.T) {
	rr := httptest.NewRecorder()
	rw, err := NewResponseWriter(rr)
	require.NoError(t, err)

	rw.Open()
	require.True(t, rr.Flushed)

	rr.Flushed = false
	require.NoError(t, rw.WriteFrame(Frame{Kind: FrameHeartbeat}))
	assert.True(t, rr.Flushed)
	assert.Equal(t, ": keep-alive\n\n", rr.Body.String())
}
