package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

const ClientIDKey ctxKey = "client_id"

const clientIDHeader = "X-Client-ID"

// ClientID resolves the identity used for rate limiting and access logs:
// the X-Client-ID header if sent, else the remote IP without its port.
// Run chi's RealIP first when the gateway sits behind a proxy.
func ClientID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(clientIDHeader))
		if id == "" {
			id = hostOnly(r.RemoteAddr)
		}
		ctx := context.WithValue(r.Context(), ClientIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClientID extracts the client ID from context.
func GetClientID(ctx context.Context) string {
	if v, ok := ctx.Value(ClientIDKey).(string); ok {
		return v
	}
	return ""
}

func hostOnly(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
