// Package reqctx carries per-request metadata through a context.Context.
//
// The authenticated flag lives here rather than in global state so that each
// request decides access on its own session cookie.
package reqctx

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/maruel/ksid"
)

// GetClientIP extracts the client IP from an HTTP request.
//
// The X-Forwarded-For and X-Real-IP headers are only honored when the peer is
// one of the trusted proxies; anyone else could forge them. X-Forwarded-For
// is read right to left, skipping trusted proxies, so that entries prepended
// by the client are ignored.
func GetClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		peer = host
	}
	if !isTrusted(peer, trusted) {
		return peer
	}
	if xff := r.Header.Values("X-Forwarded-For"); len(xff) != 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop != "" && !isTrusted(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func isTrusted(ip string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

type contextKey int

const (
	keyClientIP contextKey = iota
	keyUserAgent
	keyRequestID
	keySession
)

// Session describes the authenticated admin session of a request.
type Session struct {
	// Email is the subject of the session token.
	Email string
	// ID is the token's unique identifier, used for revocation.
	ID string
}

// WithClientIP adds the client IP to the context.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, keyClientIP, ip)
}

// ClientIP extracts the client IP from the context.
func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(keyClientIP).(string)
	return v
}

// WithUserAgent adds the User-Agent to the context.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, keyUserAgent, ua)
}

// UserAgent extracts the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	v, _ := ctx.Value(keyUserAgent).(string)
	return v
}

// WithRequestID adds the request ID to the context.
func WithRequestID(ctx context.Context, id ksid.ID) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestID extracts the request ID from the context.
func RequestID(ctx context.Context) ksid.ID {
	v, _ := ctx.Value(keyRequestID).(ksid.ID)
	return v
}

// WithSession marks the request as authenticated.
func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, keySession, s)
}

// SessionFrom returns the session of an authenticated request.
func SessionFrom(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(keySession).(Session)
	return s, ok
}

// Authenticated reports whether the request carries a valid admin session.
func Authenticated(ctx context.Context) bool {
	_, ok := SessionFrom(ctx)
	return ok
}
