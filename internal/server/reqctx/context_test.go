package reqctx

import (
	"context"
	"net/http"
	"net/netip"
	"testing"

	"github.com/maruel/ksid"
)

func TestGetClientIP(t *testing.T) {
	proxies := []netip.Prefix{netip.MustParsePrefix("127.0.0.1/32"), netip.MustParsePrefix("10.0.0.0/8")}
	tests := []struct {
		name       string
		trusted    []netip.Prefix
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{
			name:       "X-Forwarded-For from trusted proxy",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.195",
		},
		{
			name:       "X-Forwarded-For skips trusted hops",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195, 10.1.2.3"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.195",
		},
		{
			name:       "X-Forwarded-For client prepended entry ignored",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "1.2.3.4, 198.51.100.9"},
			remoteAddr: "127.0.0.1:8080",
			want:       "198.51.100.9",
		},
		{
			name:       "X-Forwarded-For with spaces",
			trusted:    proxies,
			headers:    map[string]string{"X-Forwarded-For": "  203.0.113.195  "},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.195",
		},
		{
			name:       "X-Real-IP from trusted proxy",
			trusted:    proxies,
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			remoteAddr: "127.0.0.1:8080",
			want:       "203.0.113.7",
		},
		{
			name:       "X-Forwarded-For spoofed without proxies",
			headers:    map[string]string{"X-Forwarded-For": "203.0.113.195"},
			remoteAddr: "192.0.2.10:4000",
			want:       "192.0.2.10",
		},
		{
			name:       "X-Real-IP spoofed by untrusted peer",
			trusted:    proxies,
			headers:    map[string]string{"X-Real-IP": "203.0.113.7"},
			remoteAddr: "192.0.2.10:4000",
			want:       "192.0.2.10",
		},
		{
			name:       "RemoteAddr with port",
			remoteAddr: "192.168.1.1:12345",
			want:       "192.168.1.1",
		},
		{
			name:       "RemoteAddr without port",
			remoteAddr: "192.168.1.1",
			want:       "192.168.1.1",
		},
		{
			name:       "IPv6 RemoteAddr with port",
			remoteAddr: "[::1]:8080",
			want:       "::1",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, "/", http.NoBody)
			if err != nil {
				t.Fatal(err)
			}
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := GetClientIP(req, tt.trusted); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	if Authenticated(ctx) {
		t.Error("empty context is authenticated")
	}
	if ClientIP(ctx) != "" || UserAgent(ctx) != "" || RequestID(ctx) != 0 {
		t.Error("empty context carries values")
	}

	id := ksid.NewID()
	ctx = WithClientIP(ctx, "10.0.0.1")
	ctx = WithUserAgent(ctx, "curl/8")
	ctx = WithRequestID(ctx, id)
	ctx = WithSession(ctx, Session{Email: "admin@neizzzy.ru", ID: "abc"})
	if got := ClientIP(ctx); got != "10.0.0.1" {
		t.Errorf("ClientIP() = %q", got)
	}
	if got := UserAgent(ctx); got != "curl/8" {
		t.Errorf("UserAgent() = %q", got)
	}
	if got := RequestID(ctx); got != id {
		t.Errorf("RequestID() = %v, want %v", got, id)
	}
	s, ok := SessionFrom(ctx)
	if !ok || s.Email != "admin@neizzzy.ru" || s.ID != "abc" {
		t.Errorf("SessionFrom() = %+v, %v", s, ok)
	}
	if !Authenticated(ctx) {
		t.Error("Authenticated() = false")
	}
}
