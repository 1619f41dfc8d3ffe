// Stores a collection in a browser cookie.

package store

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
)

// maxCookieSize is the per-cookie limit browsers are required to support,
// counting the name and the value.
const maxCookieSize = 4096

type cookieJarKey struct{}

// cookieJar gives the cookie backend access to the current request.
//
// Values saved during the request are remembered so that a later Load in the
// same request sees them.
type cookieJar struct {
	r *http.Request
	w http.ResponseWriter

	mu      sync.Mutex
	pending map[string]string
}

// WithCookieJar returns a context through which Cookie backends read the
// request cookies and write Set-Cookie headers to w.
func WithCookieJar(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	return context.WithValue(ctx, cookieJarKey{}, &cookieJar{r: r, w: w, pending: map[string]string{}})
}

func jarFrom(ctx context.Context) *cookieJar {
	j, _ := ctx.Value(cookieJarKey{}).(*cookieJar)
	return j
}

func (j *cookieJar) get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if v, ok := j.pending[name]; ok {
		return v, true
	}
	c, err := j.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

func (j *cookieJar) set(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.pending[c.Name] = c.Value
	http.SetCookie(j.w, c)
}

// Cookie is a Backend storing the collection in a cookie of the current
// request. Each client therefore sees its own collection.
//
// The cookie value is the base64url encoded JSON array.
type Cookie[T Row[T]] struct {
	name   string
	maxAge int
}

// NewCookie returns a cookie backend using the cookie called name.
//
// maxAge is in seconds; 0 makes a session cookie.
func NewCookie[T Row[T]](name string, maxAge int) *Cookie[T] {
	return &Cookie[T]{name: name, maxAge: maxAge}
}

// Load implements Backend.
//
// A missing or malformed cookie is an empty collection.
func (c *Cookie[T]) Load(ctx context.Context) ([]T, error) {
	jar := jarFrom(ctx)
	if jar == nil {
		return nil, ErrNoCookieJar
	}
	v, ok := jar.get(c.name)
	if !ok || v == "" {
		return []T{}, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(v)
	if err != nil {
		slog.DebugContext(ctx, "Ignoring malformed cookie", "cookie", c.name, "err", err)
		return []T{}, nil
	}
	var rows []T
	if err := json.Unmarshal(data, &rows); err != nil {
		slog.DebugContext(ctx, "Ignoring undecodable cookie", "cookie", c.name, "err", err)
		return []T{}, nil
	}
	return rows, nil
}

// Save implements Backend.
func (c *Cookie[T]) Save(ctx context.Context, rows []T) error {
	jar := jarFrom(ctx)
	if jar == nil {
		return ErrNoCookieJar
	}
	if rows == nil {
		rows = []T{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode cookie %s: %w", c.name, err)
	}
	v := base64.RawURLEncoding.EncodeToString(data)
	if len(c.name)+len(v) > maxCookieSize {
		return fmt.Errorf("%w: %d bytes", ErrCookieTooLarge, len(c.name)+len(v))
	}
	jar.set(&http.Cookie{
		Name:     c.name,
		Value:    v,
		Path:     "/",
		MaxAge:   c.maxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
