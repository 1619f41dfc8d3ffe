// Package auth issues and checks the admin session cookie.
//
// The session is an HS256 JWT stored in an HttpOnly cookie. Logging out
// revokes the token's ID until the token would have expired anyway.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/text/cases"
)

// CookieName is the name of the session cookie.
const CookieName = "garage_session"

// DefaultTTL is the lifetime of a session.
const DefaultTTL = 24 * time.Hour

var (
	// ErrAccessDenied is returned when the login credential does not match.
	ErrAccessDenied = errors.New("access denied")
	// ErrNoSession is returned when the request carries no session cookie.
	ErrNoSession = errors.New("no session")
	// ErrInvalidToken is returned when the session token fails verification.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrRevoked is returned for a token that was logged out.
	ErrRevoked = errors.New("session revoked")
)

// Claims are the claims of a session token.
type Claims struct {
	jwt.RegisteredClaims
}

// Sessions issues, verifies and revokes admin sessions.
type Sessions struct {
	secret     []byte
	adminEmail string
	ttl        time.Duration
	secure     bool
	now        func() time.Time

	// revoked maps token IDs to their expiry.
	revoked  *xsync.MapOf[string, time.Time]
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// Option configures Sessions.
type Option func(*Sessions)

// WithTTL overrides DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(s *Sessions) { s.ttl = d }
}

// WithSecureCookie sets the Secure attribute on the session cookie.
func WithSecureCookie(secure bool) Option {
	return func(s *Sessions) { s.secure = secure }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Sessions) { s.now = now }
}

// New returns Sessions for the single admin credential adminEmail.
//
// It starts a goroutine sweeping expired revocations; call Close to stop it.
func New(secret []byte, adminEmail string, opts ...Option) *Sessions {
	s := &Sessions{
		secret:     secret,
		adminEmail: adminEmail,
		ttl:        DefaultTTL,
		now:        time.Now,
		revoked:    xsync.NewMapOf[string, time.Time](),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.sweepLoop(10 * time.Minute)
	return s
}

// Close stops the sweeper goroutine. It is safe to call more than once.
func (s *Sessions) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

// CheckCredential reports whether email is the admin credential. The
// comparison ignores surrounding white space and case.
func (s *Sessions) CheckCredential(email string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(email)) == fold.String(strings.TrimSpace(s.adminEmail))
}

// Login checks email and, on success, sets a new session cookie on w.
func (s *Sessions) Login(w http.ResponseWriter, email string) error {
	if !s.CheckCredential(email) {
		return ErrAccessDenied
	}
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   s.adminEmail,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return fmt.Errorf("failed to sign session token: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// Verify returns the claims of the request's session.
func (s *Sessions) Verify(r *http.Request) (*Claims, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil, ErrNoSession
	}
	claims := &Claims{}
	_, err = jwt.ParseWithClaims(c.Value, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.ID == "" || !s.CheckCredential(claims.Subject) {
		return nil, ErrInvalidToken
	}
	if _, ok := s.revoked.Load(claims.ID); ok {
		return nil, ErrRevoked
	}
	return claims, nil
}

// Logout revokes the request's session, if any, and clears the cookie.
func (s *Sessions) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, err := s.Verify(r); err == nil {
		s.revoked.Store(claims.ID, claims.ExpiresAt.Time)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Sessions) sweepLoop(every time.Duration) {
	defer close(s.done)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// sweep forgets revoked tokens that have expired; they fail verification on
// their own.
func (s *Sessions) sweep() {
	now := s.now()
	s.revoked.Range(func(id string, exp time.Time) bool {
		if !exp.After(now) {
			s.revoked.Delete(id)
		}
		return true
	})
}
