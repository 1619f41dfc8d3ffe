// Defines rate limit tiers and routing rules.

package ratelimit

import (
	"net/http"
	"strings"
	"time"
)

// Tier is a named limiter. A nil *Tier means unlimited.
type Tier struct {
	Name    string
	Limiter *Limiter
}

// Config holds the rate limit tiers.
type Config struct {
	// Auth applies to login attempts, keyed by client IP.
	Auth *Tier
	// Write applies to record mutations, keyed by client IP.
	Write *Tier
}

// NewConfig creates tiers from per-minute rates. A rate of 0 disables the
// tier; a burst of 0 defaults to the rate.
func NewConfig(authPerMin, authBurst, writePerMin, writeBurst int) *Config {
	return &Config{
		Auth:  newTier("auth", authPerMin, authBurst),
		Write: newTier("write", writePerMin, writeBurst),
	}
}

func newTier(name string, perMin, burst int) *Tier {
	if perMin <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = perMin
	}
	return &Tier{Name: name, Limiter: NewLimiter(perMin, time.Minute, burst)}
}

// Match returns the tier for a request, or nil if it is not rate limited.
func (c *Config) Match(method, path string) *Tier {
	if c == nil {
		return nil
	}
	if method == http.MethodPost && path == "/api/auth/login" {
		return c.Auth
	}
	if isRecordPath(path) {
		switch method {
		case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
			return c.Write
		}
	}
	return nil
}

// Close stops all limiter cleanup goroutines.
func (c *Config) Close() {
	if c == nil {
		return
	}
	for _, t := range []*Tier{c.Auth, c.Write} {
		if t != nil {
			t.Limiter.Close()
		}
	}
}

func isRecordPath(path string) bool {
	for _, p := range []string{"/api/users", "/api/cars"} {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
