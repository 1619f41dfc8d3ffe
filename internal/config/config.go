// Package config manages the server configuration stored in config.yaml.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"net/netip"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "config.yaml"

// DefaultAdminEmail is the credential accepted by the login endpoint when
// none is configured.
const DefaultAdminEmail = "admin@neizzzy.ru"

// Backend names accepted by UsersBackend and CarsBackend.
const (
	BackendMemory = "memory"
	BackendJSON   = "json"
	BackendCookie = "cookie"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Backends lists the valid backend names.
var Backends = []string{BackendMemory, BackendJSON, BackendCookie, BackendBolt, BackendSQLite}

// ServerConfig stores all server-wide configuration.
// Loaded from config.yaml, created with defaults if missing.
type ServerConfig struct {
	// JWTSecret signs session tokens, hex encoded.
	// Auto-generated if empty on first load.
	JWTSecret string `yaml:"jwt_secret"`

	// AdminEmail is the only credential accepted by the login endpoint.
	AdminEmail string `yaml:"admin_email"`

	// UsersBackend and CarsBackend select where each collection is stored.
	UsersBackend string `yaml:"users_backend"`
	CarsBackend  string `yaml:"cars_backend"`

	// RateLimits defines rate limiting configuration.
	RateLimits RateLimits `yaml:"rate_limits"`

	// History commits the data directory to git after each mutating request.
	History bool `yaml:"history"`

	// MaxRequestBodyBytes limits the size of any single HTTP request body.
	MaxRequestBodyBytes int64 `yaml:"max_request_body_bytes"`

	// TrustedProxies lists the reverse proxies, as IPs or CIDR prefixes,
	// whose X-Forwarded-For and X-Real-IP headers are believed.
	TrustedProxies []string `yaml:"trusted_proxies,omitempty"`
}

// RateLimits defines rate limiting configuration (requests per minute).
type RateLimits struct {
	// AuthRatePerMin limits login attempts. 0 means unlimited.
	AuthRatePerMin int `yaml:"auth_rate_per_min"`
	// AuthBurst is the auth bucket size. Defaults to AuthRatePerMin.
	AuthBurst int `yaml:"auth_burst"`

	// WriteRatePerMin limits record writes (POST/PATCH/DELETE). 0 means unlimited.
	WriteRatePerMin int `yaml:"write_rate_per_min"`
	// WriteBurst is the write bucket size. Defaults to WriteRatePerMin.
	WriteBurst int `yaml:"write_burst"`
}

// Validate checks that rate limit values are non-negative.
func (r *RateLimits) Validate() error {
	if r.AuthRatePerMin < 0 {
		return errors.New("auth_rate_per_min must be non-negative")
	}
	if r.AuthBurst < 0 {
		return errors.New("auth_burst must be non-negative")
	}
	if r.WriteRatePerMin < 0 {
		return errors.New("write_rate_per_min must be non-negative")
	}
	if r.WriteBurst < 0 {
		return errors.New("write_burst must be non-negative")
	}
	return nil
}

// DefaultRateLimits returns the default rate limits.
func DefaultRateLimits() RateLimits {
	return RateLimits{
		AuthRatePerMin:  5,
		AuthBurst:       5,
		WriteRatePerMin: 60,
		WriteBurst:      10,
	}
}

// Default returns a configuration with every default filled in except the
// JWT secret.
func Default() ServerConfig {
	return ServerConfig{
		AdminEmail:          DefaultAdminEmail,
		UsersBackend:        BackendCookie,
		CarsBackend:         BackendSQLite,
		RateLimits:          DefaultRateLimits(),
		MaxRequestBodyBytes: 1 << 20, // 1 MiB
	}
}

// Secret returns the decoded JWT secret.
func (c *ServerConfig) Secret() []byte {
	b, _ := hex.DecodeString(c.JWTSecret)
	return b
}

// Validate checks that the configuration is valid.
func (c *ServerConfig) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("jwt_secret is required")
	}
	b, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return fmt.Errorf("jwt_secret must be hex encoded: %w", err)
	}
	if len(b) < 32 {
		return errors.New("jwt_secret must be at least 32 bytes")
	}
	if _, err := mail.ParseAddress(c.AdminEmail); err != nil {
		return fmt.Errorf("admin_email: %w", err)
	}
	if !slices.Contains(Backends, c.UsersBackend) {
		return fmt.Errorf("users_backend: unknown backend %q", c.UsersBackend)
	}
	if !slices.Contains(Backends, c.CarsBackend) {
		return fmt.Errorf("cars_backend: unknown backend %q", c.CarsBackend)
	}
	if err := c.RateLimits.Validate(); err != nil {
		return fmt.Errorf("rate_limits: %w", err)
	}
	if c.MaxRequestBodyBytes < 0 {
		return errors.New("max_request_body_bytes must be non-negative")
	}
	if _, err := c.Proxies(); err != nil {
		return fmt.Errorf("trusted_proxies: %w", err)
	}
	return nil
}

// Proxies returns TrustedProxies parsed. A bare IP is a single address
// prefix.
func (c *ServerConfig) Proxies() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, s := range c.TrustedProxies {
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy %q", s)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Load loads configuration from dataDir/config.yaml.
// Creates the file with defaults if it doesn't exist.
// Auto-generates JWTSecret if empty.
func Load(dataDir string) (*ServerConfig, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()

	modified := false
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		modified = true
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	if cfg.JWTSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, fmt.Errorf("failed to generate JWT secret: %w", err)
		}
		cfg.JWTSecret = hex.EncodeToString(b)
		modified = true
	}

	if modified {
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", FileName, err)
	}
	return &cfg, nil
}

// Save saves configuration to dataDir/config.yaml.
func (c *ServerConfig) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}
