// Defines shared service dependencies for handlers.

package handlers

import (
	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server/auth"
	"github.com/neizzzy/garage/internal/store"
)

// Services holds all service dependencies for handlers.
type Services struct {
	Users    *store.Store[*record.User]
	Cars     *store.Store[*record.Car]
	Sessions *auth.Sessions
}

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	GoVersion string
	Revision  string
	Dirty     bool
}
