// Package server implements the HTTP server and routing logic.
package server

import (
	"net/http"
	"net/netip"

	"github.com/neizzzy/garage/internal/history"
	"github.com/neizzzy/garage/internal/server/handlers"
	"github.com/neizzzy/garage/internal/server/ratelimit"
)

// Config holds the settings of the HTTP layer.
type Config struct {
	// MaxRequestBodyBytes limits request bodies. 0 means unlimited.
	MaxRequestBodyBytes int64
	// RateLimits may be nil to disable rate limiting.
	RateLimits *ratelimit.Config
	// History may be nil to disable data history.
	History *history.Repo
	// Build is reported by the health endpoint.
	Build handlers.BuildInfo
	// TrustedProxies are the peers whose forwarding headers name the client.
	TrustedProxies []netip.Prefix
}

// NewRouter creates and configures the HTTP router.
func NewRouter(svc *handlers.Services, cfg *Config) http.Handler {
	mux := &http.ServeMux{}
	hh := handlers.NewHealthHandler(cfg.Build)
	ah := handlers.NewAuthHandler(svc.Sessions)
	uh := handlers.NewUserHandler(svc.Users)
	ch := handlers.NewCarHandler(svc.Cars)
	sh := &handlers.SchemaHandler{}

	mux.Handle("GET /api/health", Wrap(hh.Health, cfg))
	mux.HandleFunc("GET /metrics", metricsHandler)
	mux.Handle("GET /api/schema/{collection}", Wrap(sh.GetSchema, cfg))

	// Auth endpoints
	mux.Handle("POST /api/auth/login", WrapHTTP(ah.Login, cfg))
	mux.Handle("DELETE /api/auth/logout", WrapHTTP(ah.Logout, cfg))
	mux.Handle("GET /api/auth/me", WrapHTTP(ah.Me, cfg))

	// User endpoints
	mux.Handle("GET /api/users", WrapAuth(uh.ListUsers, svc, cfg))
	mux.Handle("POST /api/users", WrapAuth(uh.CreateUser, svc, cfg))
	mux.Handle("GET /api/users/{id}", WrapAuth(uh.GetUser, svc, cfg))
	mux.Handle("PATCH /api/users/{id}", WrapAuth(uh.UpdateUser, svc, cfg))
	mux.Handle("DELETE /api/users/{id}", WrapAuth(uh.DeleteUser, svc, cfg))

	// Car endpoints
	mux.Handle("GET /api/cars", WrapAuth(ch.ListCars, svc, cfg))
	mux.Handle("POST /api/cars", WrapAuth(ch.CreateCar, svc, cfg))
	mux.Handle("GET /api/cars/{id}", WrapAuth(ch.GetCar, svc, cfg))
	mux.Handle("PATCH /api/cars/{id}", WrapAuth(ch.UpdateCar, svc, cfg))
	mux.Handle("DELETE /api/cars/{id}", WrapAuth(ch.DeleteCar, svc, cfg))
	return requestLogger(mux, cfg.TrustedProxies)
}
