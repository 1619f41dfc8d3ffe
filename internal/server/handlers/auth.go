// Handles the admin login, logout and session state.

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/neizzzy/garage/internal/server/auth"
	"github.com/neizzzy/garage/internal/server/dto"
	"github.com/neizzzy/garage/internal/server/reqctx"
)

// AuthHandler handles authentication requests.
//
// Its methods take the ResponseWriter because they set the session cookie.
type AuthHandler struct {
	sessions *auth.Sessions
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(sessions *auth.Sessions) *AuthHandler {
	return &AuthHandler{sessions: sessions}
}

// Login starts an admin session when the email matches the configured one.
func (h *AuthHandler) Login(ctx context.Context, w http.ResponseWriter, _ *http.Request, req *dto.LoginRequest) (*dto.LoginResponse, error) {
	if err := h.sessions.Login(w, req.Email); err != nil {
		if errors.Is(err, auth.ErrAccessDenied) {
			slog.WarnContext(ctx, "Login denied", "ip", reqctx.ClientIP(ctx))
			return nil, dto.Unauthorized()
		}
		return nil, dto.InternalWithError("failed to create session", err)
	}
	slog.InfoContext(ctx, "Admin logged in", "ip", reqctx.ClientIP(ctx))
	return &dto.LoginResponse{Authenticated: true}, nil
}

// Logout ends the session of the caller. It succeeds without a session.
func (h *AuthHandler) Logout(_ context.Context, w http.ResponseWriter, r *http.Request, _ *dto.LogoutRequest) (*dto.LogoutResponse, error) {
	h.sessions.Logout(w, r)
	return &dto.LogoutResponse{Authenticated: false}, nil
}

// Me reports whether the caller is logged in.
func (h *AuthHandler) Me(ctx context.Context, _ http.ResponseWriter, r *http.Request, _ *dto.MeRequest) (*dto.MeResponse, error) {
	claims, err := h.sessions.Verify(r)
	if err != nil {
		if !errors.Is(err, auth.ErrNoSession) {
			slog.DebugContext(ctx, "Ignoring session", "err", err)
		}
		return &dto.MeResponse{}, nil
	}
	return &dto.MeResponse{Authenticated: true, Email: claims.Subject}, nil
}
