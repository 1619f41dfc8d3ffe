// Handles the users collection.

package handlers

import (
	"context"
	"log/slog"

	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server/dto"
	"github.com/neizzzy/garage/internal/store"
)

// UserHandler handles user CRUD requests.
type UserHandler struct {
	users *store.Store[*record.User]
}

// NewUserHandler creates a new user handler.
func NewUserHandler(users *store.Store[*record.User]) *UserHandler {
	return &UserHandler{users: users}
}

// ListUsers returns the users whose nickname contains the search term, or
// all users without one.
func (h *UserHandler) ListUsers(ctx context.Context, req *dto.ListUsersRequest) (*dto.ListUsersResponse, error) {
	all, err := h.users.All(ctx)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	found := record.Search(all, req.Term)
	resp := &dto.ListUsersResponse{Users: make([]dto.UserResponse, 0, len(found))}
	for _, u := range found {
		resp.Users = append(resp.Users, userToResponse(u))
	}
	return resp, nil
}

// GetUser returns one user.
func (h *UserHandler) GetUser(ctx context.Context, req *dto.GetUserRequest) (*dto.UserResponse, error) {
	u, err := h.users.FindByID(ctx, req.ID())
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if u == nil {
		return nil, dto.NotFound("user")
	}
	resp := userToResponse(u)
	return &resp, nil
}

// CreateUser validates and stores a new user.
func (h *UserHandler) CreateUser(ctx context.Context, req *dto.CreateUserRequest) (*dto.UserResponse, error) {
	fields := userFromRequest(&req.UserFields)
	if errs := fields.Validate(); len(errs) != 0 {
		return nil, dto.Unprocessable(errs)
	}
	u, err := h.users.Create(ctx, fields)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	slog.InfoContext(ctx, "User created", "id", u.ID)
	resp := userToResponse(u)
	return &resp, nil
}

// UpdateUser validates and overwrites the fields of a user.
func (h *UserHandler) UpdateUser(ctx context.Context, req *dto.UpdateUserRequest) (*dto.UserResponse, error) {
	existing, err := h.users.FindByID(ctx, req.ID())
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if existing == nil {
		return nil, dto.NotFound("user")
	}
	fields := userFromRequest(&req.UserFields)
	if errs := fields.Validate(); len(errs) != 0 {
		return nil, dto.Unprocessable(errs)
	}
	u, err := h.users.Update(ctx, req.ID(), fields)
	if err != nil {
		return nil, dto.StorageError(err)
	}
	if u == nil {
		// Deleted concurrently.
		return nil, dto.NotFound("user")
	}
	resp := userToResponse(u)
	return &resp, nil
}

// DeleteUser removes a user. Deleting a missing user succeeds.
func (h *UserHandler) DeleteUser(ctx context.Context, req *dto.DeleteUserRequest) (*dto.EmptyResponse, error) {
	if err := h.users.Destroy(ctx, req.ID()); err != nil {
		return nil, dto.StorageError(err)
	}
	return &dto.EmptyResponse{}, nil
}

func userFromRequest(f *dto.UserFields) *record.User {
	return &record.User{Nickname: f.Nickname, Email: f.Email}
}

func userToResponse(u *record.User) dto.UserResponse {
	return dto.UserResponse{ID: u.ID, Nickname: u.Nickname, Email: u.Email}
}
