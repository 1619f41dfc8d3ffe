// Request types for API endpoints.

package dto

import (
	"strconv"
	"strings"
)

// IDParam binds the {id} path parameter of record routes.
type IDParam struct {
	RawID string `path:"id" json:"-"`

	id int64
}

// Validate parses the ID. It must be a positive integer.
func (p *IDParam) Validate() error {
	id, err := strconv.ParseInt(p.RawID, 10, 64)
	if err != nil || id <= 0 {
		return InvalidID(p.RawID)
	}
	p.id = id
	return nil
}

// ID returns the parsed ID. Only valid after Validate.
func (p *IDParam) ID() int64 {
	return p.id
}

// --- Auth Requests ---

// LoginRequest is a request to log in as the admin.
type LoginRequest struct {
	Email string `json:"email"`
}

// Validate validates the login request fields.
func (r *LoginRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" {
		return BadRequest("email is required")
	}
	return nil
}

// LogoutRequest is a request to end the current session.
type LogoutRequest struct{}

// Validate validates the logout request fields.
func (r *LogoutRequest) Validate() error {
	return nil
}

// MeRequest is a request for the session state.
type MeRequest struct{}

// Validate validates the me request fields.
func (r *MeRequest) Validate() error {
	return nil
}

// --- Health & Schema Requests ---

// HealthRequest is a request to check system health.
type HealthRequest struct{}

// Validate validates the health request fields.
func (r *HealthRequest) Validate() error {
	return nil
}

// SchemaRequest is a request for the JSON Schema of a collection's records.
type SchemaRequest struct {
	Collection string `path:"collection"`
}

// Validate validates the schema request fields.
func (r *SchemaRequest) Validate() error {
	if r.Collection == "" {
		return BadRequest("collection is required")
	}
	return nil
}

// --- User Requests ---

// ListUsersRequest is a request to list users, optionally filtered by
// nickname.
type ListUsersRequest struct {
	Term string `query:"term"`
}

// Validate validates the list users request fields.
func (r *ListUsersRequest) Validate() error {
	return nil
}

// UserFields are the writable fields of a user.
//
// An "id" in the body is accepted and ignored; the store assigns IDs.
type UserFields struct {
	BodyID   int64  `json:"id,omitempty"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// CreateUserRequest is a request to create a user.
type CreateUserRequest struct {
	UserFields
}

// Validate validates the create user request fields. Blank fields are
// reported by the handler with a 422.
func (r *CreateUserRequest) Validate() error {
	return nil
}

// GetUserRequest is a request to get a user.
type GetUserRequest struct {
	IDParam
}

// UpdateUserRequest is a request to update a user.
type UpdateUserRequest struct {
	IDParam
	UserFields
}

// DeleteUserRequest is a request to delete a user.
type DeleteUserRequest struct {
	IDParam
}

// --- Car Requests ---

// ListCarsRequest is a request to list cars, optionally filtered by make.
type ListCarsRequest struct {
	Term string `query:"term"`
}

// Validate validates the list cars request fields.
func (r *ListCarsRequest) Validate() error {
	return nil
}

// CarFields are the writable fields of a car.
//
// An "id" in the body is accepted and ignored; the store assigns IDs.
type CarFields struct {
	BodyID int64  `json:"id,omitempty"`
	Make   string `json:"make"`
	Model  string `json:"model"`
}

// CreateCarRequest is a request to create a car.
type CreateCarRequest struct {
	CarFields
}

// Validate validates the create car request fields.
func (r *CreateCarRequest) Validate() error {
	return nil
}

// GetCarRequest is a request to get a car.
type GetCarRequest struct {
	IDParam
}

// UpdateCarRequest is a request to update a car.
type UpdateCarRequest struct {
	IDParam
	CarFields
}

// DeleteCarRequest is a request to delete a car.
type DeleteCarRequest struct {
	IDParam
}
