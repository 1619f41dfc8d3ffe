package dto

// --- Common Responses ---

// EmptyResponse is the `{}` body returned by deletes.
type EmptyResponse struct{}

// HealthResponse is a response from the health check endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Revision  string `json:"revision,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// --- Auth Responses ---

// LoginResponse is a response from logging in.
type LoginResponse struct {
	Authenticated bool `json:"authenticated"`
}

// LogoutResponse is a response from logging out.
type LogoutResponse struct {
	Authenticated bool `json:"authenticated"`
}

// MeResponse describes the session of the caller.
type MeResponse struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
}

// --- Record Responses ---

// UserResponse is a user record.
type UserResponse struct {
	ID       int64  `json:"id"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// ListUsersResponse is a response containing users in creation order.
type ListUsersResponse struct {
	Users []UserResponse `json:"users"`
}

// CarResponse is a car record.
type CarResponse struct {
	ID    int64  `json:"id"`
	Make  string `json:"make"`
	Model string `json:"model"`
}

// ListCarsResponse is a response containing cars in creation order.
type ListCarsResponse struct {
	Cars []CarResponse `json:"cars"`
}
