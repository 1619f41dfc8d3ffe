package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/neizzzy/garage/internal/history"
	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server/auth"
	"github.com/neizzzy/garage/internal/server/dto"
	"github.com/neizzzy/garage/internal/server/handlers"
	"github.com/neizzzy/garage/internal/server/ratelimit"
	"github.com/neizzzy/garage/internal/store"
)

var testJWTSecret = []byte("test-secret-key-32-bytes-long!!!")

const adminEmail = "admin@neizzzy.ru"

type testEnv struct {
	server  *httptest.Server
	client  *http.Client
	dataDir string
	history *history.Repo
}

type envOption func(t *testing.T, dataDir string, c *Config)

func withRateLimits(rl *ratelimit.Config) envOption {
	return func(_ *testing.T, _ string, c *Config) { c.RateLimits = rl }
}

// withHistory commits cars.json to a git repo in the data directory.
func withHistory() envOption {
	return func(t *testing.T, dataDir string, c *Config) {
		h, err := history.Open(dataDir, "garage", "garage@localhost", "cars.json")
		if err != nil {
			t.Fatal(err)
		}
		c.History = h
	}
}

// setupTestEnv serves users from a cookie and cars from a JSON file.
func setupTestEnv(t *testing.T, opts ...envOption) *testEnv {
	dataDir := t.TempDir()
	cars, err := store.NewJSONFile[*record.Car](filepath.Join(dataDir, "cars.json"))
	if err != nil {
		t.Fatal(err)
	}
	sessions := auth.New(testJWTSecret, adminEmail)
	t.Cleanup(sessions.Close)
	svc := &handlers.Services{
		Users:    store.New[*record.User]("users", store.NewCookie[*record.User]("users", 0)),
		Cars:     store.New[*record.Car]("cars", cars),
		Sessions: sessions,
	}
	cfg := &Config{
		MaxRequestBodyBytes: 1024,
		Build:               handlers.BuildInfo{Version: "test", GoVersion: "go1.25.0", Revision: "abc1234"},
	}
	for _, o := range opts {
		o(t, dataDir, cfg)
	}
	server := httptest.NewServer(NewRouter(svc, cfg))
	t.Cleanup(server.Close)
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatal(err)
	}
	return &testEnv{server: server, client: &http.Client{Jar: jar}, dataDir: dataDir, history: cfg.History}
}

// doJSON performs an HTTP request, decodes the JSON response, and returns the status code.
// Body is always read and closed before returning. A string body is sent as is.
func (e *testEnv) doJSON(t *testing.T, method, path string, body, response any) int {
	t.Helper()
	var bodyReader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		bodyReader = strings.NewReader(b)
	default:
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal request body: %v", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.server.URL+path, bodyReader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("Do request: %v", err)
	}
	data, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		t.Fatalf("ReadAll/Close: %v", err)
	}
	if response != nil && len(data) > 0 {
		if err := json.Unmarshal(data, response); err != nil {
			t.Fatalf("Unmarshal response: %v\nBody: %s", err, string(data))
		}
	}
	return resp.StatusCode
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()
	var resp dto.LoginResponse
	if status := e.doJSON(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: adminEmail}, &resp); status != http.StatusOK {
		t.Fatalf("POST /api/auth/login: got status %d", status)
	}
	if !resp.Authenticated {
		t.Fatal("login response not authenticated")
	}
}

func TestIntegration(t *testing.T) {
	t.Run("Health", func(t *testing.T) {
		env := setupTestEnv(t)
		var health dto.HealthResponse
		if status := env.doJSON(t, http.MethodGet, "/api/health", nil, &health); status != http.StatusOK {
			t.Fatalf("GET /api/health: got status %d", status)
		}
		want := dto.HealthResponse{Status: "ok", Version: "test", GoVersion: "go1.25.0", Revision: "abc1234"}
		if diff := cmp.Diff(want, health); diff != "" {
			t.Errorf("health mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("Unauthenticated", func(t *testing.T) {
		env := setupTestEnv(t)
		for _, p := range []struct{ method, path string }{
			{http.MethodGet, "/api/users"},
			{http.MethodPost, "/api/users"},
			{http.MethodGet, "/api/cars/1"},
			{http.MethodDelete, "/api/cars/1"},
		} {
			var errResp dto.ErrorResponse
			status := env.doJSON(t, p.method, p.path, nil, &errResp)
			if status != http.StatusUnauthorized {
				t.Errorf("%s %s: got status %d, want 401", p.method, p.path, status)
			}
			if errResp.Error.Message != "Access denied" || errResp.Error.Code != dto.ErrorCodeUnauthorized {
				t.Errorf("%s %s: error = %+v", p.method, p.path, errResp.Error)
			}
		}
	})

	t.Run("LoginLogout", func(t *testing.T) {
		env := setupTestEnv(t)
		var me dto.MeResponse
		env.doJSON(t, http.MethodGet, "/api/auth/me", nil, &me)
		if me.Authenticated {
			t.Fatal("authenticated before login")
		}

		var errResp dto.ErrorResponse
		if status := env.doJSON(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "guest@example.com"}, &errResp); status != http.StatusUnauthorized {
			t.Fatalf("wrong email: got status %d, want 401", status)
		}
		if errResp.Error.Message != "Access denied" {
			t.Errorf("message = %q", errResp.Error.Message)
		}
		if status := env.doJSON(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{}, nil); status != http.StatusBadRequest {
			t.Errorf("empty email: got status %d, want 400", status)
		}

		env.login(t)
		env.doJSON(t, http.MethodGet, "/api/auth/me", nil, &me)
		if diff := cmp.Diff(dto.MeResponse{Authenticated: true, Email: adminEmail}, me); diff != "" {
			t.Errorf("me mismatch (-want +got):\n%s", diff)
		}
		if status := env.doJSON(t, http.MethodGet, "/api/users", nil, nil); status != http.StatusOK {
			t.Errorf("GET /api/users after login: got status %d", status)
		}

		if status := env.doJSON(t, http.MethodDelete, "/api/auth/logout", nil, nil); status != http.StatusOK {
			t.Fatalf("logout: got status %d", status)
		}
		me = dto.MeResponse{}
		env.doJSON(t, http.MethodGet, "/api/auth/me", nil, &me)
		if me.Authenticated {
			t.Error("authenticated after logout")
		}
		if status := env.doJSON(t, http.MethodGet, "/api/users", nil, nil); status != http.StatusUnauthorized {
			t.Errorf("GET /api/users after logout: got status %d, want 401", status)
		}
	})

	t.Run("UserWorkflow", func(t *testing.T) {
		env := setupTestEnv(t)
		env.login(t)

		var created dto.UserResponse
		status := env.doJSON(t, http.MethodPost, "/api/users", dto.UserFields{Nickname: "mike", Email: "mike@example.com"}, &created)
		if status != http.StatusOK {
			t.Fatalf("POST /api/users: got status %d", status)
		}
		if created.ID != 1 {
			t.Errorf("ID = %d, want 1", created.ID)
		}
		env.doJSON(t, http.MethodPost, "/api/users", dto.UserFields{Nickname: "Anna", Email: "anna@example.com"}, nil)

		// The users collection lives in the client's cookie.
		u, _ := http.NewRequest(http.MethodGet, env.server.URL, nil)
		if cookies := env.client.Jar.Cookies(u.URL); !hasCookie(cookies, "users") {
			t.Errorf("users cookie not set: %v", cookies)
		}

		var list dto.ListUsersResponse
		env.doJSON(t, http.MethodGet, "/api/users?term=MIKE", nil, &list)
		if diff := cmp.Diff([]dto.UserResponse{created}, list.Users); diff != "" {
			t.Errorf("search mismatch (-want +got):\n%s", diff)
		}

		var updated dto.UserResponse
		status = env.doJSON(t, http.MethodPatch, "/api/users/1", dto.UserFields{Nickname: "mikey", Email: "mike@example.com"}, &updated)
		if status != http.StatusOK {
			t.Fatalf("PATCH /api/users/1: got status %d", status)
		}
		if updated.ID != 1 || updated.Nickname != "mikey" {
			t.Errorf("updated = %+v", updated)
		}

		var empty map[string]any
		if status := env.doJSON(t, http.MethodDelete, "/api/users/1", nil, &empty); status != http.StatusOK {
			t.Fatalf("DELETE /api/users/1: got status %d", status)
		}
		if len(empty) != 0 {
			t.Errorf("DELETE body = %v, want {}", empty)
		}

		var errResp dto.ErrorResponse
		if status := env.doJSON(t, http.MethodGet, "/api/users/1", nil, &errResp); status != http.StatusNotFound {
			t.Fatalf("GET deleted user: got status %d, want 404", status)
		}
		wantErr := dto.ErrorResponse{Error: dto.ErrorDetails{Code: dto.ErrorCodeNotFound, Message: "user not found"}}
		if diff := cmp.Diff(wantErr, errResp); diff != "" {
			t.Errorf("404 body mismatch (-want +got):\n%s", diff)
		}

		list = dto.ListUsersResponse{}
		env.doJSON(t, http.MethodGet, "/api/users", nil, &list)
		if len(list.Users) != 1 || list.Users[0].Nickname != "Anna" {
			t.Errorf("users = %+v", list.Users)
		}
	})

	t.Run("Validation", func(t *testing.T) {
		env := setupTestEnv(t)
		env.login(t)

		var errResp dto.ErrorResponse
		status := env.doJSON(t, http.MethodPost, "/api/cars", dto.CarFields{Make: "  "}, &errResp)
		if status != http.StatusUnprocessableEntity {
			t.Fatalf("POST /api/cars: got status %d, want 422", status)
		}
		want := dto.ErrorResponse{
			Error: dto.ErrorDetails{Code: dto.ErrorCodeValidationFailed, Message: "validation failed"},
			Details: map[string]any{
				"make":  "Field 'Make' can't be blank!",
				"model": "Field 'Model' can't be blank!",
			},
		}
		if diff := cmp.Diff(want, errResp); diff != "" {
			t.Errorf("422 body mismatch (-want +got):\n%s", diff)
		}

		tests := []struct {
			name   string
			method string
			path   string
			body   any
			want   int
		}{
			{"NonNumericID", http.MethodGet, "/api/cars/abc", nil, http.StatusBadRequest},
			{"ZeroID", http.MethodGet, "/api/cars/0", nil, http.StatusBadRequest},
			{"UnknownField", http.MethodPost, "/api/cars", `{"make":"Lada","model":"Niva","color":"red"}`, http.StatusBadRequest},
			{"BadJSON", http.MethodPost, "/api/cars", `{"make":`, http.StatusBadRequest},
			{"TooLarge", http.MethodPost, "/api/cars", `{"make":"` + strings.Repeat("x", 2048) + `","model":"m"}`, http.StatusRequestEntityTooLarge},
			{"IDIgnored", http.MethodPost, "/api/cars", `{"id":99,"make":"Lada","model":"Niva"}`, http.StatusOK},
			{"PatchMissing", http.MethodPatch, "/api/cars/42", dto.CarFields{Make: "a", Model: "b"}, http.StatusNotFound},
			{"DeleteMissing", http.MethodDelete, "/api/cars/42", nil, http.StatusOK},
			{"WrongMethod", http.MethodPut, "/api/cars/1", nil, http.StatusMethodNotAllowed},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if status := env.doJSON(t, tt.method, tt.path, tt.body, nil); status != tt.want {
					t.Errorf("%s %s: got status %d, want %d", tt.method, tt.path, status, tt.want)
				}
			})
		}

		var car dto.CarResponse
		env.doJSON(t, http.MethodGet, "/api/cars/1", nil, &car)
		if diff := cmp.Diff(dto.CarResponse{ID: 1, Make: "Lada", Model: "Niva"}, car); diff != "" {
			t.Errorf("car mismatch (-want +got):\n%s", diff)
		}
		// The cars collection is in the JSON file.
		data, err := os.ReadFile(filepath.Join(env.dataDir, "cars.json"))
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `"make": "Lada"`) {
			t.Errorf("cars.json = %s", data)
		}
	})

	t.Run("Schema", func(t *testing.T) {
		env := setupTestEnv(t)
		var schema struct {
			Properties map[string]any `json:"properties"`
		}
		if status := env.doJSON(t, http.MethodGet, "/api/schema/users", nil, &schema); status != http.StatusOK {
			t.Fatalf("GET /api/schema/users: got status %d", status)
		}
		for _, k := range []string{"id", "nickname", "email"} {
			if _, ok := schema.Properties[k]; !ok {
				t.Errorf("schema lacks %q", k)
			}
		}
		if status := env.doJSON(t, http.MethodGet, "/api/schema/trucks", nil, nil); status != http.StatusNotFound {
			t.Errorf("unknown collection: got status %d, want 404", status)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		env := setupTestEnv(t)
		env.doJSON(t, http.MethodGet, "/api/health", nil, nil)
		resp, err := env.client.Get(env.server.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		data, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(string(data), `garage_http_requests_total{route="GET /api/health",code="200"}`) {
			t.Errorf("metrics lack the health counter:\n%s", data)
		}
	})

	t.Run("RateLimit", func(t *testing.T) {
		rl := ratelimit.NewConfig(2, 2, 0, 0)
		t.Cleanup(rl.Close)
		env := setupTestEnv(t, withRateLimits(rl))
		for i := range 2 {
			if status := env.doJSON(t, http.MethodPost, "/api/auth/login", dto.LoginRequest{Email: "x@example.com"}, nil); status != http.StatusUnauthorized {
				t.Fatalf("attempt %d: got status %d, want 401", i+1, status)
			}
		}
		req, _ := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/login", strings.NewReader(`{"email":"admin@neizzzy.ru"}`))
		resp, err := env.client.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		var errResp dto.ErrorResponse
		err = json.NewDecoder(resp.Body).Decode(&errResp)
		_ = resp.Body.Close()
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("got status %d, want 429", resp.StatusCode)
		}
		if resp.Header.Get("Retry-After") == "" || resp.Header.Get("X-RateLimit-Limit") != "2" {
			t.Errorf("headers = %v", resp.Header)
		}
		if errResp.Error.Code != dto.ErrorCodeRateLimitExceeded {
			t.Errorf("code = %s", errResp.Error.Code)
		}
		// Record writes are not limited when the write tier is disabled.
		if status := env.doJSON(t, http.MethodGet, "/api/health", nil, nil); status != http.StatusOK {
			t.Errorf("health: got status %d", status)
		}
	})

	t.Run("RateLimitForwardedFor", func(t *testing.T) {
		rl := ratelimit.NewConfig(1, 1, 0, 0)
		t.Cleanup(rl.Close)
		env := setupTestEnv(t, withRateLimits(rl))
		login := func(xff string) int {
			req, err := http.NewRequest(http.MethodPost, env.server.URL+"/api/auth/login", strings.NewReader(`{"email":"x@example.com"}`))
			if err != nil {
				t.Fatal(err)
			}
			req.Header.Set("X-Forwarded-For", xff)
			resp, err := env.client.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			return resp.StatusCode
		}
		if status := login("198.51.100.1"); status != http.StatusUnauthorized {
			t.Fatalf("first attempt: got status %d, want 401", status)
		}
		// No proxy is trusted, so a new forwarded address is still the same client.
		if status := login("198.51.100.2"); status != http.StatusTooManyRequests {
			t.Errorf("second attempt: got status %d, want 429", status)
		}
	})

	t.Run("History", func(t *testing.T) {
		env := setupTestEnv(t, withHistory())
		env.login(t)
		if status := env.doJSON(t, http.MethodPost, "/api/cars", dto.CarFields{Make: "Lada", Model: "Niva"}, nil); status != http.StatusOK {
			t.Fatalf("POST /api/cars: got status %d", status)
		}
		if status := env.doJSON(t, http.MethodGet, "/api/cars", nil, nil); status != http.StatusOK {
			t.Fatalf("GET /api/cars: got status %d", status)
		}
		// Deleting a missing record changes nothing and creates no commit.
		env.doJSON(t, http.MethodDelete, "/api/cars/9", nil, nil)
		log, err := env.history.Log(t.Context(), 10)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"POST /api/cars"}, log); diff != "" {
			t.Errorf("history mismatch (-want +got):\n%s", diff)
		}
	})
}

func hasCookie(cookies []*http.Cookie, name string) bool {
	for _, c := range cookies {
		if c.Name == name {
			return true
		}
	}
	return false
}
