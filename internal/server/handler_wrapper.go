// Provides middleware for standardizing HTTP handlers.

package server

import (
	"bytes"
	"context"
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/neizzzy/garage/internal/server/dto"
	"github.com/neizzzy/garage/internal/server/handlers"
	"github.com/neizzzy/garage/internal/server/ratelimit"
	"github.com/neizzzy/garage/internal/server/reqctx"
	"github.com/neizzzy/garage/internal/store"
)

// addRequestMetadataToContext adds client IP and User-Agent to the context.
func addRequestMetadataToContext(ctx context.Context, r *http.Request, cfg *Config) context.Context {
	ctx = reqctx.WithClientIP(ctx, reqctx.GetClientIP(r, cfg.TrustedProxies))
	ctx = reqctx.WithUserAgent(ctx, r.Header.Get("User-Agent"))
	return ctx
}

// isMutating returns true for HTTP methods that modify state.
func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// commitIfMutating records the data directory in git after a mutating request.
//
// It always attempts the commit regardless of handler outcome: if the handler
// wrote data before returning an error, the change is already on disk. When
// nothing changed no commit is created.
func commitIfMutating(ctx context.Context, r *http.Request, cfg *Config) {
	if cfg.History == nil || !isMutating(r.Method) {
		return
	}
	msg := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
	if _, err := cfg.History.Commit(context.WithoutCancel(ctx), msg); err != nil {
		slog.ErrorContext(ctx, "Failed to commit data changes", "err", err)
	}
}

// prepare runs the steps shared by all wrappers: request metadata, rate
// limiting and the cookie jar of cookie backed stores.
// Returns false if the request was rejected and a response was written.
func prepare(w http.ResponseWriter, r *http.Request, cfg *Config) (http.ResponseWriter, context.Context, bool) {
	ctx := addRequestMetadataToContext(r.Context(), r, cfg)
	if tier := cfg.RateLimits.Match(r.Method, r.URL.Path); tier != nil {
		var ok bool
		if w, ok = checkRateLimit(w, tier, reqctx.ClientIP(ctx)); !ok {
			return w, ctx, false
		}
	}
	ctx = store.WithCookieJar(ctx, w, r)
	return w, ctx, true
}

// checkRateLimit checks rate limit and wraps the response writer.
// Returns the wrapped writer and whether the request should proceed.
func checkRateLimit(w http.ResponseWriter, tier *ratelimit.Tier, identifier string) (http.ResponseWriter, bool) {
	result := tier.Limiter.Allow(ratelimit.BuildKey(identifier, tier.Name))
	w = ratelimit.NewResponseWriter(w, result)
	if !result.Allowed {
		writeRateLimitError(w, result)
		return w, false
	}
	return w, true
}

// decodeInput reads the body, binds path and query parameters and validates
// the request. Returns false if an error was written to the response.
func decodeInput[In any, PtrIn interface {
	*In
	dto.Validatable
}](ctx context.Context, w http.ResponseWriter, r *http.Request, cfg *Config) (PtrIn, bool) {
	input := new(In)
	if !readAndDecodeBody(ctx, w, r, input, cfg) {
		return nil, false
	}
	populatePathParams(r, input)
	populateQueryParams(r, input)
	if err := PtrIn(input).Validate(); err != nil {
		handleValidationError(ctx, w, err)
		return nil, false
	}
	return PtrIn(input), true
}

// Wrap wraps a handler function to work as an http.Handler.
// The function must have signature: func(context.Context, *In) (*Out, error)
// where In can be unmarshalled from JSON and Out is a struct.
// Path parameters can be extracted by tagging struct fields with `path:"name"`.
// *In must implement dto.Validatable.
//
// Example:
//
//	type GetCarRequest struct {
//	    dto.IDParam
//	}
//
//	func (h *CarHandler) GetCar(ctx context.Context, req *dto.GetCarRequest) (*dto.CarResponse, error)
func Wrap[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w, ctx, ok := prepare(w, r, cfg)
		if !ok {
			return
		}
		input, ok := decodeInput[In, PtrIn](ctx, w, r, cfg)
		if !ok {
			return
		}
		output, err := fn(ctx, input)
		writeJSONResponse(ctx, w, output, err)
	})
}

// WrapHTTP is like Wrap for handlers that also need the ResponseWriter and
// the request, e.g. to set cookies.
func WrapHTTP[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, http.ResponseWriter, *http.Request, PtrIn) (*Out, error), cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w, ctx, ok := prepare(w, r, cfg)
		if !ok {
			return
		}
		input, ok := decodeInput[In, PtrIn](ctx, w, r, cfg)
		if !ok {
			return
		}
		output, err := fn(ctx, w, r.WithContext(ctx), input)
		writeJSONResponse(ctx, w, output, err)
	})
}

// WrapAuth wraps a handler that requires the admin session.
// Requests without a valid session get a 401 before the body is read.
// Mutating requests are committed to the data history.
func WrapAuth[In any, PtrIn interface {
	*In
	dto.Validatable
}, Out any](fn func(context.Context, PtrIn) (*Out, error), svc *handlers.Services, cfg *Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := addRequestMetadataToContext(r.Context(), r, cfg)
		claims, err := svc.Sessions.Verify(r)
		if err != nil {
			slog.DebugContext(ctx, "Rejected unauthenticated request", "err", err)
			writeAPIError(ctx, w, dto.Unauthorized())
			return
		}
		r = r.WithContext(reqctx.WithSession(r.Context(), reqctx.Session{Email: claims.Subject, ID: claims.ID}))

		w, ctx, ok := prepare(w, r, cfg)
		if !ok {
			return
		}
		input, ok := decodeInput[In, PtrIn](ctx, w, r, cfg)
		if !ok {
			return
		}
		output, err := fn(ctx, input)
		commitIfMutating(ctx, r, cfg)
		writeJSONResponse(ctx, w, output, err)
	})
}

// readAndDecodeBody reads the request body with size limit and decodes JSON
// into input. Unknown fields are rejected.
// Returns false if an error occurred and was written to the response.
func readAndDecodeBody[In any](ctx context.Context, w http.ResponseWriter, r *http.Request, input *In, cfg *Config) bool {
	if cfg.MaxRequestBodyBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxRequestBodyBytes)
	}
	body, err := io.ReadAll(r.Body)
	if err2 := r.Body.Close(); err == nil {
		err = err2
	}
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeAPIError(ctx, w, dto.PayloadTooLarge(maxBytesErr.Limit))
			return false
		}
		slog.ErrorContext(ctx, "Failed to read request body", "err", err)
		writeAPIError(ctx, w, dto.BadRequest("failed to read request body"))
		return false
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(input); err != nil {
		slog.InfoContext(ctx, "Failed to decode request body", "err", err)
		writeAPIError(ctx, w, dto.BadRequest("invalid request body").WithDetail("reason", err.Error()))
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response or error response.
func writeJSONResponse[Out any](ctx context.Context, w http.ResponseWriter, output *Out, err error) {
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(output); err != nil {
		slog.ErrorContext(ctx, "Failed to encode response", "err", err)
	}
}

// writeError maps err to a status code and writes the error envelope.
// Errors that are not an APIError become a 500 with a generic message.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *dto.APIError
	if !errors.As(err, &apiErr) {
		apiErr = dto.InternalWithError("internal error", err)
	}
	writeAPIError(ctx, w, apiErr)
}

func writeAPIError(ctx context.Context, w http.ResponseWriter, apiErr *dto.APIError) {
	if apiErr.StatusCode() >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "Handler error", "err", apiErr, "status", apiErr.StatusCode(), "code", apiErr.Code())
	} else {
		slog.DebugContext(ctx, "Request error", "err", apiErr, "status", apiErr.StatusCode(), "code", apiErr.Code())
	}
	writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Message(), apiErr.Details())
}

// handleValidationError handles a validation error from a request's Validate method.
func handleValidationError(ctx context.Context, w http.ResponseWriter, err error) {
	var apiErr *dto.APIError
	if !errors.As(err, &apiErr) {
		apiErr = dto.BadRequest(err.Error())
	}
	writeAPIError(ctx, w, apiErr)
}

// writeErrorResponseWithCode writes a detailed error response as JSON with code and details.
func writeErrorResponseWithCode(w http.ResponseWriter, statusCode int, code dto.ErrorCode, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := dto.ErrorResponse{
		Error:   dto.ErrorDetails{Code: code, Message: message},
		Details: details,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("Failed to encode error response", "err", err)
	}
}

// writeRateLimitError writes a 429 rate limit error response.
func writeRateLimitError(w http.ResponseWriter, result ratelimit.Result) {
	apiErr := dto.RateLimitExceeded(int(result.RetryAfter.Seconds()))
	writeErrorResponseWithCode(w, apiErr.StatusCode(), apiErr.Code(), apiErr.Message(), apiErr.Details())
}

// populatePathParams extracts path parameters from the request and populates
// struct fields tagged with `path:"paramName"`, descending into embedded
// structs.
func populatePathParams(r *http.Request, input any) {
	bindTagged(reflect.ValueOf(input), "path", r.PathValue)
}

// populateQueryParams extracts query parameters from the request and
// populates struct fields tagged with `query:"paramName"`.
func populateQueryParams(r *http.Request, input any) {
	query := r.URL.Query()
	bindTagged(reflect.ValueOf(input), "query", query.Get)
}

func bindTagged(val reflect.Value, tagName string, lookup func(string) string) {
	if val.Kind() == reflect.Pointer {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return
	}
	typ := val.Type()
	for i := range typ.NumField() {
		field := typ.Field(i)
		fieldVal := val.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			bindTagged(fieldVal.Addr(), tagName, lookup)
			continue
		}
		tag := field.Tag.Get(tagName)
		if tag == "" || !field.IsExported() {
			continue
		}
		paramValue := lookup(tag)
		if paramValue == "" {
			continue
		}
		switch field.Type.Kind() {
		case reflect.String:
			fieldVal.SetString(paramValue)
		case reflect.Int, reflect.Int64:
			if v, err := strconv.ParseInt(paramValue, 10, 64); err == nil {
				fieldVal.SetInt(v)
			}
		default:
			// Custom types implementing encoding.TextUnmarshaler.
			if u, ok := fieldVal.Addr().Interface().(encoding.TextUnmarshaler); ok {
				_ = u.UnmarshalText([]byte(paramValue))
			}
		}
	}
}
