package store

import "errors"

var (
	// ErrNoCookieJar is returned by the cookie backend when the context does
	// not carry the current request.
	ErrNoCookieJar = errors.New("no cookie jar in context")
	// ErrCookieTooLarge is returned when the encoded collection does not fit
	// in a single cookie.
	ErrCookieTooLarge = errors.New("collection too large for a cookie")
	// ErrIDsExhausted is returned by Create when the largest ID in the
	// collection is math.MaxInt64.
	ErrIDsExhausted = errors.New("no IDs left")
)
