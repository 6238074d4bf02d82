package rest

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Category groups HTTP failures by what a caller can do about them.
type Category int

const (
	CategoryBadRequest Category = iota
	CategoryUnauthorized
	CategoryForbidden
	CategoryNotFound
	CategoryRateLimited
	CategoryServerError
	CategoryTransport
)

func (c Category) String() string {
	switch c {
	case CategoryBadRequest:
		return "bad_request"
	case CategoryUnauthorized:
		return "unauthorized"
	case CategoryForbidden:
		return "forbidden"
	case CategoryNotFound:
		return "not_found"
	case CategoryRateLimited:
		return "rate_limited"
	case CategoryServerError:
		return "server_error"
	case CategoryTransport:
		return "transport"
	}
	return "category(" + strconv.Itoa(int(c)) + ")"
}

func categorize(status int) Category {
	switch {
	case status == http.StatusUnauthorized:
		return CategoryUnauthorized
	case status == http.StatusForbidden:
		return CategoryForbidden
	case status == http.StatusNotFound:
		return CategoryNotFound
	case status == http.StatusTooManyRequests:
		return CategoryRateLimited
	case status >= 500:
		return CategoryServerError
	default:
		return CategoryBadRequest
	}
}

// Error is returned for every failed request. Status is zero for transport failures.
type Error struct {
	Status   int
	Category Category
	// Code and Message come from the JSON error body, when there is one.
	Code    int
	Message string
	// RetryAfter is set for rate limited requests.
	RetryAfter time.Duration
	Global     bool
	Err        error
}

func (e *Error) Error() string {
	if e.Category == CategoryTransport {
		return fmt.Sprintf("rest: transport: %s", e.Err)
	}
	if e.Message != "" {
		return fmt.Sprintf("rest: HTTP %d (%s): %s (code %d)", e.Status, e.Category, e.Message, e.Code)
	}
	return fmt.Sprintf("rest: HTTP %d (%s)", e.Status, e.Category)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func parseError(res *http.Response, body []byte) *Error {
	e := &Error{
		Status:   res.StatusCode,
		Category: categorize(res.StatusCode),
	}
	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.Code = int(parsed.Get("code").Int())
		e.Message = parsed.Get("message").Str
		e.Global = parsed.Get("global").Bool()
		if ra := parsed.Get("retry_after"); ra.Exists() {
			e.RetryAfter = time.Duration(ra.Float() * float64(time.Second))
		}
	}
	if e.RetryAfter == 0 && e.Category == CategoryRateLimited {
		if secs, err := strconv.ParseFloat(res.Header.Get("Retry-After"), 64); err == nil {
			e.RetryAfter = time.Duration(secs * float64(time.Second))
		}
	}
	return e
}
