package main

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// ErrorKind is the normalized class of a failed operation. The same five
// kinds are reported whichever upstream served the call.
type ErrorKind string

const (
	AuthError       ErrorKind = "auth"
	NotFoundError   ErrorKind = "not_found"
	ValidationError ErrorKind = "validation"
	RateLimitError  ErrorKind = "rate_limit"
	UpstreamError   ErrorKind = "upstream"
)

// Sentinels for errors.Is; matching is by kind only.
var (
	ErrAuth       = &Error{Kind: AuthError}
	ErrNotFound   = &Error{Kind: NotFoundError}
	ErrValidation = &Error{Kind: ValidationError}
	ErrRateLimit  = &Error{Kind: RateLimitError}
	ErrUpstream   = &Error{Kind: UpstreamError}
)

// Error is the normalized error returned by every gateway operation.
type Error struct {
	Kind    ErrorKind
	Status  int    // status the upstream answered with, 0 if none
	Code    string // upstream error code, when the upstream sent one
	Message string
	Fields  map[string][]string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// StatusCode is the status the gateway answers the caller with. It satisfies
// go-kit's StatusCoder.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case AuthError:
		if e.Status == http.StatusForbidden {
			return http.StatusForbidden
		}
		return http.StatusUnauthorized
	case NotFoundError:
		return http.StatusNotFound
	case ValidationError:
		return http.StatusUnprocessableEntity
	case RateLimitError:
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}

func newError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func authErrorf(format string, args ...any) *Error {
	return newError(AuthError, fmt.Sprintf(format, args...))
}

func notFoundErrorf(format string, args ...any) *Error {
	return newError(NotFoundError, fmt.Sprintf(format, args...))
}

func validationErrorf(format string, args ...any) *Error {
	return newError(ValidationError, fmt.Sprintf(format, args...))
}

func upstreamError(msg string, cause error) *Error {
	return &Error{Kind: UpstreamError, Message: fmt.Sprintf("%s: %v", msg, cause), Cause: cause}
}

// errorTable describes how one upstream reports failures in its bodies.
type errorTable struct {
	message string // gjson path of the human readable message
	code    string // gjson path of the machine readable code
	fields  func(body gjson.Result) map[string][]string
	// override refines the status based class from the upstream error code.
	override func(code string) (ErrorKind, bool)
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return AuthError
	case status == http.StatusNotFound:
		return NotFoundError
	case status == http.StatusTooManyRequests:
		return RateLimitError
	case status >= 400 && status < 500:
		return ValidationError
	default:
		return UpstreamError
	}
}

// classify turns a non-2xx upstream response into an *Error.
func (t errorTable) classify(status int, body []byte) *Error {
	e := &Error{
		Kind:   kindForStatus(status),
		Status: status,
	}

	if gjson.ValidBytes(body) {
		parsed := gjson.ParseBytes(body)
		e.Message = parsed.Get(t.message).String()
		e.Code = parsed.Get(t.code).String()
		if t.fields != nil {
			e.Fields = t.fields(parsed)
		}
	} else if len(body) > 0 && utf8.Valid(body) {
		e.Message = truncate(strings.TrimSpace(string(body)), 512)
	}

	if e.Code != "" && t.override != nil {
		if kind, ok := t.override(e.Code); ok {
			e.Kind = kind
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	if len(e.Fields) > 0 {
		e.Message = e.Message + " (" + describeFields(e.Fields) + ")"
	}
	return e
}

func describeFields(fields map[string][]string) string {
	parts := make([]string, 0, len(fields))
	for _, name := range sortedKeys(fields) {
		parts = append(parts, name+": "+strings.Join(fields[name], ", "))
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// hetznerErrors covers the cloud and storage box APIs, which share the
// {"error": {"code", "message", "details": {"fields": [...]}}} envelope.
var hetznerErrors = errorTable{
	message: "error.message",
	code:    "error.code",
	fields: func(body gjson.Result) map[string][]string {
		var out map[string][]string
		body.Get("error.details.fields").ForEach(func(_, field gjson.Result) bool {
			name := field.Get("name").String()
			if name == "" {
				return true
			}
			if out == nil {
				out = make(map[string][]string)
			}
			for _, m := range field.Get("messages").Array() {
				out[name] = append(out[name], m.String())
			}
			return true
		})
		return out
	},
	override: func(code string) (ErrorKind, bool) {
		switch code {
		case "unauthorized", "forbidden", "token_readonly":
			return AuthError, true
		case "not_found":
			return NotFoundError, true
		case "protected", "locked", "conflict", "invalid_input", "uniqueness_error",
			"resource_limit_exceeded", "resource_unavailable", "server_already_attached",
			"ip_not_available", "no_space_left_in_location", "placement_error":
			return ValidationError, true
		case "rate_limit_exceeded":
			return RateLimitError, true
		case "service_error", "unavailable", "timeout", "maintenance":
			return UpstreamError, true
		}
		return "", false
	},
}

// robotErrors covers the dedicated server API:
// {"error": {"status", "code", "message", "missing": [...], "invalid": [...]}}.
// Robot reports rate limiting as 403, which the code override corrects.
var robotErrors = errorTable{
	message: "error.message",
	code:    "error.code",
	fields: func(body gjson.Result) map[string][]string {
		var out map[string][]string
		for _, reason := range []string{"missing", "invalid"} {
			for _, name := range body.Get("error." + reason).Array() {
				if out == nil {
					out = make(map[string][]string)
				}
				out[name.String()] = append(out[name.String()], reason)
			}
		}
		return out
	},
	override: func(code string) (ErrorKind, bool) {
		switch {
		case code == "RATE_LIMIT_EXCEEDED":
			return RateLimitError, true
		case code == "UNAUTHORIZED":
			return AuthError, true
		case code == "INVALID_INPUT":
			return ValidationError, true
		case code == "NOT_FOUND", strings.HasSuffix(code, "_NOT_FOUND"):
			return NotFoundError, true
		case code == "INTERNAL_ERROR":
			return UpstreamError, true
		}
		return "", false
	},
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
