package main

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorStatusCode(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{&Error{Kind: AuthError}, http.StatusUnauthorized},
		{&Error{Kind: AuthError, Status: http.StatusUnauthorized}, http.StatusUnauthorized},
		{&Error{Kind: AuthError, Status: http.StatusForbidden}, http.StatusForbidden},
		{&Error{Kind: NotFoundError, Status: http.StatusNotFound}, http.StatusNotFound},
		{&Error{Kind: ValidationError, Status: http.StatusBadRequest}, http.StatusUnprocessableEntity},
		{&Error{Kind: ValidationError, Status: http.StatusConflict}, http.StatusUnprocessableEntity},
		{&Error{Kind: RateLimitError, Status: http.StatusForbidden}, http.StatusTooManyRequests},
		{&Error{Kind: UpstreamError, Status: http.StatusServiceUnavailable}, http.StatusBadGateway},
		{&Error{Kind: UpstreamError}, http.StatusBadGateway},
	}
	for _, test := range tests {
		if got := test.err.StatusCode(); got != test.want {
			t.Errorf("%s/%d: expected %d, got %d", test.err.Kind, test.err.Status, test.want, got)
		}
	}
}

func TestErrorIsMatchesKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("list servers: %w", upstreamError("GET /servers", cause))

	if !errors.Is(err, ErrUpstream) {
		t.Error("expected wrapped error to match ErrUpstream")
	}
	if errors.Is(err, ErrAuth) {
		t.Error("expected wrapped error not to match ErrAuth")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable")
	}
	if got := err.Error(); got != "list servers: GET /servers: connection reset" {
		t.Errorf("unexpected message %q", got)
	}
}

func TestKindForStatus(t *testing.T) {
	tests := map[int]ErrorKind{
		400: ValidationError,
		401: AuthError,
		403: AuthError,
		404: NotFoundError,
		405: ValidationError,
		409: ValidationError,
		412: ValidationError,
		422: ValidationError,
		423: ValidationError,
		429: RateLimitError,
		500: UpstreamError,
		502: UpstreamError,
		504: UpstreamError,
		302: UpstreamError,
	}
	for status, want := range tests {
		if got := kindForStatus(status); got != want {
			t.Errorf("%d: expected %s, got %s", status, want, got)
		}
	}
}

func TestClassifyFallsBackToStatusText(t *testing.T) {
	err := hetznerErrors.classify(http.StatusTooManyRequests, nil)
	if err.Kind != RateLimitError {
		t.Errorf("expected rate limit, got %s", err.Kind)
	}
	if err.Error() != http.StatusText(http.StatusTooManyRequests) {
		t.Errorf("unexpected message %q", err.Error())
	}
}
