package keyring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// ErrRejected is returned when the gateway refuses a candidate credential.
var ErrRejected = errors.New("credential rejected")

// TestPaths are the gateway routes that validate a credential of each kind.
var TestPaths = map[Kind]string{
	Cloud:   "/api/test-token",
	Storage: "/api/storage/test-token",
	Robot:   "/api/robot/test-token",
}

// HTTPValidator validates credentials against a running gateway.
type HTTPValidator struct {
	BaseURL string
	Client  *http.Client
}

func (v HTTPValidator) Validate(ctx context.Context, kind Kind, s Secret) error {
	path, ok := TestPaths[kind]
	if !ok {
		return ErrUnknownKind
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(v.BaseURL, "/")+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.Apply(kind, req.Header)

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body)
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: %s", ErrRejected, body.Error)
	}
	return fmt.Errorf("validate %s credential: status %d: %s", kind, resp.StatusCode, body.Error)
}
