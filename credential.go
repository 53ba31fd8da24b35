package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/br3jski/hetzner-api-control-panel/keyring"
)

type CredentialKind = keyring.Kind

const (
	KindCloud   = keyring.Cloud
	KindStorage = keyring.Storage
	KindRobot   = keyring.Robot
)

// Credential is the caller-supplied secret for one upstream. It is carried
// per request and never stored or logged by the gateway.
type Credential struct {
	Kind     CredentialKind
	Token    string
	Username string
	Password string
}

func (c Credential) String() string {
	return fmt.Sprintf("%s:[REDACTED]", c.Kind)
}

func (c Credential) GoString() string {
	return fmt.Sprintf("Credential{Kind: %q, [REDACTED]}", c.Kind)
}

// credentialFromRequest extracts the credential of kind from the request
// headers and checks its shape. It never consults the other kinds' headers.
func credentialFromRequest(kind CredentialKind, r *http.Request) (Credential, error) {
	cred := Credential{Kind: kind}
	switch kind {
	case KindCloud:
		cred.Token = strings.TrimSpace(r.Header.Get(keyring.HeaderCloudToken))
	case KindStorage:
		cred.Token = strings.TrimSpace(r.Header.Get(keyring.HeaderStorageToken))
	case KindRobot:
		cred.Username = strings.TrimSpace(r.Header.Get(keyring.HeaderRobotUser))
		cred.Password = r.Header.Get(keyring.HeaderRobotPassword)
	default:
		return Credential{}, validationErrorf("unknown credential kind %q", kind)
	}
	if err := cred.check(kind); err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// check verifies that c is a well-formed credential of kind.
func (c Credential) check(kind CredentialKind) error {
	if !kind.Valid() {
		return validationErrorf("unknown credential kind %q", kind)
	}
	if c.Kind != kind {
		return authErrorf("%s operation requires a %s credential, got %s", kind, kind, c.Kind)
	}
	switch kind {
	case KindCloud, KindStorage:
		if c.Token == "" {
			return authErrorf("no %s API token provided", kind)
		}
		if !printableToken(c.Token) {
			return authErrorf("malformed %s API token", kind)
		}
	case KindRobot:
		if c.Username == "" || c.Password == "" {
			return authErrorf("no robot webservice username and password provided")
		}
		if strings.Contains(c.Username, ":") || !printableToken(c.Username) {
			return authErrorf("malformed robot webservice username")
		}
	}
	return nil
}

func printableToken(s string) bool {
	for _, r := range s {
		if r <= ' ' || r > '~' {
			return false
		}
	}
	return true
}
