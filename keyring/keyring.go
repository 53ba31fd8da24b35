// Package keyring holds the caller side of the panel's credential contract.
//
// The panel keeps three independent credentials, one per upstream kind. Each
// lives in its own slot and moves through Unset -> Pending -> Valid. A candidate
// secret only replaces the slot's secret after the gateway accepted it, so a
// rejected candidate never clobbers a working credential.
package keyring

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
)

// Kind names one of the upstream APIs.
type Kind string

const (
	Cloud   Kind = "cloud"
	Storage Kind = "storage"
	Robot   Kind = "robot"
)

// Kinds lists every credential kind in display order.
var Kinds = []Kind{Cloud, Storage, Robot}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case Cloud, Storage, Robot:
		return true
	}
	return false
}

// Request headers carrying the caller's credential to the gateway.
const (
	HeaderCloudToken    = "X-Hetzner-Token"
	HeaderStorageToken  = "X-Storage-Token"
	HeaderRobotUser     = "X-Robot-User"
	HeaderRobotPassword = "X-Robot-Password"
)

// Secret is the opaque value of a credential. Token is used by the cloud and
// storage kinds, Username and Password by the robot kind.
type Secret struct {
	Token    string
	Username string
	Password string
}

func (s Secret) String() string   { return "[REDACTED]" }
func (s Secret) GoString() string { return "keyring.Secret{[REDACTED]}" }

func (s Secret) empty() bool {
	return s.Token == "" && s.Username == "" && s.Password == ""
}

// Apply writes s into h using the header layout of kind.
func (s Secret) Apply(kind Kind, h http.Header) {
	switch kind {
	case Cloud:
		h.Set(HeaderCloudToken, s.Token)
	case Storage:
		h.Set(HeaderStorageToken, s.Token)
	case Robot:
		h.Set(HeaderRobotUser, s.Username)
		h.Set(HeaderRobotPassword, s.Password)
	}
}

// State is the lifecycle position of one slot.
type State int

const (
	Unset State = iota
	Pending
	Valid
)

func (s State) String() string {
	switch s {
	case Unset:
		return "unset"
	case Pending:
		return "pending"
	case Valid:
		return "valid"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	ErrUnknownKind = errors.New("unknown credential kind")
	ErrEmpty       = errors.New("empty credential")
	ErrPending     = errors.New("credential validation already in progress")
	ErrCleared     = errors.New("credential cleared during validation")
)

// Validator confirms a candidate secret with the gateway.
type Validator interface {
	Validate(ctx context.Context, kind Kind, s Secret) error
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, kind Kind, s Secret) error

func (f ValidatorFunc) Validate(ctx context.Context, kind Kind, s Secret) error {
	return f(ctx, kind, s)
}

type slot struct {
	state  State
	secret Secret
	gen    uint64 // bumped by every Set and Clear
}

// Keyring is safe for concurrent use. The zero value is ready to use.
type Keyring struct {
	m     sync.Mutex
	slots map[Kind]*slot
}

func (k *Keyring) slot(kind Kind) *slot {
	if k.slots == nil {
		k.slots = make(map[Kind]*slot)
	}
	s, ok := k.slots[kind]
	if !ok {
		s = &slot{}
		k.slots[kind] = s
	}
	return s
}

// Set validates candidate and stores it on success. On failure the slot
// returns to its prior state and secret. Exactly one validation is issued.
func (k *Keyring) Set(ctx context.Context, kind Kind, candidate Secret, v Validator) error {
	if !kind.Valid() {
		return ErrUnknownKind
	}
	if candidate.empty() {
		return ErrEmpty
	}

	k.m.Lock()
	s := k.slot(kind)
	if s.state == Pending {
		k.m.Unlock()
		return ErrPending
	}
	prior := *s
	s.gen++
	s.state = Pending
	gen := s.gen
	k.m.Unlock()

	err := v.Validate(ctx, kind, candidate)

	k.m.Lock()
	defer k.m.Unlock()
	if s.gen != gen {
		return ErrCleared
	}
	if err != nil {
		prior.gen = s.gen
		*s = prior
		return err
	}
	s.state = Valid
	s.secret = candidate
	return nil
}

// Get returns the secret for kind when its slot holds a validated credential.
// While a replacement is pending the previous valid secret stays usable.
func (k *Keyring) Get(kind Kind) (Secret, bool) {
	k.m.Lock()
	defer k.m.Unlock()
	s, ok := k.slots[kind]
	if !ok || s.secret.empty() {
		return Secret{}, false
	}
	return s.secret, true
}

// State reports the lifecycle state of kind.
func (k *Keyring) State(kind Kind) State {
	k.m.Lock()
	defer k.m.Unlock()
	if s, ok := k.slots[kind]; ok {
		return s.state
	}
	return Unset
}

// Clear forgets the credential of kind. Other kinds are untouched. A
// validation in flight for kind is discarded when it returns.
func (k *Keyring) Clear(kind Kind) {
	k.m.Lock()
	defer k.m.Unlock()
	if s, ok := k.slots[kind]; ok {
		*s = slot{gen: s.gen + 1}
	}
}

// Invalidate is Clear for callers reacting to an auth rejection, so the
// user is prompted to re-enter that kind only.
func (k *Keyring) Invalidate(kind Kind) {
	k.Clear(kind)
}

// Apply writes the stored credential of kind into h and reports whether one
// was present.
func (k *Keyring) Apply(kind Kind, h http.Header) bool {
	s, ok := k.Get(kind)
	if !ok {
		return false
	}
	s.Apply(kind, h)
	return true
}
