package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-kit/log"
	"tailscale.com/client/tailscale"
)

type Service interface {
	ValidateCredential(ctx context.Context, cred Credential) error
	Invoke(ctx context.Context, cred Credential, call Call) (json.RawMessage, error)

	Servers(ctx context.Context, cred Credential) ([]CloudServer, error)
	Server(ctx context.Context, cred Credential, id int64) (*CloudServer, error)
	ServerTypes(ctx context.Context, cred Credential) ([]ServerType, error)
	Images(ctx context.Context, cred Credential) ([]Image, error)
	Locations(ctx context.Context, cred Credential) ([]Location, error)
	SSHKeys(ctx context.Context, cred Credential) ([]SSHKey, error)
	FloatingIPs(ctx context.Context, cred Credential) ([]FloatingIP, error)
	Volumes(ctx context.Context, cred Credential) ([]Volume, error)
	Firewalls(ctx context.Context, cred Credential) ([]Firewall, error)
	LoadBalancers(ctx context.Context, cred Credential) ([]LoadBalancer, error)
	Networks(ctx context.Context, cred Credential) ([]Network, error)
	Topology(ctx context.Context, cred Credential) (*Topology, error)
	PowerAction(ctx context.Context, cred Credential, id int64, action string) (*Action, error)
	Attach(ctx context.Context, cred Credential, link Link) (*Action, error)
	Detach(ctx context.Context, cred Credential, link Link) (*Action, error)
	Metrics(ctx context.Context, cred Credential, id int64, metric, timeRange string) (*MetricsBundle, error)

	StorageBoxes(ctx context.Context, cred Credential) ([]StorageBox, error)
	StorageBox(ctx context.Context, cred Credential, id int64) (*StorageBox, error)
	Subaccounts(ctx context.Context, cred Credential, box int64) ([]Subaccount, error)
	Folders(ctx context.Context, cred Credential, box int64, path string) ([]string, error)

	DedicatedServers(ctx context.Context, cred Credential) ([]DedicatedServer, error)
	DedicatedServer(ctx context.Context, cred Credential, number int64) (*DedicatedServer, error)
	ResetOptions(ctx context.Context, cred Credential, number int64) (*ResetOptions, error)
	FailoverIPs(ctx context.Context, cred Credential) ([]FailoverIP, error)
	ReverseDNS(ctx context.Context, cred Credential, ip string) (*ReverseDNS, error)
	Traffic(ctx context.Context, cred Credential, number int64, q TrafficQuery) (*TrafficStats, error)

	Who(ctx context.Context, lc *tailscale.LocalClient, remoteAddr string) (*UserProfile, error)
}

type service struct {
	cloud   *upstream
	storage *upstream
	robot   *upstream

	now func() time.Time

	log log.Logger
}

func newService(l log.Logger, client *http.Client, cloudURL, storageURL, robotURL string) (*service, error) {
	cloud, err := newUpstream(cloudTarget(cloudURL), client)
	if err != nil {
		return nil, err
	}
	storage, err := newUpstream(storageTarget(storageURL), client)
	if err != nil {
		return nil, err
	}
	robot, err := newUpstream(robotTarget(robotURL), client)
	if err != nil {
		return nil, err
	}
	return &service{
		log:     l,
		cloud:   cloud,
		storage: storage,
		robot:   robot,
		now:     time.Now,
	}, nil
}

func (s *service) upstreamFor(kind CredentialKind) (*upstream, error) {
	switch kind {
	case KindCloud:
		return s.cloud, nil
	case KindStorage:
		return s.storage, nil
	case KindRobot:
		return s.robot, nil
	}
	return nil, validationErrorf("unknown credential kind %q", kind)
}

// ValidateCredential makes the cheapest read-only call the credential's
// upstream offers.
func (s *service) ValidateCredential(ctx context.Context, cred Credential) error {
	u, err := s.upstreamFor(cred.Kind)
	if err != nil {
		return err
	}
	switch cred.Kind {
	case KindCloud:
		return u.get(ctx, cred, "/servers", url.Values{"per_page": {"1"}}, nil)
	case KindStorage:
		return u.get(ctx, cred, "/storage_boxes", url.Values{"per_page": {"1"}}, nil)
	default:
		// Robot answers 404 for an account without servers, which still
		// means the credential was accepted.
		err := u.get(ctx, cred, "/server", nil, nil)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
}

var emptySuccess = json.RawMessage(`{"success":true}`)

// Invoke forwards call unchanged and returns the upstream body.
func (s *service) Invoke(ctx context.Context, cred Credential, call Call) (json.RawMessage, error) {
	u, err := s.upstreamFor(call.Kind)
	if err != nil {
		return nil, err
	}
	if call.Method == "" {
		call.Method = http.MethodGet
	}
	var raw json.RawMessage
	if err := u.do(ctx, cred, call, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return emptySuccess, nil
	}
	return raw, nil
}

func (s *service) Who(ctx context.Context, lc *tailscale.LocalClient, remoteAddr string) (*UserProfile, error) {
	who, err := lc.WhoIs(ctx, remoteAddr)
	if err != nil {
		return nil, fmt.Errorf("tailscale local client whois error: %w", err)
	}

	return &UserProfile{
		LoginName:     who.UserProfile.LoginName,
		DisplayName:   who.UserProfile.DisplayName,
		ProfilePicURL: who.UserProfile.ProfilePicURL,
		Node:          firstLabel(who.Node.ComputedName),
	}, nil
}

func firstLabel(s string) string {
	if hostname, _, ok := strings.Cut(s, "."); ok {
		return hostname
	}

	return s
}
