package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-kit/log"
	"tailscale.com/client/tailscale"
)

type Middleware func(Service) Service

func newLoggingMiddleware(logger log.Logger) Middleware {
	return func(next Service) Service {
		return &loggingMiddleware{
			next:   next,
			logger: logger,
		}
	}
}

// loggingMiddleware logs every call. Only the credential kind is logged,
// never the secret.
type loggingMiddleware struct {
	next   Service
	logger log.Logger
}

func (l *loggingMiddleware) log(ctx context.Context, method string, kind CredentialKind, begin time.Time, err error, keyvals ...interface{}) {
	kv := []interface{}{"method", method, "request_id", requestIDFromContext(ctx), "kind", kind}
	kv = append(kv, keyvals...)
	kv = append(kv, "took", time.Since(begin), "err", err)
	l.logger.Log(kv...)
}

func (l *loggingMiddleware) ValidateCredential(ctx context.Context, cred Credential) (err error) {
	defer func(begin time.Time) {
		l.log(ctx, "ValidateCredential", cred.Kind, begin, err)
	}(time.Now())
	return l.next.ValidateCredential(ctx, cred)
}

func (l *loggingMiddleware) Invoke(ctx context.Context, cred Credential, call Call) (raw json.RawMessage, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Invoke", call.Kind, begin, err, "http_method", call.Method, "path", call.Path)
	}(time.Now())
	return l.next.Invoke(ctx, cred, call)
}

func (l *loggingMiddleware) Servers(ctx context.Context, cred Credential) (servers []CloudServer, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Servers", cred.Kind, begin, err, "count", len(servers))
	}(time.Now())
	return l.next.Servers(ctx, cred)
}

func (l *loggingMiddleware) Server(ctx context.Context, cred Credential, id int64) (server *CloudServer, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Server", cred.Kind, begin, err, "id", id)
	}(time.Now())
	return l.next.Server(ctx, cred, id)
}

func (l *loggingMiddleware) ServerTypes(ctx context.Context, cred Credential) (types []ServerType, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "ServerTypes", cred.Kind, begin, err, "count", len(types))
	}(time.Now())
	return l.next.ServerTypes(ctx, cred)
}

func (l *loggingMiddleware) Images(ctx context.Context, cred Credential) (images []Image, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Images", cred.Kind, begin, err, "count", len(images))
	}(time.Now())
	return l.next.Images(ctx, cred)
}

func (l *loggingMiddleware) Locations(ctx context.Context, cred Credential) (locations []Location, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Locations", cred.Kind, begin, err, "count", len(locations))
	}(time.Now())
	return l.next.Locations(ctx, cred)
}

func (l *loggingMiddleware) SSHKeys(ctx context.Context, cred Credential) (keys []SSHKey, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "SSHKeys", cred.Kind, begin, err, "count", len(keys))
	}(time.Now())
	return l.next.SSHKeys(ctx, cred)
}

func (l *loggingMiddleware) FloatingIPs(ctx context.Context, cred Credential) (fips []FloatingIP, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "FloatingIPs", cred.Kind, begin, err, "count", len(fips))
	}(time.Now())
	return l.next.FloatingIPs(ctx, cred)
}

func (l *loggingMiddleware) Volumes(ctx context.Context, cred Credential) (volumes []Volume, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Volumes", cred.Kind, begin, err, "count", len(volumes))
	}(time.Now())
	return l.next.Volumes(ctx, cred)
}

func (l *loggingMiddleware) Firewalls(ctx context.Context, cred Credential) (firewalls []Firewall, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Firewalls", cred.Kind, begin, err, "count", len(firewalls))
	}(time.Now())
	return l.next.Firewalls(ctx, cred)
}

func (l *loggingMiddleware) LoadBalancers(ctx context.Context, cred Credential) (lbs []LoadBalancer, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "LoadBalancers", cred.Kind, begin, err, "count", len(lbs))
	}(time.Now())
	return l.next.LoadBalancers(ctx, cred)
}

func (l *loggingMiddleware) Networks(ctx context.Context, cred Credential) (networks []Network, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Networks", cred.Kind, begin, err, "count", len(networks))
	}(time.Now())
	return l.next.Networks(ctx, cred)
}

func (l *loggingMiddleware) Topology(ctx context.Context, cred Credential) (topo *Topology, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Topology", cred.Kind, begin, err)
	}(time.Now())
	return l.next.Topology(ctx, cred)
}

func (l *loggingMiddleware) PowerAction(ctx context.Context, cred Credential, id int64, action string) (a *Action, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "PowerAction", cred.Kind, begin, err, "id", id, "action", action)
	}(time.Now())
	return l.next.PowerAction(ctx, cred, id, action)
}

func (l *loggingMiddleware) Attach(ctx context.Context, cred Credential, link Link) (a *Action, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Attach", cred.Kind, begin, err, "link", link.Kind, "resource", link.ResourceID, "server", link.ServerID)
	}(time.Now())
	return l.next.Attach(ctx, cred, link)
}

func (l *loggingMiddleware) Detach(ctx context.Context, cred Credential, link Link) (a *Action, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Detach", cred.Kind, begin, err, "link", link.Kind, "resource", link.ResourceID, "server", link.ServerID)
	}(time.Now())
	return l.next.Detach(ctx, cred, link)
}

func (l *loggingMiddleware) Metrics(ctx context.Context, cred Credential, id int64, metric, timeRange string) (m *MetricsBundle, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Metrics", cred.Kind, begin, err, "id", id, "metric", metric, "range", timeRange)
	}(time.Now())
	return l.next.Metrics(ctx, cred, id, metric, timeRange)
}

func (l *loggingMiddleware) StorageBoxes(ctx context.Context, cred Credential) (boxes []StorageBox, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "StorageBoxes", cred.Kind, begin, err, "count", len(boxes))
	}(time.Now())
	return l.next.StorageBoxes(ctx, cred)
}

func (l *loggingMiddleware) StorageBox(ctx context.Context, cred Credential, id int64) (box *StorageBox, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "StorageBox", cred.Kind, begin, err, "id", id)
	}(time.Now())
	return l.next.StorageBox(ctx, cred, id)
}

func (l *loggingMiddleware) Subaccounts(ctx context.Context, cred Credential, box int64) (subs []Subaccount, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Subaccounts", cred.Kind, begin, err, "box", box, "count", len(subs))
	}(time.Now())
	return l.next.Subaccounts(ctx, cred, box)
}

func (l *loggingMiddleware) Folders(ctx context.Context, cred Credential, box int64, path string) (folders []string, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Folders", cred.Kind, begin, err, "box", box, "path", path)
	}(time.Now())
	return l.next.Folders(ctx, cred, box, path)
}

func (l *loggingMiddleware) DedicatedServers(ctx context.Context, cred Credential) (servers []DedicatedServer, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "DedicatedServers", cred.Kind, begin, err, "count", len(servers))
	}(time.Now())
	return l.next.DedicatedServers(ctx, cred)
}

func (l *loggingMiddleware) DedicatedServer(ctx context.Context, cred Credential, number int64) (server *DedicatedServer, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "DedicatedServer", cred.Kind, begin, err, "number", number)
	}(time.Now())
	return l.next.DedicatedServer(ctx, cred, number)
}

func (l *loggingMiddleware) ResetOptions(ctx context.Context, cred Credential, number int64) (r *ResetOptions, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "ResetOptions", cred.Kind, begin, err, "number", number)
	}(time.Now())
	return l.next.ResetOptions(ctx, cred, number)
}

func (l *loggingMiddleware) FailoverIPs(ctx context.Context, cred Credential) (ips []FailoverIP, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "FailoverIPs", cred.Kind, begin, err, "count", len(ips))
	}(time.Now())
	return l.next.FailoverIPs(ctx, cred)
}

func (l *loggingMiddleware) ReverseDNS(ctx context.Context, cred Credential, ip string) (r *ReverseDNS, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "ReverseDNS", cred.Kind, begin, err, "ip", ip)
	}(time.Now())
	return l.next.ReverseDNS(ctx, cred, ip)
}

func (l *loggingMiddleware) Traffic(ctx context.Context, cred Credential, number int64, q TrafficQuery) (t *TrafficStats, err error) {
	defer func(begin time.Time) {
		l.log(ctx, "Traffic", cred.Kind, begin, err, "number", number, "type", q.Type)
	}(time.Now())
	return l.next.Traffic(ctx, cred, number, q)
}

func (l *loggingMiddleware) Who(ctx context.Context, lc *tailscale.LocalClient, remoteAddr string) (userProfile *UserProfile, err error) {
	defer func(begin time.Time) {
		l.logger.Log("method", "Who", "request_id", requestIDFromContext(ctx), "remoteAddr", remoteAddr, "took", time.Since(begin), "err", err)
	}(time.Now())
	return l.next.Who(ctx, lc, remoteAddr)
}
