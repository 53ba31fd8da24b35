package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"
)

func (s *service) Servers(ctx context.Context, cred Credential) ([]CloudServer, error) {
	servers, err := listAll[CloudServer](ctx, s.cloud, cred, "/servers", "servers", nil)
	if err != nil {
		return nil, err
	}
	if err := s.enrichServers(ctx, cred, servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func (s *service) Server(ctx context.Context, cred Credential, id int64) (*CloudServer, error) {
	var res struct {
		Server CloudServer `json:"server"`
	}
	if err := s.cloud.get(ctx, cred, fmt.Sprintf("/servers/%d", id), nil, &res); err != nil {
		return nil, err
	}
	servers := []CloudServer{res.Server}
	if err := s.enrichServers(ctx, cred, servers); err != nil {
		return nil, err
	}
	return &servers[0], nil
}

// enrichServers fills in specs and monthly price. When an embedded server
// type lacks them it is fetched once per distinct type for this call.
func (s *service) enrichServers(ctx context.Context, cred Credential, servers []CloudServer) error {
	fetched := make(map[int64]ServerType)
	for i := range servers {
		srv := &servers[i]
		st := srv.ServerType
		if (!st.hasSpecs() || len(st.Prices) == 0) && st.ID != 0 {
			full, ok := fetched[st.ID]
			if !ok {
				var res struct {
					ServerType ServerType `json:"server_type"`
				}
				if err := s.cloud.get(ctx, cred, fmt.Sprintf("/server_types/%d", st.ID), nil, &res); err != nil {
					return err
				}
				full = res.ServerType
				fetched[st.ID] = full
			}
			st = full
			srv.ServerType = full
		}

		srv.ServerTypeSpecs = ServerTypeSpecs{
			Cores:  st.Cores,
			Memory: st.Memory,
			Disk:   st.Disk,
		}
		pricing, err := grossPricing(st.Prices, srv.Datacenter.Location.Name)
		srv.ServerTypePricing = s.priced("server", srv.ID, pricing, err)
		if srv.PrivateNet == nil {
			srv.PrivateNet = []PrivateNet{}
		}
	}
	if len(fetched) > 0 {
		s.log.Log("msg", "enriched server types", "servers", len(servers), "types", len(fetched))
	}
	return nil
}

func (s *service) ServerTypes(ctx context.Context, cred Credential) ([]ServerType, error) {
	return listAll[ServerType](ctx, s.cloud, cred, "/server_types", "server_types", nil)
}

func (s *service) Images(ctx context.Context, cred Credential) ([]Image, error) {
	return listAll[Image](ctx, s.cloud, cred, "/images", "images", url.Values{"type": {"system"}})
}

func (s *service) Locations(ctx context.Context, cred Credential) ([]Location, error) {
	return listAll[Location](ctx, s.cloud, cred, "/locations", "locations", nil)
}

func (s *service) SSHKeys(ctx context.Context, cred Credential) ([]SSHKey, error) {
	return listAll[SSHKey](ctx, s.cloud, cred, "/ssh_keys", "ssh_keys", nil)
}

func (s *service) Firewalls(ctx context.Context, cred Credential) ([]Firewall, error) {
	return listAll[Firewall](ctx, s.cloud, cred, "/firewalls", "firewalls", nil)
}

func (s *service) Networks(ctx context.Context, cred Credential) ([]Network, error) {
	return listAll[Network](ctx, s.cloud, cred, "/networks", "networks", nil)
}

func (s *service) LoadBalancers(ctx context.Context, cred Credential) ([]LoadBalancer, error) {
	lbs, err := listAll[LoadBalancer](ctx, s.cloud, cred, "/load_balancers", "load_balancers", nil)
	if err != nil {
		return nil, err
	}
	for i := range lbs {
		pricing, err := grossPricing(lbs[i].LoadBalancerType.Prices, lbs[i].Location.Name)
		lbs[i].Pricing = s.priced("load_balancer", lbs[i].ID, pricing, err)
	}
	return lbs, nil
}

func (s *service) pricing(ctx context.Context, cred Credential) (cloudPricing, error) {
	var res struct {
		Pricing cloudPricing `json:"pricing"`
	}
	if err := s.cloud.get(ctx, cred, "/pricing", nil, &res); err != nil {
		return cloudPricing{}, err
	}
	return res.Pricing, nil
}

func (s *service) Volumes(ctx context.Context, cred Credential) ([]Volume, error) {
	volumes, err := listAll[Volume](ctx, s.cloud, cred, "/volumes", "volumes", nil)
	if err != nil || len(volumes) == 0 {
		return volumes, err
	}
	prices, err := s.pricing(ctx, cred)
	if err != nil {
		return nil, err
	}
	for i := range volumes {
		pricing, err := prices.volume(volumes[i].Size)
		volumes[i].Pricing = s.priced("volume", volumes[i].ID, pricing, err)
	}
	return volumes, nil
}

func (s *service) FloatingIPs(ctx context.Context, cred Credential) ([]FloatingIP, error) {
	fips, err := listAll[FloatingIP](ctx, s.cloud, cred, "/floating_ips", "floating_ips", nil)
	if err != nil || len(fips) == 0 {
		return fips, err
	}
	prices, err := s.pricing(ctx, cred)
	if err != nil {
		return nil, err
	}
	for i := range fips {
		pricing, err := prices.floatingIP(fips[i].Type, fips[i].HomeLocation.Name)
		fips[i].Pricing = s.priced("floating_ip", fips[i].ID, pricing, err)
	}
	return fips, nil
}

// Topology fetches networks and servers concurrently and links them through
// the servers' private network attachments.
func (s *service) Topology(ctx context.Context, cred Credential) (*Topology, error) {
	var (
		networks []Network
		servers  []CloudServer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		networks, err = listAll[Network](gctx, s.cloud, cred, "/networks", "networks", nil)
		return err
	})
	g.Go(func() error {
		var err error
		servers, err = listAll[CloudServer](gctx, s.cloud, cred, "/servers", "servers", nil)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	topo := &Topology{
		Networks: make([]TopologyNetwork, 0, len(networks)),
		Servers:  make([]TopologyServer, 0, len(servers)),
		Links:    []TopologyLink{},
	}
	known := make(map[int64]bool, len(networks))
	for _, n := range networks {
		known[n.ID] = true
		topo.Networks = append(topo.Networks, TopologyNetwork{ID: n.ID, Name: n.Name, IPRange: n.IPRange})
	}
	for _, srv := range servers {
		node := TopologyServer{ID: srv.ID, Name: srv.Name, Status: srv.Status}
		if srv.PublicNet.IPv4 != nil {
			node.IPv4 = srv.PublicNet.IPv4.IP
		}
		topo.Servers = append(topo.Servers, node)
		for _, pn := range srv.PrivateNet {
			if !known[pn.Network] {
				continue
			}
			topo.Links = append(topo.Links, TopologyLink{NetworkID: pn.Network, ServerID: srv.ID, IP: pn.IP})
		}
	}
	sort.Slice(topo.Links, func(i, j int) bool {
		if topo.Links[i].NetworkID != topo.Links[j].NetworkID {
			return topo.Links[i].NetworkID < topo.Links[j].NetworkID
		}
		return topo.Links[i].ServerID < topo.Links[j].ServerID
	})
	return topo, nil
}

// powerCommands maps the panel's power actions to cloud server actions.
var powerCommands = map[string]string{
	"start":    "poweron",
	"poweron":  "poweron",
	"stop":     "poweroff",
	"reboot":   "reboot",
	"shutdown": "shutdown",
	"reset":    "reset",
}

// PowerAction issues the action without looking at the current server state
// and without waiting for it to finish.
func (s *service) PowerAction(ctx context.Context, cred Credential, id int64, action string) (*Action, error) {
	command, ok := powerCommands[action]
	if !ok {
		return nil, validationErrorf("invalid power action %q, expected one of %v", action, sortedKeys(powerCommands))
	}
	return s.action(ctx, cred, fmt.Sprintf("/servers/%d/actions/%s", id, command), nil)
}

func (s *service) action(ctx context.Context, cred Credential, path string, body any) (*Action, error) {
	var res struct {
		Action Action `json:"action"`
	}
	call := Call{
		Kind:   KindCloud,
		Method: http.MethodPost,
		Path:   path,
		Body:   body,
	}
	if err := s.cloud.do(ctx, cred, call, &res); err != nil {
		return nil, err
	}
	return &res.Action, nil
}

type LinkKind string

const (
	LinkVolume     LinkKind = "volume"
	LinkFloatingIP LinkKind = "floating_ip"
	LinkNetwork    LinkKind = "network"
)

// Link joins a volume, floating ip or network with a server.
type Link struct {
	Kind       LinkKind
	ResourceID int64
	ServerID   int64
	IP         string // network attach only, optional
	Automount  *bool  // volume attach only, optional
}

func (l Link) check(attach bool) error {
	if l.ResourceID <= 0 {
		return validationErrorf("%s id must be positive", l.Kind)
	}
	needServer := attach || l.Kind == LinkNetwork
	if needServer && l.ServerID <= 0 {
		return validationErrorf("server_id must be positive")
	}
	return nil
}

func (s *service) Attach(ctx context.Context, cred Credential, link Link) (*Action, error) {
	if err := link.check(true); err != nil {
		return nil, err
	}
	switch link.Kind {
	case LinkVolume:
		body := map[string]any{"server": link.ServerID}
		if link.Automount != nil {
			body["automount"] = *link.Automount
		}
		return s.action(ctx, cred, fmt.Sprintf("/volumes/%d/actions/attach", link.ResourceID), body)
	case LinkFloatingIP:
		body := map[string]any{"server": link.ServerID}
		return s.action(ctx, cred, fmt.Sprintf("/floating_ips/%d/actions/assign", link.ResourceID), body)
	case LinkNetwork:
		body := map[string]any{"network": link.ResourceID}
		if link.IP != "" {
			body["ip"] = link.IP
		}
		return s.action(ctx, cred, fmt.Sprintf("/servers/%d/actions/attach_to_network", link.ServerID), body)
	}
	return nil, validationErrorf("unknown link kind %q", link.Kind)
}

func (s *service) Detach(ctx context.Context, cred Credential, link Link) (*Action, error) {
	if err := link.check(false); err != nil {
		return nil, err
	}
	switch link.Kind {
	case LinkVolume:
		return s.action(ctx, cred, fmt.Sprintf("/volumes/%d/actions/detach", link.ResourceID), nil)
	case LinkFloatingIP:
		return s.action(ctx, cred, fmt.Sprintf("/floating_ips/%d/actions/unassign", link.ResourceID), nil)
	case LinkNetwork:
		body := map[string]any{"network": link.ResourceID}
		return s.action(ctx, cred, fmt.Sprintf("/servers/%d/actions/detach_from_network", link.ServerID), body)
	}
	return nil, validationErrorf("unknown link kind %q", link.Kind)
}

var metricRanges = map[string]time.Duration{
	"1h":  time.Hour,
	"24h": 24 * time.Hour,
	"7d":  7 * 24 * time.Hour,
	"30d": 30 * 24 * time.Hour,
}

var metricTypes = map[string]bool{
	"cpu":     true,
	"disk":    true,
	"network": true,
}

// metricsWindow returns the window of length timeRange ending at now.
func metricsWindow(now time.Time, timeRange string) (start, end time.Time, err error) {
	d, ok := metricRanges[timeRange]
	if !ok {
		return time.Time{}, time.Time{}, validationErrorf("invalid range %q, expected one of %v", timeRange, sortedKeys(metricRanges))
	}
	end = now.UTC().Truncate(time.Second)
	return end.Add(-d), end, nil
}

func (s *service) Metrics(ctx context.Context, cred Credential, id int64, metric, timeRange string) (*MetricsBundle, error) {
	if !metricTypes[metric] {
		return nil, validationErrorf("invalid metric type %q, expected one of %v", metric, sortedKeys(metricTypes))
	}
	start, end, err := metricsWindow(s.now(), timeRange)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("type", metric)
	q.Set("start", start.Format(time.RFC3339))
	q.Set("end", end.Format(time.RFC3339))

	var res struct {
		Metrics struct {
			Step       float64 `json:"step"`
			TimeSeries map[string]struct {
				Values []MetricPoint `json:"values"`
			} `json:"time_series"`
		} `json:"metrics"`
	}
	if err := s.cloud.get(ctx, cred, fmt.Sprintf("/servers/%d/metrics", id), q, &res); err != nil {
		return nil, err
	}

	bundle := &MetricsBundle{
		ServerID:   id,
		MetricType: metric,
		TimeRange:  timeRange,
		Start:      start,
		End:        end,
		Step:       res.Metrics.Step,
		TimeSeries: make(map[string][]MetricPoint, len(res.Metrics.TimeSeries)),
	}
	for name, series := range res.Metrics.TimeSeries {
		points := make([]MetricPoint, 0, len(series.Values))
		for _, p := range series.Values {
			if p.finite() {
				points = append(points, p)
			}
		}
		if dropped := len(series.Values) - len(points); dropped > 0 {
			s.log.Log("msg", "dropped non-finite metric points", "server", id, "series", name, "dropped", dropped)
		}
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
		bundle.TimeSeries[name] = points
	}
	return bundle, nil
}
