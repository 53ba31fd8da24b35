package main

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"time"
)

// DedicatedServers unwraps the list; Robot wraps every object in a single
// key, e.g. [{"server": {...}}].
func (s *service) DedicatedServers(ctx context.Context, cred Credential) ([]DedicatedServer, error) {
	var res []struct {
		Server DedicatedServer `json:"server"`
	}
	if err := s.robotList(ctx, cred, "/server", &res); err != nil {
		return nil, err
	}
	servers := make([]DedicatedServer, 0, len(res))
	for _, r := range res {
		servers = append(servers, r.Server)
	}
	return servers, nil
}

// robotList treats 404 as an empty collection, which is how Robot reports an
// account without any entries.
func (s *service) robotList(ctx context.Context, cred Credential, path string, out any) error {
	err := s.robot.get(ctx, cred, path, nil, out)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *service) DedicatedServer(ctx context.Context, cred Credential, number int64) (*DedicatedServer, error) {
	var res struct {
		Server DedicatedServer `json:"server"`
	}
	if err := s.robot.get(ctx, cred, fmt.Sprintf("/server/%d", number), nil, &res); err != nil {
		return nil, err
	}
	return &res.Server, nil
}

func (s *service) ResetOptions(ctx context.Context, cred Credential, number int64) (*ResetOptions, error) {
	var res struct {
		Reset ResetOptions `json:"reset"`
	}
	if err := s.robot.get(ctx, cred, fmt.Sprintf("/reset/%d", number), nil, &res); err != nil {
		return nil, err
	}
	return &res.Reset, nil
}

func (s *service) FailoverIPs(ctx context.Context, cred Credential) ([]FailoverIP, error) {
	var res []struct {
		Failover FailoverIP `json:"failover"`
	}
	if err := s.robotList(ctx, cred, "/failover", &res); err != nil {
		return nil, err
	}
	ips := make([]FailoverIP, 0, len(res))
	for _, r := range res {
		ips = append(ips, r.Failover)
	}
	return ips, nil
}

func (s *service) ReverseDNS(ctx context.Context, cred Credential, ip string) (*ReverseDNS, error) {
	if _, err := netip.ParseAddr(ip); err != nil {
		return nil, validationErrorf("invalid ip %q", ip)
	}
	var res struct {
		RDNS ReverseDNS `json:"rdns"`
	}
	if err := s.robot.get(ctx, cred, "/rdns/"+ip, nil, &res); err != nil {
		return nil, err
	}
	return &res.RDNS, nil
}

// TrafficQuery selects a Robot traffic report. Empty From/To default to the
// current day, month or year depending on Type.
type TrafficQuery struct {
	Type string
	From string
	To   string
}

// trafficFormats are the date layouts Robot expects for each report type.
var trafficFormats = map[string]string{
	"day":   "2006-01-02T15",
	"month": "2006-01-02",
	"year":  "2006-01",
}

func (q TrafficQuery) resolve(now time.Time) (TrafficQuery, error) {
	if q.Type == "" {
		q.Type = "month"
	}
	layout, ok := trafficFormats[q.Type]
	if !ok {
		return q, validationErrorf("invalid traffic type %q, expected one of %v", q.Type, sortedKeys(trafficFormats))
	}
	now = now.UTC()
	if q.From == "" {
		var from time.Time
		switch q.Type {
		case "day":
			from = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		case "month":
			from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		default:
			from = time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
		}
		q.From = from.Format(layout)
	}
	if q.To == "" {
		q.To = now.Format(layout)
	}
	return q, nil
}

// Traffic reports the traffic of the server's main ip.
func (s *service) Traffic(ctx context.Context, cred Credential, number int64, q TrafficQuery) (*TrafficStats, error) {
	q, err := q.resolve(s.now())
	if err != nil {
		return nil, err
	}
	srv, err := s.DedicatedServer(ctx, cred, number)
	if err != nil {
		return nil, err
	}
	if srv.ServerIP == "" {
		return nil, validationErrorf("server %d has no main ip", number)
	}

	params := url.Values{}
	params.Set("type", q.Type)
	params.Set("from", q.From)
	params.Set("to", q.To)
	params.Add("ip[]", srv.ServerIP)

	var res struct {
		Traffic TrafficStats `json:"traffic"`
	}
	if err := s.robot.get(ctx, cred, "/traffic", params, &res); err != nil {
		return nil, err
	}
	stats := res.Traffic
	stats.ServerNumber = number
	if stats.Data == nil {
		stats.Data = map[string]TrafficValues{}
	}
	return &stats, nil
}
