package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log"
)

const serverTypeCX22 = `{"server_type":{"id":22,"name":"cx22","cores":2,"memory":4,"disk":40,
	"prices":[
		{"location":"fsn1","price_hourly":{"net":"0.0060","gross":"0.0071"},"price_monthly":{"net":"3.7900","gross":"4.5101"}},
		{"location":"nbg1","price_hourly":{"net":"0.0070","gross":"0.0083"},"price_monthly":{"net":"4.2000","gross":"4.9980"}}
	]}}`

func TestServersEnrichedOncePerType(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /servers", http.StatusOK, `{"servers":[
		{"id":1,"name":"web-1","status":"running","server_type":{"id":22,"name":"cx22"},"datacenter":{"location":{"name":"nbg1"}}},
		{"id":2,"name":"web-2","status":"off","server_type":{"id":22,"name":"cx22"},"datacenter":{"location":{"name":"fsn1"}}},
		{"id":3,"name":"db","status":"running","datacenter":{"location":{"name":"fsn1"}},
		 "server_type":{"id":31,"name":"cpx31","cores":4,"memory":8,"disk":160,
		  "prices":[{"location":"fsn1","price_hourly":{"gross":"0.0250"},"price_monthly":{"gross":"15.7400"}}]}}
	],"meta":{"pagination":{"page":1,"next_page":null}}}`)
	ups.cloud.respond("GET /server_types/22", http.StatusOK, serverTypeCX22)

	servers, err := svc.Servers(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("expected 3 servers, got %d", len(servers))
	}
	if n := ups.cloud.count("GET", "/server_types/22"); n != 1 {
		t.Errorf("expected one enrichment call for cx22, got %d", n)
	}
	if n := ups.cloud.count("GET", "/server_types/31"); n != 0 {
		t.Errorf("expected no enrichment call for a fully embedded type, got %d", n)
	}

	want := []struct {
		specs   ServerTypeSpecs
		monthly float64
	}{
		{ServerTypeSpecs{Cores: 2, Memory: 4, Disk: 40}, 4.998},
		{ServerTypeSpecs{Cores: 2, Memory: 4, Disk: 40}, 4.5101},
		{ServerTypeSpecs{Cores: 4, Memory: 8, Disk: 160}, 15.74},
	}
	for i, w := range want {
		if servers[i].ServerTypeSpecs != w.specs {
			t.Errorf("server %d: expected specs %+v, got %+v", servers[i].ID, w.specs, servers[i].ServerTypeSpecs)
		}
		if servers[i].ServerTypePricing.Monthly != w.monthly {
			t.Errorf("server %d: expected monthly %v, got %v", servers[i].ID, w.monthly, servers[i].ServerTypePricing.Monthly)
		}
	}
}

func TestServersEmpty(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /servers", http.StatusOK, `{"servers":[],"meta":{"pagination":{"page":1,"next_page":null}}}`)

	servers, err := svc.Servers(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, _ := json.Marshal(map[string]any{"servers": servers})
	if string(b) != `{"servers":[]}` {
		t.Errorf("expected empty list, got %s", b)
	}
}

func TestServerEnrichmentFailure(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /servers/1", http.StatusOK, `{"server":{"id":1,"server_type":{"id":22}}}`)
	ups.cloud.respond("GET /server_types/22", http.StatusServiceUnavailable, `{"error":{"code":"unavailable","message":"try again"}}`)

	if _, err := svc.Server(context.Background(), cloudCred, 1); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestPowerActionIsForwarded(t *testing.T) {
	tests := map[string]string{
		"start":    "poweron",
		"poweron":  "poweron",
		"stop":     "poweroff",
		"reboot":   "reboot",
		"shutdown": "shutdown",
		"reset":    "reset",
	}
	for action, command := range tests {
		t.Run(action, func(t *testing.T) {
			svc, ups := newTestService(t)
			ups.cloud.respond("POST /servers/5/actions/"+command, http.StatusCreated,
				`{"action":{"id":99,"command":"`+command+`","status":"running","progress":0}}`)

			a, err := svc.PowerAction(context.Background(), cloudCred, 5, action)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if a.ID != 99 || a.Command != command {
				t.Errorf("unexpected action %+v", a)
			}
			// no state read before the call, no polling after it
			if hits := ups.cloud.hits(); len(hits) != 1 {
				t.Errorf("expected exactly one upstream call, got %+v", hits)
			}
		})
	}
}

func TestPowerActionOnRunningServer(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("POST /servers/5/actions/poweron", http.StatusCreated,
		`{"action":{"id":100,"command":"start_server","status":"success","progress":100}}`)

	for i := 0; i < 2; i++ {
		if _, err := svc.PowerAction(context.Background(), cloudCred, 5, "start"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if n := ups.cloud.count("POST", "/servers/5/actions/poweron"); n != 2 {
		t.Errorf("expected both starts to be forwarded, got %d", n)
	}
}

func TestPowerActionUnknown(t *testing.T) {
	svc, ups := newTestService(t)
	if _, err := svc.PowerAction(context.Background(), cloudCred, 5, "hibernate"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if n := ups.total(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestMetricsWindow(t *testing.T) {
	widths := map[string]time.Duration{
		"1h":  3600 * time.Second,
		"24h": 86400 * time.Second,
		"7d":  604800 * time.Second,
		"30d": 2592000 * time.Second,
	}
	for timeRange, width := range widths {
		start, end, err := metricsWindow(testNow, timeRange)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", timeRange, err)
		}
		if got := end.Sub(start); got != width {
			t.Errorf("%s: expected width %v, got %v", timeRange, width, got)
		}
		if !end.Equal(testNow.Truncate(time.Second)) {
			t.Errorf("%s: expected window to end now, got %v", timeRange, end)
		}
	}
	if _, _, err := metricsWindow(testNow, "2h"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestMetrics(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /servers/5/metrics", http.StatusOK, `{"metrics":{
		"start":"2024-05-01T11:00:00Z","end":"2024-05-01T12:00:00Z","step":60,
		"time_series":{"cpu":{"values":[[1714564860,"12.5"],[1714564800,"3"]]}}}}`)

	bundle, err := svc.Metrics(context.Background(), cloudCred, 5, "cpu", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits := ups.cloud.hits()
	if len(hits) != 1 {
		t.Fatalf("expected one call, got %d", len(hits))
	}
	q := hits[0].query
	if q.Get("type") != "cpu" || q.Get("start") != "2024-05-01T11:00:00Z" || q.Get("end") != "2024-05-01T12:00:00Z" {
		t.Errorf("unexpected query %v", q)
	}

	points := bundle.TimeSeries["cpu"]
	if len(points) != 2 || points[0].Timestamp != 1714564800 || points[0].Value != 3 || points[1].Value != 12.5 {
		t.Errorf("expected ordered numeric points, got %+v", points)
	}
	b, _ := json.Marshal(points)
	if string(b) != `[[1714564800,3],[1714564860,12.5]]` {
		t.Errorf("unexpected encoding %s", b)
	}

	if _, err := svc.Metrics(context.Background(), cloudCred, 5, "memory", "1h"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for unknown metric, got %v", err)
	}
	if len(ups.cloud.hits()) != 1 {
		t.Error("expected invalid metric not to reach the upstream")
	}
}

func TestMetricsRangesDiffer(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /servers/5/metrics", http.StatusOK, `{"metrics":{"step":60,"time_series":{}}}`)

	hour, err := svc.Metrics(context.Background(), cloudCred, 5, "cpu", "1h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	day, err := svc.Metrics(context.Background(), cloudCred, 5, "cpu", "24h")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hour.Start.Equal(day.Start) {
		t.Error("expected different start for 1h and 24h")
	}
	if hour.End.Sub(hour.Start) != time.Hour || day.End.Sub(day.Start) != 24*time.Hour {
		t.Errorf("unexpected windows %v-%v and %v-%v", hour.Start, hour.End, day.Start, day.End)
	}
}

func TestAttachDetach(t *testing.T) {
	automount := true
	tests := []struct {
		name   string
		attach bool
		link   Link
		path   string
		body   map[string]any
	}{
		{"attach volume", true, Link{Kind: LinkVolume, ResourceID: 7, ServerID: 5, Automount: &automount}, "/volumes/7/actions/attach", map[string]any{"server": 5.0, "automount": true}},
		{"detach volume", false, Link{Kind: LinkVolume, ResourceID: 7}, "/volumes/7/actions/detach", nil},
		{"assign floating ip", true, Link{Kind: LinkFloatingIP, ResourceID: 8, ServerID: 5}, "/floating_ips/8/actions/assign", map[string]any{"server": 5.0}},
		{"unassign floating ip", false, Link{Kind: LinkFloatingIP, ResourceID: 8}, "/floating_ips/8/actions/unassign", nil},
		{"attach network", true, Link{Kind: LinkNetwork, ResourceID: 9, ServerID: 5, IP: "10.0.0.5"}, "/servers/5/actions/attach_to_network", map[string]any{"network": 9.0, "ip": "10.0.0.5"}},
		{"detach network", false, Link{Kind: LinkNetwork, ResourceID: 9, ServerID: 5}, "/servers/5/actions/detach_from_network", map[string]any{"network": 9.0}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			svc, ups := newTestService(t)
			ups.cloud.respond("POST "+test.path, http.StatusCreated, `{"action":{"id":1,"status":"running"}}`)

			var err error
			if test.attach {
				_, err = svc.Attach(context.Background(), cloudCred, test.link)
			} else {
				_, err = svc.Detach(context.Background(), cloudCred, test.link)
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			hits := ups.cloud.hits()
			if len(hits) != 1 {
				t.Fatalf("expected one call, got %d", len(hits))
			}
			if test.body == nil {
				if hits[0].body != "" {
					t.Errorf("expected no body, got %q", hits[0].body)
				}
				return
			}
			var got map[string]any
			if err := json.Unmarshal([]byte(hits[0].body), &got); err != nil {
				t.Fatalf("error decoding body: %v", err)
			}
			if len(got) != len(test.body) {
				t.Errorf("expected body %v, got %v", test.body, got)
			}
			for k, v := range test.body {
				if got[k] != v {
					t.Errorf("expected %s=%v, got %v", k, v, got[k])
				}
			}
		})
	}
}

func TestAttachNeedsServer(t *testing.T) {
	svc, ups := newTestService(t)
	for _, kind := range []LinkKind{LinkVolume, LinkFloatingIP, LinkNetwork} {
		if _, err := svc.Attach(context.Background(), cloudCred, Link{Kind: kind, ResourceID: 1}); !errors.Is(err, ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", kind, err)
		}
	}
	if _, err := svc.Detach(context.Background(), cloudCred, Link{Kind: LinkNetwork, ResourceID: 1}); !errors.Is(err, ErrValidation) {
		t.Errorf("expected validation error for network detach without server, got %v", err)
	}
	if n := ups.total(); n != 0 {
		t.Errorf("expected no upstream calls, got %d", n)
	}
}

func TestTopology(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /networks", http.StatusOK, `{"networks":[{"id":9,"name":"lan","ip_range":"10.0.0.0/16"}],"meta":{"pagination":{"next_page":null}}}`)
	ups.cloud.respond("GET /servers", http.StatusOK, `{"servers":[
		{"id":2,"name":"db","status":"running","private_net":[{"network":9,"ip":"10.0.0.3"}]},
		{"id":1,"name":"web","status":"running","public_net":{"ipv4":{"ip":"203.0.113.10"}},"private_net":[{"network":9,"ip":"10.0.0.2"},{"network":77,"ip":"10.9.0.2"}]},
		{"id":3,"name":"lonely","status":"off"}
	],"meta":{"pagination":{"next_page":null}}}`)

	topo, err := svc.Topology(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(topo.Networks) != 1 || len(topo.Servers) != 3 {
		t.Fatalf("unexpected nodes %+v", topo)
	}
	want := []TopologyLink{
		{NetworkID: 9, ServerID: 1, IP: "10.0.0.2"},
		{NetworkID: 9, ServerID: 2, IP: "10.0.0.3"},
	}
	if len(topo.Links) != len(want) {
		t.Fatalf("expected links %+v, got %+v", want, topo.Links)
	}
	for i := range want {
		if topo.Links[i] != want[i] {
			t.Errorf("link %d: expected %+v, got %+v", i, want[i], topo.Links[i])
		}
	}
}

func TestTopologyFailsIfEitherFails(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /networks", http.StatusOK, `{"networks":[],"meta":{"pagination":{"next_page":null}}}`)
	ups.cloud.respond("GET /servers", http.StatusTooManyRequests, `{"error":{"code":"rate_limit_exceeded","message":"slow down"}}`)

	if _, err := svc.Topology(context.Background(), cloudCred); !errors.Is(err, ErrRateLimit) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

const cloudPricingBody = `{"pricing":{"currency":"EUR",
	"volume":{"price_per_gb_month":{"net":"0.0440","gross":"0.0524"}},
	"floating_ips":[
		{"type":"ipv4","prices":[{"location":"fsn1","price_monthly":{"net":"3.00","gross":"3.57"}},{"location":"hel1","price_monthly":{"net":"3.10","gross":"3.84"}}]},
		{"type":"ipv6","prices":[{"location":"fsn1","price_monthly":{"net":"1.00","gross":"1.19"}}]}
	]}}`

func TestVolumesPriced(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /volumes", http.StatusOK, `{"volumes":[{"id":1,"size":10},{"id":2,"size":100}],"meta":{"pagination":{"next_page":null}}}`)
	ups.cloud.respond("GET /pricing", http.StatusOK, cloudPricingBody)

	volumes, err := svc.Volumes(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if volumes[0].Pricing.Monthly != 0.524 || volumes[1].Pricing.Monthly != 5.24 {
		t.Errorf("unexpected prices %v, %v", volumes[0].Pricing.Monthly, volumes[1].Pricing.Monthly)
	}
	if n := ups.cloud.count("GET", "/pricing"); n != 1 {
		t.Errorf("expected one pricing call, got %d", n)
	}
}

func TestFloatingIPsPriced(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /floating_ips", http.StatusOK, `{"floating_ips":[
		{"id":1,"type":"ipv4","home_location":{"name":"hel1"}},
		{"id":2,"type":"ipv6","home_location":{"name":"nbg1"}}
	],"meta":{"pagination":{"next_page":null}}}`)
	ups.cloud.respond("GET /pricing", http.StatusOK, cloudPricingBody)

	fips, err := svc.FloatingIPs(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fips[0].Pricing.Monthly != 3.84 {
		t.Errorf("expected hel1 ipv4 price, got %v", fips[0].Pricing.Monthly)
	}
	if fips[1].Pricing.Monthly != 1.19 {
		t.Errorf("expected fallback ipv6 price, got %v", fips[1].Pricing.Monthly)
	}
}

func TestNoPricingCallForEmptyList(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /volumes", http.StatusOK, `{"volumes":[],"meta":{"pagination":{"next_page":null}}}`)

	volumes, err := svc.Volumes(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if volumes == nil || len(volumes) != 0 {
		t.Errorf("expected empty list, got %v", volumes)
	}
}

func TestLoadBalancersPriced(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /load_balancers", http.StatusOK, `{"load_balancers":[{"id":1,"name":"lb","location":{"name":"fsn1"},
		"load_balancer_type":{"name":"lb11","prices":[{"location":"fsn1","price_hourly":{"gross":"0.0100"},"price_monthly":{"gross":"6.4100"}}]}}],
		"meta":{"pagination":{"next_page":null}}}`)

	lbs, err := svc.LoadBalancers(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lbs[0].Pricing.Monthly != 6.41 || lbs[0].Pricing.Hourly != 0.01 {
		t.Errorf("unexpected pricing %+v", lbs[0].Pricing)
	}
}

func TestUnparseablePriceIsZero(t *testing.T) {
	svc, ups := newTestService(t)
	var buf bytes.Buffer
	svc.log = log.NewLogfmtLogger(&buf)
	ups.cloud.respond("GET /servers", http.StatusOK, `{"servers":[
		{"id":1,"name":"web-1","datacenter":{"location":{"name":"fsn1"}},
		 "server_type":{"id":11,"name":"cx11","cores":1,"memory":2,"disk":20,
		  "prices":[{"location":"fsn1","price_hourly":{"gross":"0.0050"},"price_monthly":{"gross":"n/a"}}]}},
		{"id":2,"name":"web-2","server_type":{"id":31,"name":"cpx31","cores":4,"memory":8,"disk":160,
		  "prices":[{"location":"fsn1","price_hourly":{"gross":"0.0250"},"price_monthly":{"gross":"15.7400"}}]}}
	],"meta":{"pagination":{"next_page":null}}}`)
	ups.cloud.respond("GET /load_balancers", http.StatusOK, `{"load_balancers":[{"id":5,"name":"lb","location":{"name":"fsn1"},
		"load_balancer_type":{"name":"lb11","prices":[{"location":"fsn1","price_hourly":{"gross":"abc"},"price_monthly":{"gross":"6.4100"}}]}}],
		"meta":{"pagination":{"next_page":null}}}`)

	servers, err := svc.Servers(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(servers) != 2 {
		t.Fatalf("expected both servers to be listed, got %d", len(servers))
	}
	if servers[0].ServerTypePricing != (Pricing{}) {
		t.Errorf("expected zero pricing for server 1, got %+v", servers[0].ServerTypePricing)
	}
	if servers[0].ServerTypeSpecs.Cores != 1 {
		t.Errorf("expected specs to survive a bad price, got %+v", servers[0].ServerTypeSpecs)
	}
	if servers[1].ServerTypePricing.Monthly != 15.74 {
		t.Errorf("expected server 2 to keep its price, got %v", servers[1].ServerTypePricing.Monthly)
	}

	lbs, err := svc.LoadBalancers(context.Background(), cloudCred)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(lbs) != 1 || lbs[0].Pricing != (Pricing{}) {
		t.Errorf("expected load balancer with zero pricing, got %+v", lbs)
	}

	out := buf.String()
	for _, want := range []string{"msg=\"unparseable price\" resource=server id=1", "resource=load_balancer id=5"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in log output:\n%s", want, out)
		}
	}
}

func TestImagesAreSystemImages(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("GET /images", http.StatusOK, `{"images":[{"id":1,"name":"debian-12","type":"system"}],"meta":{"pagination":{"next_page":null}}}`)

	if _, err := svc.Images(context.Background(), cloudCred); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q := ups.cloud.hits()[0].query; q.Get("type") != "system" {
		t.Errorf("expected type=system, got %v", q)
	}
}

func TestDeleteAttachedVolumeIsRejected(t *testing.T) {
	svc, ups := newTestService(t)
	ups.cloud.respond("DELETE /volumes/7", http.StatusLocked, `{"error":{"code":"locked","message":"volume is attached to a server"}}`)

	_, err := svc.Invoke(context.Background(), cloudCred, Call{Kind: KindCloud, Method: "DELETE", Path: "/volumes/7"})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err.Error() != "volume is attached to a server" {
		t.Errorf("expected upstream message, got %q", err.Error())
	}
}
