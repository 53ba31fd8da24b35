package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

type UserProfile struct {
	LoginName     string `json:"loginName"`   // "alice@smith.com"; for display purposes only (provider is not listed)
	DisplayName   string `json:"displayName"` // "Alice Smith"
	ProfilePicURL string `json:"profilePicURL"`
	Node          string `json:"node"`
}

// Price is one per-location entry of a cloud or storage price list. The
// upstream sends amounts as decimal strings.
type Price struct {
	Location     string      `json:"location"`
	PriceHourly  PriceAmount `json:"price_hourly"`
	PriceMonthly PriceAmount `json:"price_monthly"`
}

type PriceAmount struct {
	Net   string `json:"net"`
	Gross string `json:"gross"`
}

// Pricing is the computed monthly (and when known hourly) gross cost.
type Pricing struct {
	Monthly float64 `json:"monthly"`
	Hourly  float64 `json:"hourly,omitempty"`
}

type Protection struct {
	Delete  bool `json:"delete"`
	Rebuild bool `json:"rebuild,omitempty"`
}

type Location struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	NetworkZone string  `json:"network_zone"`
}

type Datacenter struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Location    Location `json:"location"`
}

type ServerType struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	Cores        int     `json:"cores"`
	Memory       float64 `json:"memory"`
	Disk         int     `json:"disk"`
	CPUType      string  `json:"cpu_type"`
	Architecture string  `json:"architecture"`
	Deprecated   bool    `json:"deprecated"`
	Prices       []Price `json:"prices"`
}

func (t ServerType) hasSpecs() bool {
	return t.Cores > 0 && t.Memory > 0 && t.Disk > 0
}

type ServerTypeSpecs struct {
	Cores  int     `json:"cores"`
	Memory float64 `json:"memory"`
	Disk   int     `json:"disk"`
}

type PublicIP struct {
	IP      string `json:"ip"`
	Blocked bool   `json:"blocked"`
}

type PublicNet struct {
	IPv4        *PublicIP `json:"ipv4"`
	IPv6        *PublicIP `json:"ipv6"`
	FloatingIPs []int64   `json:"floating_ips"`
}

type PrivateNet struct {
	Network    int64    `json:"network"`
	IP         string   `json:"ip"`
	AliasIPs   []string `json:"alias_ips"`
	MACAddress string   `json:"mac_address"`
}

type Image struct {
	ID           int64   `json:"id"`
	Type         string  `json:"type"`
	Status       string  `json:"status"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	OSFlavor     string  `json:"os_flavor"`
	OSVersion    *string `json:"os_version"`
	Architecture string  `json:"architecture"`
	DiskSize     float64 `json:"disk_size"`
	Created      string  `json:"created"`
}

// CloudServer is a cloud server enriched with the specs and monthly price of
// its server type.
type CloudServer struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	Status     string            `json:"status"`
	Created    string            `json:"created"`
	PublicNet  PublicNet         `json:"public_net"`
	PrivateNet []PrivateNet      `json:"private_net"`
	ServerType ServerType        `json:"server_type"`
	Datacenter Datacenter        `json:"datacenter"`
	Image      *Image            `json:"image"`
	Volumes    []int64           `json:"volumes"`
	Locked     bool              `json:"locked"`
	Protection Protection        `json:"protection"`
	Labels     map[string]string `json:"labels"`

	ServerTypeSpecs   ServerTypeSpecs `json:"server_type_specs"`
	ServerTypePricing Pricing         `json:"server_type_pricing"`
}

type SSHKey struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Fingerprint string            `json:"fingerprint"`
	PublicKey   string            `json:"public_key"`
	Labels      map[string]string `json:"labels"`
	Created     string            `json:"created"`
}

type FloatingIP struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	IP           string            `json:"ip"`
	Type         string            `json:"type"`
	Server       *int64            `json:"server"`
	HomeLocation Location          `json:"home_location"`
	Blocked      bool              `json:"blocked"`
	Protection   Protection        `json:"protection"`
	Labels       map[string]string `json:"labels"`
	Created      string            `json:"created"`

	Pricing Pricing `json:"pricing"`
}

type Volume struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	Server      *int64            `json:"server"`
	Location    Location          `json:"location"`
	LinuxDevice string            `json:"linux_device"`
	Status      string            `json:"status"`
	Format      *string           `json:"format"`
	Protection  Protection        `json:"protection"`
	Labels      map[string]string `json:"labels"`
	Created     string            `json:"created"`

	Pricing Pricing `json:"pricing"`
}

type FirewallRule struct {
	Direction      string   `json:"direction"`
	Protocol       string   `json:"protocol"`
	Port           *string  `json:"port"`
	SourceIPs      []string `json:"source_ips"`
	DestinationIPs []string `json:"destination_ips"`
	Description    *string  `json:"description"`
}

type ResourceRef struct {
	ID int64 `json:"id"`
}

type FirewallResource struct {
	Type          string       `json:"type"`
	Server        *ResourceRef `json:"server,omitempty"`
	LabelSelector *struct {
		Selector string `json:"selector"`
	} `json:"label_selector,omitempty"`
}

type Firewall struct {
	ID        int64              `json:"id"`
	Name      string             `json:"name"`
	Rules     []FirewallRule     `json:"rules"`
	AppliedTo []FirewallResource `json:"applied_to"`
	Labels    map[string]string  `json:"labels"`
	Created   string             `json:"created"`
}

type LoadBalancerType struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	MaxConnections int64   `json:"max_connections"`
	MaxServices    int64   `json:"max_services"`
	MaxTargets     int64   `json:"max_targets"`
	Prices         []Price `json:"prices"`
}

type LoadBalancerTarget struct {
	Type   string       `json:"type"`
	Server *ResourceRef `json:"server,omitempty"`
}

type LoadBalancer struct {
	ID        int64 `json:"id"`
	Name      string `json:"name"`
	PublicNet struct {
		Enabled bool      `json:"enabled"`
		IPv4    *PublicIP `json:"ipv4"`
		IPv6    *PublicIP `json:"ipv6"`
	} `json:"public_net"`
	Location         Location         `json:"location"`
	LoadBalancerType LoadBalancerType `json:"load_balancer_type"`
	Algorithm        struct {
		Type string `json:"type"`
	} `json:"algorithm"`
	Targets []LoadBalancerTarget `json:"targets"`
	Labels  map[string]string    `json:"labels"`
	Created string               `json:"created"`

	Pricing Pricing `json:"pricing"`
}

type Subnet struct {
	Type        string `json:"type"`
	IPRange     string `json:"ip_range"`
	NetworkZone string `json:"network_zone"`
	Gateway     string `json:"gateway"`
}

type Route struct {
	Destination string `json:"destination"`
	Gateway     string `json:"gateway"`
}

type Network struct {
	ID         int64             `json:"id"`
	Name       string            `json:"name"`
	IPRange    string            `json:"ip_range"`
	Subnets    []Subnet          `json:"subnets"`
	Routes     []Route           `json:"routes"`
	Servers    []int64           `json:"servers"`
	Protection Protection        `json:"protection"`
	Labels     map[string]string `json:"labels"`
	Created    string            `json:"created"`
}

// Topology is the network/server graph: one link per private network
// attachment of a server.
type Topology struct {
	Networks []TopologyNetwork `json:"networks"`
	Servers  []TopologyServer  `json:"servers"`
	Links    []TopologyLink    `json:"links"`
}

type TopologyNetwork struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IPRange string `json:"ip_range"`
}

type TopologyServer struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	IPv4   string `json:"ipv4,omitempty"`
}

type TopologyLink struct {
	NetworkID int64  `json:"network_id"`
	ServerID  int64  `json:"server_id"`
	IP        string `json:"ip"`
}

type Action struct {
	ID       int64   `json:"id"`
	Command  string  `json:"command"`
	Status   string  `json:"status"`
	Progress int     `json:"progress"`
	Started  string  `json:"started"`
	Finished *string `json:"finished"`
	Error    *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// MetricsBundle is the time series of one metric over one window.
type MetricsBundle struct {
	ServerID   int64                    `json:"server_id"`
	MetricType string                   `json:"metric_type"`
	TimeRange  string                   `json:"time_range"`
	Start      time.Time                `json:"start"`
	End        time.Time                `json:"end"`
	Step       float64                  `json:"step"`
	TimeSeries map[string][]MetricPoint `json:"time_series"`
}

// MetricPoint encodes as [timestamp, value] in the same shape the cloud api
// uses, with the value as a number.
type MetricPoint struct {
	Timestamp float64
	Value     float64
}

// finite reports whether the point can be encoded. The upstream reports gaps
// as "NaN".
func (p MetricPoint) finite() bool {
	return !math.IsNaN(p.Value) && !math.IsInf(p.Value, 0) && !math.IsNaN(p.Timestamp) && !math.IsInf(p.Timestamp, 0)
}

func (p MetricPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Timestamp, p.Value})
}

func (p *MetricPoint) UnmarshalJSON(b []byte) error {
	var pair [2]json.RawMessage
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("metric point: %w", err)
	}
	if err := json.Unmarshal(pair[0], &p.Timestamp); err != nil {
		return fmt.Errorf("metric timestamp: %w", err)
	}
	var raw any
	if err := json.Unmarshal(pair[1], &raw); err != nil {
		return fmt.Errorf("metric value: %w", err)
	}
	switch v := raw.(type) {
	case float64:
		p.Value = v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("metric value %q: %w", v, err)
		}
		p.Value = f
	default:
		return fmt.Errorf("metric value has unexpected type %T", raw)
	}
	return nil
}

type StorageBoxType struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Size        int64   `json:"size"`
	Prices      []Price `json:"prices"`
}

type StorageBoxAccessSettings struct {
	ReachableExternally bool `json:"reachable_externally"`
	SambaEnabled        bool `json:"samba_enabled"`
	SSHEnabled          bool `json:"ssh_enabled"`
	WebDAVEnabled       bool `json:"webdav_enabled"`
	ZFSEnabled          bool `json:"zfs_enabled"`
}

type StorageBoxStats struct {
	Size          int64 `json:"size"`
	SizeData      int64 `json:"size_data"`
	SizeSnapshots int64 `json:"size_snapshots"`
}

type SnapshotPlan struct {
	MaxSnapshots int  `json:"max_snapshots"`
	Minute       int  `json:"minute"`
	Hour         int  `json:"hour"`
	DayOfWeek    *int `json:"day_of_week"`
	DayOfMonth   *int `json:"day_of_month"`
}

type StorageBox struct {
	ID             int64                    `json:"id"`
	Username       string                   `json:"username"`
	Status         string                   `json:"status"`
	Name           string                   `json:"name"`
	Server         string                   `json:"server"`
	System         string                   `json:"system"`
	StorageBoxType StorageBoxType           `json:"storage_box_type"`
	Location       Location                 `json:"location"`
	AccessSettings StorageBoxAccessSettings `json:"access_settings"`
	Stats          StorageBoxStats          `json:"stats"`
	Protection     Protection               `json:"protection"`
	SnapshotPlan   *SnapshotPlan            `json:"snapshot_plan"`
	Labels         map[string]string        `json:"labels"`
	Created        string                   `json:"created"`

	Pricing Pricing `json:"pricing"`
}

type SubaccountAccessSettings struct {
	ReachableExternally bool `json:"reachable_externally"`
	Readonly            bool `json:"readonly"`
	SambaEnabled        bool `json:"samba_enabled"`
	SSHEnabled          bool `json:"ssh_enabled"`
	WebDAVEnabled       bool `json:"webdav_enabled"`
}

type Subaccount struct {
	ID             int64                    `json:"id"`
	Username       string                   `json:"username"`
	HomeDirectory  string                   `json:"home_directory"`
	Server         string                   `json:"server"`
	Description    string                   `json:"description"`
	AccessSettings SubaccountAccessSettings `json:"access_settings"`
	Labels         map[string]string        `json:"labels"`
	Created        string                   `json:"created"`
}

type RobotSubnet struct {
	IP   string `json:"ip"`
	Mask string `json:"mask"`
}

// DedicatedServer is a Robot server. The feature flags are only present on
// the single server view.
type DedicatedServer struct {
	ServerIP      string        `json:"server_ip"`
	ServerIPv6Net string        `json:"server_ipv6_net"`
	ServerNumber  int64         `json:"server_number"`
	ServerName    string        `json:"server_name"`
	Product       string        `json:"product"`
	DC            string        `json:"dc"`
	Traffic       string        `json:"traffic"`
	Status        string        `json:"status"`
	Cancelled     bool          `json:"cancelled"`
	PaidUntil     string        `json:"paid_until"`
	IP            []string      `json:"ip"`
	Subnet        []RobotSubnet `json:"subnet"`

	Reset   *bool `json:"reset,omitempty"`
	Rescue  *bool `json:"rescue,omitempty"`
	VNC     *bool `json:"vnc,omitempty"`
	Windows *bool `json:"windows,omitempty"`
	Plesk   *bool `json:"plesk,omitempty"`
	CPanel  *bool `json:"cpanel,omitempty"`
	WOL     *bool `json:"wol,omitempty"`
	HotSwap *bool `json:"hot_swap,omitempty"`
}

type ResetOptions struct {
	ServerIP        string   `json:"server_ip"`
	ServerIPv6Net   string   `json:"server_ipv6_net"`
	ServerNumber    int64    `json:"server_number"`
	Type            []string `json:"type"`
	OperatingStatus string   `json:"operating_status"`
}

type FailoverIP struct {
	IP             string  `json:"ip"`
	Netmask        string  `json:"netmask"`
	ServerIP       string  `json:"server_ip"`
	ServerIPv6Net  string  `json:"server_ipv6_net"`
	ServerNumber   int64   `json:"server_number"`
	ActiveServerIP *string `json:"active_server_ip"`
}

type ReverseDNS struct {
	IP  string `json:"ip"`
	PTR string `json:"ptr"`
}

type TrafficValues struct {
	In  float64 `json:"in"`
	Out float64 `json:"out"`
	Sum float64 `json:"sum"`
}

// TrafficStats is Robot traffic in GB per IP address.
type TrafficStats struct {
	ServerNumber int64                    `json:"server_number"`
	Type         string                   `json:"type"`
	From         string                   `json:"from"`
	To           string                   `json:"to"`
	Data         map[string]TrafficValues `json:"data"`
}
