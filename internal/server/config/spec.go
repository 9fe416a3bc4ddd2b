package config

import "time"

// NodeConfig is the root configuration for dtnmesh-node.
type NodeConfig struct {
	Node      NodeSection      `koanf:"node"`
	Storage   StorageSection   `koanf:"storage"`
	Clock     ClockSection     `koanf:"clock"`
	Custody   CustodySection   `koanf:"custody"`
	Routing   RoutingSection   `koanf:"routing"`
	Sync      SyncSection      `koanf:"sync"`
	Multicast MulticastSection `koanf:"multicast"`
	Server    ServerSection    `koanf:"server"`
	CLA       CLASection       `koanf:"cla"`
	Discovery DiscoverySection `koanf:"discovery"`

	// Plans are egress plans installed at start, together with their ducts.
	Plans []PlanConfig `koanf:"plans"`

	// Kin are the multicast kin nodes installed at start.
	Kin []uint64 `koanf:"kin"`

	// ContactPlanFile is a YAML file of contacts and ranges, loaded at start
	// and on every change.
	ContactPlanFile string `koanf:"contact_plan_file"`

	Log LogSection `koanf:"log"`
}

// NodeSection identifies the node.
type NodeSection struct {
	// Number is the ipn node number. Required.
	Number uint64 `koanf:"number"`

	// Region is the region whose contact plan the node shares.
	Region uint32 `koanf:"region"`

	// HopLimit, when positive, adds a hop count block to local bundles.
	HopLimit uint32 `koanf:"hop_limit"`

	// AdminLifetime is the lifetime of generated administrative bundles.
	AdminLifetime time.Duration `koanf:"admin_lifetime"`
}

// StorageSection configures the bundle store.
type StorageSection struct {
	DataDir         string `koanf:"data_dir"`
	InMemory        bool   `koanf:"in_memory"`
	SyncWrites      bool   `koanf:"sync_writes"`
	QuotaBytes      uint64 `koanf:"quota_bytes"`
	GCInterval      string `koanf:"gc_interval"`
	ConflictRetries int    `koanf:"conflict_retries"`
	CacheSize       int64  `koanf:"cache_size"`
}

// ClockSection configures the housekeeping sweep.
type ClockSection struct {
	Interval   time.Duration `koanf:"interval"`
	SweepBatch int           `koanf:"sweep_batch"`
}

// CustodySection configures custody transfer.
type CustodySection struct {
	Retry time.Duration `koanf:"retry"`
}

// RoutingSection configures contact graph routing.
type RoutingSection struct {
	MaxHops  int      `koanf:"max_hops"`
	TieBreak []string `koanf:"tie_break"`
}

// SyncSection configures regional contact plan synchronization.
type SyncSection struct {
	Interval time.Duration `koanf:"interval"`
	Batch    int           `koanf:"batch"`
}

// MulticastSection configures multicast forwarding.
type MulticastSection struct {
	DedupeTTL time.Duration `koanf:"dedupe_ttl"`
}

// ServerSection configures the local servers.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http"`
	Duct  DuctConfig  `koanf:"duct"`
	Admin AdminConfig `koanf:"admin"`
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`

	// ClientCAFile, when set, makes the TLS listener require client
	// certificates issued by one of its CAs. A file or a directory.
	ClientCAFile string `koanf:"client_ca_file"`

	// AdminToken, when set, is required as a bearer token on /admin routes.
	AdminToken string `koanf:"admin_token"`

	// RateLimit is requests per second across the admin API; 0 disables it.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`

	// AllowList restricts /admin routes to these IPs or CIDRs; empty allows all.
	AllowList []string `koanf:"allow_list"`
}

// DuctConfig configures the external CL daemon socket.
type DuctConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// AdminConfig configures the local admin socket. Requests on it skip the
// bearer token; the socket file's permissions guard it.
type AdminConfig struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

// CLASection configures the built-in convergence layers.
type CLASection struct {
	UDP UDPConfig `koanf:"udp"`
}

// UDPConfig configures the UDP convergence layer.
type UDPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"`

	// Rate is the default output pacing in bytes per second; 0 disables it.
	Rate uint64 `koanf:"rate"`

	// Peers get a UDP duct and a continuous plan at start.
	Peers []UDPPeer `koanf:"peers"`
}

// UDPPeer is a statically known UDP neighbor.
type UDPPeer struct {
	Node    uint64 `koanf:"node"`
	Address string `koanf:"address"`
	Rate    uint64 `koanf:"rate"`
}

// DiscoverySection configures gossip neighbor discovery.
type DiscoverySection struct {
	Enabled  bool     `koanf:"enabled"`
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`

	// SecretKey encrypts gossip traffic: 16, 24 or 32 bytes, hex encoded,
	// optionally prefixed with "dtng_".
	SecretKey string `koanf:"secret_key"`

	// Kin adds discovered peers as multicast kin.
	Kin bool `koanf:"kin"`
}

// PlanConfig is a static egress plan.
type PlanConfig struct {
	Node       uint64           `koanf:"node"`
	Rate       uint64           `koanf:"rate"`
	Continuous bool             `koanf:"continuous"`
	Ducts      []PlanDuctConfig `koanf:"ducts"`
}

// PlanDuctConfig is one duct of a static plan, in preference order.
type PlanDuctConfig struct {
	Name     string `koanf:"name"`
	Protocol string `koanf:"protocol"`
	Address  string `koanf:"address"`
	Rate     uint64 `koanf:"rate"`
}

// LogSection configures logging.
type LogSection struct {
	Level     string `koanf:"level"`
	Format    string `koanf:"format"`
	AddSource bool   `koanf:"add_source"`
}
