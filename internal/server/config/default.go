package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr    = "127.0.0.1:4550"
	DefaultDuctSocket  = "/var/run/dtnmesh/duct.sock"
	DefaultAdminSocket = "/var/run/dtnmesh/admin.sock"
	DefaultUDPListen   = "0.0.0.0:4556"
	DefaultGossipPort  = 4557

	DefaultDataDir         = "/var/lib/dtnmesh/data"
	DefaultGCInterval      = "10m"
	DefaultConflictRetries = 5

	DefaultAdminLifetime = 24 * time.Hour
	DefaultClockInterval = time.Second
	DefaultSweepBatch    = 128
	DefaultCustodyRetry  = time.Minute
	DefaultMaxHops       = 4
	DefaultSyncInterval  = time.Second
	DefaultSyncBatch     = 64
	DefaultDedupeTTL     = 10 * time.Minute
	DefaultRateBurst     = 20

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default node configuration. The node number has no
// default.
func Default() *NodeConfig {
	return &NodeConfig{
		Node: NodeSection{
			AdminLifetime: DefaultAdminLifetime,
		},
		Storage: StorageSection{
			DataDir:         DefaultDataDir,
			SyncWrites:      true,
			GCInterval:      DefaultGCInterval,
			ConflictRetries: DefaultConflictRetries,
		},
		Clock: ClockSection{
			Interval:   DefaultClockInterval,
			SweepBatch: DefaultSweepBatch,
		},
		Custody: CustodySection{
			Retry: DefaultCustodyRetry,
		},
		Routing: RoutingSection{
			MaxHops:  DefaultMaxHops,
			TieBreak: []string{"start", "confidence", "hops"},
		},
		Sync: SyncSection{
			Interval: DefaultSyncInterval,
			Batch:    DefaultSyncBatch,
		},
		Multicast: MulticastSection{
			DedupeTTL: DefaultDedupeTTL,
		},
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr:      DefaultHTTPAddr,
				RateBurst: DefaultRateBurst,
			},
			Duct: DuctConfig{
				Enabled: true,
				Path:    DefaultDuctSocket,
			},
			Admin: AdminConfig{
				Path: DefaultAdminSocket,
			},
		},
		CLA: CLASection{
			UDP: UDPConfig{
				Listen: DefaultUDPListen,
			},
		},
		Discovery: DiscoverySection{
			BindAddr: "0.0.0.0",
			BindPort: DefaultGossipPort,
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
