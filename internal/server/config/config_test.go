package config

import (
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

func validConfig(t *testing.T) *NodeConfig {
	t.Helper()
	cfg := Default()
	cfg.Node.Number = 1
	cfg.Storage.DataDir = filepath.Join(t.TempDir(), "data")
	return cfg
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.HTTP.Addr != DefaultHTTPAddr {
		t.Errorf("HTTP.Addr = %q, want %q", cfg.Server.HTTP.Addr, DefaultHTTPAddr)
	}
	if !cfg.Server.Duct.Enabled || cfg.Server.Duct.Path != DefaultDuctSocket {
		t.Errorf("Duct = %+v, want enabled at %q", cfg.Server.Duct, DefaultDuctSocket)
	}
	if cfg.CLA.UDP.Enabled {
		t.Error("UDP convergence layer should be disabled by default")
	}
	if cfg.Storage.DataDir != DefaultDataDir || !cfg.Storage.SyncWrites {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Custody.Retry != DefaultCustodyRetry {
		t.Errorf("Custody.Retry = %v, want %v", cfg.Custody.Retry, DefaultCustodyRetry)
	}
	if cfg.Node.Number != 0 {
		t.Error("node number must have no default")
	}
	if cfg.Log.Level != DefaultLogLevel || cfg.Log.Format != DefaultLogFormat {
		t.Errorf("Log = %+v", cfg.Log)
	}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*NodeConfig)
		wantErr string
	}{
		{"valid", func(*NodeConfig) {}, ""},
		{"in memory needs no dir", func(c *NodeConfig) { c.Storage.InMemory = true; c.Storage.DataDir = "" }, ""},
		{"missing node", func(c *NodeConfig) { c.Node.Number = 0 }, "node.number"},
		{"missing data dir", func(c *NodeConfig) { c.Storage.DataDir = "" }, "storage.data_dir"},
		{"bad gc interval", func(c *NodeConfig) { c.Storage.GCInterval = "soon" }, "storage.gc_interval"},
		{"zero custody retry", func(c *NodeConfig) { c.Custody.Retry = 0 }, "custody.retry"},
		{"zero max hops", func(c *NodeConfig) { c.Routing.MaxHops = 0 }, "routing.max_hops"},
		{"unknown tie break", func(c *NodeConfig) { c.Routing.TieBreak = []string{"cheapest"} }, "routing.tie_break"},
		{"zero sync batch", func(c *NodeConfig) { c.Sync.Batch = 0 }, "sync.batch"},
		{"bad http addr", func(c *NodeConfig) { c.Server.HTTP.Addr = "localhost" }, "server.http.addr"},
		{"bad allow list", func(c *NodeConfig) { c.Server.HTTP.AllowList = []string{"10.0.0.0/33"} }, "allow_list"},
		{"tls cert without key", func(c *NodeConfig) { c.Server.HTTP.TLSCertFile = "cert.pem" }, "tls_key_file"},
		{"client ca without tls", func(c *NodeConfig) { c.Server.HTTP.ClientCAFile = "ca.pem" }, "client_ca_file"},
		{"admin socket path", func(c *NodeConfig) { c.Server.Admin = AdminConfig{Enabled: true} }, "server.admin.path"},
		{"duct socket path", func(c *NodeConfig) { c.Server.Duct.Path = "" }, "server.duct.path"},
		{"udp peer without node", func(c *NodeConfig) {
			c.CLA.UDP.Enabled = true
			c.CLA.UDP.Peers = []UDPPeer{{Address: "10.0.0.2:4556"}}
		}, "cla.udp.peers[0]"},
		{"bad gossip key", func(c *NodeConfig) {
			c.Discovery.Enabled = true
			c.Discovery.SecretKey = "dtng_abcd"
		}, "discovery.secret_key"},
		{"duplicate plan", func(c *NodeConfig) {
			c.Plans = []PlanConfig{{Node: 2}, {Node: 2}}
		}, "duplicate plan"},
		{"kin is self", func(c *NodeConfig) { c.Kin = []uint64{1} }, "kin"},
		{"bad log level", func(c *NodeConfig) { c.Log.Level = "loud" }, "log.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := Verify(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Verify() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Verify() error = %v, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	cfg := validConfig(t)
	cfg.Server.HTTP.AdminToken = "dtna_0123456789abcdef"
	cfg.Discovery.SecretKey = "dtng_00112233445566778899aabbccddeeff"

	sanitized := Sanitize(cfg)

	if cfg.Server.HTTP.AdminToken != "dtna_0123456789abcdef" {
		t.Error("original config should not be modified")
	}
	if sanitized.Server.HTTP.AdminToken == cfg.Server.HTTP.AdminToken {
		t.Error("admin token should be masked")
	}
	if got := sanitized.Discovery.SecretKey; !strings.HasPrefix(got, "dt") || !strings.HasSuffix(got, "ff") || strings.Contains(got, "0011") {
		t.Errorf("secret key mask = %q", got)
	}
	if maskSecret("abc") != "****" {
		t.Errorf("maskSecret(short) = %q", maskSecret("abc"))
	}
}

func TestToEngineConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Node.Region = 3
	cfg.Node.HopLimit = 16
	cfg.Custody.Retry = 5 * time.Minute
	cfg.Routing.TieBreak = []string{"Arrival", " hops"}

	ec, err := ToEngineConfig(cfg)
	if err != nil {
		t.Fatalf("ToEngineConfig() error = %v", err)
	}
	if ec.Node != 1 || ec.Region != 3 || ec.HopLimit != 16 {
		t.Errorf("identity = %d/%d/%d", ec.Node, ec.Region, ec.HopLimit)
	}
	if ec.CustodyRetry != 5*time.Minute {
		t.Errorf("CustodyRetry = %v", ec.CustodyRetry)
	}
	want := []service.TieBreak{service.TieBreakArrival, service.TieBreakHops}
	if len(ec.TieBreak) != 2 || ec.TieBreak[0] != want[0] || ec.TieBreak[1] != want[1] {
		t.Errorf("TieBreak = %v, want %v", ec.TieBreak, want)
	}

	if _, err := ToEngineConfig(nil); err == nil {
		t.Error("ToEngineConfig(nil) should fail")
	}
}

func TestToStorageConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Storage.QuotaBytes = 1 << 30
	cfg.Storage.SyncWrites = false
	cfg.Storage.GCInterval = "1m"

	sc := ToStorageConfig(cfg)
	if sc.Dir != cfg.Storage.DataDir || sc.QuotaBytes != 1<<30 {
		t.Errorf("store = %+v", sc)
	}
	if sc.Badger.SyncWrites {
		t.Error("sync writes should follow the config")
	}
	if sc.Badger.GCInterval != "1m" {
		t.Errorf("GCInterval = %q", sc.Badger.GCInterval)
	}
}

func TestToLoggerConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Log.Level = "debug"
	cfg.Log.Format = "text"

	lc := ToLoggerConfig(cfg, io.Discard)
	if lc.Level != "debug" || lc.Format != "text" || lc.Output != io.Discard {
		t.Errorf("logger config = %+v", lc)
	}
	if lc.Node != cfg.Node.Number {
		t.Errorf("Node = %d, want %d", lc.Node, cfg.Node.Number)
	}
}

func TestStaticRoutes(t *testing.T) {
	cfg := validConfig(t)
	cfg.Plans = []PlanConfig{{
		Node: 2, Continuous: true,
		Ducts: []PlanDuctConfig{
			{Name: "tcp/two", Protocol: "tcp", Address: "10.0.0.2:4556"},
			{Name: "udp/10.0.0.2:4556", Protocol: "udp", Address: "10.0.0.2:4556"},
		},
	}}
	cfg.CLA.UDP.Enabled = true
	cfg.CLA.UDP.Rate = 1000
	cfg.CLA.UDP.Peers = []UDPPeer{
		{Node: 2, Address: "10.0.0.2:4557"},
		{Node: 3, Address: "10.0.0.3:4556", Rate: 50},
	}

	ducts, plans := StaticRoutes(cfg)
	if len(ducts) != 4 {
		t.Fatalf("got %d ducts, want 4", len(ducts))
	}
	if ducts[2].Name != "udp/10.0.0.2:4557" || ducts[2].Rate != 1000 || ducts[2].Neighbor != 2 {
		t.Errorf("peer duct = %+v", ducts[2])
	}
	if len(plans) != 2 {
		t.Fatalf("got %d plans, want 2", len(plans))
	}
	if plans[0].Node != 2 || len(plans[0].Ducts) != 2 {
		t.Errorf("configured plan = %+v", plans[0])
	}
	if plans[1].Node != 3 || !plans[1].Continuous || plans[1].Rate != 50 || plans[1].Ducts[0] != "udp/10.0.0.3:4556" {
		t.Errorf("peer plan = %+v", plans[1])
	}
}

func TestGossipKey(t *testing.T) {
	key, err := GossipKey("dtng_00112233445566778899aabbccddeeff")
	if err != nil || len(key) != 16 {
		t.Fatalf("GossipKey() = %x, %v", key, err)
	}
	if key, err := GossipKey(""); err != nil || key != nil {
		t.Errorf("empty secret = %x, %v", key, err)
	}
	if _, err := GossipKey("zz"); err == nil {
		t.Error("non-hex secret should fail")
	}
}
