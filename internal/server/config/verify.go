package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// Verify validates the configuration.
func Verify(cfg *NodeConfig) error {
	if cfg.Node.Number == 0 {
		return errors.New("node.number is required")
	}
	if err := verifyStorage(&cfg.Storage); err != nil {
		return err
	}
	if err := verifyEngine(cfg); err != nil {
		return err
	}
	if err := verifyServer(&cfg.Server); err != nil {
		return err
	}
	if err := verifyCLA(&cfg.CLA); err != nil {
		return err
	}
	if err := verifyDiscovery(&cfg.Discovery); err != nil {
		return err
	}
	if err := verifyPlans(cfg); err != nil {
		return err
	}
	return verifyLog(&cfg.Log)
}

func verifyStorage(cfg *StorageSection) error {
	if cfg.GCInterval != "" {
		if _, err := time.ParseDuration(cfg.GCInterval); err != nil {
			return fmt.Errorf("storage.gc_interval: %w", err)
		}
	}
	if cfg.ConflictRetries < 0 {
		return errors.New("storage.conflict_retries must not be negative")
	}
	if cfg.InMemory {
		return nil
	}
	if cfg.DataDir == "" {
		return errors.New("storage.data_dir is required")
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return errors.New("cannot create data directory: " + err.Error())
	}
	return nil
}

func verifyEngine(cfg *NodeConfig) error {
	if cfg.Clock.Interval <= 0 {
		return errors.New("clock.interval must be positive")
	}
	if cfg.Custody.Retry <= 0 {
		return errors.New("custody.retry must be positive")
	}
	if cfg.Routing.MaxHops < 1 {
		return errors.New("routing.max_hops must be at least 1")
	}
	if _, err := tieBreak(cfg.Routing.TieBreak); err != nil {
		return err
	}
	if cfg.Sync.Interval <= 0 {
		return errors.New("sync.interval must be positive")
	}
	if cfg.Sync.Batch < 1 {
		return errors.New("sync.batch must be at least 1")
	}
	return nil
}

func tieBreak(names []string) ([]service.TieBreak, error) {
	out := make([]service.TieBreak, 0, len(names))
	for _, n := range names {
		tb, err := service.ParseTieBreak(strings.ToLower(strings.TrimSpace(n)))
		if err != nil {
			return nil, fmt.Errorf("routing.tie_break: %w", err)
		}
		out = append(out, tb)
	}
	return out, nil
}

func verifyServer(cfg *ServerSection) error {
	if cfg.HTTP.Addr != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("server.http.addr: %w", err)
		}
	}
	if (cfg.HTTP.TLSCertFile == "") != (cfg.HTTP.TLSKeyFile == "") {
		return errors.New("server.http.tls_cert_file and tls_key_file must be set together")
	}
	if cfg.HTTP.ClientCAFile != "" && cfg.HTTP.TLSCertFile == "" {
		return errors.New("server.http.client_ca_file requires tls_cert_file and tls_key_file")
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("server.http.rate_limit must not be negative")
	}
	for _, entry := range cfg.HTTP.AllowList {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				return fmt.Errorf("server.http.allow_list: %w", err)
			}
		} else if net.ParseIP(entry) == nil {
			return fmt.Errorf("server.http.allow_list: invalid IP %q", entry)
		}
	}
	if cfg.Duct.Enabled && cfg.Duct.Path == "" {
		return errors.New("server.duct.path is required")
	}
	if cfg.Admin.Enabled && cfg.Admin.Path == "" {
		return errors.New("server.admin.path is required")
	}
	return nil
}

func verifyCLA(cfg *CLASection) error {
	if !cfg.UDP.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.UDP.Listen); err != nil {
		return fmt.Errorf("cla.udp.listen: %w", err)
	}
	for i, p := range cfg.UDP.Peers {
		if p.Node == 0 {
			return fmt.Errorf("cla.udp.peers[%d]: node is required", i)
		}
		if _, _, err := net.SplitHostPort(p.Address); err != nil {
			return fmt.Errorf("cla.udp.peers[%d].address: %w", i, err)
		}
	}
	return nil
}

func verifyDiscovery(cfg *DiscoverySection) error {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BindPort < 0 || cfg.BindPort > 65535 {
		return errors.New("discovery.bind_port is out of range")
	}
	if _, err := GossipKey(cfg.SecretKey); err != nil {
		return err
	}
	return nil
}

func verifyPlans(cfg *NodeConfig) error {
	seen := make(map[uint64]struct{}, len(cfg.Plans))
	for i, p := range cfg.Plans {
		if p.Node == 0 {
			return fmt.Errorf("plans[%d]: node is required", i)
		}
		if _, dup := seen[p.Node]; dup {
			return fmt.Errorf("plans[%d]: duplicate plan for node %d", i, p.Node)
		}
		seen[p.Node] = struct{}{}
		for j, d := range p.Ducts {
			if d.Name == "" || d.Protocol == "" {
				return fmt.Errorf("plans[%d].ducts[%d]: name and protocol are required", i, j)
			}
		}
	}
	for _, k := range cfg.Kin {
		if k == 0 || k == cfg.Node.Number {
			return fmt.Errorf("kin: invalid node %d", k)
		}
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	switch strings.ToLower(cfg.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Level)
	}
	switch strings.ToLower(cfg.Format) {
	case "", "json", "text", "console":
	default:
		return fmt.Errorf("log.format: unknown format %q", cfg.Format)
	}
	return nil
}
