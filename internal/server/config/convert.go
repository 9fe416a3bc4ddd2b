package config

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/yndnr/dtnmesh-go/internal/cla/udp"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/internal/telemetry/logger"
)

// ToEngineConfig maps the node configuration onto engine settings.
func ToEngineConfig(cfg *NodeConfig) (service.Config, error) {
	if cfg == nil {
		return service.Config{}, fmt.Errorf("node config is nil")
	}
	order, err := tieBreak(cfg.Routing.TieBreak)
	if err != nil {
		return service.Config{}, err
	}
	out := service.DefaultConfig(cfg.Node.Number)
	out.Region = cfg.Node.Region
	out.HopLimit = cfg.Node.HopLimit
	out.AdminLifetime = cfg.Node.AdminLifetime
	out.ClockInterval = cfg.Clock.Interval
	out.SweepBatch = cfg.Clock.SweepBatch
	out.CustodyRetry = cfg.Custody.Retry
	out.MaxHops = cfg.Routing.MaxHops
	if len(order) > 0 {
		out.TieBreak = order
	}
	out.SyncInterval = cfg.Sync.Interval
	out.SyncBatch = cfg.Sync.Batch
	out.DedupeTTL = cfg.Multicast.DedupeTTL
	return out, nil
}

// ToStorageConfig maps the storage section onto store settings.
func ToStorageConfig(cfg *NodeConfig) storage.Config {
	s := cfg.Storage
	out := storage.DefaultConfig(s.DataDir)
	out.InMemory = s.InMemory
	out.QuotaBytes = s.QuotaBytes
	if s.ConflictRetries > 0 {
		out.ConflictRetries = s.ConflictRetries
	}
	if s.GCInterval != "" {
		out.Badger.GCInterval = s.GCInterval
	}
	if s.CacheSize > 0 {
		out.Badger.CacheSize = s.CacheSize
	}
	out.Badger.SyncWrites = s.SyncWrites
	return out
}

// ToLoggerConfig maps the log section onto logger settings.
func ToLoggerConfig(cfg *NodeConfig, w io.Writer) logger.Config {
	return logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    w,
		AddSource: cfg.Log.AddSource,
		Node:      cfg.Node.Number,
	}
}

// StaticRoutes returns the ducts and plans to install at start: the
// configured plans followed by a continuous plan per UDP peer that has no
// plan of its own.
func StaticRoutes(cfg *NodeConfig) ([]domain.Duct, []domain.Plan) {
	var (
		ducts []domain.Duct
		plans []domain.Plan
	)
	planned := make(map[uint64]struct{}, len(cfg.Plans))
	for _, p := range cfg.Plans {
		plan := domain.Plan{Node: p.Node, Rate: p.Rate, Continuous: p.Continuous}
		for _, d := range p.Ducts {
			ducts = append(ducts, domain.Duct{
				Name:     d.Name,
				Protocol: d.Protocol,
				Neighbor: p.Node,
				Address:  d.Address,
				Rate:     d.Rate,
			})
			plan.Ducts = append(plan.Ducts, d.Name)
		}
		planned[p.Node] = struct{}{}
		plans = append(plans, plan)
	}
	if !cfg.CLA.UDP.Enabled {
		return ducts, plans
	}
	for _, peer := range cfg.CLA.UDP.Peers {
		rate := peer.Rate
		if rate == 0 {
			rate = cfg.CLA.UDP.Rate
		}
		d := domain.Duct{
			Name:     udp.DuctName(peer.Address),
			Protocol: udp.Protocol,
			Neighbor: peer.Node,
			Address:  peer.Address,
			Rate:     rate,
		}
		ducts = append(ducts, d)
		if _, ok := planned[peer.Node]; ok {
			continue
		}
		planned[peer.Node] = struct{}{}
		plans = append(plans, domain.Plan{Node: peer.Node, Rate: rate, Ducts: []string{d.Name}, Continuous: true})
	}
	return ducts, plans
}

// GossipKey decodes the discovery secret. An empty secret disables gossip
// encryption.
func GossipKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(secret, "dtng_"))
	if err != nil {
		return nil, fmt.Errorf("discovery.secret_key: %w", err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("discovery.secret_key: want 16, 24 or 32 bytes, got %d", len(key))
}
