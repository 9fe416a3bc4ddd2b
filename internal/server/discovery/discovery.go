package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/memberlist"

	"github.com/yndnr/dtnmesh-go/internal/cla/udp"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Routes is the part of the engine discovery writes to.
type Routes interface {
	AddDuct(ctx context.Context, d *domain.Duct) error
	UnblockDuct(ctx context.Context, name string) error
	BlockDuct(ctx context.Context, name string) error
	Plan(ctx context.Context, node uint64) (*domain.Plan, error)
	AddPlan(ctx context.Context, p *domain.Plan) error
	UpdatePlan(ctx context.Context, p *domain.Plan) error
}

// Kin registers multicast kin.
type Kin interface {
	AddKin(ctx context.Context, node uint64) error
}

// Config configures discovery.
type Config struct {
	// Node is the local node number.
	Node uint64

	// BindAddr and BindPort are the gossip listen address. Port 0 picks a
	// free port.
	BindAddr string
	BindPort int

	// UDPAddr is the convergence-layer address advertised to peers.
	UDPAddr string

	// Rate is the pacing of ducts created for peers, in bytes per second.
	Rate uint64

	// Seeds are gossip addresses joined at start.
	Seeds []string

	// SecretKey encrypts gossip when set (16, 24 or 32 bytes).
	SecretKey []byte

	Logger *slog.Logger
}

// nodeMetadata is gossiped with every node.
type nodeMetadata struct {
	Node    uint64 `json:"node"`
	UDPAddr string `json:"udp_addr"`
}

// Peer is a discovered neighbor.
type Peer struct {
	Node    uint64
	UDPAddr string
	Gossip  string
}

type peerEvent struct {
	peer Peer
	join bool
}

// Discovery handles neighbor discovery.
type Discovery struct {
	cfg        Config
	memberList *memberlist.Memberlist
	logger     *slog.Logger
	routes     Routes
	kin        Kin

	events chan peerEvent
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	shutdown bool
	onPeer   func(Peer, bool)
}

// Option configures a Discovery.
type Option func(*Discovery)

// WithKin makes every discovered peer a multicast kin.
func WithKin(k Kin) Option {
	return func(d *Discovery) { d.kin = k }
}

// OnPeer registers a callback run after a peer event has been applied.
func OnPeer(fn func(p Peer, joined bool)) Option {
	return func(d *Discovery) { d.onPeer = fn }
}

// New starts gossip and joins the seeds.
func New(cfg Config, routes Routes, opts ...Option) (*Discovery, error) {
	if cfg.Node == 0 {
		return nil, domain.ErrInvalidArgument.WithDetails("discovery needs a node number")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Discovery{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "discovery"),
		routes: routes,
		events: make(chan peerEvent, 100),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(d)
	}

	meta, err := json.Marshal(nodeMetadata{Node: cfg.Node, UDPAddr: cfg.UDPAddr})
	if err != nil {
		cancel()
		return nil, err
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = "node-" + strconv.FormatUint(cfg.Node, 10)
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.SecretKey = cfg.SecretKey
	mlConfig.LogOutput = &slogWriter{logger: d.logger}
	mlConfig.Delegate = &metadataDelegate{meta: meta}
	mlConfig.Events = &eventDelegate{discovery: d}

	d.wg.Add(1)
	go d.apply()

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		d.stopWorker()
		return nil, fmt.Errorf("create memberlist: %w", err)
	}
	d.memberList = ml

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			// peers may come up later and join us instead
			d.logger.Warn("no seed reachable", "seeds", cfg.Seeds, "error", err)
		} else {
			d.logger.Info("joined gossip", "seeds", cfg.Seeds, "joined_count", n)
		}
	} else {
		d.logger.Info("started discovery (bootstrap mode)", "node", cfg.Node)
	}
	return d, nil
}

// Join contacts more gossip addresses.
func (d *Discovery) Join(addrs ...string) (int, error) {
	return d.memberList.Join(addrs)
}

// Peers returns the live neighbors, ordered by node number.
func (d *Discovery) Peers() []Peer {
	var out []Peer
	for _, n := range d.memberList.Members() {
		p, ok := peerOf(n)
		if !ok || p.Node == d.cfg.Node {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Peer) int {
		switch {
		case a.Node < b.Node:
			return -1
		case a.Node > b.Node:
			return 1
		}
		return 0
	})
	return out
}

// LocalNode returns the local memberlist node.
func (d *Discovery) LocalNode() *memberlist.Node {
	return d.memberList.LocalNode()
}

const leaveTimeout = time.Second

// Leave announces departure to the other nodes.
func (d *Discovery) Leave() error {
	if err := d.memberList.Leave(leaveTimeout); err != nil {
		d.logger.Error("failed to leave gossip", "error", err)
		return err
	}
	d.logger.Info("left gossip")
	return nil
}

// Shutdown stops gossip and waits for pending peer events to be applied.
func (d *Discovery) Shutdown() error {
	d.mu.Lock()
	if d.shutdown {
		d.mu.Unlock()
		return nil
	}
	d.shutdown = true
	d.mu.Unlock()

	err := d.memberList.Shutdown()
	d.stopWorker()
	if err != nil {
		return fmt.Errorf("shutdown memberlist: %w", err)
	}
	d.logger.Info("discovery shutdown complete")
	return nil
}

func (d *Discovery) stopWorker() {
	d.mu.Lock()
	d.shutdown = true
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

// post queues a peer event. memberlist calls the delegates from its own
// goroutines, so engine work happens in apply.
func (d *Discovery) post(ev peerEvent) {
	select {
	case d.events <- ev:
	case <-d.ctx.Done():
	}
}

func (d *Discovery) apply() {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case ev := <-d.events:
			var err error
			if ev.join {
				err = d.peerJoined(d.ctx, ev.peer)
			} else {
				err = d.peerLeft(d.ctx, ev.peer)
			}
			if err != nil && d.ctx.Err() == nil {
				d.logger.Warn("cannot apply peer event", "peer", ev.peer.Node, "join", ev.join, "error", err)
			}
			if d.onPeer != nil {
				d.onPeer(ev.peer, ev.join)
			}
		}
	}
}

// peerJoined installs or reopens the route to a peer.
func (d *Discovery) peerJoined(ctx context.Context, p Peer) error {
	name := udp.DuctName(p.UDPAddr)
	err := d.routes.AddDuct(ctx, &domain.Duct{
		Name:     name,
		Protocol: udp.Protocol,
		Neighbor: p.Node,
		Address:  p.UDPAddr,
		Rate:     d.cfg.Rate,
	})
	switch {
	case errors.Is(err, domain.ErrDuctExists):
		if err := d.routes.UnblockDuct(ctx, name); err != nil {
			return err
		}
	case err != nil:
		return err
	}

	plan, err := d.routes.Plan(ctx, p.Node)
	switch {
	case errors.Is(err, domain.ErrPlanNotFound):
		err = d.routes.AddPlan(ctx, &domain.Plan{Node: p.Node, Rate: d.cfg.Rate, Ducts: []string{name}, Continuous: true})
	case err != nil:
	case !slices.Contains(plan.Ducts, name):
		// configured ducts keep their preference
		plan.Ducts = append(plan.Ducts, name)
		err = d.routes.UpdatePlan(ctx, plan)
	}
	if err != nil {
		return err
	}

	if d.kin != nil {
		if err := d.kin.AddKin(ctx, p.Node); err != nil {
			return err
		}
	}
	d.logger.Info("peer route installed", "peer", p.Node, "duct", name)
	return nil
}

// peerLeft parks the peer's bundles until it comes back.
func (d *Discovery) peerLeft(ctx context.Context, p Peer) error {
	name := udp.DuctName(p.UDPAddr)
	if err := d.routes.BlockDuct(ctx, name); err != nil && !errors.Is(err, domain.ErrDuctNotFound) {
		return err
	}
	d.logger.Info("peer route blocked", "peer", p.Node, "duct", name)
	return nil
}

func peerOf(n *memberlist.Node) (Peer, bool) {
	var meta nodeMetadata
	if err := json.Unmarshal(n.Meta, &meta); err != nil || meta.Node == 0 {
		return Peer{}, false
	}
	return Peer{
		Node:    meta.Node,
		UDPAddr: meta.UDPAddr,
		Gossip:  net.JoinHostPort(n.Addr.String(), strconv.Itoa(int(n.Port))),
	}, true
}

// eventDelegate implements memberlist.EventDelegate.
type eventDelegate struct {
	discovery *Discovery
}

func (e *eventDelegate) peer(n *memberlist.Node) (Peer, bool) {
	d := e.discovery
	p, ok := peerOf(n)
	if !ok {
		d.logger.Warn("member without node metadata ignored", "member", n.Name)
		return p, false
	}
	if p.Node == d.cfg.Node {
		return p, false
	}
	if p.UDPAddr == "" {
		d.logger.Debug("peer advertises no udp address", "peer", p.Node)
		return p, false
	}
	return p, true
}

// NotifyJoin is called when a node joins.
func (e *eventDelegate) NotifyJoin(n *memberlist.Node) {
	if p, ok := e.peer(n); ok {
		e.discovery.logger.Info("peer joined", "peer", p.Node, "gossip_addr", p.Gossip, "udp_addr", p.UDPAddr)
		e.discovery.post(peerEvent{peer: p, join: true})
	}
}

// NotifyLeave is called when a node leaves or is declared dead.
func (e *eventDelegate) NotifyLeave(n *memberlist.Node) {
	if p, ok := e.peer(n); ok {
		e.discovery.logger.Info("peer left", "peer", p.Node, "gossip_addr", p.Gossip)
		e.discovery.post(peerEvent{peer: p})
	}
}

// NotifyUpdate is called when a node changes its metadata.
func (e *eventDelegate) NotifyUpdate(n *memberlist.Node) {
	if p, ok := e.peer(n); ok {
		e.discovery.logger.Debug("peer updated", "peer", p.Node, "udp_addr", p.UDPAddr)
		e.discovery.post(peerEvent{peer: p, join: true})
	}
}

// slogWriter adapts slog.Logger to io.Writer for memberlist.
type slogWriter struct {
	logger *slog.Logger
}

// Write implements io.Writer.
func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// metadataDelegate provides the node metadata to memberlist.
type metadataDelegate struct {
	meta []byte
}

// NodeMeta returns metadata about this node (up to limit bytes).
func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.meta) > limit {
		return m.meta[:limit]
	}
	return m.meta
}

func (m *metadataDelegate) NotifyMsg([]byte)                           {}
func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }
func (m *metadataDelegate) LocalState(join bool) []byte                { return nil }
func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool)     {}
