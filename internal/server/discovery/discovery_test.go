package discovery

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/cla/udp"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// fakeRoutes records what discovery installs.
type fakeRoutes struct {
	mu      sync.Mutex
	ducts   map[string]*domain.Duct
	plans   map[uint64]*domain.Plan
	kin     []uint64
	updated int
}

func newFakeRoutes() *fakeRoutes {
	return &fakeRoutes{ducts: make(map[string]*domain.Duct), plans: make(map[uint64]*domain.Plan)}
}

func (f *fakeRoutes) AddDuct(_ context.Context, d *domain.Duct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ducts[d.Name]; ok {
		return domain.ErrDuctExists
	}
	cp := *d
	f.ducts[d.Name] = &cp
	return nil
}

func (f *fakeRoutes) setBlocked(name string, blocked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.ducts[name]
	if !ok {
		return domain.ErrDuctNotFound
	}
	d.Blocked = blocked
	return nil
}

func (f *fakeRoutes) BlockDuct(_ context.Context, name string) error   { return f.setBlocked(name, true) }
func (f *fakeRoutes) UnblockDuct(_ context.Context, name string) error { return f.setBlocked(name, false) }

func (f *fakeRoutes) Plan(_ context.Context, node uint64) (*domain.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.plans[node]
	if !ok {
		return nil, domain.ErrPlanNotFound
	}
	cp := *p
	cp.Ducts = slices.Clone(p.Ducts)
	return &cp, nil
}

func (f *fakeRoutes) AddPlan(_ context.Context, p *domain.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.plans[p.Node]; ok {
		return domain.ErrPlanExists
	}
	f.plans[p.Node] = p
	return nil
}

func (f *fakeRoutes) UpdatePlan(_ context.Context, p *domain.Plan) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plans[p.Node] = p
	f.updated++
	return nil
}

func (f *fakeRoutes) AddKin(_ context.Context, node uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !slices.Contains(f.kin, node) {
		f.kin = append(f.kin, node)
	}
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type event struct {
	peer   Peer
	joined bool
}

func waitEvent(t *testing.T, ch <-chan event) event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a peer event")
		return event{}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{BindAddr: "127.0.0.1"}, newFakeRoutes()); err == nil {
		t.Fatal("expected an error for node 0")
	}
}

func TestDiscovery_Metadata(t *testing.T) {
	d, err := New(Config{Node: 5, BindAddr: "127.0.0.1", UDPAddr: "127.0.0.1:4556", Logger: quietLogger()}, newFakeRoutes())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer d.Shutdown()

	local := d.LocalNode()
	if local.Name != "node-5" {
		t.Errorf("expected node name node-5, got %q", local.Name)
	}
	var meta nodeMetadata
	if err := json.Unmarshal(local.Meta, &meta); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}
	if meta.Node != 5 || meta.UDPAddr != "127.0.0.1:4556" {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if peers := d.Peers(); len(peers) != 0 {
		t.Errorf("expected no peers, got %v", peers)
	}

	// shutdown is idempotent
	if err := d.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := d.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}
}

func TestDiscovery_PeerRoutes(t *testing.T) {
	routes := newFakeRoutes()
	// a configured plan keeps its own duct first
	routes.plans[2] = &domain.Plan{Node: 2, Ducts: []string{"tcp/two"}}

	events := make(chan event, 8)
	d1, err := New(Config{Node: 1, BindAddr: "127.0.0.1", UDPAddr: "127.0.0.1:4556", Rate: 1000, Logger: quietLogger()},
		routes, WithKin(routes), OnPeer(func(p Peer, joined bool) { events <- event{p, joined} }))
	if err != nil {
		t.Fatalf("New node 1: %v", err)
	}
	defer d1.Shutdown()

	seed := d1.LocalNode().Address()
	d2, err := New(Config{Node: 2, BindAddr: "127.0.0.1", UDPAddr: "127.0.0.1:4557", Seeds: []string{seed}, Logger: quietLogger()}, newFakeRoutes())
	if err != nil {
		t.Fatalf("New node 2: %v", err)
	}
	d3, err := New(Config{Node: 3, BindAddr: "127.0.0.1", UDPAddr: "127.0.0.1:4558", Seeds: []string{seed}, Logger: quietLogger()}, newFakeRoutes())
	if err != nil {
		t.Fatalf("New node 3: %v", err)
	}
	defer d3.Shutdown()

	joined := map[uint64]bool{}
	for len(joined) < 2 {
		ev := waitEvent(t, events)
		if ev.joined {
			joined[ev.peer.Node] = true
		}
	}

	routes.mu.Lock()
	name2, name3 := udp.DuctName("127.0.0.1:4557"), udp.DuctName("127.0.0.1:4558")
	if d := routes.ducts[name2]; d == nil || d.Neighbor != 2 || d.Protocol != udp.Protocol || d.Rate != 1000 {
		t.Errorf("unexpected duct for node 2: %+v", d)
	}
	if got := routes.plans[2].Ducts; !slices.Equal(got, []string{"tcp/two", name2}) {
		t.Errorf("plan 2 ducts = %v", got)
	}
	if p := routes.plans[3]; p == nil || !p.Continuous || !slices.Equal(p.Ducts, []string{name3}) {
		t.Errorf("unexpected plan for node 3: %+v", p)
	}
	kin := slices.Clone(routes.kin)
	routes.mu.Unlock()
	slices.Sort(kin)
	if !slices.Equal(kin, []uint64{2, 3}) {
		t.Errorf("kin = %v", kin)
	}

	if peers := d1.Peers(); len(peers) != 2 || peers[0].Node != 2 || peers[1].Node != 3 {
		t.Errorf("Peers() = %+v", peers)
	}

	// a departing peer has its duct blocked
	if err := d2.Leave(); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	d2.Shutdown()
	for {
		ev := waitEvent(t, events)
		if !ev.joined && ev.peer.Node == 2 {
			break
		}
	}
	routes.mu.Lock()
	blocked := routes.ducts[name2].Blocked
	routes.mu.Unlock()
	if !blocked {
		t.Error("duct to the departed peer is not blocked")
	}
}
