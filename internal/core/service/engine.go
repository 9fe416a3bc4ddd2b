package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/infra/periodic"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/internal/storage/memory"
	"github.com/yndnr/dtnmesh-go/internal/telemetry/metric"
	"github.com/yndnr/dtnmesh-go/pkg/cmap"
	"github.com/yndnr/dtnmesh-go/pkg/sema"
)

// Config holds the engine settings.
type Config struct {
	// Node is this node's ipn node number.
	Node uint64

	// Region is the region whose contact plan this node shares.
	Region uint32

	// CustodyRetry is the interval after which an unacknowledged custodial
	// bundle is re-forwarded.
	CustodyRetry time.Duration

	// MaxHops bounds contact graph route search.
	MaxHops int

	// TieBreak orders equally reachable routes. Empty means
	// DefaultTieBreak.
	TieBreak []TieBreak

	// HopLimit, when positive, adds a hop count block to locally sourced
	// bundles.
	HopLimit uint32

	// AdminLifetime is the lifetime of status reports, custody signals,
	// petitions and contact notices.
	AdminLifetime time.Duration

	// ClockInterval is the period of the housekeeping sweep.
	ClockInterval time.Duration

	// SyncInterval is the period of the contact notice synchronizer.
	SyncInterval time.Duration

	// SyncBatch caps the notices carried by one synchronizer bundle.
	SyncBatch int

	// DedupeTTL is how long multicast bundle fingerprints are remembered.
	DedupeTTL time.Duration

	// SweepBatch caps the bundles handled per transaction by sweeps.
	SweepBatch int
}

// DefaultConfig returns the default engine configuration for node.
func DefaultConfig(node uint64) Config {
	return Config{
		Node:          node,
		CustodyRetry:  time.Minute,
		MaxHops:       4,
		TieBreak:      DefaultTieBreak,
		AdminLifetime: 24 * time.Hour,
		ClockInterval: time.Second,
		SyncInterval:  time.Second,
		SyncBatch:     64,
		DedupeTTL:     10 * time.Minute,
		SweepBatch:    128,
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics sets the metrics registry.
func WithMetrics(m *metric.Registry) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine is the bundle node. It owns the store handle, the contact index,
// the wake semaphores and every service, and is the context object handed
// to each of them.
type Engine struct {
	cfg     Config
	store   *storage.Store
	index   *memory.ContactIndex
	metrics *metric.Registry
	logger  *slog.Logger
	now     func() time.Time
	ids     *storage.IDGen

	// wake semaphores keyed by semKey
	sems *cmap.Map[string, *sema.Semaphore]

	Router      *Router
	Plans       *PlanService
	Ducts       *DuctService
	Custody     *CustodyService
	Multicast   *MulticastService
	ContactPlan *ContactPlanService
	Sync        *Synchronizer
	Clock       *Clock
	Bundles     *BundleService

	startedAt time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	group   *errgroup.Group
	runners []*periodic.Runner
}

// NewEngine builds an engine over an open store.
func NewEngine(store *storage.Store, cfg Config, opts ...Option) (*Engine, error) {
	if cfg.Node == 0 {
		return nil, domain.ErrNotInitialized.WithDetails("node number is not configured")
	}
	if store == nil {
		return nil, domain.ErrStoreUnavailable.WithDetails("no bundle store")
	}
	def := DefaultConfig(cfg.Node)
	if cfg.CustodyRetry <= 0 {
		cfg.CustodyRetry = def.CustodyRetry
	}
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = def.MaxHops
	}
	if len(cfg.TieBreak) == 0 {
		cfg.TieBreak = def.TieBreak
	}
	if cfg.AdminLifetime <= 0 {
		cfg.AdminLifetime = def.AdminLifetime
	}
	if cfg.ClockInterval <= 0 {
		cfg.ClockInterval = def.ClockInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.SyncBatch <= 0 {
		cfg.SyncBatch = def.SyncBatch
	}
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = def.DedupeTTL
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}

	e := &Engine{
		cfg:   cfg,
		store: store,
		index: memory.NewContactIndex(),
		now:   time.Now,
		ids:   storage.NewIDGen(),
		sems:  cmap.New[string, *sema.Semaphore](),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.metrics == nil {
		e.metrics = metric.NewRegistry()
	}
	e.logger = e.logger.With("node", cfg.Node)

	e.Router = newRouter(e)
	e.Plans = &PlanService{e: e, logger: e.component("plans")}
	e.Ducts = &DuctService{e: e, logger: e.component("ducts")}
	e.Custody = &CustodyService{e: e, logger: e.component("custody")}
	e.Multicast = newMulticastService(e)
	e.ContactPlan = &ContactPlanService{e: e, logger: e.component("contactplan")}
	e.Sync = &Synchronizer{e: e, logger: e.component("sync")}
	e.Clock = &Clock{e: e, logger: e.component("clock")}
	e.Bundles = &BundleService{e: e, logger: e.component("bundles"), endpoints: cmap.New[string, *Endpoint]()}
	return e, nil
}

func (e *Engine) component(name string) *slog.Logger {
	return e.logger.With("component", name)
}

// Node returns the local node number.
func (e *Engine) Node() uint64 { return e.cfg.Node }

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// Store returns the bundle store.
func (e *Engine) Store() *storage.Store { return e.store }

// Metrics returns the metrics registry.
func (e *Engine) Metrics() *metric.Registry { return e.metrics }

// Now returns the current DTN time.
func (e *Engine) Now() domain.DTNTime {
	return domain.ToDTNTime(e.now())
}

// AdminEID returns the local administrative endpoint.
func (e *Engine) AdminEID() domain.EID {
	return domain.AdminEID(e.cfg.Node)
}

func (e *Engine) isLocalNode(eid domain.EID) bool {
	return eid.Scheme == domain.SchemeIPN && eid.Node == e.cfg.Node
}

// isRemoteNode reports whether eid names an ipn endpoint on another node.
func (e *Engine) isRemoteNode(eid domain.EID) bool {
	return eid.Scheme == domain.SchemeIPN && eid.Node != 0 && eid.Node != e.cfg.Node
}

// ============================================================================
// Lifecycle
// ============================================================================

// Start loads the contact plan, recovers in-flight bundles and starts the
// forwarders, the admin endpoint, the notice receiver, the clock and the
// synchronizer. The daemons run until Stop is called or ctx is cancelled.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}
	e.startedAt = e.now()
	e.sems.Set(semKey(domain.DispatchQueue(domain.SchemeIPN)), sema.New())
	e.sems.Set(semKey(domain.DispatchQueue(domain.SchemeIMC)), sema.New())

	if err := e.ContactPlan.load(ctx); err != nil {
		return err
	}
	if err := e.recover(ctx); err != nil {
		return err
	}

	adminEP, err := e.Bundles.Open(ctx, e.AdminEID())
	if err != nil {
		return err
	}
	regionEP, err := e.Bundles.Open(ctx, domain.IMC(domain.RegionalGroup, domain.AdminService))
	if err != nil {
		adminEP.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return newForwarder(e, domain.SchemeIPN).run(gctx) })
	g.Go(func() error { return newForwarder(e, domain.SchemeIMC).run(gctx) })
	g.Go(func() error { return e.runAdminEndpoint(gctx, adminEP) })
	g.Go(func() error { return e.Sync.receive(gctx, regionEP) })

	e.runners = []*periodic.Runner{
		periodic.Start(e.Clock, periodic.NewTicker(e.cfg.ClockInterval), e.cfg.ClockInterval*5, e.logger),
		periodic.Start(e.Sync, periodic.NewTicker(e.cfg.SyncInterval), e.cfg.SyncInterval*5, e.logger),
	}
	e.cancel = cancel
	e.group = g
	e.running = true

	e.logger.Info("engine started",
		"region", e.cfg.Region,
		"max_hops", e.cfg.MaxHops,
		"custody_retry", e.cfg.CustodyRetry)
	return nil
}

// Stop ends every semaphore so that blocked daemons and receivers wake and
// exit, stops the periodic tasks and waits for the daemons. Bundles are
// left where they are.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	runners, group, cancel := e.runners, e.group, e.cancel
	e.mu.Unlock()

	for _, r := range runners {
		r.Kill()
	}
	e.sems.Range(func(_ string, s *sema.Semaphore) bool {
		s.End()
		return true
	})
	cancel()
	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	e.logger.Info("engine stopped")
	return err
}

// recover re-dispatches bundles left in transit by a daemon that died
// before reporting and bundles queued on ducts that no longer exist. It
// clears duct owners of the previous run and wakes every queue that holds
// work.
func (e *Engine) recover(ctx context.Context) error {
	var (
		ducts  []domain.Duct
		orphan []domain.QueueRef
	)
	err := e.store.Update(ctx, func(tx *storage.Txn) error {
		orphan = orphan[:0]
		var err error
		if ducts, err = tx.Ducts(); err != nil {
			return err
		}
		known := make(map[string]bool, len(ducts))
		for i := range ducts {
			known[ducts[i].Name] = true
			if ducts[i].Owner != "" {
				ducts[i].Owner = ""
				if err := tx.PutDuct(&ducts[i]); err != nil {
					return err
				}
			}
		}
		for _, kind := range []domain.QueueKind{domain.QueueTransit, domain.QueueDuct} {
			names, err := tx.QueuesOfKind(kind)
			if err != nil {
				return err
			}
			for _, name := range names {
				q, ok := parseQueueName(name)
				if ok && (kind == domain.QueueTransit || !known[q.Owner]) {
					orphan = append(orphan, q)
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range ducts {
		key := ductSemKey(ducts[i].Name)
		if s, ok := e.sems.Get(key); !ok || s.Ended() {
			e.sems.Set(key, sema.New())
		}
	}

	recovered := 0
	for _, q := range orphan {
		n, err := e.eachQueued(ctx, q, e.redispatch)
		if err != nil {
			return err
		}
		recovered += n
	}

	var depths map[string]int
	if err := e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		depths, err = tx.QueueDepths()
		return err
	}); err != nil {
		return err
	}
	for name := range depths {
		e.give(semKeyFromQueueName(name))
	}
	if recovered > 0 {
		e.logger.Warn("re-dispatched bundles left in transit", "count", recovered)
	}
	return nil
}

// ============================================================================
// Semaphores
// ============================================================================

func semKey(q domain.QueueRef) string {
	if q.Kind == domain.QueueDuct {
		return ductSemKey(q.Owner)
	}
	return q.Name()
}

func ductSemKey(name string) string {
	return domain.QueueDuct.String() + "/" + name
}

// semKeyFromQueueName maps a stored queue name to the semaphore that
// covers it. Duct queues carry a priority suffix that is shared by one
// semaphore.
func semKeyFromQueueName(name string) string {
	if strings.HasPrefix(name, domain.QueueDuct.String()+"/") {
		if i := strings.LastIndexByte(name, '/'); i > 0 {
			return name[:i]
		}
	}
	return name
}

// give signals the semaphore for key if one exists. Queues without a
// semaphore (closed endpoints, unknown ducts) are picked up when their
// consumer appears.
func (e *Engine) give(key string) {
	if s, ok := e.sems.Get(key); ok {
		s.Give()
	}
}

// wakeOnCommit gives the semaphore covering q once tx commits.
func (e *Engine) wakeOnCommit(tx *storage.Txn, q domain.QueueRef) {
	key := semKey(q)
	tx.OnCommit(func() { e.give(key) })
}

// ============================================================================
// Shared bundle transitions
// ============================================================================

// redispatch puts b back in its scheme's dispatch queue.
func (e *Engine) redispatch(tx *storage.Txn, b *domain.Bundle) error {
	q := domain.DispatchQueue(b.Destination.Scheme)
	if b.Queue == q {
		return nil
	}
	b.Reforwards++
	if err := tx.MoveTo(b, q); err != nil {
		return err
	}
	e.wakeOnCommit(tx, q)
	return nil
}

// destroy removes a bundle for reason and counts it. Absent bundles are
// ignored.
func (e *Engine) destroy(tx *storage.Txn, id domain.BundleID, reason domain.Reason) (*domain.Bundle, error) {
	b, err := tx.Destroy(id)
	if err != nil || b == nil {
		return b, err
	}
	label := reason.String()
	tx.OnCommit(func() { e.metrics.BundlesDestroyed.WithLabelValues(label).Inc() })
	return b, nil
}

// abandon destroys b because it cannot be forwarded. The report-to
// endpoint gets a deletion report and a remote custodian gets a refusal.
// Admin records never cause reports.
func (e *Engine) abandon(tx *storage.Txn, b *domain.Bundle, reason domain.Reason, now domain.DTNTime) error {
	if _, err := e.destroy(tx, b.ID, reason); err != nil {
		return err
	}
	label := reason.String()
	tx.OnCommit(func() { e.metrics.BundlesAbandoned.WithLabelValues(label).Inc() })
	e.logger.Debug("bundle abandoned", "bundle", b.ID, "destination", b.Destination, "reason", label)

	if b.IsAdminRecord() || b.ID.Clone != 0 {
		return nil
	}
	if err := e.report(tx, b, domain.StatusDeleted, reason, now); err != nil {
		return err
	}
	if b.Custody.CanAccept() && e.isRemoteNode(b.Custodian) {
		return e.Custody.signal(tx, b, false, reason, now)
	}
	return nil
}

// expire destroys a bundle whose lifetime ended.
func (e *Engine) expire(tx *storage.Txn, id domain.BundleID, now domain.DTNTime) error {
	b, err := e.destroy(tx, id, domain.ReasonLifetimeExpired)
	if err != nil || b == nil {
		return err
	}
	if b.IsAdminRecord() || b.ID.Clone != 0 {
		return nil
	}
	return e.report(tx, b, domain.StatusDeleted, domain.ReasonLifetimeExpired, now)
}

// ============================================================================
// Status
// ============================================================================

// NodeStatus summarizes the engine state.
type NodeStatus struct {
	Node          uint64         `json:"node"`
	Region        uint32         `json:"region"`
	Uptime        string         `json:"uptime"`
	Now           domain.DTNTime `json:"now"`
	Queues        map[string]int `json:"queues"`
	Contacts      int            `json:"contacts"`
	Ranges        int            `json:"ranges"`
	Plans         int            `json:"plans"`
	Ducts         int            `json:"ducts"`
	Kin           []uint64       `json:"kin"`
	OpenEndpoints []string       `json:"open_endpoints"`
	PayloadBytes  uint64         `json:"payload_bytes"`
}

// Status reports queue depths and table sizes.
func (e *Engine) Status(ctx context.Context) (*NodeStatus, error) {
	st := &NodeStatus{
		Node:          e.cfg.Node,
		Region:        e.cfg.Region,
		Now:           e.Now(),
		OpenEndpoints: e.Bundles.endpoints.Keys(),
	}
	if !e.startedAt.IsZero() {
		st.Uptime = e.now().Sub(e.startedAt).Truncate(time.Second).String()
	}
	st.Contacts, st.Ranges = e.index.Len()
	err := e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		if st.Queues, err = tx.QueueDepths(); err != nil {
			return err
		}
		plans, err := tx.Plans()
		if err != nil {
			return err
		}
		ducts, err := tx.Ducts()
		if err != nil {
			return err
		}
		st.Plans, st.Ducts = len(plans), len(ducts)
		st.Kin, err = tx.KinNodes()
		return err
	})
	if err != nil {
		return nil, err
	}
	if stats, err := e.store.Stats(ctx); err == nil {
		st.PayloadBytes = stats.PayloadBytes
	}
	return st, nil
}

// Snapshot samples table sizes for the metrics collector.
func (e *Engine) Snapshot() metric.Snapshot {
	var s metric.Snapshot
	s.Contacts, s.Ranges = e.index.Len()
	s.OpenEndpoints = e.Bundles.endpoints.Count()
	_ = e.store.View(context.Background(), func(tx *storage.Txn) error {
		plans, err := tx.Plans()
		if err != nil {
			return err
		}
		ducts, err := tx.Ducts()
		if err != nil {
			return err
		}
		s.Plans, s.Ducts = len(plans), len(ducts)
		return nil
	})
	return s
}
