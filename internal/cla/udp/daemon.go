package udp

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/infra/periodic"
)

// DefaultSyncInterval is how often a Daemon looks for new udp ducts.
const DefaultSyncInterval = 2 * time.Second

// Ducts is the engine surface used by a Daemon.
type Ducts interface {
	OutputDucts
	InputDucts
}

// DuctLister lists the ducts of the plan table.
type DuctLister interface {
	ListDucts(ctx context.Context) ([]domain.Duct, error)
}

// Daemon owns the udp socket of a node. It runs the input daemon and one
// output daemon per udp duct.
type Daemon struct {
	node   uint64
	conn   net.PacketConn
	ducts  Ducts
	plans  DuctLister
	logger *slog.Logger
	period time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	runner *periodic.Runner
	wg     sync.WaitGroup

	mu      sync.Mutex
	outputs map[string]*output
}

type output struct {
	cancel context.CancelFunc
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Daemon) { d.logger = l }
}

// WithSyncInterval sets how often the duct table is rescanned.
func WithSyncInterval(p time.Duration) Option {
	return func(d *Daemon) { d.period = p }
}

// NewDaemon creates a daemon for node serving conn.
func NewDaemon(node uint64, conn net.PacketConn, ducts Ducts, plans DuctLister, opts ...Option) *Daemon {
	d := &Daemon{
		node:    node,
		conn:    conn,
		ducts:   ducts,
		plans:   plans,
		logger:  slog.Default(),
		period:  DefaultSyncInterval,
		outputs: make(map[string]*output),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "udp")
	return d
}

// Addr returns the local socket address.
func (d *Daemon) Addr() net.Addr {
	return d.conn.LocalAddr()
}

// Start launches the input daemon and the output scan.
func (d *Daemon) Start() {
	d.ctx, d.cancel = context.WithCancel(context.Background())

	in := NewInput(d.ducts, d.conn, d.logger)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := in.Run(d.ctx); err != nil {
			d.logger.Error("udp input stopped", "error", err)
		}
	}()

	d.runner = periodic.Start(periodic.TaskFunc{TaskName: "udp-ducts", Fn: d.Sync}, periodic.NewTicker(d.period), d.period, d.logger)
	d.runner.TriggerRun()
	d.logger.Info("udp convergence layer started", "address", d.conn.LocalAddr().String())
}

// Sync starts an output daemon for every udp duct that has none and stops
// the daemons of ducts that left the table.
func (d *Daemon) Sync(ctx context.Context) {
	ducts, err := d.plans.ListDucts(ctx)
	if err != nil {
		d.logger.Warn("cannot list ducts", "error", err)
		return
	}
	present := make(map[string]bool, len(ducts))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx.Err() != nil {
		return
	}
	for _, duct := range ducts {
		if duct.Protocol != Protocol {
			continue
		}
		present[duct.Name] = true
		if _, ok := d.outputs[duct.Name]; ok {
			continue
		}
		d.startOutput(duct)
	}
	for name, o := range d.outputs {
		if !present[name] {
			o.cancel()
			delete(d.outputs, name)
		}
	}
}

// startOutput must be called with mu held.
func (d *Daemon) startOutput(duct domain.Duct) {
	ctx, cancel := context.WithCancel(d.ctx)
	handle := &output{cancel: cancel}
	d.outputs[duct.Name] = handle
	out := NewOutput(d.ducts, d.node, duct, d.conn, d.logger)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := out.Run(ctx)
		if err != nil && ctx.Err() == nil {
			d.logger.Warn("udp output stopped", "duct", duct.Name, "error", err)
		} else {
			d.logger.Debug("udp output finished", "duct", duct.Name)
		}
		cancel()

		// a later scan restarts the duct if it is still configured
		d.mu.Lock()
		if d.outputs[duct.Name] == handle {
			delete(d.outputs, duct.Name)
		}
		d.mu.Unlock()
	}()
}

// Outputs returns the names of ducts with a running output daemon.
func (d *Daemon) Outputs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.outputs))
	for name := range d.outputs {
		names = append(names, name)
	}
	return names
}

// Stop stops all daemons and closes the socket.
func (d *Daemon) Stop() error {
	if d.cancel == nil {
		return d.conn.Close()
	}
	d.runner.Stop()
	d.mu.Lock()
	d.cancel()
	d.mu.Unlock()
	err := d.conn.Close()
	d.wg.Wait()
	d.logger.Info("udp convergence layer stopped")
	return err
}
