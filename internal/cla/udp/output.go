package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"golang.org/x/time/rate"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// OutputDucts is the engine side of an output daemon.
type OutputDucts interface {
	Attach(ctx context.Context, name string) (string, error)
	Detach(ctx context.Context, name, session string) error
	Dequeue(ctx context.Context, name string) (*service.Outbound, error)
	XmitSucceeded(ctx context.Context, id domain.BundleID) error
	XmitFailed(ctx context.Context, id domain.BundleID) error
	XmitRefused(ctx context.Context, id domain.BundleID, reason domain.Reason) error
}

// Output transmits the bundles of one duct.
type Output struct {
	ducts   OutputDucts
	node    uint64
	duct    domain.Duct
	conn    net.PacketConn
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewOutput creates an output daemon for duct, sending from conn as node.
// A duct rate of zero disables pacing.
func NewOutput(ducts OutputDucts, node uint64, duct domain.Duct, conn net.PacketConn, logger *slog.Logger) *Output {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Output{
		ducts:  ducts,
		node:   node,
		duct:   duct,
		conn:   conn,
		logger: logger.With("duct", duct.Name),
	}
	if duct.Rate > 0 {
		// the bucket must hold a full datagram or WaitN can never succeed
		burst := max(int(duct.Rate), MaxDatagram)
		o.limiter = rate.NewLimiter(rate.Limit(duct.Rate), burst)
	}
	return o
}

// Run attaches to the duct and transmits until the duct is closed or ctx
// is done.
func (o *Output) Run(ctx context.Context) error {
	session, err := o.ducts.Attach(ctx, o.duct.Name)
	if err != nil {
		return err
	}
	defer func() {
		if err := o.ducts.Detach(context.WithoutCancel(ctx), o.duct.Name, session); err != nil {
			o.logger.Warn("detach failed", "error", err)
		}
	}()

	for {
		out, err := o.ducts.Dequeue(ctx, o.duct.Name)
		if err != nil {
			if errors.Is(err, domain.ErrDuctClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := o.transmit(ctx, out); err != nil {
			return err
		}
	}
}

// transmit sends one bundle and reports the outcome. Only a failure to
// report is returned.
func (o *Output) transmit(ctx context.Context, out *service.Outbound) error {
	report := context.WithoutCancel(ctx)

	frame, err := Encode(o.node, out.Wire)
	if err != nil {
		o.logger.Error("bundle too large for udp", "bundle", out.ID, "size", len(out.Wire))
		return o.ducts.XmitRefused(report, out.ID, domain.ReasonTrafficPared)
	}
	if o.limiter != nil {
		if err := o.limiter.WaitN(ctx, len(frame)); err != nil {
			return o.ducts.XmitFailed(report, out.ID)
		}
	}

	dest := out.DestAddr
	if dest == "" {
		dest = o.duct.Address
	}
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		o.logger.Warn("cannot resolve destination", "address", dest, "error", err)
		return o.ducts.XmitFailed(report, out.ID)
	}
	if _, err := o.conn.WriteTo(frame, addr); err != nil {
		o.logger.Warn("datagram send failed", "address", dest, "error", err)
		return o.ducts.XmitFailed(report, out.ID)
	}
	o.logger.Debug("bundle sent", "bundle", out.ID, "address", dest, "bytes", len(frame))
	return o.ducts.XmitSucceeded(report, out.ID)
}
