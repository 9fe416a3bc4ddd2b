package udp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// InputDucts is the engine side of an input daemon.
type InputDucts interface {
	Enqueue(ctx context.Context, raw []byte, senderNode uint64) (domain.BundleID, bool, error)
}

// Input hands received datagrams to the engine.
type Input struct {
	ducts  InputDucts
	conn   net.PacketConn
	logger *slog.Logger
}

// NewInput creates an input daemon reading from conn.
func NewInput(ducts InputDucts, conn net.PacketConn, logger *slog.Logger) *Input {
	if logger == nil {
		logger = slog.Default()
	}
	return &Input{ducts: ducts, conn: conn, logger: logger}
}

// Run reads datagrams until ctx is done or the socket is closed.
func (in *Input) Run(ctx context.Context) error {
	// a past deadline unblocks ReadFrom
	stop := context.AfterFunc(ctx, func() { in.conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, MaxDatagram+1)
	for {
		n, from, err := in.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if n > MaxDatagram {
			in.logger.Warn("oversized datagram dropped", "from", from)
			continue
		}
		sender, bundle, err := Decode(buf[:n])
		if err != nil {
			in.logger.Warn("datagram dropped", "from", from, "error", err)
			continue
		}
		raw := make([]byte, len(bundle))
		copy(raw, bundle)
		id, dup, err := in.ducts.Enqueue(ctx, raw, sender)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Warn("bundle rejected", "from", from, "sender", sender, "error", err)
		case dup:
			in.logger.Debug("duplicate bundle", "from", from, "bundle", id)
		default:
			in.logger.Debug("bundle received", "from", from, "sender", sender, "bundle", id)
		}
	}
}
