package ductserver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

// Client is one daemon session on a duct socket. Its methods mirror the
// engine's duct handshake, so a convergence-layer daemon can run in or out
// of the engine process unchanged.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

// Dial connects to the duct socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, br: bufio.NewReader(conn)}, nil
}

// Close ends the session. Bundles dequeued and not reported are returned
// to the engine.
func (c *Client) Close() error {
	return c.conn.Close()
}

// call sends one request and reads its answer into resp. The answer must be
// of type want or Error.
func (c *Client) call(ctx context.Context, t FrameType, req any, want FrameType, resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var payload []byte
	if req != nil {
		var err error
		if payload, err = encode(req); err != nil {
			return err
		}
	}
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	// cancellation unblocks the read; the session is unusable afterwards
	stop := context.AfterFunc(ctx, func() { c.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := WriteFrame(c.conn, t, payload); err != nil {
		return c.ctxErr(ctx, err)
	}
	got, body, err := ReadFrame(c.br)
	if err != nil {
		return c.ctxErr(ctx, err)
	}
	switch got {
	case want:
		if resp == nil {
			return nil
		}
		return decode(body, resp)
	case FrameError:
		var e Error
		if err := decode(body, &e); err != nil {
			return err
		}
		return e.asError()
	default:
		return domain.ErrMalformedFrame.WithDetails(fmt.Sprintf("got %s frame, want %s", got, want))
	}
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Attach opens an output session on the duct.
func (c *Client) Attach(ctx context.Context, name string) (string, error) {
	var ack Ack
	if err := c.call(ctx, FrameAttach, &Attach{Duct: name, Role: RoleOutput}, FrameAck, &ack); err != nil {
		return "", err
	}
	return ack.Session, nil
}

// AttachInput opens an input session on the duct.
func (c *Client) AttachInput(ctx context.Context, name string) error {
	return c.call(ctx, FrameAttach, &Attach{Duct: name, Role: RoleInput}, FrameAck, nil)
}

// Detach ends the session; there is no in-band detach.
func (c *Client) Detach(context.Context, string, string) error {
	return c.Close()
}

// Dequeue blocks until the duct has a bundle.
func (c *Client) Dequeue(ctx context.Context, _ string) (*service.Outbound, error) {
	var b Bundle
	if err := c.call(ctx, FrameDequeueReq, nil, FrameBundle, &b); err != nil {
		return nil, err
	}
	return &service.Outbound{ID: b.ID, Wire: b.Wire, Priority: b.Priority, Neighbor: b.Neighbor, DestAddr: b.DestAddr}, nil
}

// XmitSucceeded reports a completed transmission.
func (c *Client) XmitSucceeded(ctx context.Context, id domain.BundleID) error {
	return c.call(ctx, FrameXmitResult, &XmitResult{ID: id, OK: true}, FrameAck, nil)
}

// XmitFailed reports a failed transmission.
func (c *Client) XmitFailed(ctx context.Context, id domain.BundleID) error {
	return c.call(ctx, FrameXmitResult, &XmitResult{ID: id}, FrameAck, nil)
}

// XmitRefused reports a bundle the daemon will never be able to send.
func (c *Client) XmitRefused(ctx context.Context, id domain.BundleID, reason domain.Reason) error {
	return c.call(ctx, FrameXmitResult, &XmitResult{ID: id, Reason: reason}, FrameAck, nil)
}

// Enqueue hands a received bundle to the engine.
func (c *Client) Enqueue(ctx context.Context, raw []byte, senderNode uint64) (domain.BundleID, bool, error) {
	var ack Ack
	if err := c.call(ctx, FrameEnqueue, &Enqueue{Sender: senderNode, Raw: raw}, FrameAck, &ack); err != nil {
		return domain.BundleID{}, false, err
	}
	return ack.ID, ack.Dup, nil
}
