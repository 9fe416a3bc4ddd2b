package ductserver

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// session is the state of one daemon connection.
type session struct {
	s      *Server
	conn   net.Conn
	br     *bufio.Reader
	logger *slog.Logger

	role Role
	duct string
	id   string

	// bundles handed out and not yet reported
	inflight map[domain.BundleID]struct{}
}

// handle answers one request. A returned error closes the connection.
func (sess *session) handle(t FrameType, payload []byte) error {
	ctx := sess.s.ctx
	switch t {
	case FrameAttach:
		var req Attach
		if err := decode(payload, &req); err != nil {
			return sess.replyError(err)
		}
		return sess.attach(ctx, &req)

	case FrameDequeueReq:
		if sess.role != RoleOutput {
			return sess.replyError(domain.ErrInvalidArgument.WithDetails("dequeue needs an output session"))
		}
		out, err := sess.s.ducts.Dequeue(ctx, sess.duct)
		if err != nil {
			return sess.replyError(err)
		}
		sess.inflight[out.ID] = struct{}{}
		return sess.reply(FrameBundle, &Bundle{
			ID:       out.ID,
			Wire:     out.Wire,
			Priority: out.Priority,
			Neighbor: out.Neighbor,
			DestAddr: out.DestAddr,
		})

	case FrameXmitResult:
		if sess.role != RoleOutput {
			return sess.replyError(domain.ErrInvalidArgument.WithDetails("xmit result needs an output session"))
		}
		var res XmitResult
		if err := decode(payload, &res); err != nil {
			return sess.replyError(err)
		}
		if _, ok := sess.inflight[res.ID]; !ok {
			return sess.replyError(domain.ErrBundleNotFound.WithDetails("bundle was not dequeued on this session"))
		}
		delete(sess.inflight, res.ID)
		var err error
		switch {
		case res.OK:
			err = sess.s.ducts.XmitSucceeded(ctx, res.ID)
		case res.Reason != 0:
			err = sess.s.ducts.XmitRefused(ctx, res.ID, res.Reason)
		default:
			err = sess.s.ducts.XmitFailed(ctx, res.ID)
		}
		if err != nil {
			return sess.replyError(err)
		}
		return sess.reply(FrameAck, &Ack{})

	case FrameEnqueue:
		if sess.role != RoleInput {
			return sess.replyError(domain.ErrInvalidArgument.WithDetails("enqueue needs an input session"))
		}
		var req Enqueue
		if err := decode(payload, &req); err != nil {
			return sess.replyError(err)
		}
		id, dup, err := sess.s.ducts.Enqueue(ctx, req.Raw, req.Sender)
		if err != nil {
			return sess.replyError(err)
		}
		return sess.reply(FrameAck, &Ack{ID: id, Dup: dup})

	default:
		return sess.replyError(domain.ErrMalformedFrame.WithDetails("unexpected " + t.String() + " frame"))
	}
}

func (sess *session) attach(ctx context.Context, req *Attach) error {
	if sess.role != "" {
		return sess.replyError(domain.ErrInvalidArgument.WithDetails("session already attached"))
	}
	if req.Duct == "" {
		return sess.replyError(domain.ErrInvalidArgument.WithDetails("duct name is required"))
	}
	switch req.Role {
	case RoleOutput:
		id, err := sess.s.ducts.Attach(ctx, req.Duct)
		if err != nil {
			return sess.replyError(err)
		}
		sess.id = id
	case RoleInput:
	default:
		return sess.replyError(domain.ErrInvalidArgument.WithDetails("unknown role " + string(req.Role)))
	}
	sess.role = req.Role
	sess.duct = req.Duct
	sess.logger = sess.logger.With("duct", req.Duct, "role", string(req.Role))
	sess.logger.Info("daemon attached")
	return sess.reply(FrameAck, &Ack{Session: sess.id})
}

// release returns unreported bundles to the engine and frees the duct.
func (sess *session) release() {
	ctx := context.WithoutCancel(sess.s.ctx)
	for id := range sess.inflight {
		if err := sess.s.ducts.XmitFailed(ctx, id); err != nil {
			sess.logger.Warn("cannot return unreported bundle", "bundle", id, "error", err)
		}
	}
	if sess.role == RoleOutput {
		if err := sess.s.ducts.Detach(ctx, sess.duct, sess.id); err != nil {
			sess.logger.Warn("detach failed", "error", err)
		}
	}
	if sess.role != "" {
		sess.logger.Info("daemon detached", "unreported", len(sess.inflight))
	}
}

func (sess *session) reply(t FrameType, v any) error {
	payload, err := encode(v)
	if err != nil {
		return err
	}
	if err := sess.conn.SetWriteDeadline(time.Now().Add(sess.s.writeTimeout)); err != nil {
		return err
	}
	return WriteFrame(sess.conn, t, payload)
}

// replyError answers with an Error frame. The connection stays open unless
// the write fails or the engine is shutting down.
func (sess *session) replyError(err error) error {
	if werr := sess.reply(FrameError, errorFrame(err)); werr != nil {
		return werr
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
