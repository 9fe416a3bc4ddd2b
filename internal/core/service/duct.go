package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/pkg/sema"
)

// Outbound is a bundle handed to an output daemon.
type Outbound struct {
	ID       domain.BundleID
	Wire     []byte
	Priority domain.Priority
	Neighbor uint64
	DestAddr string
}

// DuctService is the engine side of the convergence-layer handshake.
// Output daemons attach to a duct, dequeue bundles and report each
// transmission. Input daemons enqueue raw bundles.
type DuctService struct {
	e      *Engine
	logger *slog.Logger
}

// Attach claims a duct for one output daemon. The returned session id is
// needed to detach.
func (s *DuctService) Attach(ctx context.Context, name string) (string, error) {
	id, err := s.e.ids.Next("ds-")
	if err != nil {
		return "", domain.ErrInternal.WithCause(err)
	}
	err = s.e.store.Update(ctx, func(tx *storage.Txn) error {
		d, ok, err := tx.Duct(name)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrDuctNotFound.WithDetails(name)
		}
		if d.Owner != "" {
			return domain.ErrDuctBusy.WithDetails(name)
		}
		d.Owner = id
		return tx.PutDuct(d)
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("output daemon attached", "duct", name, "session", id)
	return id, nil
}

// Detach releases a duct claimed by session. Detaching a session that no
// longer owns the duct is a no-op.
func (s *DuctService) Detach(ctx context.Context, name, session string) error {
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		d, ok, err := tx.Duct(name)
		if err != nil || !ok || d.Owner != session {
			return err
		}
		d.Owner = ""
		return tx.PutDuct(d)
	})
	if err == nil {
		s.logger.Info("output daemon detached", "duct", name, "session", session)
	}
	return err
}

// Dequeue blocks until the duct has a bundle and returns it encoded. The
// bundle stays in transit until XmitSucceeded or XmitFailed is called.
// It returns ErrDuctClosed once the duct is ended or removed.
func (s *DuctService) Dequeue(ctx context.Context, name string) (*Outbound, error) {
	for {
		sem, ok := s.e.sems.Get(ductSemKey(name))
		if !ok || sem.Ended() {
			return nil, domain.ErrDuctClosed.WithDetails(name)
		}
		if err := sem.Take(ctx); err != nil {
			if errors.Is(err, sema.ErrEnded) {
				return nil, domain.ErrDuctClosed.WithDetails(name)
			}
			return nil, err
		}
		out, more, err := s.pop(ctx, name)
		if more || err != nil {
			sem.Give()
		}
		if err != nil {
			return nil, err
		}
		if out != nil {
			s.e.metrics.Dequeued.WithLabelValues(name).Inc()
			return out, nil
		}
	}
}

// pop takes the best queued bundle of a duct into transit. Expedited
// goes first, then standard, then bulk. more reports whether work is left.
func (s *DuctService) pop(ctx context.Context, name string) (out *Outbound, more bool, err error) {
	err = s.e.store.Update(ctx, func(tx *storage.Txn) error {
		out, more = nil, false
		now := s.e.Now()
		d, ok, err := tx.Duct(name)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrDuctClosed.WithDetails(name)
		}
		for _, q := range ductQueues(name) {
			b, err := tx.Front(q)
			if err != nil {
				return err
			}
			if b == nil {
				continue
			}
			if out != nil {
				more = true
				return nil
			}
			if b.Expired(now) {
				more = true
				return s.e.expire(tx, b.ID, now)
			}
			raw, err := s.encode(tx, b, now)
			if err != nil {
				return err
			}
			if err := tx.MoveTo(b, domain.TransitQueue(name)); err != nil {
				return err
			}
			out = &Outbound{ID: b.ID, Wire: raw, Priority: b.Priority, Neighbor: d.Neighbor, DestAddr: d.Address}
			// the same class may hold more
			if n, err := tx.QueueLen(q); err != nil {
				return err
			} else if n > 0 {
				more = true
				return nil
			}
		}
		return nil
	})
	return out, more, err
}

// encode serializes b as it leaves this node. The previous-node, bundle-age
// and hop-count blocks are updated on the transmitted copy only, so a
// retransmission starts from the stored values again.
func (s *DuctService) encode(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) ([]byte, error) {
	payload, err := tx.Payload(b.PayloadHandle)
	if err != nil {
		return nil, err
	}
	c := *b
	c.Blocks = c.Blocks.Set(domain.PreviousNodeBlock{Node: s.e.AdminEID()})

	var dwell uint64
	if now > b.ReceivedAt {
		dwell = uint64(now - b.ReceivedAt)
	}
	if blk, _ := c.Blocks.Find(domain.BlockBundleAge); blk != nil {
		c.Blocks = c.Blocks.Set(domain.BundleAgeBlock{AgeMS: blk.(domain.BundleAgeBlock).AgeMS + dwell})
	} else if b.ID.Creation.Time == 0 {
		c.Blocks = c.Blocks.Set(domain.BundleAgeBlock{AgeMS: dwell})
	}
	if blk, _ := c.Blocks.Find(domain.BlockHopCount); blk != nil {
		hc := blk.(domain.HopCountBlock)
		hc.Count++
		c.Blocks = c.Blocks.Set(hc)
	}
	return wire.EncodeBundle(&c, payload)
}

// XmitSucceeded records that the bundle left this node. A custodial bundle
// is retained until custody is accepted downstream or the deadline fires;
// anything else is destroyed.
func (s *DuctService) XmitSucceeded(ctx context.Context, id domain.BundleID) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		b, err := tx.Bundle(id)
		if err != nil {
			if errors.Is(err, domain.ErrBundleNotFound) {
				return nil
			}
			return err
		}
		if b.Queue.Kind != domain.QueueTransit {
			return nil
		}
		now := s.e.Now()
		if err := s.e.report(tx, b, domain.StatusForwarded, domain.ReasonNone, now); err != nil {
			return err
		}
		if b.Custody != nil && b.Custody.State == domain.CustodyHeld {
			if err := tx.MoveTo(b, domain.QueueRef{}); err != nil {
				return err
			}
			return tx.SetCustodyDeadline(b, now+s.e.retryMillis())
		}
		_, err = s.e.destroy(tx, id, domain.ReasonNone)
		return err
	})
}

// XmitFailed re-dispatches a bundle whose transmission failed.
func (s *DuctService) XmitFailed(ctx context.Context, id domain.BundleID) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		b, err := tx.Bundle(id)
		if err != nil {
			if errors.Is(err, domain.ErrBundleNotFound) {
				return nil
			}
			return err
		}
		if b.Queue.Kind != domain.QueueTransit {
			return nil
		}
		duct := b.Queue.Owner
		tx.OnCommit(func() { s.e.metrics.XmitFailures.WithLabelValues(duct).Inc() })
		return s.e.redispatch(tx, b)
	})
}

// XmitRefused abandons a bundle the convergence layer can never carry,
// such as one larger than its frame limit.
func (s *DuctService) XmitRefused(ctx context.Context, id domain.BundleID, reason domain.Reason) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		b, err := tx.Bundle(id)
		if err != nil {
			if errors.Is(err, domain.ErrBundleNotFound) {
				return nil
			}
			return err
		}
		if b.Queue.Kind != domain.QueueTransit {
			return nil
		}
		s.logger.Warn("transmission refused", "bundle", id, "duct", b.Queue.Owner, "reason", reason.String())
		return s.e.abandon(tx, b, reason, s.e.Now())
	})
}

// Enqueue acquires a bundle received by an input daemon from senderNode
// (0 when unknown). A bundle already stored is reported as a duplicate
// and dropped; when this node already holds custody of it, the sending
// custodian is told so it can release its copy.
func (s *DuctService) Enqueue(ctx context.Context, raw []byte, senderNode uint64) (domain.BundleID, bool, error) {
	var (
		id  domain.BundleID
		dup bool
	)
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		now := s.e.Now()
		b, isDup, err := tx.Acquire(raw, senderNode, now)
		if err != nil {
			return err
		}
		id, dup = b.ID, isDup
		if dup {
			return s.e.Custody.refuseRedundant(tx, b, raw, now)
		}
		if err := s.e.report(tx, b, domain.StatusReceived, domain.ReasonNone, now); err != nil {
			return err
		}
		tx.OnCommit(func() { s.e.metrics.BundlesCreated.WithLabelValues("received").Inc() })
		s.e.wakeOnCommit(tx, b.Queue)
		return nil
	})
	switch {
	case err != nil:
		if errors.Is(err, domain.ErrMalformedBundle) || errors.Is(err, domain.ErrMalformedBlock) {
			s.e.metrics.Malformed.Inc()
			s.logger.Warn("malformed bundle discarded", "sender", senderNode, "error", err)
		}
		return domain.BundleID{}, false, err
	case dup:
		s.e.metrics.Duplicates.Inc()
		s.logger.Debug("duplicate bundle discarded", "bundle", id, "sender", senderNode)
	}
	return id, dup, nil
}

// EndDuct ends the duct semaphore so the attached daemon stops. Queued
// bundles stay where they are.
func (s *DuctService) EndDuct(name string) {
	if sem, ok := s.e.sems.Get(ductSemKey(name)); ok {
		sem.End()
		s.logger.Info("duct ended", "duct", name)
	}
}

// ReopenDuct installs a fresh semaphore for an ended duct and wakes it if
// bundles are queued.
func (s *DuctService) ReopenDuct(ctx context.Context, name string) error {
	queued := 0
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		if _, ok, err := tx.Duct(name); err != nil {
			return err
		} else if !ok {
			return domain.ErrDuctNotFound.WithDetails(name)
		}
		for _, q := range ductQueues(name) {
			n, err := tx.QueueLen(q)
			if err != nil {
				return err
			}
			queued += n
		}
		return nil
	})
	if err != nil {
		return err
	}
	sem := sema.New()
	if queued > 0 {
		sem.Give()
	}
	if old, ok := s.e.sems.Get(ductSemKey(name)); ok && !old.Ended() {
		return nil
	}
	s.e.sems.Set(ductSemKey(name), sem)
	s.logger.Info("duct reopened", "duct", name, "queued", queued)
	return nil
}

func (e *Engine) retryMillis() domain.DTNTime {
	return domain.DTNTime(e.cfg.CustodyRetry / time.Millisecond)
}
