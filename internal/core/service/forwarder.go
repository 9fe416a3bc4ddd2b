package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/pkg/sema"
)

// forwarder drains the dispatch queue of one scheme.
type forwarder struct {
	e      *Engine
	scheme domain.Scheme
	queue  domain.QueueRef
	logger *slog.Logger
}

func newForwarder(e *Engine, scheme domain.Scheme) *forwarder {
	return &forwarder{
		e:      e,
		scheme: scheme,
		queue:  domain.DispatchQueue(scheme),
		logger: e.component("forwarder").With("scheme", scheme.String()),
	}
}

// run processes dispatched bundles until the dispatch semaphore ends.
func (f *forwarder) run(ctx context.Context) error {
	s, ok := f.e.sems.Get(semKey(f.queue))
	if !ok {
		return nil
	}
	f.logger.Debug("forwarder started")
	for {
		if err := s.Take(ctx); err != nil {
			if errors.Is(err, sema.ErrEnded) || ctx.Err() != nil {
				f.logger.Debug("forwarder stopped")
				return nil
			}
			return err
		}
		if err := f.drain(ctx); err != nil {
			if errors.Is(err, storage.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			// The bundle stays dispatch-pending and is retried on the
			// next wake.
			f.logger.Error("forwarding failed", "error", err)
		}
	}
}

// drain forwards queued bundles one transaction at a time until the queue
// is empty.
func (f *forwarder) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		found := false
		err := f.e.store.Update(ctx, func(tx *storage.Txn) error {
			b, err := tx.Front(f.queue)
			if err != nil || b == nil {
				found = false
				return err
			}
			found = true
			return f.e.forward(tx, b, f.e.Now())
		})
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
	}
	return nil
}

// forward takes one forwarding decision for b.
func (e *Engine) forward(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) error {
	if b.Expired(now) {
		return e.expire(tx, b.ID, now)
	}
	if err := b.Destination.Validate(); err != nil {
		return e.abandon(tx, b, domain.ReasonEIDMalformed, now)
	}
	switch b.Destination.Scheme {
	case domain.SchemeIPN:
		if b.Destination.Node == e.cfg.Node {
			return e.deliverLocal(tx, b, now)
		}
		if blk, _ := b.Blocks.Find(domain.BlockHopCount); blk != nil {
			if blk.(domain.HopCountBlock).Exceeded() {
				return e.abandon(tx, b, domain.ReasonTooManyHops, now)
			}
		}
		_, err := e.route(tx, b, b.Destination.Node, now)
		return err
	case domain.SchemeIMC:
		return e.Multicast.dispatch(tx, b, now)
	}
	return e.abandon(tx, b, domain.ReasonEIDMalformed, now)
}

// route hands b to the plan chosen for node, taking custody first when
// asked to. A bundle without a route is abandoned and routed is false.
func (e *Engine) route(tx *storage.Txn, b *domain.Bundle, node uint64, now domain.DTNTime) (routed bool, err error) {
	rt, err := e.Router.Select(tx, b, node, now)
	if err != nil {
		return false, err
	}
	if rt == nil {
		return false, e.abandon(tx, b, domain.ReasonNoRoute, now)
	}
	if b.Custody.CanAccept() {
		if err := e.Custody.Accept(tx, b, now); err != nil {
			return false, err
		}
	}
	if err := e.Plans.enqueue(tx, b, &rt.Plan, now); err != nil {
		return false, err
	}
	scheme := b.Destination.Scheme.String()
	tx.OnCommit(func() { e.metrics.BundlesForwarded.WithLabelValues(scheme).Inc() })
	e.logger.Debug("bundle routed",
		"bundle", b.ID,
		"destination", b.Destination,
		"next_hop", rt.NextHop(),
		"hops", rt.Hops,
		"queue", b.Queue.Name())
	return true, nil
}

// deliverLocal moves b to the delivery queue of its destination endpoint.
// The bundle waits there when the endpoint is not open.
func (e *Engine) deliverLocal(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) error {
	if b.Custody.CanAccept() {
		if err := e.Custody.acceptForDelivery(tx, b, now); err != nil {
			return err
		}
	}
	q := domain.DeliveryQueue(b.Destination)
	if err := tx.MoveTo(b, q); err != nil {
		return err
	}
	e.wakeOnCommit(tx, q)
	return nil
}
