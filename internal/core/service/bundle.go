package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/pkg/cmap"
	"github.com/yndnr/dtnmesh-go/pkg/sema"
)

// Result is the outcome of Endpoint.Receive.
type Result int

const (
	ResultPayloadPresent Result = iota + 1
	ResultTimedOut
	ResultInterrupted
	ResultEndpointStopped
)

// String returns the result name.
func (r Result) String() string {
	switch r {
	case ResultPayloadPresent:
		return "payload"
	case ResultTimedOut:
		return "timed out"
	case ResultInterrupted:
		return "interrupted"
	case ResultEndpointStopped:
		return "endpoint stopped"
	default:
		return "unknown"
	}
}

// SendRequest describes a bundle to originate.
type SendRequest struct {
	Destination domain.EID
	ReportTo    domain.EID
	Lifetime    time.Duration
	Priority    domain.Priority
	Ordinal     uint8
	Custody     bool

	// Flags may request status reports and set the best-effort and
	// minimum-latency hints. Other bits are ignored.
	Flags   domain.BundleFlags
	Payload []byte
}

const sendableFlags = domain.FlagBestEffort | domain.FlagMinimumLatency |
	domain.FlagReportReceived | domain.FlagReportForwarded |
	domain.FlagReportDelivered | domain.FlagReportDeleted

// Delivery is one bundle handed to an application, or the reason none
// was.
type Delivery struct {
	Result      Result
	ID          domain.BundleID
	Source      domain.EID
	Creation    domain.CreationTimestamp
	Payload     []byte
	AdminRecord *domain.AdminRecord
}

// BundleService is the application interface: it opens endpoints and
// originates bundles.
type BundleService struct {
	e         *Engine
	logger    *slog.Logger
	endpoints *cmap.Map[string, *Endpoint]
}

// Open registers a local endpoint. Opening an imc endpoint joins its
// group.
func (s *BundleService) Open(ctx context.Context, eid domain.EID) (*Endpoint, error) {
	if err := eid.Validate(); err != nil {
		return nil, err
	}
	switch eid.Scheme {
	case domain.SchemeIPN:
		if eid.Node != s.e.cfg.Node {
			return nil, domain.ErrEndpointNotLocal.WithDetails(eid.String())
		}
	case domain.SchemeIMC:
	default:
		return nil, domain.ErrInvalidArgument.WithDetails("cannot open " + eid.String())
	}

	q := domain.DeliveryQueue(eid)
	ep := &Endpoint{
		svc:       s,
		eid:       eid,
		queue:     q,
		sem:       sema.New(),
		interrupt: make(chan struct{}, 1),
	}
	if !s.endpoints.SetIfAbsent(eid.String(), ep) {
		return nil, domain.ErrEndpointBusy.WithDetails(eid.String())
	}
	s.e.sems.Set(semKey(q), ep.sem)

	if eid.Scheme == domain.SchemeIMC {
		if err := s.e.Multicast.Join(ctx, eid.Node); err != nil {
			ep.release()
			return nil, err
		}
	}

	queued := 0
	if err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		queued, err = tx.QueueLen(q)
		return err
	}); err != nil {
		ep.release()
		return nil, err
	}
	if queued > 0 {
		ep.sem.Give()
	}
	s.logger.Debug("endpoint opened", "eid", eid, "queued", queued)
	return ep, nil
}

// Send originates an anonymous bundle from dtn:none.
func (s *BundleService) Send(ctx context.Context, req SendRequest) (domain.BundleID, error) {
	return s.send(ctx, domain.NoneEID, req)
}

func (s *BundleService) send(ctx context.Context, source domain.EID, req SendRequest) (domain.BundleID, error) {
	dest := req.Destination
	if err := dest.Validate(); err != nil || dest.IsNone() {
		return domain.BundleID{}, domain.ErrInvalidArgument.WithDetails("destination " + dest.String())
	}
	if req.Lifetime < time.Millisecond {
		return domain.BundleID{}, domain.ErrInvalidArgument.WithDetails("lifetime must be positive")
	}
	if !req.Priority.Valid() {
		return domain.BundleID{}, domain.ErrInvalidArgument.WithDetails("invalid priority")
	}
	if req.Ordinal > domain.MaxOrdinal {
		return domain.BundleID{}, domain.ErrInvalidArgument.WithDetails("ordinal out of range")
	}
	if req.Custody && source.IsNone() {
		return domain.BundleID{}, domain.ErrInvalidArgument.WithDetails("anonymous bundles cannot request custody")
	}
	reportTo := req.ReportTo
	if reportTo.Scheme == 0 {
		reportTo = domain.NoneEID
	}

	var id domain.BundleID
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		now := s.e.Now()
		creation, err := tx.NextCreation(now)
		if err != nil {
			return err
		}
		flags := req.Flags & sendableFlags
		if dest.Scheme == domain.SchemeIPN {
			flags |= domain.FlagSingletonDestination
		}
		b := &domain.Bundle{
			ID:          domain.BundleID{Source: source, Creation: creation},
			Destination: dest,
			ReportTo:    reportTo,
			Custodian:   domain.NoneEID,
			Flags:       flags,
			Priority:    req.Priority,
			Lifetime:    uint64(req.Lifetime / time.Millisecond),
			ReceivedAt:  now,
		}
		if req.Priority == domain.PriorityExpedited {
			b.Ordinal = req.Ordinal
		}
		if req.Custody {
			b.Flags |= domain.FlagCustodyRequested
			b.Custody = &domain.CustodyRecord{State: domain.CustodyRequested}
		}
		if lim := s.e.cfg.HopLimit; lim > 0 {
			b.Blocks = domain.BlockList{domain.HopCountBlock{Limit: uint8(min(lim, 255))}}
		}
		q := domain.DispatchQueue(dest.Scheme)
		if err := tx.Create(b, req.Payload, q); err != nil {
			return err
		}
		id = b.ID
		tx.OnCommit(func() { s.e.metrics.BundlesCreated.WithLabelValues("local").Inc() })
		s.e.wakeOnCommit(tx, q)
		return nil
	})
	if err != nil {
		return domain.BundleID{}, err
	}
	s.logger.Debug("bundle sent", "bundle", id, "destination", dest, "bytes", len(req.Payload))
	return id, nil
}

// Endpoint is an open local endpoint.
type Endpoint struct {
	svc       *BundleService
	eid       domain.EID
	queue     domain.QueueRef
	sem       *sema.Semaphore
	interrupt chan struct{}
	closed    atomic.Bool
}

// EID returns the endpoint identifier.
func (ep *Endpoint) EID() domain.EID { return ep.eid }

// Send originates a bundle from this endpoint. Bundles sent from a
// multicast endpoint are anonymous.
func (ep *Endpoint) Send(ctx context.Context, req SendRequest) (domain.BundleID, error) {
	if ep.closed.Load() {
		return domain.BundleID{}, domain.ErrEndpointNotOpen.WithDetails(ep.eid.String())
	}
	source := ep.eid
	if source.Scheme != domain.SchemeIPN {
		source = domain.NoneEID
	}
	return ep.svc.send(ctx, source, req)
}

// Receive returns the next bundle delivered to the endpoint. A negative
// timeout waits indefinitely and zero polls.
func (ep *Endpoint) Receive(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	// an interrupt aimed at an earlier call that had already returned
	select {
	case <-ep.interrupt:
	default:
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	for {
		if ep.closed.Load() || ep.sem.Ended() {
			return &Delivery{Result: ResultEndpointStopped}, nil
		}
		d, err := ep.pop(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
		if timeout == 0 {
			return &Delivery{Result: ResultTimedOut}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ep.sem.Done():
			return &Delivery{Result: ResultEndpointStopped}, nil
		case <-ep.interrupt:
			return &Delivery{Result: ResultInterrupted}, nil
		case <-expired:
			return &Delivery{Result: ResultTimedOut}, nil
		case <-ep.sem.C():
		}
	}
}

// pop delivers the head of the delivery queue, or returns nil when the
// queue is empty.
func (ep *Endpoint) pop(ctx context.Context) (*Delivery, error) {
	e := ep.svc.e
	var d *Delivery
	err := e.store.Update(ctx, func(tx *storage.Txn) error {
		d = nil
		b, err := tx.Front(ep.queue)
		if err != nil || b == nil {
			return err
		}
		payload, err := tx.Payload(b.PayloadHandle)
		if err != nil {
			return err
		}
		d = &Delivery{
			Result:   ResultPayloadPresent,
			ID:       b.ID,
			Source:   b.ID.Source,
			Creation: b.ID.Creation,
			Payload:  payload,
		}
		if b.IsAdminRecord() {
			rec, err := wire.DecodeAdminRecord(payload)
			if err != nil {
				ep.svc.logger.Warn("undecodable admin record", "bundle", b.ID, "error", err)
			} else {
				d.AdminRecord = rec
			}
		}
		now := e.Now()
		if err := e.report(tx, b, domain.StatusDelivered, domain.ReasonNone, now); err != nil {
			return err
		}
		if _, err := e.destroy(tx, b.ID, domain.ReasonNone); err != nil {
			return err
		}
		tx.OnCommit(func() { e.metrics.BundlesDelivered.Inc() })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Interrupt wakes a Receive in progress, which returns ResultInterrupted.
// It has no effect on Receive calls started afterwards.
func (ep *Endpoint) Interrupt() {
	select {
	case ep.interrupt <- struct{}{}:
	default:
	}
}

// Close unregisters the endpoint. Bundles keep arriving in its delivery
// queue. Closing the last open endpoint of a group leaves the group,
// unless the engine is shutting down.
func (ep *Endpoint) Close() {
	if !ep.closed.CompareAndSwap(false, true) {
		return
	}
	shuttingDown := ep.sem.Ended()
	ep.release()
	if ep.eid.Scheme != domain.SchemeIMC || shuttingDown {
		return
	}
	group := ep.eid.Node
	for _, other := range ep.svc.endpoints.Values() {
		if other.eid.Scheme == domain.SchemeIMC && other.eid.Node == group {
			return
		}
	}
	if err := ep.svc.e.Multicast.Leave(context.Background(), group); err != nil {
		ep.svc.logger.Warn("leaving group failed", "group", group, "error", err)
	}
}

func (ep *Endpoint) release() {
	key := ep.eid.String()
	ep.svc.endpoints.CompareAndDelete(key, func(v *Endpoint) bool { return v == ep })
	ep.svc.e.sems.CompareAndDelete(semKey(ep.queue), func(s *sema.Semaphore) bool { return s == ep.sem })
	ep.sem.End()
}
