package service

import (
	"context"
	"errors"
	"time"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

// sendAdmin creates an administrative record bundle from the local admin
// endpoint to dest and dispatches it in tx. A full store drops the record
// with a warning instead of failing the enclosing transaction.
//
// A rejected Create may leave writes in tx, for example the creation
// timestamp, but none of them touch bundle or queue state.
func (e *Engine) sendAdmin(tx *storage.Txn, dest domain.EID, rec *domain.AdminRecord, now domain.DTNTime) error {
	err := e.createAdmin(tx, dest, rec, now)
	if errors.Is(err, domain.ErrInsufficientSpace) {
		e.logger.Warn("admin record dropped", "type", rec.Type, "destination", dest, "error", err)
		return nil
	}
	return err
}

// createAdmin is sendAdmin without the quota leniency.
func (e *Engine) createAdmin(tx *storage.Txn, dest domain.EID, rec *domain.AdminRecord, now domain.DTNTime) error {
	payload, err := wire.EncodeAdminRecord(rec)
	if err != nil {
		return err
	}
	creation, err := tx.NextCreation(now)
	if err != nil {
		return err
	}
	flags := domain.FlagAdminRecord
	if dest.Scheme == domain.SchemeIPN {
		flags |= domain.FlagSingletonDestination
	}
	b := &domain.Bundle{
		ID:          domain.BundleID{Source: e.AdminEID(), Creation: creation},
		Destination: dest,
		ReportTo:    domain.NoneEID,
		Custodian:   domain.NoneEID,
		Flags:       flags,
		Priority:    domain.PriorityStandard,
		Lifetime:    uint64(e.cfg.AdminLifetime / time.Millisecond),
		ReceivedAt:  now,
	}
	q := domain.DispatchQueue(dest.Scheme)
	if err := tx.Create(b, payload, q); err != nil {
		return err
	}
	tx.OnCommit(func() { e.metrics.BundlesCreated.WithLabelValues("admin").Inc() })
	e.wakeOnCommit(tx, q)
	return nil
}

// report emits a status report of kind about b to its report-to endpoint
// when b asked for one.
func (e *Engine) report(tx *storage.Txn, b *domain.Bundle, kind domain.StatusKind, reason domain.Reason, now domain.DTNTime) error {
	if b.IsAdminRecord() || b.ReportTo.IsNone() || !b.Flags.Has(kind.ReportFlag()) {
		return nil
	}
	return e.sendAdmin(tx, b.ReportTo, &domain.AdminRecord{
		Type: domain.AdminStatusReport,
		StatusReport: &domain.StatusReport{
			Kind:    kind,
			Reason:  reason,
			Subject: b.ID.Original(),
			Time:    now,
		},
	}, now)
}

// runAdminEndpoint consumes the records delivered to the local admin
// endpoint until ep is closed.
func (e *Engine) runAdminEndpoint(ctx context.Context, ep *Endpoint) error {
	defer ep.Close()
	logger := e.component("admin")
	for {
		d, err := ep.Receive(ctx, -1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, storage.ErrClosed) {
				return nil
			}
			logger.Warn("receive failed", "endpoint", ep.EID(), "error", err)
			if !sleepCtx(ctx, receiveBackoff) {
				return nil
			}
			continue
		}
		switch d.Result {
		case ResultEndpointStopped, ResultInterrupted:
			return nil
		case ResultPayloadPresent:
		default:
			continue
		}
		if d.AdminRecord == nil {
			logger.Debug("ignoring non-admin bundle on admin endpoint", "source", d.Source)
			continue
		}
		if err := e.handleAdminRecord(ctx, d.Source, d.AdminRecord); err != nil {
			logger.Warn("admin record failed", "type", d.AdminRecord.Type, "source", d.Source, "error", err)
		}
	}
}

func (e *Engine) handleAdminRecord(ctx context.Context, source domain.EID, rec *domain.AdminRecord) error {
	switch rec.Type {
	case domain.AdminCustodySignal:
		return e.Custody.HandleSignal(ctx, rec.CustodySignal)
	case domain.AdminPetition:
		if source.Scheme != domain.SchemeIPN {
			return domain.ErrMalformedAdminRecord.WithDetails("petition from " + source.String())
		}
		return e.Multicast.HandlePetition(ctx, source.Node, rec.Petition)
	case domain.AdminStatusReport:
		sr := rec.StatusReport
		e.logger.Info("status report",
			"from", source,
			"kind", sr.Kind.String(),
			"reason", sr.Reason.String(),
			"subject", sr.Subject)
		return nil
	case domain.AdminContactNotices:
		e.Sync.apply(ctx, source, rec.Notices)
		return nil
	}
	return domain.ErrMalformedAdminRecord.WithDetails("unexpected record type")
}

const receiveBackoff = 100 * time.Millisecond

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
