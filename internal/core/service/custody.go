package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

// CustodyService tracks custodial bundles: it takes custody, answers the
// previous custodian, handles incoming signals and re-forwards retained
// copies whose deadline passed.
type CustodyService struct {
	e      *Engine
	logger *slog.Logger
}

// Accept takes custody of b if custody was requested and not yet taken.
// A remote previous custodian is told, the local admin endpoint becomes
// the custodian and the retransmission deadline is scheduled.
func (s *CustodyService) Accept(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) error {
	if !b.Custody.CanAccept() {
		return nil
	}
	if s.e.isRemoteNode(b.Custodian) {
		if err := s.signal(tx, b, true, domain.ReasonNone, now); err != nil {
			return err
		}
	}
	b.Custodian = s.e.AdminEID()
	b.Custody.State = domain.CustodyHeld
	b.Custody.RetryInterval = uint64(s.e.retryMillis())
	if err := tx.SetCustodyDeadline(b, now+s.e.retryMillis()); err != nil {
		return err
	}
	tx.OnCommit(func() { s.e.metrics.CustodyAccepted.Inc() })
	return nil
}

// acceptForDelivery takes custody of a bundle that is delivered here. No
// copy is retained for retransmission.
func (s *CustodyService) acceptForDelivery(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) error {
	if s.e.isRemoteNode(b.Custodian) {
		if err := s.signal(tx, b, true, domain.ReasonNone, now); err != nil {
			return err
		}
	}
	b.Custodian = s.e.AdminEID()
	b.Custody.State = domain.CustodyReleased
	tx.OnCommit(func() { s.e.metrics.CustodyAccepted.Inc() })
	return tx.PutBundle(b)
}

// refuseRedundant answers a retransmission of a bundle this node already
// holds custody of. The custodian named in the received copy gets a
// refusal for redundant reception, which releases its retained copy.
func (s *CustodyService) refuseRedundant(tx *storage.Txn, held *domain.Bundle, raw []byte, now domain.DTNTime) error {
	if held.Custody == nil || held.Custody.State != domain.CustodyHeld {
		return nil
	}
	in, _, err := wire.DecodeBundle(raw)
	if err != nil || !in.WantsCustody() || !s.e.isRemoteNode(in.Custodian) {
		return nil
	}
	return s.signal(tx, in, false, domain.ReasonRedundantReception, now)
}

// signal sends a custody signal about b to its current custodian.
func (s *CustodyService) signal(tx *storage.Txn, b *domain.Bundle, accepted bool, reason domain.Reason, now domain.DTNTime) error {
	return s.e.sendAdmin(tx, domain.AdminEID(b.Custodian.Node), &domain.AdminRecord{
		Type: domain.AdminCustodySignal,
		CustodySignal: &domain.CustodySignal{
			Accepted: accepted,
			Reason:   reason,
			Subject:  b.ID.Original(),
			Time:     now,
		},
	}, now)
}

// HandleSignal applies a custody signal received from downstream. An
// acceptance releases the retained copy, as does a refusal for redundant
// reception since downstream already holds custody. Any other refusal
// re-dispatches it.
// Signals about bundles not held here are ignored.
func (s *CustodyService) HandleSignal(ctx context.Context, sig *domain.CustodySignal) error {
	if sig == nil {
		return domain.ErrMalformedAdminRecord.WithDetails("empty custody signal")
	}
	released := false
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		released = false
		subj := sig.Subject
		b, ok, err := tx.FindByIdentity(subj.Source, subj.Creation, subj.FragmentOffset)
		if err != nil || !ok {
			return err
		}
		if b.Custody == nil || b.Custody.State != domain.CustodyHeld {
			return nil
		}
		if sig.Accepted || sig.Reason == domain.ReasonRedundantReception {
			b.Custody.State = domain.CustodyReleased
			if _, err := s.e.destroy(tx, b.ID, domain.ReasonNone); err != nil {
				return err
			}
			released = true
			tx.OnCommit(func() { s.e.metrics.CustodyReleased.Inc() })
			return nil
		}
		if err := tx.SetCustodyDeadline(b, 0); err != nil {
			return err
		}
		return s.e.redispatch(tx, b)
	})
	if err != nil {
		return err
	}
	if released {
		s.logger.Debug("custody released", "bundle", sig.Subject)
	} else if !sig.Accepted {
		s.logger.Info("custody refused downstream", "bundle", sig.Subject, "reason", sig.Reason.String())
	}
	return nil
}

// Sweep handles custody deadlines due at now. A retained copy that is in
// no queue is re-forwarded; one still queued only has its deadline moved.
// Expired bundles are left to the expiry sweep. It returns the number of
// re-forwarded bundles.
func (s *CustodyService) Sweep(ctx context.Context, now domain.DTNTime) (int, error) {
	total := 0
	for {
		seen, progressed, reforwarded := 0, 0, 0
		err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
			seen, progressed, reforwarded = 0, 0, 0
			ids, err := tx.DueCustody(now, s.e.cfg.SweepBatch)
			if err != nil {
				return err
			}
			seen = len(ids)
			for _, id := range ids {
				b, err := tx.Bundle(id)
				if err != nil {
					if errors.Is(err, domain.ErrBundleNotFound) {
						continue
					}
					return err
				}
				if b.Custody == nil {
					continue
				}
				progressed++
				if b.Expired(now) {
					if err := tx.SetCustodyDeadline(b, 0); err != nil {
						return err
					}
					continue
				}
				next := now + s.e.retryMillis()
				if !b.Queue.IsZero() {
					if err := tx.SetCustodyDeadline(b, next); err != nil {
						return err
					}
					continue
				}
				b.Custody.Epoch++
				if err := tx.SetCustodyDeadline(b, next); err != nil {
					return err
				}
				if err := s.e.redispatch(tx, b); err != nil {
					return err
				}
				reforwarded++
			}
			if reforwarded > 0 {
				n := float64(reforwarded)
				tx.OnCommit(func() { s.e.metrics.CustodyReforwards.Add(n) })
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += reforwarded
		if seen < s.e.cfg.SweepBatch || progressed == 0 {
			break
		}
	}
	if total > 0 {
		s.logger.Info("custody deadlines fired", "reforwarded", total)
	}
	return total, nil
}
