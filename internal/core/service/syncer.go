package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

// Synchronizer shares contact plan changes with the region. Queued
// notices are multicast to the regional group and notices from other
// nodes are applied locally.
type Synchronizer struct {
	e      *Engine
	logger *slog.Logger
}

// Name implements periodic.Task.
func (s *Synchronizer) Name() string { return "contact-sync" }

// Run implements periodic.Task.
func (s *Synchronizer) Run(ctx context.Context) {
	if _, err := s.Flush(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("notice flush failed", "error", err)
	}
}

// Flush sends every queued notice in ContactNotices records of at most
// SyncBatch notices. Draining the outbox and creating the record happen
// in one transaction. It returns the number of notices sent.
func (s *Synchronizer) Flush(ctx context.Context) (int, error) {
	total := 0
	dest := domain.IMC(domain.RegionalGroup, domain.AdminService)
	for {
		n := 0
		err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
			n = 0
			entries, err := tx.Notices(s.e.cfg.SyncBatch)
			if err != nil || len(entries) == 0 {
				return err
			}
			encoded := make([][]byte, 0, len(entries))
			for i := range entries {
				raw, err := wire.EncodeNotice(&entries[i].Notice)
				if err != nil {
					return err
				}
				encoded = append(encoded, raw)
			}
			rec := &domain.AdminRecord{Type: domain.AdminContactNotices, Notices: encoded}
			if err := s.e.createAdmin(tx, dest, rec, s.e.Now()); err != nil {
				return err
			}
			for _, entry := range entries {
				if err := tx.DeleteNotice(entry.Seq); err != nil {
					return err
				}
			}
			n = len(entries)
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < s.e.cfg.SyncBatch {
			break
		}
	}
	if total > 0 {
		s.e.metrics.NoticesSent.Add(float64(total))
		s.logger.Debug("contact notices sent", "count", total)
	}
	return total, nil
}

// receive consumes ContactNotices records delivered to the regional
// group endpoint until ep is closed.
func (s *Synchronizer) receive(ctx context.Context, ep *Endpoint) error {
	defer ep.Close()
	for {
		d, err := ep.Receive(ctx, -1)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, storage.ErrClosed) {
				return nil
			}
			s.logger.Warn("receive failed", "endpoint", ep.EID(), "error", err)
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
		if d.AdminRecord == nil || d.AdminRecord.Type != domain.AdminContactNotices {
			continue
		}
		if s.e.isLocalNode(d.Source) {
			continue
		}
		s.apply(ctx, d.Source, d.AdminRecord.Notices)
	}
}

// apply decodes and applies each notice on its own. Bad notices are
// logged and dropped without affecting the rest.
func (s *Synchronizer) apply(ctx context.Context, source domain.EID, notices [][]byte) {
	applied, dropped := 0, 0
	for _, raw := range notices {
		n, err := wire.DecodeNotice(raw)
		if err == nil {
			err = s.e.ContactPlan.ApplyNotice(ctx, n)
		}
		if err != nil {
			dropped++
			s.logger.Warn("contact notice dropped", "source", source, "error", err)
			continue
		}
		applied++
	}
	s.e.metrics.NoticesApplied.Add(float64(applied))
	s.e.metrics.NoticesDropped.Add(float64(dropped))
	s.logger.Debug("contact notices applied", "source", source, "applied", applied, "dropped", dropped)
}
