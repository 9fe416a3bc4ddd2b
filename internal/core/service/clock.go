package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

var gaugeKinds = []domain.QueueKind{
	domain.QueueDispatch, domain.QueuePlan, domain.QueueDuct,
	domain.QueueDelivery, domain.QueueLimbo, domain.QueueTransit,
}

// Clock is the periodic housekeeping task.
type Clock struct {
	e      *Engine
	logger *slog.Logger
}

// Name implements periodic.Task.
func (c *Clock) Name() string { return "clock" }

// Run implements periodic.Task.
func (c *Clock) Run(ctx context.Context) {
	if err := c.Tick(ctx, c.e.Now()); err != nil && ctx.Err() == nil {
		c.logger.Warn("clock tick incomplete", "error", err)
	}
}

// Tick runs one housekeeping pass at now. Every step runs even if an
// earlier one failed; the errors are joined.
func (c *Clock) Tick(ctx context.Context, now domain.DTNTime) error {
	var errs []error
	if _, err := c.Expire(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.e.Custody.Sweep(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.e.Plans.AssignAll(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.e.Plans.ReforwardStranded(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if _, _, err := c.e.ContactPlan.Purge(ctx, now); err != nil {
		errs = append(errs, err)
	}
	if err := c.updateGauges(ctx); err != nil {
		errs = append(errs, err)
	}
	c.e.Multicast.purgeSeen()
	return errors.Join(errs...)
}

// Expire destroys every bundle whose lifetime ended at or before now and
// returns how many were destroyed.
func (c *Clock) Expire(ctx context.Context, now domain.DTNTime) (int, error) {
	total := 0
	for {
		seen, destroyed := 0, 0
		err := c.e.store.Update(ctx, func(tx *storage.Txn) error {
			seen, destroyed = 0, 0
			ids, err := tx.DueExpirations(now, c.e.cfg.SweepBatch)
			if err != nil {
				return err
			}
			seen = len(ids)
			for _, id := range ids {
				if err := c.e.expire(tx, id, now); err != nil {
					return err
				}
				destroyed++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += destroyed
		if seen < c.e.cfg.SweepBatch || destroyed == 0 {
			break
		}
	}
	if total > 0 {
		c.logger.Info("expired bundles destroyed", "count", total)
	}
	return total, nil
}

func (c *Clock) updateGauges(ctx context.Context) error {
	var depths map[string]int
	if err := c.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		depths, err = tx.QueueDepths()
		return err
	}); err != nil {
		return err
	}
	byKind := make(map[string]int, len(gaugeKinds))
	for _, k := range gaugeKinds {
		byKind[k.String()] = 0
	}
	for name, n := range depths {
		kind, _, _ := strings.Cut(name, "/")
		byKind[kind] += n
	}
	for kind, n := range byKind {
		c.e.metrics.QueueDepth.WithLabelValues(kind).Set(float64(n))
	}
	return nil
}
