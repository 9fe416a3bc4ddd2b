package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/pkg/sema"
)

// PlanService manages egress plans and the ducts they feed.
type PlanService struct {
	e      *Engine
	logger *slog.Logger
}

// ============================================================================
// Plans
// ============================================================================

// AddPlan stores a new plan. Bundles waiting in limbo get another chance.
func (s *PlanService) AddPlan(ctx context.Context, p *domain.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		if _, ok, err := tx.Plan(p.Node); err != nil {
			return err
		} else if ok {
			return domain.ErrPlanExists.WithDetails(fmt.Sprintf("node %d", p.Node))
		}
		return tx.PutPlan(p)
	})
	if err != nil {
		return err
	}
	s.logger.Info("plan added", "node", p.Node, "ducts", p.Ducts, "continuous", p.Continuous)
	_, err = s.ReleaseLimbo(ctx)
	return err
}

// UpdatePlan replaces an existing plan and re-runs assignment for it.
func (s *PlanService) UpdatePlan(ctx context.Context, p *domain.Plan) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		if _, ok, err := tx.Plan(p.Node); err != nil {
			return err
		} else if !ok {
			return domain.ErrPlanNotFound.WithDetails(fmt.Sprintf("node %d", p.Node))
		}
		return tx.PutPlan(p)
	})
	if err != nil {
		return err
	}
	s.logger.Info("plan updated", "node", p.Node, "ducts", p.Ducts, "continuous", p.Continuous)
	_, err = s.Assign(ctx, p.Node, s.e.Now())
	return err
}

// RemovePlan deletes the plan for node. Bundles queued on the plan or on
// its ducts are re-dispatched.
func (s *PlanService) RemovePlan(ctx context.Context, node uint64) error {
	var plan *domain.Plan
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		p, ok, err := tx.Plan(node)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrPlanNotFound.WithDetails(fmt.Sprintf("node %d", node))
		}
		plan = p
		return tx.DeletePlan(node)
	})
	if err != nil {
		return err
	}

	queues := planQueues(node)
	for _, d := range plan.Ducts {
		queues = append(queues, ductQueues(d)...)
	}
	total := 0
	for _, q := range queues {
		n, err := s.e.eachQueued(ctx, q, s.e.redispatch)
		if err != nil {
			return err
		}
		total += n
	}
	s.logger.Info("plan removed", "node", node, "redispatched", total)
	return nil
}

// Plan returns the plan for node.
func (s *PlanService) Plan(ctx context.Context, node uint64) (*domain.Plan, error) {
	var plan *domain.Plan
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		p, ok, err := tx.Plan(node)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrPlanNotFound.WithDetails(fmt.Sprintf("node %d", node))
		}
		plan = p
		return nil
	})
	return plan, err
}

// PlanInfo is a plan with its queue depths.
type PlanInfo struct {
	domain.Plan
	Open   bool  `json:"open"`
	Queued []int `json:"queued"`
}

// ListPlans returns every plan ordered by node number.
func (s *PlanService) ListPlans(ctx context.Context) ([]PlanInfo, error) {
	now := s.e.Now()
	var out []PlanInfo
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		plans, err := tx.Plans()
		if err != nil {
			return err
		}
		out = make([]PlanInfo, 0, len(plans))
		for i := range plans {
			info := PlanInfo{Plan: plans[i], Open: s.e.Router.IsOpen(&plans[i], now), Queued: make([]int, domain.NumPriorities)}
			for pri, q := range planQueues(plans[i].Node) {
				if info.Queued[pri], err = tx.QueueLen(q); err != nil {
					return err
				}
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}

// enqueue queues b for plan p. An open plan hands b straight to a usable
// duct, or to limbo when every duct is blocked or missing. A closed plan
// keeps b on its own priority queue.
func (s *PlanService) enqueue(tx *storage.Txn, b *domain.Bundle, p *domain.Plan, now domain.DTNTime) error {
	if !s.e.Router.IsOpen(p, now) {
		return tx.MoveTo(b, domain.PlanQueue(p.Node, b.Priority))
	}
	name, err := s.usableDuct(tx, p, b.Priority)
	if err != nil {
		return err
	}
	if name == "" {
		return tx.MoveTo(b, domain.LimboQueue)
	}
	q := domain.DuctQueue(name, b.Priority)
	if err := tx.MoveTo(b, q); err != nil {
		return err
	}
	s.e.wakeOnCommit(tx, q)
	return nil
}

// usableDuct returns the first existing, unblocked duct of p for class pri.
func (s *PlanService) usableDuct(tx *storage.Txn, p *domain.Plan, pri domain.Priority) (string, error) {
	for _, name := range p.DuctOrder(pri) {
		d, ok, err := tx.Duct(name)
		if err != nil {
			return "", err
		}
		if ok && !d.Blocked {
			return name, nil
		}
	}
	return "", nil
}

// Assign moves the plan-queued bundles of node onto ducts if the plan is
// open at now. It returns the number of bundles moved.
func (s *PlanService) Assign(ctx context.Context, node uint64, now domain.DTNTime) (int, error) {
	var plan *domain.Plan
	if err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		p, ok, err := tx.Plan(node)
		if ok {
			plan = p
		}
		return err
	}); err != nil {
		return 0, err
	}
	if plan == nil || !s.e.Router.IsOpen(plan, now) {
		return 0, nil
	}
	total := 0
	queues := planQueues(node)
	for i := len(queues) - 1; i >= 0; i-- {
		n, err := s.e.eachQueued(ctx, queues[i], func(tx *storage.Txn, b *domain.Bundle) error {
			return s.enqueue(tx, b, plan, now)
		})
		if err != nil {
			return total, err
		}
		total += n
	}
	if total > 0 {
		s.logger.Debug("plan-queued bundles assigned", "node", node, "count", total)
	}
	return total, nil
}

// AssignAll runs Assign for every plan with queued bundles.
func (s *PlanService) AssignAll(ctx context.Context, now domain.DTNTime) (int, error) {
	nodes, err := s.queuedPlans(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, node := range nodes {
		n, err := s.Assign(ctx, node, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// ReforwardStranded re-dispatches plan-queued bundles that can no longer
// leave through their plan: the plan is gone, or it is closed and no
// future contact to its neighbor exists.
func (s *PlanService) ReforwardStranded(ctx context.Context, now domain.DTNTime) (int, error) {
	nodes, err := s.queuedPlans(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, node := range nodes {
		stranded := false
		if err := s.e.store.View(ctx, func(tx *storage.Txn) error {
			p, ok, err := tx.Plan(node)
			if err != nil {
				return err
			}
			stranded = !ok || (!p.Continuous && !s.e.index.HasFuture(s.e.cfg.Node, node, now))
			return nil
		}); err != nil {
			return total, err
		}
		if !stranded {
			continue
		}
		for _, q := range planQueues(node) {
			n, err := s.e.eachQueued(ctx, q, s.e.redispatch)
			if err != nil {
				return total, err
			}
			total += n
		}
	}
	if total > 0 {
		s.logger.Info("re-dispatched stranded bundles", "count", total)
	}
	return total, nil
}

func (s *PlanService) queuedPlans(ctx context.Context) ([]uint64, error) {
	var names []string
	if err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		names, err = tx.QueuesOfKind(domain.QueuePlan)
		return err
	}); err != nil {
		return nil, err
	}
	seen := make(map[uint64]struct{})
	var nodes []uint64
	for _, name := range names {
		q, ok := parseQueueName(name)
		if !ok {
			continue
		}
		node, err := strconv.ParseUint(q.Owner, 10, 64)
		if err != nil {
			continue
		}
		if _, dup := seen[node]; !dup {
			seen[node] = struct{}{}
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// ============================================================================
// Ducts
// ============================================================================

// AddDuct registers an outbound duct and installs its semaphore.
func (s *PlanService) AddDuct(ctx context.Context, d *domain.Duct) error {
	if err := d.Validate(); err != nil {
		return err
	}
	d.Owner = ""
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		if _, ok, err := tx.Duct(d.Name); err != nil {
			return err
		} else if ok {
			return domain.ErrDuctExists.WithDetails(d.Name)
		}
		return tx.PutDuct(d)
	})
	if err != nil {
		return err
	}
	s.e.sems.SetIfAbsent(ductSemKey(d.Name), sema.New())
	s.logger.Info("duct added", "duct", d.Name, "protocol", d.Protocol, "neighbor", d.Neighbor, "address", d.Address)
	_, err = s.ReleaseLimbo(ctx)
	return err
}

// RemoveDuct deletes a duct. Its queued bundles are re-dispatched and an
// attached daemon sees ErrDuctClosed.
func (s *PlanService) RemoveDuct(ctx context.Context, name string) error {
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		if _, ok, err := tx.Duct(name); err != nil {
			return err
		} else if !ok {
			return domain.ErrDuctNotFound.WithDetails(name)
		}
		return tx.DeleteDuct(name)
	})
	if err != nil {
		return err
	}
	if sem, ok := s.e.sems.Pop(ductSemKey(name)); ok {
		sem.End()
	}
	total := 0
	for _, q := range ductQueues(name) {
		n, err := s.e.eachQueued(ctx, q, s.e.redispatch)
		if err != nil {
			return err
		}
		total += n
	}
	s.logger.Info("duct removed", "duct", name, "redispatched", total)
	return nil
}

// BlockDuct stops a duct from taking bundles. Its queued bundles move to
// limbo.
func (s *PlanService) BlockDuct(ctx context.Context, name string) error {
	if err := s.setBlocked(ctx, name, true); err != nil {
		return err
	}
	total := 0
	for _, q := range ductQueues(name) {
		n, err := s.e.eachQueued(ctx, q, func(tx *storage.Txn, b *domain.Bundle) error {
			return tx.MoveTo(b, domain.LimboQueue)
		})
		if err != nil {
			return err
		}
		total += n
	}
	s.logger.Info("duct blocked", "duct", name, "to_limbo", total)
	return nil
}

// UnblockDuct lets a duct take bundles again and releases limbo.
func (s *PlanService) UnblockDuct(ctx context.Context, name string) error {
	if err := s.setBlocked(ctx, name, false); err != nil {
		return err
	}
	n, err := s.ReleaseLimbo(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("duct unblocked", "duct", name, "released", n)
	return nil
}

func (s *PlanService) setBlocked(ctx context.Context, name string, blocked bool) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		d, ok, err := tx.Duct(name)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrDuctNotFound.WithDetails(name)
		}
		if d.Blocked == blocked {
			return nil
		}
		d.Blocked = blocked
		return tx.PutDuct(d)
	})
}

// ReleaseLimbo re-dispatches every bundle in limbo.
func (s *PlanService) ReleaseLimbo(ctx context.Context) (int, error) {
	n, err := s.e.eachQueued(ctx, domain.LimboQueue, s.e.redispatch)
	if n > 0 {
		s.e.metrics.LimboReleases.Add(float64(n))
	}
	return n, err
}

// ListDucts returns every duct ordered by name.
func (s *PlanService) ListDucts(ctx context.Context) ([]domain.Duct, error) {
	var out []domain.Duct
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.Ducts()
		return err
	})
	return out, err
}

// ============================================================================
// Helpers
// ============================================================================

// eachQueued applies fn to the bundles of q, SweepBatch bundles per
// transaction, until q is drained. fn must take each bundle out of q.
func (e *Engine) eachQueued(ctx context.Context, q domain.QueueRef, fn func(tx *storage.Txn, b *domain.Bundle) error) (int, error) {
	total := 0
	for {
		n := 0
		err := e.store.Update(ctx, func(tx *storage.Txn) error {
			n = 0
			ids, err := tx.QueueIDs(q, e.cfg.SweepBatch)
			if err != nil {
				return err
			}
			for _, id := range ids {
				b, err := tx.Bundle(id)
				if err != nil {
					return err
				}
				if err := fn(tx, b); err != nil {
					return err
				}
				n++
			}
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < e.cfg.SweepBatch {
			return total, nil
		}
	}
}

func planQueues(node uint64) []domain.QueueRef {
	return []domain.QueueRef{
		domain.PlanQueue(node, domain.PriorityBulk),
		domain.PlanQueue(node, domain.PriorityStandard),
		domain.PlanQueue(node, domain.PriorityExpedited),
	}
}

// ductQueues lists the queues of a duct in dequeue order.
func ductQueues(name string) []domain.QueueRef {
	return []domain.QueueRef{
		domain.DuctQueue(name, domain.PriorityExpedited),
		domain.DuctQueue(name, domain.PriorityStandard),
		domain.DuctQueue(name, domain.PriorityBulk),
	}
}

// parseQueueName is the inverse of QueueRef.Name for plan, duct and transit
// queues.
func parseQueueName(name string) (domain.QueueRef, bool) {
	kind, rest, ok := strings.Cut(name, "/")
	if !ok {
		return domain.QueueRef{}, false
	}
	switch kind {
	case domain.QueueTransit.String():
		return domain.TransitQueue(rest), true
	case domain.QueuePlan.String(), domain.QueueDuct.String():
		i := strings.LastIndexByte(rest, '/')
		if i <= 0 {
			return domain.QueueRef{}, false
		}
		pri, err := strconv.ParseUint(rest[i+1:], 10, 8)
		if err != nil || !domain.Priority(pri).Valid() {
			return domain.QueueRef{}, false
		}
		if kind == domain.QueuePlan.String() {
			return domain.QueueRef{Kind: domain.QueuePlan, Owner: rest[:i], Priority: domain.Priority(pri)}, true
		}
		return domain.DuctQueue(rest[:i], domain.Priority(pri)), true
	}
	return domain.QueueRef{}, false
}
