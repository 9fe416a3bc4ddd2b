package service

import (
	"context"
	"log/slog"
	"slices"
	"strconv"

	"github.com/patrickmn/go-cache"
	"github.com/spaolacci/murmur3"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

// MulticastService replicates group-addressed bundles to local members
// and to kin, and maintains group membership through petitions.
type MulticastService struct {
	e      *Engine
	logger *slog.Logger

	// seen remembers fingerprints of multicast bundles already handled.
	// Expired entries are dropped by the clock.
	seen *cache.Cache
}

func newMulticastService(e *Engine) *MulticastService {
	return &MulticastService{
		e:      e,
		logger: e.component("multicast"),
		seen:   cache.New(e.cfg.DedupeTTL, 0),
	}
}

func fingerprint(id domain.BundleID) string {
	return strconv.FormatUint(murmur3.Sum64(id.Original().Key()), 16)
}

// dispatch forwards one bundle from the imc dispatch queue.
func (m *MulticastService) dispatch(tx *storage.Txn, b *domain.Bundle, now domain.DTNTime) error {
	if b.RelayTo != 0 {
		_, err := m.e.route(tx, b, b.RelayTo, now)
		return err
	}

	fp := fingerprint(b.ID)
	if _, dup := m.seen.Get(fp); dup {
		m.logger.Debug("duplicate multicast bundle dropped", "bundle", b.ID)
		_, err := m.e.destroy(tx, b.ID, domain.ReasonNone)
		return err
	}
	ttl := m.e.cfg.DedupeTTL
	tx.OnCommit(func() { m.seen.Set(fp, struct{}{}, ttl) })

	local := m.e.cfg.Node
	ownSource := m.e.isLocalNode(b.ID.Source)
	if ownSource && b.SenderNode != 0 && b.SenderNode != local {
		m.logger.Debug("multicast loop dropped", "bundle", b.ID, "sender", b.SenderNode)
		_, err := m.e.destroy(tx, b.ID, domain.ReasonNone)
		return err
	}

	group := b.Destination.Node
	produced := 0

	member, err := tx.HasMember(group, local)
	if err != nil {
		return err
	}
	if member {
		c, err := m.clone(tx, b)
		if err != nil {
			return err
		}
		if err := m.e.deliverLocal(tx, c, now); err != nil {
			return err
		}
		produced++
	}

	// anonymous bundles with no sender were sent by a local endpoint
	originated := b.SenderNode == 0 && (ownSource || b.ID.Source.IsNone())
	if originated || b.SenderNode != 0 {
		relatives, err := m.relatives(tx, group)
		if err != nil {
			return err
		}
		for _, node := range relatives {
			if node == b.SenderNode || node == local {
				continue
			}
			c, err := m.clone(tx, b)
			if err != nil {
				return err
			}
			c.RelayTo = node
			routed, err := m.e.route(tx, c, node, now)
			if err != nil {
				return err
			}
			if routed {
				produced++
			}
		}
	}

	if produced == 0 {
		return m.e.abandon(tx, b, domain.ReasonNoRoute, now)
	}
	n := float64(produced)
	tx.OnCommit(func() { m.e.metrics.MulticastClones.Add(n) })
	_, err = m.e.destroy(tx, b.ID, domain.ReasonNone)
	return err
}

func (m *MulticastService) clone(tx *storage.Txn, b *domain.Bundle) (*domain.Bundle, error) {
	c, err := tx.Clone(b)
	if err != nil {
		return nil, err
	}
	c.Custody = nil
	return c, nil
}

// relatives returns the kin that should receive a copy of a group bundle.
// Every kin is a member of the regional group.
func (m *MulticastService) relatives(tx *storage.Txn, group uint64) ([]uint64, error) {
	if group == domain.RegionalGroup {
		return tx.KinNodes()
	}
	members, err := tx.Members(group)
	if err != nil {
		return nil, err
	}
	out := members[:0]
	for _, n := range members {
		kin, err := tx.IsKin(n)
		if err != nil {
			return nil, err
		}
		if kin {
			out = append(out, n)
		}
	}
	return out, nil
}

// ============================================================================
// Membership
// ============================================================================

// Join makes the local node a member of group and petitions the kin.
func (m *MulticastService) Join(ctx context.Context, group uint64) error {
	return m.setLocal(ctx, group, true)
}

// Leave removes the local node from group and petitions the kin.
func (m *MulticastService) Leave(ctx context.Context, group uint64) error {
	return m.setLocal(ctx, group, false)
}

func (m *MulticastService) setLocal(ctx context.Context, group uint64, join bool) error {
	local := m.e.cfg.Node
	changed := false
	err := m.e.store.Update(ctx, func(tx *storage.Txn) error {
		changed = false
		has, err := tx.HasMember(group, local)
		if err != nil || has == join {
			return err
		}
		changed = true
		if join {
			err = tx.PutMember(group, local)
		} else {
			err = tx.DeleteMember(group, local)
		}
		if err != nil {
			return err
		}
		return m.propagate(tx, group, 0, m.e.Now())
	})
	if err == nil && changed {
		m.logger.Info("local group membership changed", "group", group, "join", join)
	}
	return err
}

// HandlePetition applies a petition from kin node from and passes the
// change on to the other kin.
func (m *MulticastService) HandlePetition(ctx context.Context, from uint64, p *domain.Petition) error {
	if p == nil {
		return domain.ErrMalformedAdminRecord.WithDetails("empty petition")
	}
	if p.Group == domain.RegionalGroup {
		return nil
	}
	m.e.metrics.Petitions.Inc()
	changed := false
	err := m.e.store.Update(ctx, func(tx *storage.Txn) error {
		changed = false
		kin, err := tx.IsKin(from)
		if err != nil || !kin {
			return err
		}
		has, err := tx.HasMember(p.Group, from)
		if err != nil || has == p.Join {
			return err
		}
		changed = true
		if p.Join {
			err = tx.PutMember(p.Group, from)
		} else {
			err = tx.DeleteMember(p.Group, from)
		}
		if err != nil {
			return err
		}
		return m.propagate(tx, p.Group, from, m.e.Now())
	})
	if err == nil && changed {
		m.logger.Info("kin membership changed", "kin", from, "group", p.Group, "join", p.Join)
	}
	return err
}

// propagate tells every kin except skip whether this node still leads to
// members of group.
func (m *MulticastService) propagate(tx *storage.Txn, group, skip uint64, now domain.DTNTime) error {
	if group == domain.RegionalGroup {
		return nil
	}
	kin, err := tx.KinNodes()
	if err != nil {
		return err
	}
	members, err := tx.Members(group)
	if err != nil {
		return err
	}
	for _, k := range kin {
		if k == skip || k == m.e.cfg.Node {
			continue
		}
		others := slices.ContainsFunc(members, func(n uint64) bool { return n != k })
		if err := m.petition(tx, k, group, others, now); err != nil {
			return err
		}
	}
	return nil
}

func (m *MulticastService) petition(tx *storage.Txn, to, group uint64, join bool, now domain.DTNTime) error {
	return m.e.sendAdmin(tx, domain.AdminEID(to), &domain.AdminRecord{
		Type:     domain.AdminPetition,
		Petition: &domain.Petition{Group: group, Join: join},
	}, now)
}

// ============================================================================
// Kin
// ============================================================================

// AddKin records node as kin and briefs it on every group this node leads
// to.
func (m *MulticastService) AddKin(ctx context.Context, node uint64) error {
	if node == 0 || node == m.e.cfg.Node {
		return domain.ErrInvalidArgument.WithDetails("kin must be another node")
	}
	briefed := 0
	err := m.e.store.Update(ctx, func(tx *storage.Txn) error {
		briefed = 0
		if kin, err := tx.IsKin(node); err != nil || kin {
			return err
		}
		if err := tx.PutKin(node); err != nil {
			return err
		}
		groups, err := m.ledGroups(tx, node)
		if err != nil {
			return err
		}
		now := m.e.Now()
		for _, g := range groups {
			if err := m.petition(tx, node, g, true, now); err != nil {
				return err
			}
		}
		briefed = len(groups)
		return nil
	})
	if err == nil {
		m.logger.Info("kin added", "kin", node, "groups_briefed", briefed)
	}
	return err
}

// RemoveKin forgets node and its memberships.
func (m *MulticastService) RemoveKin(ctx context.Context, node uint64) error {
	return m.e.store.Update(ctx, func(tx *storage.Txn) error {
		return tx.DeleteKin(node)
	})
}

// Kin returns the kin node numbers.
func (m *MulticastService) Kin(ctx context.Context) ([]uint64, error) {
	var out []uint64
	err := m.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.KinNodes()
		return err
	})
	return out, err
}

// Members returns the nodes recorded as members of group.
func (m *MulticastService) Members(ctx context.Context, group uint64) ([]uint64, error) {
	var out []uint64
	err := m.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.Members(group)
		return err
	})
	return out, err
}

// ledGroups returns the non-regional groups with a member other than
// node, in ascending order.
func (m *MulticastService) ledGroups(tx *storage.Txn, node uint64) ([]uint64, error) {
	kin, err := tx.KinNodes()
	if err != nil {
		return nil, err
	}
	set := make(map[uint64]struct{})
	for _, n := range append(kin, m.e.cfg.Node) {
		if n == node {
			continue
		}
		groups, err := tx.GroupsOf(n)
		if err != nil {
			return nil, err
		}
		for _, g := range groups {
			if g != domain.RegionalGroup {
				set[g] = struct{}{}
			}
		}
	}
	out := make([]uint64, 0, len(set))
	for g := range set {
		out = append(out, g)
	}
	slices.Sort(out)
	return out, nil
}

// purgeSeen drops expired dedupe entries.
func (m *MulticastService) purgeSeen() {
	m.seen.DeleteExpired()
}
