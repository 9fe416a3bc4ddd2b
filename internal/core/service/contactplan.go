package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

// ContactPlanService maintains the persisted contact plan and its
// in-memory index. Local changes are queued as notices for the region;
// changes learned from notices are not.
type ContactPlanService struct {
	e      *Engine
	logger *slog.Logger
}

// ContactRevision holds the fields a revision may change. Nil fields are
// kept.
type ContactRevision struct {
	Rate       *uint64  `json:"rate,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// load rebuilds the index from the store.
func (s *ContactPlanService) load(ctx context.Context) error {
	var (
		contacts []domain.Contact
		ranges   []domain.Range
	)
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		if contacts, err = tx.Contacts(); err != nil {
			return err
		}
		ranges, err = tx.Ranges()
		return err
	})
	if err != nil {
		return err
	}
	s.e.index.Load(contacts, ranges)
	s.logger.Info("contact plan loaded", "contacts", len(contacts), "ranges", len(ranges))
	return nil
}

// ============================================================================
// Contacts
// ============================================================================

// InsertContact adds a contact. Inserting an identical contact again
// returns the stored one.
func (s *ContactPlanService) InsertContact(ctx context.Context, c domain.Contact) (*domain.Contact, error) {
	var out *domain.Contact
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = s.insertContact(tx, c, true)
		return err
	})
	return out, err
}

func (s *ContactPlanService) insertContact(tx *storage.Txn, c domain.Contact, local bool) (*domain.Contact, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	existing, ok, err := tx.Contact(c.Key())
	if err != nil {
		return nil, err
	}
	if ok {
		if *existing == c {
			return existing, nil
		}
		return nil, domain.ErrContactNotRevised.WithDetails(existing.String())
	}
	others, err := tx.ContactsBetween(c.Key())
	if err != nil {
		return nil, err
	}
	for i := range others {
		if others[i].Overlaps(&c) {
			return nil, domain.ErrContactOverlap.WithDetails(others[i].String())
		}
	}
	if err := tx.PutContact(&c); err != nil {
		return nil, err
	}
	if local {
		if err := tx.AppendNotice(domain.ContactAdded(&c)); err != nil {
			return nil, err
		}
	}
	tx.OnCommit(func() { s.e.index.PutContact(c) })
	return &c, nil
}

// ReviseContact changes the rate and/or confidence of the contact at k.
func (s *ContactPlanService) ReviseContact(ctx context.Context, k domain.ContactKey, rev ContactRevision) (*domain.Contact, error) {
	var out *domain.Contact
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = s.reviseContact(tx, k, rev, true)
		return err
	})
	return out, err
}

func (s *ContactPlanService) reviseContact(tx *storage.Txn, k domain.ContactKey, rev ContactRevision, local bool) (*domain.Contact, error) {
	c, ok, err := tx.Contact(k)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrContactNotFound
	}
	if rev.Rate != nil {
		c.Rate = *rev.Rate
	}
	if rev.Confidence != nil {
		c.Confidence = *rev.Confidence
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := tx.PutContact(c); err != nil {
		return nil, err
	}
	if local {
		if err := tx.AppendNotice(domain.ContactRevised(c)); err != nil {
			return nil, err
		}
	}
	revised := *c
	tx.OnCommit(func() { s.e.index.PutContact(revised) })
	return c, nil
}

// RemoveContact removes the contact at k, or every contact of the node
// pair when k.FromTime is zero. It returns how many were removed.
func (s *ContactPlanService) RemoveContact(ctx context.Context, k domain.ContactKey) (int, error) {
	n := 0
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		var err error
		n, err = s.removeContact(tx, k, true)
		return err
	})
	return n, err
}

func (s *ContactPlanService) removeContact(tx *storage.Txn, k domain.ContactKey, local bool) (int, error) {
	removed, err := tx.DeleteContacts(k)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 && !k.Wildcard() {
		return 0, domain.ErrContactNotFound
	}
	if local {
		if err := tx.AppendNotice(domain.ContactRemoved(k)); err != nil {
			return 0, err
		}
	}
	tx.OnCommit(func() { s.e.index.RemoveContacts(k) })
	return len(removed), nil
}

// ListContacts returns every contact in key order.
func (s *ContactPlanService) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	var out []domain.Contact
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.Contacts()
		return err
	})
	return out, err
}

// ============================================================================
// Ranges
// ============================================================================

// InsertRange adds a range. Ranges for the same node pair must not
// overlap.
func (s *ContactPlanService) InsertRange(ctx context.Context, r domain.Range) (*domain.Range, error) {
	var out *domain.Range
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = s.insertRange(tx, r, true)
		return err
	})
	return out, err
}

func (s *ContactPlanService) insertRange(tx *storage.Txn, r domain.Range, local bool) (*domain.Range, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	others, err := tx.RangesBetween(r.Key())
	if err != nil {
		return nil, err
	}
	for i := range others {
		if others[i] == r {
			return &others[i], nil
		}
		if others[i].Overlaps(&r) {
			return nil, domain.ErrRangeOverlap
		}
	}
	if err := tx.PutRange(&r); err != nil {
		return nil, err
	}
	if local {
		if err := tx.AppendNotice(domain.RangeAdded(&r)); err != nil {
			return nil, err
		}
	}
	tx.OnCommit(func() { s.e.index.PutRange(r) })
	return &r, nil
}

// RemoveRange removes the range at k, or every range of the node pair
// when k.FromTime is zero.
func (s *ContactPlanService) RemoveRange(ctx context.Context, k domain.ContactKey) (int, error) {
	n := 0
	err := s.e.store.Update(ctx, func(tx *storage.Txn) error {
		var err error
		n, err = s.removeRange(tx, k, true)
		return err
	})
	return n, err
}

func (s *ContactPlanService) removeRange(tx *storage.Txn, k domain.ContactKey, local bool) (int, error) {
	removed, err := tx.DeleteRanges(k)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 && !k.Wildcard() {
		return 0, domain.ErrRangeNotFound
	}
	if local {
		if err := tx.AppendNotice(domain.RangeRemoved(k)); err != nil {
			return 0, err
		}
	}
	tx.OnCommit(func() { s.e.index.RemoveRanges(k) })
	return len(removed), nil
}

// ListRanges returns every range in key order.
func (s *ContactPlanService) ListRanges(ctx context.Context) ([]domain.Range, error) {
	var out []domain.Range
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.Ranges()
		return err
	})
	return out, err
}

// ============================================================================
// Region membership
// ============================================================================

// RegisterNode records node as a member of region.
func (s *ContactPlanService) RegisterNode(ctx context.Context, region uint32, node uint64) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		return s.register(tx, region, node, true)
	})
}

func (s *ContactPlanService) register(tx *storage.Txn, region uint32, node uint64, local bool) error {
	if node == 0 {
		return domain.ErrInvalidArgument.WithDetails("node must be positive")
	}
	if err := tx.PutRegistration(domain.Registration{Region: region, Node: node}); err != nil {
		return err
	}
	if local {
		return tx.AppendNotice(domain.NodeRegistered(region, node))
	}
	return nil
}

// DeregisterNode removes node from region.
func (s *ContactPlanService) DeregisterNode(ctx context.Context, region uint32, node uint64) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		return s.deregister(tx, region, node, true)
	})
}

func (s *ContactPlanService) deregister(tx *storage.Txn, region uint32, node uint64, local bool) error {
	ok, err := tx.DeleteRegistration(domain.Registration{Region: region, Node: node})
	if err != nil || !ok {
		return err
	}
	if local {
		return tx.AppendNotice(domain.NodeDeregistered(region, node))
	}
	return nil
}

// ListRegistrations returns every region membership.
func (s *ContactPlanService) ListRegistrations(ctx context.Context) ([]domain.Registration, error) {
	var out []domain.Registration
	err := s.e.store.View(ctx, func(tx *storage.Txn) error {
		var err error
		out, err = tx.Registrations()
		return err
	})
	return out, err
}

// ============================================================================
// Notices and housekeeping
// ============================================================================

// ApplyNotice applies a notice received from another node of the region.
// Removing a record that is already gone is not an error.
func (s *ContactPlanService) ApplyNotice(ctx context.Context, n *domain.ContactNotice) error {
	return s.e.store.Update(ctx, func(tx *storage.Txn) error {
		return s.applyNotice(tx, n)
	})
}

func (s *ContactPlanService) applyNotice(tx *storage.Txn, n *domain.ContactNotice) error {
	key := domain.ContactKey{Region: n.Region, FromNode: n.FromNode, ToNode: n.ToNode, FromTime: n.FromTime}
	var err error
	switch {
	case n.IsRegistration():
		if n.IsDeletion() {
			return s.deregister(tx, n.Region, n.FromNode, false)
		}
		return s.register(tx, n.Region, n.FromNode, false)
	case n.IsDeletion() && n.Kind == domain.NoticeRange:
		_, err = s.removeRange(tx, key, false)
		if errors.Is(err, domain.ErrRangeNotFound) {
			return nil
		}
	case n.IsDeletion():
		_, err = s.removeContact(tx, key, false)
		if errors.Is(err, domain.ErrContactNotFound) {
			return nil
		}
	case n.Kind == domain.NoticeRange:
		_, err = s.insertRange(tx, domain.Range{
			Region: n.Region, FromTime: n.FromTime, ToTime: n.ToTime,
			FromNode: n.FromNode, ToNode: n.ToNode, OWLT: uint32(n.Magnitude),
		}, false)
	case n.Revision:
		rate, conf := n.Magnitude, n.Confidence
		_, err = s.reviseContact(tx, key, ContactRevision{Rate: &rate, Confidence: &conf}, false)
	default:
		_, err = s.insertContact(tx, domain.Contact{
			Region: n.Region, FromTime: n.FromTime, ToTime: n.ToTime,
			FromNode: n.FromNode, ToNode: n.ToNode, Rate: n.Magnitude, Confidence: n.Confidence,
		}, false)
	}
	return err
}

// Purge deletes contacts and ranges that ended at or before now.
func (s *ContactPlanService) Purge(ctx context.Context, now domain.DTNTime) (contacts, ranges int, err error) {
	err = s.e.store.Update(ctx, func(tx *storage.Txn) error {
		contacts, ranges = 0, 0
		all, err := tx.Contacts()
		if err != nil {
			return err
		}
		for i := range all {
			if all[i].ToTime > now {
				continue
			}
			if _, err := tx.DeleteContacts(all[i].Key()); err != nil {
				return err
			}
			contacts++
		}
		rs, err := tx.Ranges()
		if err != nil {
			return err
		}
		for i := range rs {
			if rs[i].ToTime > now {
				continue
			}
			if _, err := tx.DeleteRanges(rs[i].Key()); err != nil {
				return err
			}
			ranges++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	s.e.index.Purge(now)
	if contacts+ranges > 0 {
		s.logger.Debug("contact plan purged", "contacts", contacts, "ranges", ranges)
	}
	return contacts, ranges, nil
}
