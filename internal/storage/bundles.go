package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
)

// Bundle loads the bundle record for id.
func (tx *Txn) Bundle(id domain.BundleID) (*domain.Bundle, error) {
	var b domain.Bundle
	ok, err := tx.get(bundleKey(id), &b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrBundleNotFound.WithDetails(id.String())
	}
	return &b, nil
}

// FindByIdentity looks up a bundle by the identity other nodes know it by.
// The second result is false when no such bundle is stored.
func (tx *Txn) FindByIdentity(source domain.EID, creation domain.CreationTimestamp, fragmentOffset uint64) (*domain.Bundle, bool, error) {
	id := domain.BundleID{Source: source, Creation: creation, FragmentOffset: fragmentOffset}
	var b domain.Bundle
	ok, err := tx.get(bundleKey(id), &b)
	if err != nil || !ok {
		return nil, false, err
	}
	return &b, true, nil
}

// PutBundle persists changes to an existing bundle record. Queue
// membership must be changed with MoveTo.
func (tx *Txn) PutBundle(b *domain.Bundle) error {
	return tx.put(bundleKey(b.ID), b)
}

// NextCreation allocates a creation timestamp for a locally sourced bundle.
// Timestamps never go backwards even if the wall clock does.
func (tx *Txn) NextCreation(now domain.DTNTime) (domain.CreationTimestamp, error) {
	var last domain.CreationTimestamp
	if _, err := tx.get(keyCreation, &last); err != nil {
		return domain.CreationTimestamp{}, err
	}
	next := domain.CreationTimestamp{Time: now}
	switch {
	case now < last.Time:
		next = domain.CreationTimestamp{Time: last.Time, Seq: last.Seq + 1}
	case now == last.Time:
		next.Seq = last.Seq + 1
	}
	if err := tx.put(keyCreation, next); err != nil {
		return domain.CreationTimestamp{}, err
	}
	return next, nil
}

// Create stores a new bundle with its payload and places it in queue q.
// A bundle with the same identity must not exist.
func (tx *Txn) Create(b *domain.Bundle, payload []byte, q domain.QueueRef) error {
	if err := b.Validate(); err != nil {
		return err
	}
	dup, err := tx.exists(bundleKey(b.ID))
	if err != nil {
		return err
	}
	if dup {
		return domain.ErrDuplicateBundle.WithDetails(b.ID.String())
	}
	handle, err := tx.putPayload(payload)
	if err != nil {
		return err
	}
	b.PayloadHandle = handle
	b.PayloadLength = uint64(len(payload))
	b.Queue = domain.QueueRef{}
	b.QueueKey = nil
	if b.Expiry == 0 {
		b.Expiry = b.LifetimeEnd()
	}
	if err := tx.txn.Set(expiryKey(b.Expiry, b.ID), nil); err != nil {
		return err
	}
	if q.IsZero() {
		return tx.PutBundle(b)
	}
	return tx.MoveTo(b, q)
}

// Acquire decodes a bundle received from a convergence layer and stores it
// in its scheme's dispatch queue. A bundle that is already stored is
// reported with dup=true and left untouched.
func (tx *Txn) Acquire(raw []byte, senderNode uint64, now domain.DTNTime) (*domain.Bundle, bool, error) {
	b, payload, err := wire.DecodeBundle(raw)
	if err != nil {
		return nil, false, err
	}
	if existing, ok, err := tx.FindByIdentity(b.ID.Source, b.ID.Creation, b.ID.FragmentOffset); err != nil {
		return nil, false, err
	} else if ok {
		return existing, true, nil
	}
	b.SenderNode = senderNode
	b.ReceivedAt = now
	if b.WantsCustody() {
		b.Custody = &domain.CustodyRecord{State: domain.CustodyRequested}
	}
	if err := tx.Create(b, payload, domain.DispatchQueue(b.Destination.Scheme)); err != nil {
		return nil, false, err
	}
	return b, false, nil
}

// MoveTo atomically removes b from its current queue and appends it to q.
// Moving a bundle to the queue it is already in is a no-op, so replaying a
// move converges. q may be the zero QueueRef to leave b in no queue.
func (tx *Txn) MoveTo(b *domain.Bundle, q domain.QueueRef) error {
	if b.Queue == q && (q.IsZero() || b.QueueKey != nil) {
		return nil
	}
	if !b.Queue.IsZero() && b.QueueKey != nil {
		if err := tx.delete(queueEntryKey(b.Queue, b.QueueKey)); err != nil {
			return err
		}
	}
	b.Queue = q
	b.QueueKey = nil
	if !q.IsZero() {
		seq, err := tx.store.nextSeq()
		if err != nil {
			return err
		}
		b.QueueKey = queueOrderKey(b, seq)
		if err := tx.txn.Set(queueEntryKey(q, b.QueueKey), b.ID.Key()); err != nil {
			return err
		}
	}
	return tx.PutBundle(b)
}

// Destroy removes the bundle from every queue and index and releases its
// payload reference. It returns the removed record, or nil if the bundle
// was already gone.
func (tx *Txn) Destroy(id domain.BundleID) (*domain.Bundle, error) {
	var b domain.Bundle
	ok, err := tx.get(bundleKey(id), &b)
	if err != nil || !ok {
		return nil, err
	}
	if !b.Queue.IsZero() && b.QueueKey != nil {
		if err := tx.delete(queueEntryKey(b.Queue, b.QueueKey)); err != nil {
			return nil, err
		}
	}
	if err := tx.delete(expiryKey(b.ExpiresAt(), b.ID)); err != nil {
		return nil, err
	}
	if b.Custody != nil && b.Custody.Deadline != 0 {
		if err := tx.delete(custodyKey(b.Custody.Deadline, b.ID)); err != nil {
			return nil, err
		}
	}
	if err := tx.releasePayload(b.PayloadHandle); err != nil {
		return nil, err
	}
	if err := tx.delete(bundleKey(b.ID)); err != nil {
		return nil, err
	}
	return &b, nil
}

// Clone stores a copy of b that shares its payload. The copy has a fresh
// clone discriminator and is in no queue.
func (tx *Txn) Clone(b *domain.Bundle) (*domain.Bundle, error) {
	c := *b
	c.Blocks = append(domain.BlockList(nil), b.Blocks...)
	if b.Custody != nil {
		cr := *b.Custody
		cr.Deadline = 0
		c.Custody = &cr
	}
	c.Queue = domain.QueueRef{}
	c.QueueKey = nil
	c.RelayTo = 0
	for attempt := 0; ; attempt++ {
		seq, err := tx.store.nextSeq()
		if err != nil {
			return nil, err
		}
		c.ID = b.ID
		c.ID.Clone = uint32(seq) | 1
		taken, err := tx.exists(bundleKey(c.ID))
		if err != nil {
			return nil, err
		}
		if !taken {
			break
		}
		if attempt > 8 {
			return nil, domain.ErrInternal.WithDetails(fmt.Sprintf("no free clone id for %s", b.ID))
		}
	}
	if err := tx.refPayload(b.PayloadHandle); err != nil {
		return nil, err
	}
	if err := tx.txn.Set(expiryKey(c.ExpiresAt(), c.ID), nil); err != nil {
		return nil, err
	}
	if err := tx.PutBundle(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// SetCustodyDeadline reschedules the custody deadline of b. A zero
// deadline cancels it. The record is persisted.
func (tx *Txn) SetCustodyDeadline(b *domain.Bundle, at domain.DTNTime) error {
	if b.Custody == nil {
		return domain.ErrInvalidArgument.WithDetails("bundle has no custody record")
	}
	if old := b.Custody.Deadline; old != 0 {
		if err := tx.delete(custodyKey(old, b.ID)); err != nil {
			return err
		}
	}
	b.Custody.Deadline = at
	if at != 0 {
		if err := tx.txn.Set(custodyKey(at, b.ID), nil); err != nil {
			return err
		}
	}
	return tx.PutBundle(b)
}

// DueExpirations returns up to limit bundles whose expiry is at or before now.
func (tx *Txn) DueExpirations(now domain.DTNTime, limit int) ([]domain.BundleID, error) {
	return tx.dueIndex(prefixExpiry, now, limit)
}

// DueCustody returns up to limit bundles whose custody deadline is at or
// before now.
func (tx *Txn) DueCustody(now domain.DTNTime, limit int) ([]domain.BundleID, error) {
	return tx.dueIndex(prefixCustody, now, limit)
}

func (tx *Txn) dueIndex(prefix []byte, now domain.DTNTime, limit int) ([]domain.BundleID, error) {
	keys, err := tx.scanKeys(prefix, join(prefix, u64(uint64(now)+1)), limit)
	if err != nil {
		return nil, err
	}
	ids := make([]domain.BundleID, 0, len(keys))
	for _, k := range keys {
		id, err := domain.ParseBundleKey(k[len(prefix)+8:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NextExpiry returns the earliest expiry in the index.
func (tx *Txn) NextExpiry() (domain.DTNTime, bool, error) {
	return tx.firstIndexTime(prefixExpiry)
}

// NextCustodyDeadline returns the earliest custody deadline in the index.
func (tx *Txn) NextCustodyDeadline() (domain.DTNTime, bool, error) {
	return tx.firstIndexTime(prefixCustody)
}

func (tx *Txn) firstIndexTime(prefix []byte) (domain.DTNTime, bool, error) {
	keys, err := tx.scanKeys(prefix, nil, 1)
	if err != nil || len(keys) == 0 {
		return 0, false, err
	}
	k := keys[0][len(prefix):]
	return domain.DTNTime(binary.BigEndian.Uint64(k[:8])), true, nil
}
