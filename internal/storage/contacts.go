package storage

import (
	"encoding/binary"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
)

// Contact loads the contact at k.
func (tx *Txn) Contact(k domain.ContactKey) (*domain.Contact, bool, error) {
	var c domain.Contact
	ok, err := tx.get(contactKey(prefixContact, k), &c)
	if err != nil || !ok {
		return nil, false, err
	}
	return &c, true, nil
}

// PutContact inserts or replaces a contact. Overlap checks are the
// caller's job.
func (tx *Txn) PutContact(c *domain.Contact) error {
	return tx.put(contactKey(prefixContact, c.Key()), c)
}

// ContactsBetween returns every contact of the node pair in k's region.
func (tx *Txn) ContactsBetween(k domain.ContactKey) ([]domain.Contact, error) {
	return scanAll[domain.Contact](tx, pairPrefix(prefixContact, k))
}

// DeleteContacts removes the contact at k, or every contact of the node
// pair when k is a wildcard. It returns the removed contacts.
func (tx *Txn) DeleteContacts(k domain.ContactKey) ([]domain.Contact, error) {
	if !k.Wildcard() {
		c, ok, err := tx.Contact(k)
		if err != nil || !ok {
			return nil, err
		}
		return []domain.Contact{*c}, tx.delete(contactKey(prefixContact, k))
	}
	all, err := tx.ContactsBetween(k)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if err := tx.delete(contactKey(prefixContact, all[i].Key())); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// Contacts returns every stored contact in key order.
func (tx *Txn) Contacts() ([]domain.Contact, error) {
	return scanAll[domain.Contact](tx, prefixContact)
}

// Range loads the range at k.
func (tx *Txn) Range(k domain.ContactKey) (*domain.Range, bool, error) {
	var r domain.Range
	ok, err := tx.get(contactKey(prefixRange, k), &r)
	if err != nil || !ok {
		return nil, false, err
	}
	return &r, true, nil
}

// PutRange inserts or replaces a range.
func (tx *Txn) PutRange(r *domain.Range) error {
	return tx.put(contactKey(prefixRange, r.Key()), r)
}

// RangesBetween returns every range of the node pair in k's region.
func (tx *Txn) RangesBetween(k domain.ContactKey) ([]domain.Range, error) {
	return scanAll[domain.Range](tx, pairPrefix(prefixRange, k))
}

// DeleteRanges removes the range at k, or every range of the node pair
// when k is a wildcard.
func (tx *Txn) DeleteRanges(k domain.ContactKey) ([]domain.Range, error) {
	if !k.Wildcard() {
		r, ok, err := tx.Range(k)
		if err != nil || !ok {
			return nil, err
		}
		return []domain.Range{*r}, tx.delete(contactKey(prefixRange, k))
	}
	all, err := tx.RangesBetween(k)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if err := tx.delete(contactKey(prefixRange, all[i].Key())); err != nil {
			return nil, err
		}
	}
	return all, nil
}

// Ranges returns every stored range in key order.
func (tx *Txn) Ranges() ([]domain.Range, error) {
	return scanAll[domain.Range](tx, prefixRange)
}

// PutRegistration records node as a member of region.
func (tx *Txn) PutRegistration(r domain.Registration) error {
	return tx.put(registrationKey(r.Region, r.Node), r)
}

// DeleteRegistration removes a region membership. It reports whether the
// registration existed.
func (tx *Txn) DeleteRegistration(r domain.Registration) (bool, error) {
	key := registrationKey(r.Region, r.Node)
	ok, err := tx.exists(key)
	if err != nil || !ok {
		return false, err
	}
	return true, tx.delete(key)
}

// Registrations returns every region membership.
func (tx *Txn) Registrations() ([]domain.Registration, error) {
	return scanAll[domain.Registration](tx, prefixRegistration)
}

// OutboxEntry is a queued contact notice awaiting multicast.
type OutboxEntry struct {
	Seq    uint64
	Notice domain.ContactNotice
}

// AppendNotice queues n for the synchronizer.
func (tx *Txn) AppendNotice(n domain.ContactNotice) error {
	seq, err := tx.store.nextSeq()
	if err != nil {
		return err
	}
	return tx.put(noticeKey(seq), n)
}

// Notices returns up to limit queued notices, oldest first.
func (tx *Txn) Notices(limit int) ([]OutboxEntry, error) {
	var out []OutboxEntry
	err := tx.scanValues(prefixNotice, func(key, val []byte) (bool, error) {
		var n domain.ContactNotice
		if err := wire.Unmarshal(val, &n); err != nil {
			return false, domain.ErrStorageError.WithDetails("decode notice").WithCause(err)
		}
		out = append(out, OutboxEntry{Seq: binary.BigEndian.Uint64(key[len(prefixNotice):]), Notice: n})
		return limit <= 0 || len(out) < limit, nil
	})
	return out, err
}

// DeleteNotice removes a sent notice from the outbox.
func (tx *Txn) DeleteNotice(seq uint64) error {
	return tx.delete(noticeKey(seq))
}

func scanAll[T any](tx *Txn, prefix []byte) ([]T, error) {
	var out []T
	err := tx.scanValues(prefix, func(_, val []byte) (bool, error) {
		var v T
		if err := wire.Unmarshal(val, &v); err != nil {
			return false, domain.ErrStorageError.WithDetails("decode " + string(prefix)).WithCause(err)
		}
		out = append(out, v)
		return true, nil
	})
	return out, err
}
