package memory

import (
	"cmp"
	"slices"
	"sync"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// ContactEntry is an indexed contact plus its remaining volume.
type ContactEntry struct {
	domain.Contact

	// Residual is the volume in bytes not yet claimed by routed bundles.
	Residual uint64
}

// ContactIndex is a time-ordered view of contacts and ranges.
type ContactIndex struct {
	mu       sync.RWMutex
	contacts map[domain.ContactKey]*ContactEntry
	byFrom   map[uint64][]*ContactEntry // sorted by FromTime, then ToNode
	ranges   map[domain.ContactKey]domain.Range
}

// NewContactIndex creates an empty index.
func NewContactIndex() *ContactIndex {
	return &ContactIndex{
		contacts: make(map[domain.ContactKey]*ContactEntry),
		byFrom:   make(map[uint64][]*ContactEntry),
		ranges:   make(map[domain.ContactKey]domain.Range),
	}
}

// Load replaces the index content. Residual volumes restart at capacity.
func (x *ContactIndex) Load(contacts []domain.Contact, ranges []domain.Range) {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.contacts = make(map[domain.ContactKey]*ContactEntry, len(contacts))
	x.byFrom = make(map[uint64][]*ContactEntry)
	x.ranges = make(map[domain.ContactKey]domain.Range, len(ranges))
	for _, c := range contacts {
		x.insertLocked(c, c.Capacity())
	}
	for _, r := range ranges {
		x.ranges[r.Key()] = r
	}
}

// PutContact adds c or replaces the contact with the same key. A replaced
// contact keeps the volume already claimed from it.
func (x *ContactIndex) PutContact(c domain.Contact) {
	x.mu.Lock()
	defer x.mu.Unlock()

	residual := c.Capacity()
	if old, ok := x.contacts[c.Key()]; ok {
		used := old.Capacity() - min(old.Residual, old.Capacity())
		residual -= min(used, residual)
		x.removeLocked(old)
	}
	x.insertLocked(c, residual)
}

// RemoveContacts removes the contact at k, or all contacts of the node
// pair when k is a wildcard. It returns how many were removed.
func (x *ContactIndex) RemoveContacts(k domain.ContactKey) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !k.Wildcard() {
		e, ok := x.contacts[k]
		if !ok {
			return 0
		}
		x.removeLocked(e)
		return 1
	}
	var doomed []*ContactEntry
	for _, e := range x.byFrom[k.FromNode] {
		if e.Region == k.Region && e.ToNode == k.ToNode {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		x.removeLocked(e)
	}
	return len(doomed)
}

// PutRange adds r or replaces the range with the same key.
func (x *ContactIndex) PutRange(r domain.Range) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.ranges[r.Key()] = r
}

// RemoveRanges removes the range at k, or all ranges of the node pair when
// k is a wildcard. It returns how many were removed.
func (x *ContactIndex) RemoveRanges(k domain.ContactKey) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !k.Wildcard() {
		if _, ok := x.ranges[k]; !ok {
			return 0
		}
		delete(x.ranges, k)
		return 1
	}
	n := 0
	for key := range x.ranges {
		if key.Region == k.Region && key.FromNode == k.FromNode && key.ToNode == k.ToNode {
			delete(x.ranges, key)
			n++
		}
	}
	return n
}

// From returns the contacts leaving node that end after t and still have
// residual volume, ordered by start time.
func (x *ContactIndex) From(node uint64, t domain.DTNTime) []ContactEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	list := x.byFrom[node]
	out := make([]ContactEntry, 0, len(list))
	for _, e := range list {
		if e.ToTime > t && e.Residual > 0 {
			out = append(out, *e)
		}
	}
	return out
}

// Consume claims size bytes of the contact at k. It reports false when the
// contact is gone.
func (x *ContactIndex) Consume(k domain.ContactKey, size uint64) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.contacts[k]
	if !ok {
		return false
	}
	e.Residual -= min(size, e.Residual)
	return true
}

// OWLT returns the one-way light time in seconds from one node to another at
// t. A range stored for the reverse direction applies too. Without any
// range the delay is taken as zero.
func (x *ContactIndex) OWLT(from, to uint64, t domain.DTNTime) uint32 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var reverse *domain.Range
	for _, r := range x.ranges {
		if !r.Active(t) {
			continue
		}
		if r.FromNode == from && r.ToNode == to {
			return r.OWLT
		}
		if r.FromNode == to && r.ToNode == from {
			rr := r
			reverse = &rr
		}
	}
	if reverse != nil {
		return reverse.OWLT
	}
	return 0
}

// Active reports whether a contact from one node to another is active at t.
func (x *ContactIndex) Active(from, to uint64, t domain.DTNTime) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, e := range x.byFrom[from] {
		if e.FromTime > t {
			break
		}
		if e.ToNode == to && e.Active(t) {
			return true
		}
	}
	return false
}

// HasFuture reports whether any contact from one node to another ends
// after t.
func (x *ContactIndex) HasFuture(from, to uint64, t domain.DTNTime) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	for _, e := range x.byFrom[from] {
		if e.ToNode == to && e.ToTime > t {
			return true
		}
	}
	return false
}

// Purge drops contacts and ranges that ended at or before now and returns
// the number of each removed.
func (x *ContactIndex) Purge(now domain.DTNTime) (contacts, ranges int) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var doomed []*ContactEntry
	for _, e := range x.contacts {
		if e.ToTime <= now {
			doomed = append(doomed, e)
		}
	}
	for _, e := range doomed {
		x.removeLocked(e)
	}
	for k, r := range x.ranges {
		if r.ToTime <= now {
			delete(x.ranges, k)
			ranges++
		}
	}
	return len(doomed), ranges
}

// Len returns the number of indexed contacts and ranges.
func (x *ContactIndex) Len() (contacts, ranges int) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.contacts), len(x.ranges)
}

func (x *ContactIndex) insertLocked(c domain.Contact, residual uint64) {
	e := &ContactEntry{Contact: c, Residual: residual}
	x.contacts[c.Key()] = e
	list := append(x.byFrom[c.FromNode], e)
	slices.SortFunc(list, func(a, b *ContactEntry) int {
		if n := cmp.Compare(a.FromTime, b.FromTime); n != 0 {
			return n
		}
		return cmp.Compare(a.ToNode, b.ToNode)
	})
	x.byFrom[c.FromNode] = list
}

func (x *ContactIndex) removeLocked(e *ContactEntry) {
	delete(x.contacts, e.Key())
	list := slices.DeleteFunc(x.byFrom[e.FromNode], func(o *ContactEntry) bool { return o == e })
	if len(list) == 0 {
		delete(x.byFrom, e.FromNode)
		return
	}
	x.byFrom[e.FromNode] = list
}
