package storage

import (
	"strings"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Front returns the bundle at the head of q, or nil when q is empty.
// The bundle stays in q until it is moved or destroyed.
func (tx *Txn) Front(q domain.QueueRef) (*domain.Bundle, error) {
	ids, err := tx.QueueIDs(q, 1)
	if err != nil || len(ids) == 0 {
		return nil, err
	}
	return tx.Bundle(ids[0])
}

// QueueIDs returns up to limit bundle identities of q in queue order.
// limit <= 0 returns all of them.
func (tx *Txn) QueueIDs(q domain.QueueRef, limit int) ([]domain.BundleID, error) {
	var ids []domain.BundleID
	err := tx.scanValues(queuePrefix(q), func(_, val []byte) (bool, error) {
		id, err := domain.ParseBundleKey(val)
		if err != nil {
			return false, err
		}
		ids = append(ids, id)
		return limit <= 0 || len(ids) < limit, nil
	})
	return ids, err
}

// QueueLen returns the number of bundles in q.
func (tx *Txn) QueueLen(q domain.QueueRef) (int, error) {
	return tx.countPrefix(queuePrefix(q))
}

// QueueDepths counts the members of every non-empty queue, keyed by queue
// name.
func (tx *Txn) QueueDepths() (map[string]int, error) {
	keys, err := tx.scanKeys(prefixQueue, nil, 0)
	if err != nil {
		return nil, err
	}
	depths := make(map[string]int)
	for _, k := range keys {
		name := string(k[len(prefixQueue):])
		if i := strings.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		depths[name]++
	}
	return depths, nil
}

// QueuesOfKind returns the names of the non-empty queues of one kind.
func (tx *Txn) QueuesOfKind(kind domain.QueueKind) ([]string, error) {
	keys, err := tx.scanKeys(join(prefixQueue, []byte(kind.String()+"/")), nil, 0)
	if err != nil {
		return nil, err
	}
	var names []string
	seen := make(map[string]struct{})
	for _, k := range keys {
		name := string(k[len(prefixQueue):])
		if i := strings.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	return names, nil
}
