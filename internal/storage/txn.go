package storage

import (
	"encoding/binary"
	"errors"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
)

// Txn is one store transaction. It is not safe for concurrent use.
type Txn struct {
	txn      *badger.Txn
	store    *Store
	onCommit []func()
}

// OnCommit registers fn to run after the transaction commits. Hooks of a
// transaction that is rolled back or retried are dropped.
func (tx *Txn) OnCommit(fn func()) {
	tx.onCommit = append(tx.onCommit, fn)
}

func (tx *Txn) get(key []byte, v any) (bool, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	err = item.Value(func(val []byte) error {
		return wire.Unmarshal(val, v)
	})
	if err != nil {
		return false, domain.ErrStorageError.WithDetails("decode " + string(key[:min(len(key), 3)])).WithCause(err)
	}
	return true, nil
}

func (tx *Txn) put(key []byte, v any) error {
	data, err := wire.Marshal(v)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	return tx.txn.Set(key, data)
}

func (tx *Txn) exists(key []byte) (bool, error) {
	_, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (tx *Txn) delete(key []byte) error {
	return tx.txn.Delete(key)
}

func (tx *Txn) getUint64(key []byte) (uint64, error) {
	item, err := tx.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v uint64
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return domain.ErrStorageError.WithDetails("counter width")
		}
		v = binary.BigEndian.Uint64(val)
		return nil
	})
	return v, err
}

func (tx *Txn) setUint64(key []byte, v uint64) error {
	return tx.txn.Set(key, u64(v))
}

// scanKeys collects up to limit keys under prefix that sort before end
// (nil end means no bound). limit <= 0 means no limit. The iterator is
// closed before returning, so callers may mutate the transaction afterwards.
func (tx *Txn) scanKeys(prefix, end []byte, limit int) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		k := it.Item().Key()
		if end != nil && string(k) >= string(end) {
			break
		}
		keys = append(keys, it.Item().KeyCopy(nil))
		if limit > 0 && len(keys) >= limit {
			break
		}
	}
	return keys, nil
}

// scanValues decodes every value under prefix with decode, stopping early
// if decode returns false.
func (tx *Txn) scanValues(prefix []byte, decode func(key, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := decode(item.KeyCopy(nil), val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (tx *Txn) countPrefix(prefix []byte) (int, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := tx.txn.NewIterator(opts)
	defer it.Close()

	n := 0
	for it.Rewind(); it.Valid(); it.Next() {
		n++
	}
	return n, nil
}
