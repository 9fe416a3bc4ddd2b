package storage

import (
	"errors"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// putPayload stores data under a new handle with one reference and charges
// the quota.
func (tx *Txn) putPayload(data []byte) (string, error) {
	total, err := tx.getUint64(keyPayloadBytes)
	if err != nil {
		return "", err
	}
	size := uint64(len(data))
	if q := tx.store.cfg.QuotaBytes; q > 0 && total+size > q {
		return "", domain.ErrInsufficientSpace.WithDetails("payload quota exceeded")
	}
	handle, err := tx.store.ids.Next("pl-")
	if err != nil {
		return "", domain.ErrInternal.WithCause(err)
	}
	if err := tx.txn.Set(payloadDataKey(handle), data); err != nil {
		return "", err
	}
	if err := tx.setUint64(payloadRefsKey(handle), 1); err != nil {
		return "", err
	}
	if err := tx.setUint64(keyPayloadBytes, total+size); err != nil {
		return "", err
	}
	return handle, nil
}

// refPayload adds a reference to an existing payload.
func (tx *Txn) refPayload(handle string) error {
	refs, err := tx.getUint64(payloadRefsKey(handle))
	if err != nil {
		return err
	}
	if refs == 0 {
		return domain.ErrPayloadNotFound.WithDetails(handle)
	}
	return tx.setUint64(payloadRefsKey(handle), refs+1)
}

// releasePayload drops one reference and deletes the payload with the last
// one. Releasing an unknown handle is a no-op.
func (tx *Txn) releasePayload(handle string) error {
	refs, err := tx.getUint64(payloadRefsKey(handle))
	if err != nil || refs == 0 {
		return err
	}
	if refs > 1 {
		return tx.setUint64(payloadRefsKey(handle), refs-1)
	}
	item, err := tx.txn.Get(payloadDataKey(handle))
	var size uint64
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		size = uint64(item.ValueSize())
	}
	if err := tx.delete(payloadDataKey(handle)); err != nil {
		return err
	}
	if err := tx.delete(payloadRefsKey(handle)); err != nil {
		return err
	}
	total, err := tx.getUint64(keyPayloadBytes)
	if err != nil {
		return err
	}
	if size > total {
		size = total
	}
	return tx.setUint64(keyPayloadBytes, total-size)
}

// Payload returns a copy of the payload bytes behind handle.
func (tx *Txn) Payload(handle string) ([]byte, error) {
	item, err := tx.txn.Get(payloadDataKey(handle))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, domain.ErrPayloadNotFound.WithDetails(handle)
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// PayloadRefs returns the reference count of handle, 0 when unknown.
func (tx *Txn) PayloadRefs(handle string) (uint64, error) {
	return tx.getUint64(payloadRefsKey(handle))
}
