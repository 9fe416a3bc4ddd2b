package storage

import (
	"encoding/binary"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Key layout. Fixed-width integers are big endian so that byte order is
// numeric order.
//
//	b/<bundle key>                      bundle record
//	q/<queue name>\x00<rank><seq>       queue entry -> bundle key
//	x/<expiry><bundle key>              expiration index
//	c/<deadline><bundle key>            custody deadline index
//	pr/<handle>                         payload refcount
//	pd/<handle>                         payload bytes
//	ct/<region><from><to><start>        contact
//	rg/<region><from><to><start>        range
//	rn/<region><node>                   node registration
//	n/<seq>                             contact notice outbox
//	pl/<node>                           plan
//	du/<name>                           duct
//	kin/<node>                          multicast kin
//	gm/<group><node>                    group membership of a kin node
//	m/...                               counters
var (
	prefixBundle       = []byte("b/")
	prefixQueue        = []byte("q/")
	prefixExpiry       = []byte("x/")
	prefixCustody      = []byte("c/")
	prefixPayloadRefs  = []byte("pr/")
	prefixPayloadData  = []byte("pd/")
	prefixContact      = []byte("ct/")
	prefixRange        = []byte("rg/")
	prefixRegistration = []byte("rn/")
	prefixNotice       = []byte("n/")
	prefixPlan         = []byte("pl/")
	prefixDuct         = []byte("du/")
	prefixKin          = []byte("kin/")
	prefixMember       = []byte("gm/")

	keySequence     = []byte("m/seq")
	keyPayloadBytes = []byte("m/payload_bytes")
	keyCreation     = []byte("m/creation")
)

func join(prefix []byte, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p)
	}
	k := make([]byte, 0, n)
	k = append(k, prefix...)
	for _, p := range parts {
		k = append(k, p...)
	}
	return k
}

func u64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func bundleKey(id domain.BundleID) []byte {
	return join(prefixBundle, id.Key())
}

func queuePrefix(q domain.QueueRef) []byte {
	return join(prefixQueue, []byte(q.Name()), []byte{0})
}

// queueOrderKey orders expedited bundles by descending ordinal, then by
// arrival; every other class is plain FIFO.
func queueOrderKey(b *domain.Bundle, seq uint64) []byte {
	rank := byte(0)
	if b.Priority == domain.PriorityExpedited && b.Queue.Kind != domain.QueueDispatch {
		rank = byte(domain.MaxOrdinal - int(b.Ordinal))
	}
	return append([]byte{rank}, u64(seq)...)
}

func queueEntryKey(q domain.QueueRef, order []byte) []byte {
	return join(queuePrefix(q), order)
}

func expiryKey(at domain.DTNTime, id domain.BundleID) []byte {
	return join(prefixExpiry, u64(uint64(at)), id.Key())
}

func custodyKey(at domain.DTNTime, id domain.BundleID) []byte {
	return join(prefixCustody, u64(uint64(at)), id.Key())
}

func contactKey(prefix []byte, k domain.ContactKey) []byte {
	return join(prefix, u32(k.Region), u64(k.FromNode), u64(k.ToNode), u64(uint64(k.FromTime)))
}

func pairPrefix(prefix []byte, k domain.ContactKey) []byte {
	return join(prefix, u32(k.Region), u64(k.FromNode), u64(k.ToNode))
}

func registrationKey(region uint32, node uint64) []byte {
	return join(prefixRegistration, u32(region), u64(node))
}

func noticeKey(seq uint64) []byte {
	return join(prefixNotice, u64(seq))
}

func planKey(node uint64) []byte {
	return join(prefixPlan, u64(node))
}

func ductKey(name string) []byte {
	return join(prefixDuct, []byte(name))
}

func kinKey(node uint64) []byte {
	return join(prefixKin, u64(node))
}

func memberKey(group, node uint64) []byte {
	return join(prefixMember, u64(group), u64(node))
}

func payloadRefsKey(handle string) []byte {
	return join(prefixPayloadRefs, []byte(handle))
}

func payloadDataKey(handle string) []byte {
	return join(prefixPayloadData, []byte(handle))
}
