package domain

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DTNEpoch is the reference instant of DTN time (2000-01-01T00:00:00Z).
var DTNEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// DTNTime is a count of milliseconds since DTNEpoch.
type DTNTime uint64

// ToDTNTime converts a wall-clock instant to DTN time, clamping instants
// before the epoch to zero.
func ToDTNTime(t time.Time) DTNTime {
	if t.Before(DTNEpoch) {
		return 0
	}
	return DTNTime(t.Sub(DTNEpoch) / time.Millisecond)
}

// Time converts d back to a wall-clock instant.
func (d DTNTime) Time() time.Time {
	return DTNEpoch.Add(time.Duration(d) * time.Millisecond)
}

// ParseDTNTime accepts an RFC 3339 timestamp, a "+<duration>" offset from
// now, or a raw millisecond count.
func ParseDTNTime(s string, now time.Time) (DTNTime, error) {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "+"); ok {
		d, err := time.ParseDuration(rest)
		if err != nil {
			return 0, ErrInvalidArgument.WithDetails(err.Error())
		}
		return ToDTNTime(now.Add(d)), nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return DTNTime(n), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, ErrInvalidArgument.WithDetails(fmt.Sprintf("bad time %q", s))
	}
	return ToDTNTime(t), nil
}

// Priority is a bundle's class of service.
type Priority uint8

const (
	PriorityBulk      Priority = 0
	PriorityStandard  Priority = 1
	PriorityExpedited Priority = 2

	// NumPriorities is the number of priority classes.
	NumPriorities = 3
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityBulk:
		return "bulk"
	case PriorityStandard:
		return "standard"
	case PriorityExpedited:
		return "expedited"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority accepts the class names as well as the aliases "urgent" and
// "normal".
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "bulk", "0":
		return PriorityBulk, nil
	case "standard", "normal", "1":
		return PriorityStandard, nil
	case "expedited", "urgent", "2":
		return PriorityExpedited, nil
	}
	return 0, ErrInvalidArgument.WithDetails("unknown priority " + s)
}

// Valid reports whether p is one of the defined classes.
func (p Priority) Valid() bool { return p < NumPriorities }

// MaxOrdinal bounds the ordinal tie-breaker inside the expedited class.
const MaxOrdinal = 254

// BundleFlags are the processing flags carried by a bundle.
type BundleFlags uint32

const (
	FlagBestEffort BundleFlags = 1 << iota
	FlagMinimumLatency
	FlagCustodyRequested
	FlagFragment
	FlagAdminRecord
	FlagSingletonDestination
	FlagReportReceived
	FlagReportForwarded
	FlagReportDelivered
	FlagReportDeleted
)

// Has reports whether all bits of f are set.
func (b BundleFlags) Has(f BundleFlags) bool { return b&f == f }

// CreationTimestamp orders bundles created by one source.
type CreationTimestamp struct {
	_    struct{} `cbor:",toarray"`
	Time DTNTime  `json:"time"`
	Seq  uint64   `json:"seq"`
}

// BundleID is the identity of a bundle. Clone distinguishes multicast
// copies made on this node; it is never transmitted.
type BundleID struct {
	_              struct{}          `cbor:",toarray"`
	Source         EID               `json:"source"`
	Creation       CreationTimestamp `json:"creation"`
	FragmentOffset uint64            `json:"fragment_offset"`
	Clone          uint32            `json:"clone,omitempty"`
}

// Key returns a byte-ordered encoding of the identity, used as the primary
// key in the store.
func (id BundleID) Key() []byte {
	b := make([]byte, 0, 1+8+8+8+8+8+4)
	b = append(b, byte(id.Source.Scheme))
	b = binary.BigEndian.AppendUint64(b, id.Source.Node)
	b = binary.BigEndian.AppendUint64(b, id.Source.Service)
	b = binary.BigEndian.AppendUint64(b, uint64(id.Creation.Time))
	b = binary.BigEndian.AppendUint64(b, id.Creation.Seq)
	b = binary.BigEndian.AppendUint64(b, id.FragmentOffset)
	b = binary.BigEndian.AppendUint32(b, id.Clone)
	return b
}

// ParseBundleKey is the inverse of BundleID.Key.
func ParseBundleKey(b []byte) (BundleID, error) {
	if len(b) != 1+8*5+4 {
		return BundleID{}, ErrStorageError.WithDetails(fmt.Sprintf("bundle key length %d", len(b)))
	}
	return BundleID{
		Source: EID{
			Scheme:  Scheme(b[0]),
			Node:    binary.BigEndian.Uint64(b[1:9]),
			Service: binary.BigEndian.Uint64(b[9:17]),
		},
		Creation: CreationTimestamp{
			Time: DTNTime(binary.BigEndian.Uint64(b[17:25])),
			Seq:  binary.BigEndian.Uint64(b[25:33]),
		},
		FragmentOffset: binary.BigEndian.Uint64(b[33:41]),
		Clone:          binary.BigEndian.Uint32(b[41:45]),
	}, nil
}

// Original returns the identity as known to other nodes, without the clone
// discriminator.
func (id BundleID) Original() BundleID {
	id.Clone = 0
	return id
}

// String formats the identity for logs.
func (id BundleID) String() string {
	s := fmt.Sprintf("%s@%d.%d", id.Source, id.Creation.Time, id.Creation.Seq)
	if id.FragmentOffset != 0 {
		s += fmt.Sprintf("+%d", id.FragmentOffset)
	}
	if id.Clone != 0 {
		s += fmt.Sprintf("#%d", id.Clone)
	}
	return s
}

// QueueKind tags which queue, if any, a bundle is a member of.
type QueueKind uint8

const (
	QueueNone QueueKind = iota
	QueueDispatch
	QueuePlan
	QueueDuct
	QueueDelivery
	QueueLimbo
	// QueueTransit holds bundles handed to an output daemon whose outcome
	// has not been reported yet.
	QueueTransit
)

// String returns the queue kind name.
func (k QueueKind) String() string {
	switch k {
	case QueueNone:
		return "none"
	case QueueDispatch:
		return "dispatch"
	case QueuePlan:
		return "plan"
	case QueueDuct:
		return "duct"
	case QueueDelivery:
		return "delivery"
	case QueueLimbo:
		return "limbo"
	case QueueTransit:
		return "transit"
	default:
		return "unknown"
	}
}

// QueueRef names one concrete queue: the kind plus the owner name (scheme,
// plan node, duct name or endpoint) and, for plan and duct queues, the
// priority class.
type QueueRef struct {
	Kind     QueueKind `json:"kind"`
	Owner    string    `json:"owner,omitempty"`
	Priority Priority  `json:"priority,omitempty"`
}

// Name renders the queue reference as a stable store key segment.
func (q QueueRef) Name() string {
	switch q.Kind {
	case QueuePlan, QueueDuct:
		return fmt.Sprintf("%s/%s/%d", q.Kind, q.Owner, q.Priority)
	case QueueLimbo:
		return q.Kind.String()
	default:
		return fmt.Sprintf("%s/%s", q.Kind, q.Owner)
	}
}

// IsZero reports whether q names no queue.
func (q QueueRef) IsZero() bool { return q.Kind == QueueNone }

// DispatchQueue returns the dispatch queue of a scheme.
func DispatchQueue(s Scheme) QueueRef {
	return QueueRef{Kind: QueueDispatch, Owner: s.String()}
}

// PlanQueue returns the queue of a plan for one priority class.
func PlanQueue(node uint64, p Priority) QueueRef {
	return QueueRef{Kind: QueuePlan, Owner: fmt.Sprintf("%d", node), Priority: p}
}

// DuctQueue returns the queue of a duct for one priority class.
func DuctQueue(duct string, p Priority) QueueRef {
	return QueueRef{Kind: QueueDuct, Owner: duct, Priority: p}
}

// DeliveryQueue returns the delivery queue of a local endpoint.
func DeliveryQueue(e EID) QueueRef {
	return QueueRef{Kind: QueueDelivery, Owner: e.String()}
}

// LimboQueue is the single queue of bundles whose ducts are all blocked.
var LimboQueue = QueueRef{Kind: QueueLimbo}

// TransitQueue returns the transit set of a duct.
func TransitQueue(duct string) QueueRef {
	return QueueRef{Kind: QueueTransit, Owner: duct}
}

// Bundle is the persisted record of one stored bundle.
type Bundle struct {
	ID          BundleID    `json:"id"`
	Destination EID         `json:"destination"`
	ReportTo    EID         `json:"report_to"`
	Custodian   EID         `json:"custodian"`
	Flags       BundleFlags `json:"flags"`
	Priority    Priority    `json:"priority"`
	Ordinal     uint8       `json:"ordinal"`

	// Lifetime is the bundle's time-to-live in milliseconds, counted from
	// its creation time.
	Lifetime uint64 `json:"lifetime"`

	// TotalADULength is the length of the whole application data unit when
	// the bundle is a fragment.
	TotalADULength uint64 `json:"total_adu_length,omitempty"`

	// PayloadHandle references the payload object in the store.
	PayloadHandle string `json:"payload_handle"`
	PayloadLength uint64 `json:"payload_length"`

	Blocks BlockList `cbor:"blocks" json:"-"`

	// Custody is nil for best-effort bundles.
	Custody *CustodyRecord `json:"custody,omitempty"`

	// SenderNode is the neighbor that handed us this bundle, 0 when unknown
	// or locally sourced.
	SenderNode uint64 `json:"sender_node"`

	// RelayTo, when non-zero, pins a multicast clone to one relative.
	RelayTo uint64 `json:"relay_to,omitempty"`

	Queue QueueRef `json:"queue"`

	// QueueKey is the ordering key under which the bundle sits in Queue.
	QueueKey []byte `cbor:"queue_key" json:"-"`

	// ReceivedAt is the local acquisition time.
	ReceivedAt DTNTime `json:"received_at"`

	// Reforwards counts how many times the bundle went back to dispatch.
	Reforwards uint32 `json:"reforwards"`

	// Expiry is fixed when the bundle is stored; zero means not yet fixed.
	Expiry DTNTime `json:"expiry,omitempty"`
}

// ExpiresAt returns the DTN time at which the bundle's lifetime ends.
func (b *Bundle) ExpiresAt() DTNTime {
	if b.Expiry != 0 {
		return b.Expiry
	}
	return b.LifetimeEnd()
}

// LifetimeEnd computes the end of the bundle's lifetime from its header.
// A source without a clock stamps creation time 0; the lifetime then runs
// from the moment the bundle was created on the source's own timeline,
// recovered as ReceivedAt minus the age carried in the bundle age block.
// The result saturates instead of wrapping.
func (b *Bundle) LifetimeEnd() DTNTime {
	start := b.ID.Creation.Time
	if start == 0 {
		start = b.ReceivedAt
		if blk, i := b.Blocks.Find(BlockBundleAge); i >= 0 {
			age := DTNTime(blk.(BundleAgeBlock).AgeMS)
			if age >= start {
				start = 0
			} else {
				start -= age
			}
		}
	}
	if b.Lifetime > math.MaxUint64-uint64(start) {
		return DTNTime(math.MaxUint64)
	}
	return start + DTNTime(b.Lifetime)
}

// Expired reports whether the bundle's lifetime has ended at now.
func (b *Bundle) Expired(now DTNTime) bool {
	return b.ExpiresAt() <= now
}

// IsAdminRecord reports whether the payload is an administrative record.
func (b *Bundle) IsAdminRecord() bool { return b.Flags.Has(FlagAdminRecord) }

// WantsCustody reports whether custody transfer was requested.
func (b *Bundle) WantsCustody() bool { return b.Flags.Has(FlagCustodyRequested) }

// Size is the nominal transmission size used for capacity accounting.
func (b *Bundle) Size() uint64 {
	// Primary block and canonical block overheads are small next to the
	// payload; a fixed allowance is good enough for contact volume.
	const overhead = 64
	return b.PayloadLength + overhead
}

// Validate checks the fields a bundle must carry before it is stored.
func (b *Bundle) Validate() error {
	if err := b.ID.Source.Validate(); err != nil {
		return err
	}
	if err := b.Destination.Validate(); err != nil {
		return err
	}
	if b.Destination.IsNone() {
		return ErrMalformedEID.WithDetails("destination must not be dtn:none")
	}
	if err := b.ReportTo.Validate(); err != nil && b.ReportTo.Scheme != 0 {
		return err
	}
	if b.Lifetime == 0 {
		return ErrInvalidArgument.WithDetails("lifetime must be positive")
	}
	if !b.Priority.Valid() {
		return ErrInvalidArgument.WithDetails("invalid priority")
	}
	if b.Ordinal > MaxOrdinal {
		return ErrInvalidArgument.WithDetails("ordinal out of range")
	}
	return nil
}
