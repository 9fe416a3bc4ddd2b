package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Version is the bundle protocol version this node emits and accepts.
const Version = 7

// MaxBundleSize bounds the encoded size accepted from convergence layers.
const MaxBundleSize = 16 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 10,
		MaxNestedLevels:  16,
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor dec mode: %v", err))
	}
}

// Marshal encodes v with the deterministic encoding used on the wire and in
// the store.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v with the wire decoding limits.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// wireBundle is the transmitted form of a bundle.
type wireBundle struct {
	_              struct{} `cbor:",toarray"`
	Version        uint8
	Flags          domain.BundleFlags
	Destination    domain.EID
	Source         domain.EID
	ReportTo       domain.EID
	Custodian      domain.EID
	Creation       domain.CreationTimestamp
	FragmentOffset uint64
	TotalADULength uint64
	Lifetime       uint64
	Priority       domain.Priority
	Ordinal        uint8
	Blocks         domain.BlockList
	Payload        []byte
}

// EncodeBundle serializes b with its payload.
func EncodeBundle(b *domain.Bundle, payload []byte) ([]byte, error) {
	if uint64(len(payload)) != b.PayloadLength {
		return nil, domain.ErrInternal.WithDetails(
			fmt.Sprintf("payload length %d does not match record %d", len(payload), b.PayloadLength))
	}
	w := wireBundle{
		Version:        Version,
		Flags:          b.Flags,
		Destination:    b.Destination,
		Source:         b.ID.Source,
		ReportTo:       b.ReportTo,
		Custodian:      b.Custodian,
		Creation:       b.ID.Creation,
		FragmentOffset: b.ID.FragmentOffset,
		TotalADULength: b.TotalADULength,
		Lifetime:       b.Lifetime,
		Priority:       b.Priority,
		Ordinal:        b.Ordinal,
		Blocks:         b.Blocks,
		Payload:        payload,
	}
	return encMode.Marshal(w)
}

// DecodeBundle parses raw into a bundle record and its payload. The record
// has no payload handle or queue yet.
func DecodeBundle(raw []byte) (*domain.Bundle, []byte, error) {
	if len(raw) == 0 {
		return nil, nil, domain.ErrMalformedBundle.WithDetails("empty input")
	}
	if len(raw) > MaxBundleSize {
		return nil, nil, domain.ErrMalformedBundle.WithDetails(fmt.Sprintf("%d bytes exceeds limit", len(raw)))
	}
	var w wireBundle
	if err := decMode.Unmarshal(raw, &w); err != nil {
		if domain.IsDomainError(err, "") {
			return nil, nil, err
		}
		return nil, nil, domain.ErrMalformedBundle.WithCause(err)
	}
	if w.Version != Version {
		return nil, nil, domain.ErrMalformedBundle.WithDetails(fmt.Sprintf("unsupported version %d", w.Version))
	}
	b := &domain.Bundle{
		ID: domain.BundleID{
			Source:         w.Source,
			Creation:       w.Creation,
			FragmentOffset: w.FragmentOffset,
		},
		Destination:    w.Destination,
		ReportTo:       w.ReportTo,
		Custodian:      w.Custodian,
		Flags:          w.Flags,
		Priority:       w.Priority,
		Ordinal:        w.Ordinal,
		Lifetime:       w.Lifetime,
		TotalADULength: w.TotalADULength,
		PayloadLength:  uint64(len(w.Payload)),
		Blocks:         w.Blocks,
	}
	if err := b.Validate(); err != nil {
		return nil, nil, domain.ErrMalformedBundle.WithDetails(err.Error()).WithCause(err)
	}
	if !b.Custodian.IsNone() {
		if err := b.Custodian.Validate(); err != nil {
			return nil, nil, domain.ErrMalformedBundle.WithDetails("custodian").WithCause(err)
		}
	}
	return b, w.Payload, nil
}
