package wire

import (
	"fmt"
	"math"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// revisionOffset is added to the confidence of a pure revision. Plain
// notices carry confidence in [0,1]; revisions carry [2,3].
const revisionOffset = 2.0

type wireNotice struct {
	_          struct{} `cbor:",toarray"`
	Kind       domain.NoticeKind
	Region     uint32
	FromTime   domain.DTNTime
	ToTime     domain.DTNTime
	FromNode   uint64
	ToNode     uint64
	Magnitude  uint64
	Confidence float64
}

// EncodeNotice serializes one contact notice as a tagged array.
func EncodeNotice(n *domain.ContactNotice) ([]byte, error) {
	conf := n.Confidence
	if n.Revision {
		conf += revisionOffset
	}
	return encMode.Marshal(wireNotice{
		Kind:       n.Kind,
		Region:     n.Region,
		FromTime:   n.FromTime,
		ToTime:     n.ToTime,
		FromNode:   n.FromNode,
		ToNode:     n.ToNode,
		Magnitude:  n.Magnitude,
		Confidence: conf,
	})
}

// DecodeNotice parses one contact notice.
func DecodeNotice(data []byte) (*domain.ContactNotice, error) {
	var w wireNotice
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, domain.ErrMalformedNotice.WithCause(err)
	}
	if w.Kind != domain.NoticeContact && w.Kind != domain.NoticeRange {
		return nil, domain.ErrMalformedNotice.WithDetails(fmt.Sprintf("kind %d", w.Kind))
	}
	if w.FromNode == 0 || w.ToNode == 0 {
		return nil, domain.ErrMalformedNotice.WithDetails("node numbers must be positive")
	}
	n := &domain.ContactNotice{
		Kind:      w.Kind,
		Region:    w.Region,
		FromTime:  w.FromTime,
		ToTime:    w.ToTime,
		FromNode:  w.FromNode,
		ToNode:    w.ToNode,
		Magnitude: w.Magnitude,
	}
	conf := w.Confidence
	switch {
	case math.IsNaN(conf):
		return nil, domain.ErrMalformedNotice.WithDetails("confidence is NaN")
	case conf >= 0 && conf <= 1:
		n.Confidence = conf
	case conf >= revisionOffset && conf <= revisionOffset+1:
		n.Confidence = conf - revisionOffset
		n.Revision = true
	default:
		return nil, domain.ErrMalformedNotice.WithDetails(fmt.Sprintf("confidence %v out of range", conf))
	}
	return n, nil
}
