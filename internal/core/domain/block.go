package domain

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// BlockType identifies an extension block variant.
type BlockType uint8

const (
	BlockPreviousNode BlockType = 6
	BlockBundleAge    BlockType = 7
	BlockHopCount     BlockType = 10
)

// Block is an extension block. The set of variants is closed.
type Block interface {
	Type() BlockType
	isBlock()
}

// PreviousNodeBlock records the node that last forwarded the bundle.
type PreviousNodeBlock struct {
	_    struct{} `cbor:",toarray"`
	Node EID
}

// BundleAgeBlock carries the bundle's age in milliseconds, for nodes
// without a synchronized clock.
type BundleAgeBlock struct {
	_     struct{} `cbor:",toarray"`
	AgeMS uint64
}

// HopCountBlock limits how many nodes may forward the bundle.
type HopCountBlock struct {
	_     struct{} `cbor:",toarray"`
	Limit uint8
	Count uint8
}

// UnknownBlock is carried unchanged for block types this node does not
// process.
type UnknownBlock struct {
	BlockType BlockType
	Data      []byte
}

func (PreviousNodeBlock) Type() BlockType { return BlockPreviousNode }
func (BundleAgeBlock) Type() BlockType    { return BlockBundleAge }
func (HopCountBlock) Type() BlockType     { return BlockHopCount }
func (u UnknownBlock) Type() BlockType    { return u.BlockType }

func (PreviousNodeBlock) isBlock() {}
func (BundleAgeBlock) isBlock()    {}
func (HopCountBlock) isBlock()     {}
func (UnknownBlock) isBlock()      {}

// Exceeded reports whether forwarding once more would go over the limit.
func (h HopCountBlock) Exceeded() bool { return h.Count >= h.Limit }

// BlockList is the ordered extension block list of a bundle.
type BlockList []Block

// Find returns the first block of type t.
func (l BlockList) Find(t BlockType) (Block, int) {
	for i, b := range l {
		if b.Type() == t {
			return b, i
		}
	}
	return nil, -1
}

// Set replaces the first block of the same type, or appends b.
func (l BlockList) Set(b Block) BlockList {
	if _, i := l.Find(b.Type()); i >= 0 {
		out := make(BlockList, len(l))
		copy(out, l)
		out[i] = b
		return out
	}
	return append(l[:len(l):len(l)], b)
}

type rawBlock struct {
	_    struct{} `cbor:",toarray"`
	Type BlockType
	Data cbor.RawMessage
}

// MarshalCBOR encodes the list as an array of [type, body] pairs.
func (l BlockList) MarshalCBOR() ([]byte, error) {
	raws := make([]rawBlock, 0, len(l))
	for _, b := range l {
		var (
			data []byte
			err  error
		)
		if u, ok := b.(UnknownBlock); ok {
			data, err = cbor.Marshal(u.Data)
		} else {
			data, err = cbor.Marshal(b)
		}
		if err != nil {
			return nil, err
		}
		raws = append(raws, rawBlock{Type: b.Type(), Data: data})
	}
	return cbor.Marshal(raws)
}

// UnmarshalCBOR decodes a list written by MarshalCBOR.
func (l *BlockList) UnmarshalCBOR(data []byte) error {
	var raws []rawBlock
	if err := cbor.Unmarshal(data, &raws); err != nil {
		return ErrMalformedBlock.WithCause(err)
	}
	out := make(BlockList, 0, len(raws))
	for _, r := range raws {
		b, err := decodeBlock(r)
		if err != nil {
			return err
		}
		out = append(out, b)
	}
	*l = out
	return nil
}

func decodeBlock(r rawBlock) (Block, error) {
	var err error
	switch r.Type {
	case BlockPreviousNode:
		var b PreviousNodeBlock
		if err = cbor.Unmarshal(r.Data, &b); err == nil {
			err = b.Node.Validate()
		}
		if err == nil {
			return b, nil
		}
	case BlockBundleAge:
		var b BundleAgeBlock
		if err = cbor.Unmarshal(r.Data, &b); err == nil {
			return b, nil
		}
	case BlockHopCount:
		var b HopCountBlock
		if err = cbor.Unmarshal(r.Data, &b); err == nil {
			return b, nil
		}
	default:
		var data []byte
		if err = cbor.Unmarshal(r.Data, &data); err == nil {
			return UnknownBlock{BlockType: r.Type, Data: data}, nil
		}
	}
	return nil, ErrMalformedBlock.WithDetails(fmt.Sprintf("block type %d", r.Type)).WithCause(err)
}
