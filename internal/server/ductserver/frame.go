package ductserver

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// FrameType identifies the message carried by a frame.
type FrameType uint8

const (
	FrameAttach FrameType = iota + 1
	FrameDequeueReq
	FrameBundle
	FrameXmitResult
	FrameEnqueue
	FrameAck
	FrameError
)

func (t FrameType) String() string {
	switch t {
	case FrameAttach:
		return "attach"
	case FrameDequeueReq:
		return "dequeue"
	case FrameBundle:
		return "bundle"
	case FrameXmitResult:
		return "xmit-result"
	case FrameEnqueue:
		return "enqueue"
	case FrameAck:
		return "ack"
	case FrameError:
		return "error"
	default:
		return fmt.Sprintf("frame(%d)", uint8(t))
	}
}

const (
	frameHeaderLen = 8

	// MaxFrameLen bounds the type byte plus payload of one frame.
	MaxFrameLen = 16 << 20
)

// ErrFrameTooLarge is returned for frames above MaxFrameLen.
var ErrFrameTooLarge = errors.New("ductserver: frame too large")

// WriteFrame writes one frame to w.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	n := len(payload) + 1
	if n > MaxFrameLen {
		return ErrFrameTooLarge
	}
	buf := make([]byte, frameHeaderLen+n)
	binary.BigEndian.PutUint32(buf[0:4], uint32(n))
	buf[frameHeaderLen] = byte(t)
	copy(buf[frameHeaderLen+1:], payload)
	binary.BigEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(buf[frameHeaderLen:]))
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame from r.
func ReadFrame(r *bufio.Reader) (FrameType, []byte, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	n := binary.BigEndian.Uint32(hdr[0:4])
	if n == 0 {
		return 0, nil, domain.ErrMalformedFrame.WithDetails("empty frame")
	}
	if n > MaxFrameLen {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, nil, err
	}
	if crc32.ChecksumIEEE(body) != binary.BigEndian.Uint32(hdr[4:8]) {
		return 0, nil, domain.ErrMalformedFrame.WithDetails("checksum mismatch")
	}
	return FrameType(body[0]), body[1:], nil
}
