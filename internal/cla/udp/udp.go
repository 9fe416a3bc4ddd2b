package udp

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Protocol is the duct protocol name served by this package.
const Protocol = "udp"

const (
	headerLen = 8

	// MaxDatagram is the largest UDP payload over IPv4.
	MaxDatagram = 65507

	// MaxBundle is the largest encoded bundle that fits one datagram.
	MaxBundle = MaxDatagram - headerLen
)

// DuctName returns the conventional duct name for a peer address.
func DuctName(addr string) string {
	return Protocol + "/" + addr
}

// AddressOf returns the peer address encoded in a udp duct name.
func AddressOf(duct string) (string, bool) {
	return strings.CutPrefix(duct, Protocol+"/")
}

// Encode frames a bundle for transmission from node.
func Encode(node uint64, bundle []byte) ([]byte, error) {
	if len(bundle) > MaxBundle {
		return nil, domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("bundle of %d bytes exceeds udp limit %d", len(bundle), MaxBundle))
	}
	buf := make([]byte, headerLen+len(bundle))
	binary.BigEndian.PutUint64(buf, node)
	copy(buf[headerLen:], bundle)
	return buf, nil
}

// Decode splits a datagram into sender node and bundle. The bundle aliases
// datagram.
func Decode(datagram []byte) (uint64, []byte, error) {
	if len(datagram) <= headerLen {
		return 0, nil, domain.ErrMalformedFrame.WithDetails(fmt.Sprintf("datagram of %d bytes", len(datagram)))
	}
	return binary.BigEndian.Uint64(datagram), datagram[headerLen:], nil
}
