package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Scheme identifies an endpoint naming scheme.
type Scheme uint8

const (
	// SchemeDTN is only used for the null endpoint dtn:none.
	SchemeDTN Scheme = 1
	// SchemeIPN addresses a service on a single node.
	SchemeIPN Scheme = 2
	// SchemeIMC addresses a service on every member of a multicast group.
	SchemeIMC Scheme = 3
)

// String returns the URI scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeDTN:
		return "dtn"
	case SchemeIPN:
		return "ipn"
	case SchemeIMC:
		return "imc"
	default:
		return "unknown"
	}
}

// ParseScheme converts a scheme name to a Scheme.
func ParseScheme(s string) (Scheme, error) {
	switch s {
	case "dtn":
		return SchemeDTN, nil
	case "ipn":
		return SchemeIPN, nil
	case "imc":
		return SchemeIMC, nil
	}
	return 0, ErrMalformedEID.WithDetails("unknown scheme " + strconv.Quote(s))
}

const (
	// AdminService is the service number of a node's administrative endpoint.
	AdminService uint64 = 0

	// RegionalGroup is the multicast group shared by every node of a region.
	RegionalGroup uint64 = 0
)

// EID is an endpoint identifier. For ipn endpoints Node is the node number;
// for imc endpoints it is the group number.
type EID struct {
	_       struct{} `cbor:",toarray"`
	Scheme  Scheme
	Node    uint64
	Service uint64
}

// NoneEID is the null endpoint, dtn:none.
var NoneEID = EID{Scheme: SchemeDTN}

// IPN builds an ipn endpoint.
func IPN(node, service uint64) EID {
	return EID{Scheme: SchemeIPN, Node: node, Service: service}
}

// IMC builds an imc endpoint.
func IMC(group, service uint64) EID {
	return EID{Scheme: SchemeIMC, Node: group, Service: service}
}

// AdminEID returns the administrative endpoint of node.
func AdminEID(node uint64) EID {
	return IPN(node, AdminService)
}

// ParseEID parses "ipn:N.S", "imc:G.S" or "dtn:none".
func ParseEID(s string) (EID, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return EID{}, ErrMalformedEID.WithDetails(strconv.Quote(s))
	}
	sc, err := ParseScheme(scheme)
	if err != nil {
		return EID{}, err
	}
	if sc == SchemeDTN {
		if rest != "none" {
			return EID{}, ErrMalformedEID.WithDetails(strconv.Quote(s))
		}
		return NoneEID, nil
	}
	nodeStr, svcStr, ok := strings.Cut(rest, ".")
	if !ok {
		return EID{}, ErrMalformedEID.WithDetails(strconv.Quote(s))
	}
	node, err := strconv.ParseUint(nodeStr, 10, 64)
	if err != nil {
		return EID{}, ErrMalformedEID.WithDetails(strconv.Quote(s)).WithCause(err)
	}
	svc, err := strconv.ParseUint(svcStr, 10, 64)
	if err != nil {
		return EID{}, ErrMalformedEID.WithDetails(strconv.Quote(s)).WithCause(err)
	}
	if sc == SchemeIPN && node == 0 {
		return EID{}, ErrMalformedEID.WithDetails("ipn node number must be positive")
	}
	return EID{Scheme: sc, Node: node, Service: svc}, nil
}

// MustParseEID is like ParseEID but panics on error. Intended for tests and
// constant tables.
func MustParseEID(s string) EID {
	e, err := ParseEID(s)
	if err != nil {
		panic(err)
	}
	return e
}

// String formats the endpoint in URI form. The zero EID is the null
// endpoint.
func (e EID) String() string {
	switch e.Scheme {
	case 0, SchemeDTN:
		return "dtn:none"
	case SchemeIPN, SchemeIMC:
		return fmt.Sprintf("%s:%d.%d", e.Scheme, e.Node, e.Service)
	default:
		return "invalid"
	}
}

// IsNone reports whether e is the null endpoint.
func (e EID) IsNone() bool {
	return e.Scheme == SchemeDTN || e.Scheme == 0
}

// Validate checks that the endpoint is well formed.
func (e EID) Validate() error {
	switch e.Scheme {
	case SchemeDTN:
		if e.Node != 0 || e.Service != 0 {
			return ErrMalformedEID.WithDetails("dtn scheme only supports dtn:none")
		}
		return nil
	case SchemeIPN:
		if e.Node == 0 {
			return ErrMalformedEID.WithDetails("ipn node number must be positive")
		}
		return nil
	case SchemeIMC:
		return nil
	}
	return ErrMalformedEID.WithDetails(fmt.Sprintf("unknown scheme %d", e.Scheme))
}

// MarshalText implements encoding.TextMarshaler so endpoints render as URIs
// in JSON and YAML.
func (e EID) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EID) UnmarshalText(b []byte) error {
	parsed, err := ParseEID(string(b))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
