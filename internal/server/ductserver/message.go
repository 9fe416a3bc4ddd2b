package ductserver

import (
	"errors"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/wire"
)

// Role is the part a daemon plays on its duct.
type Role string

const (
	RoleOutput Role = "output"
	RoleInput  Role = "input"
)

// Attach opens a session.
type Attach struct {
	Duct string `cbor:"1,keyasint"`
	Role Role   `cbor:"2,keyasint"`
}

// Bundle answers a DequeueReq.
type Bundle struct {
	ID       domain.BundleID `cbor:"1,keyasint"`
	Wire     []byte          `cbor:"2,keyasint"`
	Priority domain.Priority `cbor:"3,keyasint"`
	Neighbor uint64          `cbor:"4,keyasint,omitempty"`
	DestAddr string          `cbor:"5,keyasint,omitempty"`
}

// XmitResult reports one transmission. A failed transmission with a
// reason is a refusal: the bundle is abandoned instead of re-forwarded.
type XmitResult struct {
	ID     domain.BundleID `cbor:"1,keyasint"`
	OK     bool            `cbor:"2,keyasint"`
	Reason domain.Reason   `cbor:"3,keyasint,omitempty"`
}

// Enqueue hands a received bundle to the engine.
type Enqueue struct {
	Sender uint64 `cbor:"1,keyasint"`
	Raw    []byte `cbor:"2,keyasint"`
}

// Ack answers a successful request. Session is set for Attach; ID and Dup
// for Enqueue.
type Ack struct {
	Session string          `cbor:"1,keyasint,omitempty"`
	ID      domain.BundleID `cbor:"2,keyasint"`
	Dup     bool            `cbor:"3,keyasint,omitempty"`
}

// Error answers a failed request.
type Error struct {
	Code    string `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`
	Details string `cbor:"3,keyasint,omitempty"`
}

// errorFrame converts err to its wire form.
func errorFrame(err error) *Error {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return &Error{Code: de.Code, Message: de.Message, Details: de.Details}
	}
	return &Error{Code: domain.ErrInternal.Code, Message: domain.ErrInternal.Message, Details: err.Error()}
}

// asError converts a received Error back into a domain error so callers
// can match it with errors.Is.
func (e *Error) asError() error {
	de := domain.NewDomainError(e.Code, e.Message)
	if e.Details != "" {
		return de.WithDetails(e.Details)
	}
	return de
}

func encode(v any) ([]byte, error) {
	return wire.Marshal(v)
}

func decode(data []byte, v any) error {
	if err := wire.Unmarshal(data, v); err != nil {
		return domain.ErrMalformedFrame.WithCause(err)
	}
	return nil
}
