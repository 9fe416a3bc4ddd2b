package domain

import "fmt"

// Reason explains why a status report or custody signal was issued.
type Reason uint8

const (
	ReasonNone                    Reason = 0
	ReasonLifetimeExpired         Reason = 1
	ReasonForwardedUnidirectional Reason = 2
	ReasonCanceled                Reason = 3
	ReasonDepletion               Reason = 4
	ReasonEIDMalformed            Reason = 5
	ReasonNoRoute                 Reason = 6
	ReasonNoContact               Reason = 7
	ReasonBlockMalformed          Reason = 8
	ReasonTooManyHops             Reason = 9
	ReasonTrafficPared            Reason = 10
	ReasonRedundantReception      Reason = 11
)

var reasonNames = [...]string{
	"none", "lifetime expired", "forwarded over unidirectional link", "canceled",
	"depleted storage", "endpoint id malformed", "no route", "no contact",
	"block malformed", "too many hops", "traffic pared", "redundant reception",
}

// String returns the reason description.
func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// StatusKind is the event a status report describes.
type StatusKind uint8

const (
	StatusReceived  StatusKind = 0
	StatusForwarded StatusKind = 1
	StatusDelivered StatusKind = 2
	StatusDeleted   StatusKind = 3
)

// String returns the status name.
func (k StatusKind) String() string {
	switch k {
	case StatusReceived:
		return "received"
	case StatusForwarded:
		return "forwarded"
	case StatusDelivered:
		return "delivered"
	case StatusDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// ReportFlag returns the bundle flag requesting reports of kind k.
func (k StatusKind) ReportFlag() BundleFlags {
	switch k {
	case StatusReceived:
		return FlagReportReceived
	case StatusForwarded:
		return FlagReportForwarded
	case StatusDelivered:
		return FlagReportDelivered
	default:
		return FlagReportDeleted
	}
}

// AdminRecordType tags the body of an administrative record.
type AdminRecordType uint8

const (
	AdminStatusReport   AdminRecordType = 1
	AdminCustodySignal  AdminRecordType = 2
	AdminPetition       AdminRecordType = 5
	AdminContactNotices AdminRecordType = 16
)

// StatusReport describes an event in the life of a subject bundle.
type StatusReport struct {
	_       struct{} `cbor:",toarray"`
	Kind    StatusKind
	Reason  Reason
	Subject BundleID
	Time    DTNTime
}

// CustodySignal accepts or refuses custody of a subject bundle.
type CustodySignal struct {
	_        struct{} `cbor:",toarray"`
	Accepted bool
	Reason   Reason
	Subject  BundleID
	Time     DTNTime
}

// Petition asks kin to add or remove the sender from a multicast group.
type Petition struct {
	_     struct{} `cbor:",toarray"`
	Group uint64
	Join  bool
}

// AdminRecord is the decoded payload of an admin-record bundle. Exactly one
// body field is set, matching Type.
type AdminRecord struct {
	Type          AdminRecordType
	StatusReport  *StatusReport
	CustodySignal *CustodySignal
	Petition      *Petition

	// Notices holds the individually encoded notices so that one bad entry
	// does not spoil the batch.
	Notices [][]byte
}
