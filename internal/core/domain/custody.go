package domain

// CustodyState is the custody transfer state of a bundle on this node.
type CustodyState uint8

const (
	NoCustody CustodyState = iota
	CustodyRequested
	CustodyHeld
	CustodyReleased
)

// String returns the state name.
func (s CustodyState) String() string {
	switch s {
	case NoCustody:
		return "none"
	case CustodyRequested:
		return "requested"
	case CustodyHeld:
		return "held"
	case CustodyReleased:
		return "released"
	default:
		return "unknown"
	}
}

// CustodyRecord tracks custody of one custodial bundle.
type CustodyRecord struct {
	State CustodyState `json:"state"`

	// Deadline is when the retained copy is re-forwarded if no acceptance
	// has arrived. Zero while no deadline is scheduled.
	Deadline DTNTime `json:"deadline"`

	// RetryInterval is in milliseconds.
	RetryInterval uint64 `json:"retry_interval"`

	// Epoch increments on every re-forward of the retained copy.
	Epoch uint32 `json:"epoch"`
}

// CanAccept reports whether this node may take custody now.
func (c *CustodyRecord) CanAccept() bool {
	return c != nil && c.State == CustodyRequested
}
