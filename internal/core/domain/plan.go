package domain

import "fmt"

// Plan is the egress route to one neighbor node.
type Plan struct {
	// Node is the neighbor node number; plans are keyed by it.
	Node uint64 `json:"node" yaml:"node"`

	// Rate is the nominal data rate in bytes per second, 0 when unknown.
	Rate uint64 `json:"rate" yaml:"rate"`

	// Ducts are the outbound ducts in order of preference. Ducts[i] serves
	// priority class i; classes above len(Ducts)-1 use the last duct.
	Ducts []string `json:"ducts" yaml:"ducts"`

	// Continuous plans are usable at any time, without a scheduled contact.
	Continuous bool `json:"continuous" yaml:"continuous"`
}

// Validate checks the plan fields.
func (p *Plan) Validate() error {
	if p.Node == 0 {
		return ErrInvalidArgument.WithDetails("plan node must be positive")
	}
	seen := make(map[string]struct{}, len(p.Ducts))
	for _, d := range p.Ducts {
		if d == "" {
			return ErrInvalidArgument.WithDetails("empty duct name")
		}
		if _, dup := seen[d]; dup {
			return ErrInvalidArgument.WithDetails("duplicate duct " + d)
		}
		seen[d] = struct{}{}
	}
	return nil
}

// NeighborEID is the admin endpoint of the plan's neighbor.
func (p *Plan) NeighborEID() EID { return AdminEID(p.Node) }

// DuctOrder returns the ducts to try for priority class pri, preferred
// duct first.
func (p *Plan) DuctOrder(pri Priority) []string {
	if len(p.Ducts) == 0 {
		return nil
	}
	idx := int(pri)
	if idx >= len(p.Ducts) {
		idx = len(p.Ducts) - 1
	}
	out := make([]string, 0, len(p.Ducts))
	out = append(out, p.Ducts[idx])
	for i, d := range p.Ducts {
		if i != idx {
			out = append(out, d)
		}
	}
	return out
}

// Duct is a convergence-layer outbound queue.
type Duct struct {
	// Name is unique per node, conventionally "<protocol>/<address>".
	Name     string `json:"name" yaml:"name"`
	Protocol string `json:"protocol" yaml:"protocol"`

	// Neighbor is the node reached over this duct.
	Neighbor uint64 `json:"neighbor" yaml:"neighbor"`

	// Address is the destination hint handed to the output daemon.
	Address string `json:"address" yaml:"address"`

	// Rate is the declared transmission rate in bytes per second; 0 disables
	// pacing.
	Rate uint64 `json:"rate" yaml:"rate"`

	// Blocked ducts accept no bundles; bundles that would use them wait in
	// limbo.
	Blocked bool `json:"blocked" yaml:"blocked"`

	// Owner identifies the attached output daemon session, empty when none.
	Owner string `json:"owner,omitempty" yaml:"-"`
}

// Validate checks the duct fields.
func (d *Duct) Validate() error {
	if d.Name == "" {
		return ErrInvalidArgument.WithDetails("duct name is required")
	}
	if d.Protocol == "" {
		return ErrInvalidArgument.WithDetails(fmt.Sprintf("duct %s: protocol is required", d.Name))
	}
	return nil
}
