package storage

import (
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
)

// Plan loads the plan for a neighbor node.
func (tx *Txn) Plan(node uint64) (*domain.Plan, bool, error) {
	var p domain.Plan
	ok, err := tx.get(planKey(node), &p)
	if err != nil || !ok {
		return nil, false, err
	}
	return &p, true, nil
}

// PutPlan inserts or replaces a plan.
func (tx *Txn) PutPlan(p *domain.Plan) error {
	return tx.put(planKey(p.Node), p)
}

// DeletePlan removes a plan record. Queued bundles are the caller's job.
func (tx *Txn) DeletePlan(node uint64) error {
	return tx.delete(planKey(node))
}

// Plans returns every plan ordered by node number.
func (tx *Txn) Plans() ([]domain.Plan, error) {
	return scanAll[domain.Plan](tx, prefixPlan)
}

// Duct loads a duct by name.
func (tx *Txn) Duct(name string) (*domain.Duct, bool, error) {
	var d domain.Duct
	ok, err := tx.get(ductKey(name), &d)
	if err != nil || !ok {
		return nil, false, err
	}
	return &d, true, nil
}

// PutDuct inserts or replaces a duct.
func (tx *Txn) PutDuct(d *domain.Duct) error {
	return tx.put(ductKey(d.Name), d)
}

// DeleteDuct removes a duct record.
func (tx *Txn) DeleteDuct(name string) error {
	return tx.delete(ductKey(name))
}

// Ducts returns every duct ordered by name.
func (tx *Txn) Ducts() ([]domain.Duct, error) {
	return scanAll[domain.Duct](tx, prefixDuct)
}

// Kin is a neighbor that takes part in multicast forwarding.
type Kin struct {
	Node uint64 `json:"node"`
}

// PutKin records node as kin.
func (tx *Txn) PutKin(node uint64) error {
	return tx.put(kinKey(node), Kin{Node: node})
}

// DeleteKin removes node from the kin and from every group.
func (tx *Txn) DeleteKin(node uint64) error {
	if err := tx.delete(kinKey(node)); err != nil {
		return err
	}
	groups, err := tx.memberships()
	if err != nil {
		return err
	}
	for _, m := range groups {
		if m.Node == node {
			if err := tx.delete(memberKey(m.Group, m.Node)); err != nil {
				return err
			}
		}
	}
	return nil
}

// KinNodes returns the kin node numbers in ascending order.
func (tx *Txn) KinNodes() ([]uint64, error) {
	kin, err := scanAll[Kin](tx, prefixKin)
	if err != nil {
		return nil, err
	}
	nodes := make([]uint64, len(kin))
	for i, k := range kin {
		nodes[i] = k.Node
	}
	return nodes, nil
}

// Membership records that a kin node petitioned to join a group.
type Membership struct {
	Group uint64 `json:"group"`
	Node  uint64 `json:"node"`
}

// PutMember adds node to group.
func (tx *Txn) PutMember(group, node uint64) error {
	return tx.put(memberKey(group, node), Membership{Group: group, Node: node})
}

// DeleteMember removes node from group.
func (tx *Txn) DeleteMember(group, node uint64) error {
	return tx.delete(memberKey(group, node))
}

// Members returns the kin nodes that joined group.
func (tx *Txn) Members(group uint64) ([]uint64, error) {
	ms, err := scanAll[Membership](tx, join(prefixMember, u64(group)))
	if err != nil {
		return nil, err
	}
	nodes := make([]uint64, len(ms))
	for i, m := range ms {
		nodes[i] = m.Node
	}
	return nodes, nil
}

func (tx *Txn) memberships() ([]Membership, error) {
	return scanAll[Membership](tx, prefixMember)
}

// IsKin reports whether node is kin.
func (tx *Txn) IsKin(node uint64) (bool, error) {
	return tx.exists(kinKey(node))
}

// HasMember reports whether node joined group.
func (tx *Txn) HasMember(group, node uint64) (bool, error) {
	return tx.exists(memberKey(group, node))
}

// GroupsOf returns the groups node is a member of.
func (tx *Txn) GroupsOf(node uint64) ([]uint64, error) {
	ms, err := tx.memberships()
	if err != nil {
		return nil, err
	}
	var groups []uint64
	for _, m := range ms {
		if m.Node == node {
			groups = append(groups, m.Group)
		}
	}
	return groups, nil
}
