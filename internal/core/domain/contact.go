package domain

import (
	"fmt"
	"math"
)

// RegistrationTime is the fromTime sentinel that turns a contact notice into
// a node registration (toTime non-zero) or deregistration (toTime zero).
const RegistrationTime DTNTime = math.MaxUint64

// Contact is a scheduled transmission opportunity from one node to another.
type Contact struct {
	Region   uint32  `json:"region" yaml:"region"`
	FromTime DTNTime `json:"from_time" yaml:"from_time"`
	ToTime   DTNTime `json:"to_time" yaml:"to_time"`
	FromNode uint64  `json:"from_node" yaml:"from_node"`
	ToNode   uint64  `json:"to_node" yaml:"to_node"`

	// Rate is in bytes per second.
	Rate uint64 `json:"rate" yaml:"rate"`

	// Confidence is the probability in [0,1] that the contact occurs.
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Validate checks the contact fields.
func (c *Contact) Validate() error {
	if c.FromNode == 0 || c.ToNode == 0 {
		return ErrInvalidArgument.WithDetails("contact nodes must be positive")
	}
	if c.ToTime <= c.FromTime {
		return ErrInvalidArgument.WithDetails("contact must end after it starts")
	}
	if c.FromTime == RegistrationTime {
		return ErrInvalidArgument.WithDetails("contact start is reserved")
	}
	if c.Confidence < 0 || c.Confidence > 1 || math.IsNaN(c.Confidence) {
		return ErrInvalidArgument.WithDetails("confidence must be within [0,1]")
	}
	return nil
}

// Active reports whether the window contains t.
func (c *Contact) Active(t DTNTime) bool {
	return c.FromTime <= t && t < c.ToTime
}

// Overlaps reports whether c and o are for the same ordered node pair and
// region and their windows intersect.
func (c *Contact) Overlaps(o *Contact) bool {
	return c.Region == o.Region && c.FromNode == o.FromNode && c.ToNode == o.ToNode &&
		c.FromTime < o.ToTime && o.FromTime < c.ToTime
}

// Capacity is the total volume the contact can carry, in bytes.
func (c *Contact) Capacity() uint64 {
	secs := uint64(c.ToTime-c.FromTime) / 1000
	if secs == 0 {
		secs = 1
	}
	if c.Rate > math.MaxUint64/secs {
		return math.MaxUint64
	}
	return c.Rate * secs
}

// Key identifies the contact: region, node pair and start time.
func (c *Contact) Key() ContactKey {
	return ContactKey{Region: c.Region, FromNode: c.FromNode, ToNode: c.ToNode, FromTime: c.FromTime}
}

// String formats the contact for logs.
func (c *Contact) String() string {
	return fmt.Sprintf("contact r%d %d->%d [%d,%d) %dB/s", c.Region, c.FromNode, c.ToNode, c.FromTime, c.ToTime, c.Rate)
}

// ContactKey addresses a contact or range. A zero FromTime in removal
// requests matches every record of the node pair.
type ContactKey struct {
	Region   uint32  `json:"region"`
	FromNode uint64  `json:"from_node"`
	ToNode   uint64  `json:"to_node"`
	FromTime DTNTime `json:"from_time"`
}

// Wildcard reports whether k matches all records of the node pair.
func (k ContactKey) Wildcard() bool { return k.FromTime == 0 }

// Range is the one-way light time between two nodes over a window.
type Range struct {
	Region   uint32  `json:"region" yaml:"region"`
	FromTime DTNTime `json:"from_time" yaml:"from_time"`
	ToTime   DTNTime `json:"to_time" yaml:"to_time"`
	FromNode uint64  `json:"from_node" yaml:"from_node"`
	ToNode   uint64  `json:"to_node" yaml:"to_node"`

	// OWLT is the one-way light time in seconds.
	OWLT uint32 `json:"owlt" yaml:"owlt"`
}

// Validate checks the range fields.
func (r *Range) Validate() error {
	if r.FromNode == 0 || r.ToNode == 0 {
		return ErrInvalidArgument.WithDetails("range nodes must be positive")
	}
	if r.ToTime <= r.FromTime {
		return ErrInvalidArgument.WithDetails("range must end after it starts")
	}
	return nil
}

// Active reports whether the window contains t.
func (r *Range) Active(t DTNTime) bool {
	return r.FromTime <= t && t < r.ToTime
}

// Overlaps reports whether r and o cover the same node pair at the same time.
func (r *Range) Overlaps(o *Range) bool {
	return r.Region == o.Region && r.FromNode == o.FromNode && r.ToNode == o.ToNode &&
		r.FromTime < o.ToTime && o.FromTime < r.ToTime
}

// Key identifies the range.
func (r *Range) Key() ContactKey {
	return ContactKey{Region: r.Region, FromNode: r.FromNode, ToNode: r.ToNode, FromTime: r.FromTime}
}

// Registration records that a node belongs to a region.
type Registration struct {
	Region uint32 `json:"region"`
	Node   uint64 `json:"node"`
}

// NoticeKind distinguishes contact notices from range notices.
type NoticeKind uint8

const (
	NoticeContact NoticeKind = 0
	NoticeRange   NoticeKind = 1
)

// ContactNotice is a contact plan mutation shared with the region.
type ContactNotice struct {
	Kind     NoticeKind `json:"kind"`
	Region   uint32     `json:"region"`
	FromTime DTNTime    `json:"from_time"`
	ToTime   DTNTime    `json:"to_time"`
	FromNode uint64     `json:"from_node"`
	ToNode   uint64     `json:"to_node"`

	// Magnitude is the rate of a contact or the OWLT of a range.
	Magnitude  uint64  `json:"magnitude"`
	Confidence float64 `json:"confidence"`

	// Revision marks a pure revision of an existing contact.
	Revision bool `json:"revision"`
}

// IsDeletion reports whether the notice removes a record.
func (n *ContactNotice) IsDeletion() bool { return n.ToTime == 0 }

// IsRegistration reports whether the notice (de)registers a node.
func (n *ContactNotice) IsRegistration() bool { return n.FromTime == RegistrationTime }

// ContactAdded builds the notice announcing c.
func ContactAdded(c *Contact) ContactNotice {
	return ContactNotice{
		Kind: NoticeContact, Region: c.Region, FromTime: c.FromTime, ToTime: c.ToTime,
		FromNode: c.FromNode, ToNode: c.ToNode, Magnitude: c.Rate, Confidence: c.Confidence,
	}
}

// ContactRevised builds the notice announcing a revision of c.
func ContactRevised(c *Contact) ContactNotice {
	n := ContactAdded(c)
	n.Revision = true
	return n
}

// ContactRemoved builds the notice announcing removal of the contact(s) at k.
func ContactRemoved(k ContactKey) ContactNotice {
	return ContactNotice{Kind: NoticeContact, Region: k.Region, FromTime: k.FromTime, FromNode: k.FromNode, ToNode: k.ToNode}
}

// RangeAdded builds the notice announcing r.
func RangeAdded(r *Range) ContactNotice {
	return ContactNotice{
		Kind: NoticeRange, Region: r.Region, FromTime: r.FromTime, ToTime: r.ToTime,
		FromNode: r.FromNode, ToNode: r.ToNode, Magnitude: uint64(r.OWLT),
	}
}

// RangeRemoved builds the notice announcing removal of the range(s) at k.
func RangeRemoved(k ContactKey) ContactNotice {
	return ContactNotice{Kind: NoticeRange, Region: k.Region, FromTime: k.FromTime, FromNode: k.FromNode, ToNode: k.ToNode}
}

// NodeRegistered builds the registration notice for node in region.
func NodeRegistered(region uint32, node uint64) ContactNotice {
	return ContactNotice{Kind: NoticeContact, Region: region, FromTime: RegistrationTime, ToTime: 1, FromNode: node, ToNode: node}
}

// NodeDeregistered builds the deregistration notice for node in region.
func NodeDeregistered(region uint32, node uint64) ContactNotice {
	return ContactNotice{Kind: NoticeContact, Region: region, FromTime: RegistrationTime, FromNode: node, ToNode: node}
}
