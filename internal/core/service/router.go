package service

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/storage"
	"github.com/yndnr/dtnmesh-go/internal/storage/memory"
)

// TieBreak is one criterion for ordering candidate routes.
type TieBreak string

const (
	// TieBreakStart prefers the route whose first contact starts earliest.
	TieBreakStart TieBreak = "start"
	// TieBreakConfidence prefers the route with the higher confidence.
	TieBreakConfidence TieBreak = "confidence"
	// TieBreakHops prefers the route with fewer hops.
	TieBreakHops TieBreak = "hops"
	// TieBreakArrival prefers the route with the earliest arrival time.
	TieBreakArrival TieBreak = "arrival"
)

// DefaultTieBreak is the route ordering used when none is configured.
var DefaultTieBreak = []TieBreak{TieBreakStart, TieBreakConfidence, TieBreakHops}

// ParseTieBreak converts a criterion name.
func ParseTieBreak(s string) (TieBreak, error) {
	switch tb := TieBreak(s); tb {
	case TieBreakStart, TieBreakConfidence, TieBreakHops, TieBreakArrival:
		return tb, nil
	}
	return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown tie-break %q", s))
}

// Route is the outcome of a forwarding decision.
type Route struct {
	Plan       domain.Plan
	Hops       int
	Start      domain.DTNTime
	Arrival    domain.DTNTime
	Confidence float64

	// first is the contact whose volume the bundle claims; nil when the
	// route uses a continuous plan without a contact.
	first *domain.ContactKey
}

// NextHop returns the neighbor the bundle is handed to.
func (r *Route) NextHop() uint64 { return r.Plan.Node }

// Router picks plans by searching the contact graph.
type Router struct {
	e      *Engine
	logger *slog.Logger
}

func newRouter(e *Engine) *Router {
	return &Router{e: e, logger: e.component("router")}
}

// Select chooses the route for b toward node dest. It returns nil when no
// route exists. The first contact's volume is claimed once tx commits.
func (r *Router) Select(tx *storage.Txn, b *domain.Bundle, dest uint64, now domain.DTNTime) (*Route, error) {
	plans, err := tx.Plans()
	if err != nil {
		return nil, err
	}
	byNode := make(map[uint64]domain.Plan, len(plans))
	for _, p := range plans {
		byNode[p.Node] = p
	}

	candidates := r.search(byNode, dest, now, b.Size(), b.ExpiresAt())
	if len(candidates) > 0 {
		r.rank(candidates)
		best := candidates[0]
		key, size := *best.first, b.Size()
		tx.OnCommit(func() { r.e.index.Consume(key, size) })
		return &best, nil
	}

	if p, ok := byNode[dest]; ok && p.Continuous {
		return &Route{Plan: p, Hops: 1, Start: now, Arrival: now, Confidence: 1}, nil
	}
	return nil, nil
}

// search enumerates loop-free contact paths from the local node to dest.
func (r *Router) search(plans map[uint64]domain.Plan, dest uint64, now domain.DTNTime, size uint64, expires domain.DTNTime) []Route {
	local := r.e.cfg.Node
	var out []Route
	visited := map[uint64]bool{local: true}

	var walk func(node uint64, t domain.DTNTime, depth int, first *memory.ContactEntry, conf float64)
	walk = func(node uint64, t domain.DTNTime, depth int, first *memory.ContactEntry, conf float64) {
		for _, c := range r.e.index.From(node, t) {
			if visited[c.ToNode] || c.Residual < size {
				continue
			}
			if first == nil {
				if _, ok := plans[c.ToNode]; !ok {
					continue
				}
			}
			depart := max(t, c.FromTime)
			arrival := depart + domain.DTNTime(r.e.index.OWLT(node, c.ToNode, depart))*1000
			if arrival >= expires {
				continue
			}
			hop := first
			if hop == nil {
				cc := c
				hop = &cc
			}
			pathConf := conf * c.Confidence
			if c.ToNode == dest {
				key := hop.Key()
				out = append(out, Route{
					Plan:       plans[hop.ToNode],
					Hops:       depth + 1,
					Start:      hop.FromTime,
					Arrival:    arrival,
					Confidence: pathConf,
					first:      &key,
				})
				continue
			}
			if depth+1 >= r.e.cfg.MaxHops {
				continue
			}
			visited[c.ToNode] = true
			walk(c.ToNode, arrival, depth+1, hop, pathConf)
			delete(visited, c.ToNode)
		}
	}
	walk(local, now, 0, nil, 1)
	return out
}

// rank orders candidates best first by the configured tie-break list. The
// first-hop node number and arrival settle anything left.
func (r *Router) rank(candidates []Route) {
	order := r.e.cfg.TieBreak
	slices.SortStableFunc(candidates, func(a, b Route) int {
		for _, tb := range order {
			switch tb {
			case TieBreakStart:
				if a.Start != b.Start {
					return cmpLess(a.Start < b.Start)
				}
			case TieBreakConfidence:
				if a.Confidence != b.Confidence {
					return cmpLess(a.Confidence > b.Confidence)
				}
			case TieBreakHops:
				if a.Hops != b.Hops {
					return cmpLess(a.Hops < b.Hops)
				}
			case TieBreakArrival:
				if a.Arrival != b.Arrival {
					return cmpLess(a.Arrival < b.Arrival)
				}
			}
		}
		if a.Plan.Node != b.Plan.Node {
			return cmpLess(a.Plan.Node < b.Plan.Node)
		}
		if a.Arrival != b.Arrival {
			return cmpLess(a.Arrival < b.Arrival)
		}
		return 0
	})
}

func cmpLess(less bool) int {
	if less {
		return -1
	}
	return 1
}

// IsOpen reports whether bundles may be handed to p's ducts at now.
func (r *Router) IsOpen(p *domain.Plan, now domain.DTNTime) bool {
	return p.Continuous || r.e.index.Active(r.e.cfg.Node, p.Node, now)
}
