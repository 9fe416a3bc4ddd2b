// Package discovery finds neighbor nodes with the memberlist gossip
// protocol and turns them into routes.
//
// Every node advertises its node number and UDP convergence-layer address
// in its memberlist metadata. When a peer joins, the local node installs a
// UDP duct to it and, unless a plan for the peer already exists, a
// continuous plan over that duct. Optionally the peer also becomes a
// multicast kin. When a peer leaves or fails, its duct is blocked so queued
// bundles wait in limbo; a rejoin unblocks it.
package discovery
