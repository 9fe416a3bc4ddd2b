// Package main provides the entry point for dtnmesh-node.
//
// dtnmesh-node runs one DTN node. It provides:
//
//   - the bundle engine: custody, contact graph routing and multicast
//   - an HTTP admin API for contacts, plans, ducts and bundles
//   - a Unix socket for external convergence-layer daemons
//   - a built-in UDP convergence layer
//   - optional gossip discovery of neighbors
//
// Usage:
//
//	dtnmesh-node -config /etc/dtnmesh/node.yaml -set log.level=debug
//
// Every setting can be overridden from the environment, for example
// DTNMESH_NODE__NUMBER=7, and again with -set. A change to log.level in the
// config file takes effect without a restart.
package main
