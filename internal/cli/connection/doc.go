// Package connection is the dtnmesh-cli client of a node's admin API.
//
// Every response arrives in the node's JSON envelope; the client unwraps
// the data member and turns error envelopes into *APIError values that
// keep the node's error code.
package connection
