// Package memory holds the in-memory contact plan index used by route
// search.
//
// The durable contact plan lives in the bundle store; this index is rebuilt
// from it at start and kept in step by the contact plan service. On top of
// the stored records it tracks the residual volume of every contact, which
// is consumed as bundles are routed over it and never persisted.
//
// Thread Safety:
//
// All operations are thread-safe. Lookups take the read lock and return
// copies, so callers may hold results across mutations.
package memory
