// Package cmap provides a sharded concurrent map.
//
// Keys are spread over a power-of-two number of shards with murmur3, each
// guarded by its own RWMutex. The engine keeps its in-process registries
// (wake semaphores, open endpoints, attached duct sessions) in these maps
// so that forwarders, the clock and convergence-layer daemons touching
// unrelated queues do not contend on one lock.
//
// Usage:
//
//	m := cmap.New[string, *sema.Semaphore]()
//	m.SetIfAbsent("duct/udp/a", sema.New())
//	m.Range(func(name string, s *sema.Semaphore) bool { s.End(); return true })
package cmap
