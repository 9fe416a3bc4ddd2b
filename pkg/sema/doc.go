// Package sema provides a binary wake-up semaphore.
//
// A Semaphore is only a hint that work may be available: queue state always
// lives in the bundle store, so a missed or spurious wake is harmless. Any
// number of Give calls before a Take collapse into one wake. End wakes every
// waiter, present and future, with ErrEnded.
package sema
