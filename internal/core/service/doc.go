// Package service implements the bundle engine on top of the bundle store.
//
// The Engine is the context object shared by every service:
//
//   - Router: contact graph route selection
//   - PlanService: plans, ducts, limbo and plan assignment
//   - DuctService: the handshake with convergence-layer daemons
//   - CustodyService: custody acceptance, signals and retransmission
//   - MulticastService: group fan-out, kin and petitions
//   - ContactPlanService: contacts, ranges and region registrations
//   - Synchronizer: regional exchange of contact plan notices
//   - Clock: expiry and the other periodic sweeps
//   - BundleService: local endpoints, send and receive
//
// Each state change runs in one store transaction. Goroutines are woken
// through per-queue semaphores that are given only after the transaction
// that filled the queue commits.
package service
