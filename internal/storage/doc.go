// Package storage is the transactional bundle store.
//
// All persistent engine state lives in one Badger database:
//
//   - Bundles: one record per stored bundle, including its queue tag
//   - Queues: ordered entries (dispatch, plan, duct, delivery, limbo, transit)
//   - Indices: time-ordered expiration and custody deadline entries
//   - Payloads: reference-counted payload objects shared by clones
//   - Contact plan: contacts, ranges, region registrations, notice outbox
//   - Routing: plans, ducts, multicast kin and group memberships
//
// Callers group related mutations in Store.Update; the whole group
// commits or none of it does.
package storage
