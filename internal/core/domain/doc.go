// Package domain defines the bundle engine's value types.
//
// Nothing here performs IO. The package contains:
//
//   - EID: ipn/imc endpoint identifiers
//   - Bundle: the stored bundle record, its identity and queue membership
//   - Block: the closed set of extension block variants
//   - Plan, Duct: egress routes and convergence-layer queues
//   - Contact, Range, ContactNotice: contact plan records and their notices
//   - AdminRecord: status reports, custody signals, petitions
//   - Errors: structured error codes shared by every layer
package domain
