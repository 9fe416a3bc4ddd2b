// Package handler implements the dtnmesh admin API.
//
// Every JSON response uses the Response envelope. Errors carry the domain
// error code (BP-*) in both the body and the X-Error-Code header, and the
// HTTP status is derived from the code's numeric suffix.
//
// Endpoints:
//
//   - GET  /health, /ready
//   - GET|POST /admin/v1/contacts, POST /admin/v1/contacts/{remove,revise}
//   - GET|POST /admin/v1/ranges, POST /admin/v1/ranges/remove
//   - GET|POST /admin/v1/plans, DELETE /admin/v1/plans/{node}
//   - GET|POST /admin/v1/ducts, DELETE /admin/v1/ducts/{name}
//   - POST /admin/v1/ducts/{name}/{block,unblock}, POST /admin/v1/limbo/release
//   - GET|POST /admin/v1/kin, DELETE /admin/v1/kin/{node}
//   - POST /admin/v1/bundles
//   - GET  /admin/v1/status
//
// Duct names contain a slash, so clients escape it (%2F) in the path.
package handler
