// Package httpserver serves the dtnmesh admin API over HTTP or HTTPS.
//
// The router wraps the handler package with the middleware chain:
//
//	Recover -> RequestID -> Audit -> RateLimit -> NetworkACL -> AdminAuth -> handler
//
// /health and /ready skip authentication, rate limiting and the ACL.
// /metrics is served from the engine's Prometheus registry and requires the
// admin token when one is configured.
//
// With TLS enabled the certificate pair is reloaded whenever either file
// changes on disk, so certificates can be rotated without a restart.
package httpserver
