// Package logger provides structured logging for dtnmesh.
//
//   - logger.go: slog handler setup, runtime level control, the default logger
//   - context.go: context-carried loggers and admin request IDs
//   - redact.go: masking of secrets in log attributes
//
// Bundle payloads are never logged; attributes whose key or value looks like
// a credential are masked before they reach the handler.
package logger
