// Package output renders dtnmesh-cli results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables for values that know their columns
//   - json.go, yaml.go: machine-readable output for scripting
//
// Values rendered as tables implement Tabler. Anything else falls back to
// YAML, which stays readable for nested status documents.
package output
