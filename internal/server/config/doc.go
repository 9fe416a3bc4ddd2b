// Package config provides the dtnmesh-node configuration.
//
//   - spec.go: NodeConfig struct definition
//   - default.go: default values
//   - verify.go: validation
//   - sanitize.go: secret masking for logs
//   - convert.go: mapping onto engine, store and logger settings
//   - contactplan.go: the static contact-plan file
//
// Configuration is loaded via internal/infra/confloader from defaults, a YAML
// file and DTNMESH_ environment variables.
package config
