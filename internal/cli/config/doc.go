// Package config holds dtnmesh-cli settings (~/.dtnmesh/cli.yaml).
//
// The file names node profiles. Flags override environment variables,
// which override the selected profile.
package config
