// Package command defines the dtnmesh-cli commands with urfave/cli/v2.
//
//   - root.go: the application, global flags and shared helpers
//   - contact.go: contact and range commands
//   - routing.go: plan, duct, limbo and kin commands
//   - bundle.go: bundle send
//   - system.go: status and health
//   - profile.go: saved node profiles
//
// Every command resolves the target node, calls the admin API and renders
// the answer in the selected output format.
package command
