// Package buildinfo exposes the version of the running dtnmesh binaries.
//
// Version, Commit and BuildTime are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/dtnmesh-go/internal/infra/buildinfo.Version=v0.3.0"
package buildinfo
