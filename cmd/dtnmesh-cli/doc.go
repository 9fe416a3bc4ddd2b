// Package main provides the entry point for dtnmesh-cli, the command-line
// administration tool for dtnmesh nodes.
package main
