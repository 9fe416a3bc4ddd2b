// Package repl runs dtnmesh-cli commands interactively.
//
// Each line is split shell-style and handed to an executor, normally the
// CLI application itself. A line ending in "?" lists the commands that
// complete it. History is kept in ~/.dtnmesh/history.
package repl
