package repl

import (
	"sort"
	"strings"
)

// Completer suggests command paths such as "duct block".
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over commands; the REPL's own words are
// added.
func NewCompleter(commands []string) *Completer {
	all := append([]string{"exit", "quit", "history"}, commands...)
	sort.Strings(all)
	return &Completer{commands: all}
}

// Complete returns the commands that start with prefix. Runs of spaces in
// prefix count as one.
func (c *Completer) Complete(prefix string) []string {
	prefix = strings.Join(strings.Fields(prefix), " ") + trailingSpace(prefix)
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}

func trailingSpace(s string) string {
	if strings.TrimSpace(s) != "" && strings.HasSuffix(s, " ") {
		return " "
	}
	return ""
}
