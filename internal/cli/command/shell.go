package command

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/repl"
)

// ShellCommand returns the interactive shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Run commands interactively against the selected node",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-history", Usage: "do not read or write the history file"},
		},
		Action: shellAction,
	}
}

func shellAction(c *cli.Context) error {
	base := inheritedArgs(c)
	exec := func(ctx context.Context, args []string) error {
		if len(args) > 0 && args[0] == "shell" {
			return errors.New("already in the shell")
		}
		app := App()
		app.Reader = c.App.Reader
		app.Writer = c.App.Writer
		app.ErrWriter = c.App.ErrWriter
		app.ExitErrHandler = func(*cli.Context, error) {}
		return app.RunContext(ctx, append(append([]string{}, base...), args...))
	}

	hist := repl.NewHistory("", 0)
	if !c.Bool("no-history") {
		hist = repl.NewHistory(repl.DefaultHistoryPath(), repl.DefaultHistorySize)
		if err := hist.Load(); err != nil {
			fmt.Fprintf(c.App.ErrWriter, "warning: history not loaded: %v\n", err)
		}
	}
	s := settingsOf(c)
	r := repl.New(exec, repl.NewCompleter(commandPaths(App().Commands, "")),
		repl.WithIO(c.App.Reader, c.App.Writer),
		repl.WithHistory(hist))
	fmt.Fprintf(c.App.Writer, "connected to %s; type ? for commands, exit to leave\n", s.server)
	err := r.Run(c.Context)
	if saveErr := hist.Save(); saveErr != nil {
		fmt.Fprintf(c.App.ErrWriter, "warning: history not saved: %v\n", saveErr)
	}
	return err
}

// inheritedArgs rebuilds the global flags of this run so that every shell
// line talks to the same node in the same format.
func inheritedArgs(c *cli.Context) []string {
	s := settingsOf(c)
	args := []string{c.App.Name, "--config", s.configPath}
	for _, name := range []string{"server", "token", "profile", "output", "ca-file", "cert-file", "key-file"} {
		if c.IsSet(name) {
			args = append(args, "--"+name, c.String(name))
		}
	}
	if c.Bool("wide") {
		args = append(args, "--wide")
	}
	return args
}

// commandPaths lists every command path below cmds, such as "duct block".
func commandPaths(cmds []*cli.Command, prefix string) []string {
	var out []string
	for _, cmd := range cmds {
		if cmd.Hidden || cmd.Name == "shell" {
			continue
		}
		path := strings.TrimSpace(prefix + " " + cmd.Name)
		out = append(out, path)
		out = append(out, commandPaths(cmd.Subcommands, path)...)
	}
	return out
}
