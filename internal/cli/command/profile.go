package command

import (
	"fmt"
	"sort"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/config"
	"github.com/yndnr/dtnmesh-go/internal/cli/output"
)

type profileRow struct {
	Name    string `json:"name"`
	Server  string `json:"server"`
	Token   bool   `json:"token"`
	Current bool   `json:"current"`
}

type profileList []profileRow

func (l profileList) Table(bool) *output.Table {
	t := output.NewTable("", "NAME", "SERVER", "TOKEN")
	for _, p := range l {
		mark, token := "", "no"
		if p.Current {
			mark = "*"
		}
		if p.Token {
			token = "yes"
		}
		t.AddRow(mark, p.Name, p.Server, token)
	}
	return t
}

// ProfileCommand returns the profile subcommand group. Profiles live in
// the CLI config file.
func ProfileCommand() *cli.Command {
	return &cli.Command{
		Name:  "profile",
		Usage: "Manage node connection profiles",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List profiles",
				Action: profileListAction,
			},
			{
				Name:      "add",
				Usage:     "Add or replace a profile",
				ArgsUsage: "NAME",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "server", Usage: "admin API address", Required: true},
					&cli.StringFlag{Name: "token", Usage: "admin bearer token"},
					&cli.PathFlag{Name: "ca-file", Usage: "CA bundle trusted for the server"},
					&cli.PathFlag{Name: "cert-file", Usage: "client certificate"},
					&cli.PathFlag{Name: "key-file", Usage: "client certificate key"},
					&cli.BoolFlag{Name: "use", Usage: "make it the current profile"},
				},
				Action: profileAdd,
			},
			{
				Name:      "use",
				Usage:     "Select the current profile",
				ArgsUsage: "NAME",
				Action:    profileUse,
			},
			{
				Name:      "remove",
				Usage:     "Remove a profile",
				ArgsUsage: "NAME",
				Action:    profileRemove,
			},
		},
	}
}

func profileName(c *cli.Context) (string, error) {
	if c.NArg() != 1 || c.Args().First() == "" {
		return "", fmt.Errorf("exactly one NAME argument required")
	}
	return c.Args().First(), nil
}

func profileListAction(c *cli.Context) error {
	cfg := settingsOf(c).config
	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make(profileList, 0, len(names))
	for _, name := range names {
		p := cfg.Profiles[name]
		rows = append(rows, profileRow{Name: name, Server: p.Server, Token: p.Token != "", Current: name == cfg.CurrentProfile})
	}
	return render(c, rows)
}

func profileAdd(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	s := settingsOf(c)
	if s.config.Profiles == nil {
		s.config.Profiles = make(map[string]config.Profile)
	}
	s.config.Profiles[name] = config.Profile{
		Server:   c.String("server"),
		Token:    c.String("token"),
		CAFile:   c.Path("ca-file"),
		CertFile: c.Path("cert-file"),
		KeyFile:  c.Path("key-file"),
	}
	if c.Bool("use") {
		s.config.CurrentProfile = name
	}
	if err := config.Save(s.config, s.configPath); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "profile %s saved\n", name)
	return err
}

func profileUse(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	s := settingsOf(c)
	if _, ok := s.config.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	s.config.CurrentProfile = name
	if err := config.Save(s.config, s.configPath); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "switched to profile %s\n", name)
	return err
}

func profileRemove(c *cli.Context) error {
	name, err := profileName(c)
	if err != nil {
		return err
	}
	s := settingsOf(c)
	if _, ok := s.config.Profiles[name]; !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	delete(s.config.Profiles, name)
	if s.config.CurrentProfile == name {
		s.config.CurrentProfile = ""
	}
	if err := config.Save(s.config, s.configPath); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.App.Writer, "profile %s removed\n", name)
	return err
}
