package command

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/config"
	"github.com/yndnr/dtnmesh-go/internal/cli/connection"
	"github.com/yndnr/dtnmesh-go/internal/cli/output"
	"github.com/yndnr/dtnmesh-go/internal/infra/buildinfo"
	"github.com/yndnr/dtnmesh-go/internal/infra/tlsroots"
)

const settingsKey = "settings"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "dtnmesh-cli",
		Usage:   "dtnmesh node administration",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			ContactCommand(),
			RangeCommand(),
			PlanCommand(),
			DuctCommand(),
			LimboCommand(),
			KinCommand(),
			BundleCommand(),
			StatusCommand(),
			HealthCommand(),
			ProfileCommand(),
			ShellCommand(),
		},
		Before: loadSettings,
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "admin API address of the node (overrides the profile)",
			EnvVars: []string{"DTNMESH_SERVER"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "admin bearer token (overrides the profile)",
			EnvVars: []string{"DTNMESH_ADMIN_TOKEN"},
		},
		&cli.PathFlag{
			Name:    "ca-file",
			Usage:   "CA bundle trusted for https servers",
			EnvVars: []string{"DTNMESH_CA_FILE"},
		},
		&cli.PathFlag{
			Name:    "cert-file",
			Usage:   "client certificate for nodes that require one",
			EnvVars: []string{"DTNMESH_CERT_FILE"},
		},
		&cli.PathFlag{
			Name:    "key-file",
			Usage:   "client certificate key",
			EnvVars: []string{"DTNMESH_KEY_FILE"},
		},
		&cli.StringFlag{
			Name:    "profile",
			Aliases: []string{"p"},
			Usage:   "profile from the CLI config file",
			EnvVars: []string{"DTNMESH_PROFILE"},
		},
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI config file",
			EnvVars: []string{"DTNMESH_CLI_CONFIG"},
			Value:   config.DefaultConfigPath(),
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "show more columns",
		},
	}
}

// settings is what every command needs, resolved once per run.
type settings struct {
	configPath string
	config     *config.CLIConfig
	server     string
	token      string
	tls        *tls.Config
	format     output.Format
	wide       bool
}

func loadSettings(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	s := &settings{
		configPath: c.String("config"),
		config:     cfg,
		server:     config.DefaultServer,
		wide:       c.Bool("wide"),
	}
	var profile config.Profile
	if p, ok := cfg.Profile(c.String("profile")); ok {
		profile = p
		s.server = p.Server
		s.token = p.Token
	} else if c.String("profile") != "" {
		return fmt.Errorf("unknown profile %q", c.String("profile"))
	}
	if v := c.String("server"); v != "" {
		s.server = v
	}
	if v := c.String("token"); v != "" {
		s.token = v
	}
	caFile := firstNonEmpty(c.Path("ca-file"), profile.CAFile)
	certFile := firstNonEmpty(c.Path("cert-file"), profile.CertFile)
	keyFile := firstNonEmpty(c.Path("key-file"), profile.KeyFile)
	if caFile != "" || certFile != "" || keyFile != "" {
		if s.tls, err = tlsroots.ClientConfig(caFile, certFile, keyFile); err != nil {
			return err
		}
	}
	format := c.String("output")
	if format == "" {
		format = cfg.DefaultOutput
	}
	if s.format, err = output.ParseFormat(format); err != nil {
		return err
	}
	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[settingsKey] = s
	return nil
}

func settingsOf(c *cli.Context) *settings {
	if s, ok := c.App.Metadata[settingsKey].(*settings); ok {
		return s
	}
	return &settings{config: config.Default(), server: config.DefaultServer, format: output.FormatTable}
}

// client returns an admin API client for the selected node.
func client(c *cli.Context) *connection.HTTPClient {
	s := settingsOf(c)
	if s.tls != nil {
		return connection.NewHTTPClient(s.server, s.token, connection.WithTLS(s.tls))
	}
	return connection.NewHTTPClient(s.server, s.token)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// requestContext bounds one admin call.
func requestContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Context, connection.DefaultTimeout)
}

// render writes data in the selected format.
func render(c *cli.Context, data any) error {
	s := settingsOf(c)
	return output.NewFormatter(s.format, s.wide).Format(c.App.Writer, data)
}

// say prints a confirmation line unless a machine format was asked for,
// in which case data is rendered instead.
func say(c *cli.Context, data any, format string, args ...any) error {
	if settingsOf(c).format != output.FormatTable {
		return render(c, data)
	}
	_, err := fmt.Fprintf(c.App.Writer, format+"\n", args...)
	return err
}
