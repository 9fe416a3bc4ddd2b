package command

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/output"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver/handler"
)

type sentBundle handler.SendBundleResponse

func (b sentBundle) Table(bool) *output.Table {
	t := output.NewTable("ID", "SOURCE", "CREATED")
	t.AddRow(b.ID, b.Source.String(), formatTime(b.Creation.Time))
	return t
}

// BundleCommand returns the bundle subcommand group.
func BundleCommand() *cli.Command {
	return &cli.Command{
		Name:  "bundle",
		Usage: "Originate bundles",
		Subcommands: []*cli.Command{
			{
				Name:      "send",
				Usage:     "Send a bundle from the anonymous endpoint",
				ArgsUsage: "DESTINATION",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "lifetime", Aliases: []string{"l"}, Value: "1h", Usage: "bundle lifetime"},
					&cli.StringFlag{Name: "priority", Usage: "bulk, standard or expedited"},
					&cli.UintFlag{Name: "ordinal", Usage: "ordinal within expedited priority (0-254)"},
					&cli.StringFlag{Name: "report-to", Usage: "endpoint receiving status reports"},
					&cli.StringSliceFlag{Name: "report", Usage: "request a status report: received, forwarded, delivered, deleted"},
					&cli.BoolFlag{Name: "best-effort", Usage: "prefer a cheaper path over reliable delivery"},
					&cli.BoolFlag{Name: "minimum-latency", Usage: "send copies over every candidate route"},
					&cli.StringFlag{Name: "payload", Usage: "payload text"},
					&cli.PathFlag{Name: "file", Usage: "read the payload from a file"},
				},
				Action: bundleSend,
			},
		},
	}
}

func bundleSend(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("exactly one DESTINATION argument required")
	}
	dest, err := domain.ParseEID(c.Args().First())
	if err != nil {
		return err
	}
	if c.Uint("ordinal") > 254 {
		return fmt.Errorf("ordinal must be at most 254")
	}
	req := handler.SendBundleRequest{
		Destination:    dest,
		Lifetime:       c.String("lifetime"),
		Priority:       c.String("priority"),
		Ordinal:        uint8(c.Uint("ordinal")),
		BestEffort:     c.Bool("best-effort"),
		MinimumLatency: c.Bool("minimum-latency"),
		Reports:        c.StringSlice("report"),
	}
	if v := c.String("report-to"); v != "" {
		if req.ReportTo, err = domain.ParseEID(v); err != nil {
			return err
		}
	}
	switch {
	case c.IsSet("payload") && c.IsSet("file"):
		return fmt.Errorf("--payload and --file are mutually exclusive")
	case c.IsSet("file"):
		if req.Payload, err = os.ReadFile(c.Path("file")); err != nil {
			return fmt.Errorf("read payload: %w", err)
		}
	default:
		req.Payload = []byte(c.String("payload"))
	}

	ctx, cancel := requestContext(c)
	defer cancel()
	var out handler.SendBundleResponse
	if err := client(c).Post(ctx, "/admin/v1/bundles", req, &out); err != nil {
		return err
	}
	return render(c, sentBundle(out))
}
