package command

import (
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/output"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver/handler"
)

const timeHelp = `RFC 3339 time, "+<duration>" from now, or DTN milliseconds`

func formatTime(t domain.DTNTime) string {
	return t.Time().UTC().Format(time.RFC3339)
}

type contactList []domain.Contact

func (l contactList) Table(wide bool) *output.Table {
	t := output.NewTable("FROM", "TO", "START", "END", "RATE", "CONFIDENCE")
	if wide {
		t.Headers = append(t.Headers, "REGION", "START_MS")
	}
	for _, c := range l {
		row := []string{
			strconv.FormatUint(c.FromNode, 10),
			strconv.FormatUint(c.ToNode, 10),
			formatTime(c.FromTime),
			formatTime(c.ToTime),
			strconv.FormatUint(c.Rate, 10),
			strconv.FormatFloat(c.Confidence, 'f', 2, 64),
		}
		if wide {
			row = append(row, strconv.FormatUint(uint64(c.Region), 10), strconv.FormatUint(uint64(c.FromTime), 10))
		}
		t.AddRow(row...)
	}
	return t
}

type rangeList []domain.Range

func (l rangeList) Table(wide bool) *output.Table {
	t := output.NewTable("FROM", "TO", "START", "END", "OWLT")
	if wide {
		t.Headers = append(t.Headers, "REGION", "START_MS")
	}
	for _, r := range l {
		row := []string{
			strconv.FormatUint(r.FromNode, 10),
			strconv.FormatUint(r.ToNode, 10),
			formatTime(r.FromTime),
			formatTime(r.ToTime),
			strconv.FormatUint(uint64(r.OWLT), 10) + "s",
		}
		if wide {
			row = append(row, strconv.FormatUint(uint64(r.Region), 10), strconv.FormatUint(uint64(r.FromTime), 10))
		}
		t.AddRow(row...)
	}
	return t
}

func pairFlags(required bool) []cli.Flag {
	return []cli.Flag{
		&cli.Uint64Flag{Name: "from-node", Aliases: []string{"f"}, Usage: "transmitting node", Required: true},
		&cli.Uint64Flag{Name: "to-node", Aliases: []string{"t"}, Usage: "receiving node", Required: true},
		&cli.UintFlag{Name: "region", Usage: "region number"},
		&cli.StringFlag{Name: "from", Usage: "start time: " + timeHelp, Required: required},
	}
}

func keyRequest(c *cli.Context) handler.ContactKeyRequest {
	return handler.ContactKeyRequest{
		Region:   uint32(c.Uint("region")),
		FromNode: c.Uint64("from-node"),
		ToNode:   c.Uint64("to-node"),
		From:     c.String("from"),
	}
}

// ContactCommand returns the contact subcommand group.
func ContactCommand() *cli.Command {
	return &cli.Command{
		Name:  "contact",
		Usage: "Manage scheduled contacts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List contacts",
				Action: contactListAction,
			},
			{
				Name:  "add",
				Usage: "Add a contact",
				Flags: append(pairFlags(true),
					&cli.StringFlag{Name: "to", Usage: "end time: " + timeHelp, Required: true},
					&cli.Uint64Flag{Name: "rate", Aliases: []string{"r"}, Usage: "transmission rate in bytes per second", Required: true},
					&cli.Float64Flag{Name: "confidence", Usage: "probability the contact happens", Value: 1},
				),
				Action: contactAdd,
			},
			{
				Name:  "revise",
				Usage: "Change the rate or confidence of a contact",
				Flags: append(pairFlags(true),
					&cli.Uint64Flag{Name: "rate", Aliases: []string{"r"}, Usage: "new rate in bytes per second"},
					&cli.Float64Flag{Name: "confidence", Usage: "new confidence"},
				),
				Action: contactRevise,
			},
			{
				Name:   "remove",
				Usage:  "Remove contacts of a node pair; without --from every contact of the pair",
				Flags:  pairFlags(false),
				Action: contactRemove,
			},
		},
	}
}

func contactListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out []domain.Contact
	if err := client(c).Get(ctx, "/admin/v1/contacts", &out); err != nil {
		return err
	}
	return render(c, contactList(out))
}

func contactAdd(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	confidence := c.Float64("confidence")
	req := handler.ContactRequest{
		Region:     uint32(c.Uint("region")),
		From:       c.String("from"),
		To:         c.String("to"),
		FromNode:   c.Uint64("from-node"),
		ToNode:     c.Uint64("to-node"),
		Rate:       c.Uint64("rate"),
		Confidence: &confidence,
	}
	var out domain.Contact
	if err := client(c).Post(ctx, "/admin/v1/contacts", req, &out); err != nil {
		return err
	}
	return say(c, out, "contact %d->%d added, %s to %s", out.FromNode, out.ToNode, formatTime(out.FromTime), formatTime(out.ToTime))
}

func contactRevise(c *cli.Context) error {
	req := handler.ReviseContactRequest{ContactKeyRequest: keyRequest(c)}
	if c.IsSet("rate") {
		v := c.Uint64("rate")
		req.Rate = &v
	}
	if c.IsSet("confidence") {
		v := c.Float64("confidence")
		req.Confidence = &v
	}
	if req.Rate == nil && req.Confidence == nil {
		return fmt.Errorf("nothing to revise: give --rate or --confidence")
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	var out domain.Contact
	if err := client(c).Post(ctx, "/admin/v1/contacts/revise", req, &out); err != nil {
		return err
	}
	return say(c, out, "contact %d->%d revised: rate %d, confidence %.2f", out.FromNode, out.ToNode, out.Rate, out.Confidence)
}

func contactRemove(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out handler.RemovedResponse
	if err := client(c).Post(ctx, "/admin/v1/contacts/remove", keyRequest(c), &out); err != nil {
		return err
	}
	return say(c, out, "%d contact(s) removed", out.Removed)
}

// RangeCommand returns the range subcommand group.
func RangeCommand() *cli.Command {
	return &cli.Command{
		Name:  "range",
		Usage: "Manage one-way light times between nodes",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List ranges",
				Action: rangeListAction,
			},
			{
				Name:  "add",
				Usage: "Add a range",
				Flags: append(pairFlags(true),
					&cli.StringFlag{Name: "to", Usage: "end time: " + timeHelp, Required: true},
					&cli.UintFlag{Name: "owlt", Usage: "one-way light time in seconds", Required: true},
				),
				Action: rangeAdd,
			},
			{
				Name:   "remove",
				Usage:  "Remove ranges of a node pair; without --from every range of the pair",
				Flags:  pairFlags(false),
				Action: rangeRemove,
			},
		},
	}
}

func rangeListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out []domain.Range
	if err := client(c).Get(ctx, "/admin/v1/ranges", &out); err != nil {
		return err
	}
	return render(c, rangeList(out))
}

func rangeAdd(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	req := handler.RangeRequest{
		Region:   uint32(c.Uint("region")),
		From:     c.String("from"),
		To:       c.String("to"),
		FromNode: c.Uint64("from-node"),
		ToNode:   c.Uint64("to-node"),
		OWLT:     uint32(c.Uint("owlt")),
	}
	var out domain.Range
	if err := client(c).Post(ctx, "/admin/v1/ranges", req, &out); err != nil {
		return err
	}
	return say(c, out, "range %d->%d added, owlt %ds", out.FromNode, out.ToNode, out.OWLT)
}

func rangeRemove(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out handler.RemovedResponse
	if err := client(c).Post(ctx, "/admin/v1/ranges/remove", keyRequest(c), &out); err != nil {
		return err
	}
	return say(c, out, "%d range(s) removed", out.Removed)
}
