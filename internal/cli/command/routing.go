package command

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/output"
	"github.com/yndnr/dtnmesh-go/internal/core/domain"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver/handler"
)

type planList []service.PlanInfo

func (l planList) Table(wide bool) *output.Table {
	t := output.NewTable("NODE", "DUCTS", "RATE", "CONTINUOUS", "OPEN")
	if wide {
		t.Headers = append(t.Headers, "QUEUED")
	}
	for _, p := range l {
		row := []string{
			strconv.FormatUint(p.Node, 10),
			strings.Join(p.Ducts, ","),
			strconv.FormatUint(p.Rate, 10),
			strconv.FormatBool(p.Continuous),
			strconv.FormatBool(p.Open),
		}
		if wide {
			q := make([]string, len(p.Queued))
			for i, n := range p.Queued {
				q[i] = strconv.Itoa(n)
			}
			row = append(row, strings.Join(q, "/"))
		}
		t.AddRow(row...)
	}
	return t
}

type ductList []domain.Duct

func (l ductList) Table(wide bool) *output.Table {
	t := output.NewTable("NAME", "PROTOCOL", "NEIGHBOR", "BLOCKED")
	if wide {
		t.Headers = append(t.Headers, "ADDRESS", "RATE", "OWNER")
	}
	for _, d := range l {
		row := []string{d.Name, d.Protocol, strconv.FormatUint(d.Neighbor, 10), strconv.FormatBool(d.Blocked)}
		if wide {
			row = append(row, d.Address, strconv.FormatUint(d.Rate, 10), d.Owner)
		}
		t.AddRow(row...)
	}
	return t
}

type kinList handler.KinResponse

func (k kinList) Table(bool) *output.Table {
	t := output.NewTable("KIN")
	for _, n := range k.Kin {
		t.AddRow(strconv.FormatUint(n, 10))
	}
	return t
}

// nodeArg parses the single NODE argument.
func nodeArg(c *cli.Context) (uint64, error) {
	if c.NArg() != 1 {
		return 0, fmt.Errorf("exactly one NODE argument required")
	}
	n, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid node number %q", c.Args().First())
	}
	return n, nil
}

// ductPath returns the API path of a duct; names contain slashes.
func ductPath(c *cli.Context, suffix string) (string, error) {
	name := c.Args().First()
	if c.NArg() != 1 || name == "" {
		return "", fmt.Errorf("exactly one DUCT argument required")
	}
	return "/admin/v1/ducts/" + url.PathEscape(name) + suffix, nil
}

// PlanCommand returns the plan subcommand group.
func PlanCommand() *cli.Command {
	return &cli.Command{
		Name:  "plan",
		Usage: "Manage egress plans",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List plans with their queue depths",
				Action: planListAction,
			},
			{
				Name:  "add",
				Usage: "Add or replace the plan for a neighbor",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "node", Aliases: []string{"n"}, Usage: "neighbor node", Required: true},
					&cli.StringSliceFlag{Name: "duct", Aliases: []string{"d"}, Usage: "duct name, in preference order (repeatable)"},
					&cli.Uint64Flag{Name: "rate", Aliases: []string{"r"}, Usage: "nominal rate in bytes per second"},
					&cli.BoolFlag{Name: "continuous", Usage: "the neighbor is always reachable"},
					&cli.BoolFlag{Name: "replace", Usage: "replace an existing plan"},
				},
				Action: planAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove the plan for a neighbor",
				ArgsUsage: "NODE",
				Action:    planRemove,
			},
		},
	}
}

func planListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out []service.PlanInfo
	if err := client(c).Get(ctx, "/admin/v1/plans", &out); err != nil {
		return err
	}
	return render(c, planList(out))
}

func planAdd(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	req := handler.PlanRequest{
		Plan: domain.Plan{
			Node:       c.Uint64("node"),
			Rate:       c.Uint64("rate"),
			Ducts:      c.StringSlice("duct"),
			Continuous: c.Bool("continuous"),
		},
		Replace: c.Bool("replace"),
	}
	var out domain.Plan
	if err := client(c).Post(ctx, "/admin/v1/plans", req, &out); err != nil {
		return err
	}
	verb := "added"
	if req.Replace {
		verb = "updated"
	}
	return say(c, out, "plan for node %d %s", out.Node, verb)
}

func planRemove(c *cli.Context) error {
	node, err := nodeArg(c)
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).Delete(ctx, "/admin/v1/plans/"+strconv.FormatUint(node, 10), nil); err != nil {
		return err
	}
	return say(c, map[string]uint64{"node": node}, "plan for node %d removed", node)
}

// DuctCommand returns the duct subcommand group.
func DuctCommand() *cli.Command {
	return &cli.Command{
		Name:  "duct",
		Usage: "Manage outbound ducts",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List ducts",
				Action: ductListAction,
			},
			{
				Name:  "add",
				Usage: "Add a duct",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Usage: "duct name, conventionally <protocol>/<address>"},
					&cli.StringFlag{Name: "protocol", Value: "udp", Usage: "convergence-layer protocol"},
					&cli.Uint64Flag{Name: "neighbor", Aliases: []string{"n"}, Usage: "node reached over the duct", Required: true},
					&cli.StringFlag{Name: "address", Aliases: []string{"a"}, Usage: "destination address", Required: true},
					&cli.Uint64Flag{Name: "rate", Aliases: []string{"r"}, Usage: "pacing in bytes per second, 0 for none"},
					&cli.BoolFlag{Name: "blocked", Usage: "create the duct blocked"},
				},
				Action: ductAdd,
			},
			{
				Name:      "remove",
				Usage:     "Remove a duct; its bundles are re-forwarded",
				ArgsUsage: "DUCT",
				Action:    ductRemove,
			},
			{
				Name:      "block",
				Usage:     "Stop a duct; its bundles wait in limbo",
				ArgsUsage: "DUCT",
				Action:    ductBlock(true),
			},
			{
				Name:      "unblock",
				Usage:     "Resume a duct and release limbo",
				ArgsUsage: "DUCT",
				Action:    ductBlock(false),
			},
		},
	}
}

func ductListAction(c *cli.Context) error {
	ctx, cancel := requestContext(c)
	defer cancel()
	var out []domain.Duct
	if err := client(c).Get(ctx, "/admin/v1/ducts", &out); err != nil {
		return err
	}
	return render(c, ductList(out))
}

func ductAdd(c *cli.Context) error {
	req := handler.DuctRequest{
		Name:     c.String("name"),
		Protocol: c.String("protocol"),
		Neighbor: c.Uint64("neighbor"),
		Address:  c.String("address"),
		Rate:     c.Uint64("rate"),
		Blocked:  c.Bool("blocked"),
	}
	if req.Name == "" {
		req.Name = req.Protocol + "/" + req.Address
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	var out domain.Duct
	if err := client(c).Post(ctx, "/admin/v1/ducts", req, &out); err != nil {
		return err
	}
	return say(c, out, "duct %s added", out.Name)
}

func ductRemove(c *cli.Context) error {
	path, err := ductPath(c, "")
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(c)
	defer cancel()
	if err := client(c).Delete(ctx, path, nil); err != nil {
		return err
	}
	return say(c, map[string]string{"name": c.Args().First()}, "duct %s removed", c.Args().First())
}

func ductBlock(block bool) cli.ActionFunc {
	suffix, verb := "/unblock", "unblocked"
	if block {
		suffix, verb = "/block", "blocked"
	}
	return func(c *cli.Context) error {
		path, err := ductPath(c, suffix)
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(c)
		defer cancel()
		var out map[string]any
		if err := client(c).Post(ctx, path, nil, &out); err != nil {
			return err
		}
		return say(c, out, "duct %s %s", c.Args().First(), verb)
	}
}

// LimboCommand returns the limbo subcommand group.
func LimboCommand() *cli.Command {
	return &cli.Command{
		Name:  "limbo",
		Usage: "Bundles waiting for a usable duct",
		Subcommands: []*cli.Command{
			{
				Name:  "release",
				Usage: "Re-forward every bundle in limbo",
				Action: func(c *cli.Context) error {
					ctx, cancel := requestContext(c)
					defer cancel()
					var out handler.ReleasedResponse
					if err := client(c).Post(ctx, "/admin/v1/limbo/release", nil, &out); err != nil {
						return err
					}
					return say(c, out, "%d bundle(s) released from limbo", out.Released)
				},
			},
		},
	}
}

// KinCommand returns the kin subcommand group.
func KinCommand() *cli.Command {
	return &cli.Command{
		Name:  "kin",
		Usage: "Manage multicast kin",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List kin nodes",
				Action: func(c *cli.Context) error {
					ctx, cancel := requestContext(c)
					defer cancel()
					var out handler.KinResponse
					if err := client(c).Get(ctx, "/admin/v1/kin", &out); err != nil {
						return err
					}
					return render(c, kinList(out))
				},
			},
			{
				Name:      "add",
				Usage:     "Add a kin node",
				ArgsUsage: "NODE",
				Action: func(c *cli.Context) error {
					node, err := nodeArg(c)
					if err != nil {
						return err
					}
					ctx, cancel := requestContext(c)
					defer cancel()
					if err := client(c).Post(ctx, "/admin/v1/kin", handler.KinRequest{Node: node}, nil); err != nil {
						return err
					}
					return say(c, handler.KinRequest{Node: node}, "node %d added to kin", node)
				},
			},
			{
				Name:      "remove",
				Usage:     "Remove a kin node",
				ArgsUsage: "NODE",
				Action: func(c *cli.Context) error {
					node, err := nodeArg(c)
					if err != nil {
						return err
					}
					ctx, cancel := requestContext(c)
					defer cancel()
					if err := client(c).Delete(ctx, "/admin/v1/kin/"+strconv.FormatUint(node, 10), nil); err != nil {
						return err
					}
					return say(c, handler.KinRequest{Node: node}, "node %d removed from kin", node)
				},
			},
		},
	}
}
