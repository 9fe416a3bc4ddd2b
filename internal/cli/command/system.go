package command

import (
	"sort"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dtnmesh-go/internal/cli/output"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
)

type nodeStatus service.NodeStatus

func (s nodeStatus) Table(wide bool) *output.Table {
	t := output.NewTable("FIELD", "VALUE")
	t.AddRow("node", strconv.FormatUint(s.Node, 10))
	t.AddRow("region", strconv.FormatUint(uint64(s.Region), 10))
	t.AddRow("uptime", s.Uptime)
	t.AddRow("now", formatTime(s.Now))
	t.AddRow("contacts", strconv.Itoa(s.Contacts))
	t.AddRow("ranges", strconv.Itoa(s.Ranges))
	t.AddRow("plans", strconv.Itoa(s.Plans))
	t.AddRow("ducts", strconv.Itoa(s.Ducts))
	kin := make([]string, len(s.Kin))
	for i, n := range s.Kin {
		kin[i] = strconv.FormatUint(n, 10)
	}
	t.AddRow("kin", strings.Join(kin, ","))
	t.AddRow("payload_bytes", strconv.FormatUint(s.PayloadBytes, 10))

	names := make([]string, 0, len(s.Queues))
	for name := range s.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !wide && s.Queues[name] == 0 {
			continue
		}
		t.AddRow("queue."+name, strconv.Itoa(s.Queues[name]))
	}
	if wide {
		t.AddRow("endpoints", strings.Join(s.OpenEndpoints, ","))
	}
	return t
}

// StatusCommand returns the status command.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show node status and queue depths",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			var out service.NodeStatus
			if err := client(c).Get(ctx, "/admin/v1/status", &out); err != nil {
				return err
			}
			return render(c, nodeStatus(out))
		},
	}
}

// HealthCommand returns the health command.
func HealthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check that the node is up and its store answers",
		Action: func(c *cli.Context) error {
			ctx, cancel := requestContext(c)
			defer cancel()
			var out map[string]any
			if err := client(c).Get(ctx, "/ready", &out); err != nil {
				return err
			}
			return say(c, out, "%s: %v", settingsOf(c).server, out["status"])
		},
	}
}
