package command

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/dtnmesh-go/internal/cli/config"
	"github.com/yndnr/dtnmesh-go/internal/core/service"
	"github.com/yndnr/dtnmesh-go/internal/server/httpserver"
	"github.com/yndnr/dtnmesh-go/internal/storage"
)

const testToken = "dtna_cli"

type testNode struct {
	url    string
	engine *service.Engine
	config string
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scfg := storage.DefaultConfig("")
	scfg.InMemory = true
	store, err := storage.Open(scfg, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e, err := service.NewEngine(store, service.DefaultConfig(1), service.WithLogger(logger))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	rcfg := httpserver.DefaultRouterConfig()
	rcfg.Engine = e
	rcfg.Logger = logger
	rcfg.AdminToken = testToken
	rcfg.RateLimit = 0
	rcfg.EnableAudit = false
	srv := httptest.NewServer(httpserver.NewRouter(rcfg))
	t.Cleanup(srv.Close)

	return &testNode{
		url:    srv.URL,
		engine: e,
		config: filepath.Join(t.TempDir(), "cli.yaml"),
	}
}

// run executes the CLI against the node and returns what it wrote.
func (n *testNode) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	full := append([]string{"dtnmesh-cli", "--config", n.config, "--server", n.url, "--token", testToken}, args...)
	err := app.Run(full)
	return out.String(), err
}

func (n *testNode) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := n.run(t, args...)
	if err != nil {
		t.Fatalf("%v: %v", args, err)
	}
	return out
}

func TestRoutingCommands(t *testing.T) {
	n := newTestNode(t)

	out := n.mustRun(t, "duct", "add", "--neighbor", "2", "--address", "127.0.0.1:4556")
	if !strings.Contains(out, "duct udp/127.0.0.1:4556 added") {
		t.Errorf("duct add output = %q", out)
	}
	n.mustRun(t, "plan", "add", "--node", "2", "--duct", "udp/127.0.0.1:4556", "--continuous")

	out = n.mustRun(t, "-o", "json", "plan", "list")
	var plans []service.PlanInfo
	if err := json.Unmarshal([]byte(out), &plans); err != nil {
		t.Fatalf("decode plan list %q: %v", out, err)
	}
	if len(plans) != 1 || plans[0].Node != 2 || !plans[0].Continuous {
		t.Errorf("plans = %+v", plans)
	}

	out = n.mustRun(t, "duct", "block", "udp/127.0.0.1:4556")
	if !strings.Contains(out, "blocked") {
		t.Errorf("block output = %q", out)
	}
	ducts, err := n.engine.Plans.ListDucts(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(ducts) != 1 || !ducts[0].Blocked {
		t.Errorf("ducts after block = %+v", ducts)
	}
	n.mustRun(t, "duct", "unblock", "udp/127.0.0.1:4556")

	out = n.mustRun(t, "duct", "list")
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "udp/127.0.0.1:4556") {
		t.Errorf("duct list = %q", out)
	}

	out = n.mustRun(t, "limbo", "release")
	if !strings.Contains(out, "0 bundle(s) released") {
		t.Errorf("limbo output = %q", out)
	}

	if _, err := n.run(t, "plan", "add", "--node", "2"); err == nil {
		t.Error("adding an existing plan without --replace should fail")
	}
	n.mustRun(t, "plan", "remove", "2")
	n.mustRun(t, "duct", "remove", "udp/127.0.0.1:4556")

	if _, err := n.run(t, "plan", "remove", "zero"); err == nil {
		t.Error("bad node argument should fail")
	}
}

func TestKinCommands(t *testing.T) {
	n := newTestNode(t)

	n.mustRun(t, "kin", "add", "5")
	out := n.mustRun(t, "kin", "list")
	if !strings.Contains(out, "5") {
		t.Errorf("kin list = %q", out)
	}
	n.mustRun(t, "kin", "remove", "5")
	out = n.mustRun(t, "-o", "json", "kin", "list")
	if strings.Contains(out, "5") {
		t.Errorf("kin after remove = %q", out)
	}
}

func TestContactCommands(t *testing.T) {
	n := newTestNode(t)

	out := n.mustRun(t, "contact", "add", "-f", "1", "-t", "2", "--from", "+1m", "--to", "+1h", "--rate", "1000")
	if !strings.Contains(out, "contact 1->2 added") {
		t.Errorf("contact add output = %q", out)
	}
	out = n.mustRun(t, "contact", "list")
	if !strings.Contains(out, "CONFIDENCE") {
		t.Errorf("contact list = %q", out)
	}
	n.mustRun(t, "range", "add", "-f", "1", "-t", "2", "--from", "+1m", "--to", "+1h", "--owlt", "3")
	out = n.mustRun(t, "range", "list")
	if !strings.Contains(out, "3s") {
		t.Errorf("range list = %q", out)
	}

	if _, err := n.run(t, "contact", "revise", "-f", "1", "-t", "2", "--from", "+1m"); err == nil {
		t.Error("revise without changes should fail")
	}
}

func TestBundleSend(t *testing.T) {
	n := newTestNode(t)

	out := n.mustRun(t, "-o", "json", "bundle", "send", "--payload", "hello", "--priority", "expedited", "ipn:2.1")
	var resp struct {
		ID     string `json:"id"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if resp.ID == "" || resp.Source != "dtn:none" {
		t.Errorf("send response = %+v", resp)
	}

	payload := filepath.Join(t.TempDir(), "payload.bin")
	if err := os.WriteFile(payload, []byte{1, 2, 3}, 0o600); err != nil {
		t.Fatal(err)
	}
	n.mustRun(t, "bundle", "send", "--file", payload, "ipn:2.1")

	tests := []struct {
		name string
		args []string
	}{
		{"no destination", []string{"bundle", "send"}},
		{"bad destination", []string{"bundle", "send", "nowhere"}},
		{"both payloads", []string{"bundle", "send", "--payload", "x", "--file", payload, "ipn:2.1"}},
		{"bad priority", []string{"bundle", "send", "--priority", "vip", "ipn:2.1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := n.run(t, tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestStatusAndHealth(t *testing.T) {
	n := newTestNode(t)

	out := n.mustRun(t, "status")
	if !strings.Contains(out, "node") || !strings.Contains(out, "uptime") {
		t.Errorf("status = %q", out)
	}
	out = n.mustRun(t, "health")
	if !strings.Contains(out, "ready") {
		t.Errorf("health = %q", out)
	}
}

func TestUnauthorized(t *testing.T) {
	n := newTestNode(t)
	var out bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run([]string{"dtnmesh-cli", "--config", n.config, "--server", n.url, "status"})
	if err == nil {
		t.Fatal("status without a token should fail")
	}
}

func TestProfileCommands(t *testing.T) {
	n := newTestNode(t)

	n.mustRun(t, "profile", "add", "--server", "http://10.0.0.2:4550", "--token", "x", "--use", "relay")
	cfg, err := config.Load(n.config)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.CurrentProfile != "relay" || cfg.Profiles["relay"].Server != "http://10.0.0.2:4550" {
		t.Errorf("saved config = %+v", cfg)
	}

	out := n.mustRun(t, "profile", "list")
	if !strings.Contains(out, "relay") || !strings.Contains(out, "local") {
		t.Errorf("profile list = %q", out)
	}

	n.mustRun(t, "profile", "use", "local")
	if _, err := n.run(t, "profile", "use", "missing"); err == nil {
		t.Error("switching to an unknown profile should fail")
	}
	n.mustRun(t, "profile", "remove", "relay")
	if cfg, _ = config.Load(n.config); len(cfg.Profiles) != 1 {
		t.Errorf("profiles after remove = %+v", cfg.Profiles)
	}

	// --server and --token win over the profile, so the node stays reachable.
	n.mustRun(t, "--profile", "local", "status")
	if _, err := n.run(t, "--profile", "nope", "status"); err == nil {
		t.Error("unknown --profile should fail")
	}
}

func TestOutputFormatValidation(t *testing.T) {
	n := newTestNode(t)
	if _, err := n.run(t, "-o", "xml", "status"); err == nil {
		t.Error("unknown output format should fail")
	}
}

func TestShell(t *testing.T) {
	n := newTestNode(t)
	var out bytes.Buffer
	app := App()
	app.Reader = strings.NewReader("kin add 7\nduct ?\nkin list\nplan remove 99\nshell\nexit\n")
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run([]string{"dtnmesh-cli", "--config", n.config, "--server", n.url, "--token", testToken, "shell", "--no-history"})
	if err != nil {
		t.Fatalf("shell: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"connected to " + n.url,
		"node 7 added to kin",
		"  duct block",
		"KIN",
		"Error: ",
		"already in the shell",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("shell output lacks %q:\n%s", want, got)
		}
	}
	kin, err := n.engine.Multicast.Kin(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(kin) != 1 || kin[0] != 7 {
		t.Errorf("kin = %v", kin)
	}
}
