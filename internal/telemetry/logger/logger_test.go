package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("bad log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"default config", DefaultConfig(), false},
		{"empty level and format", Config{}, false},
		{"text", Config{Level: "debug", Format: "text"}, false},
		{"console", Config{Level: "WARN", Format: "console"}, false},
		{"unknown level", Config{Level: "verbose"}, true},
		{"unknown format", Config{Format: "xml"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := New(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New() succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if l == nil {
				t.Fatal("New() returned nil logger")
			}
		})
	}
}

func TestLogger_NodeAttribute(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Output: &buf, Node: 12})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	l.Info("bundle stored")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0]["node"] != float64(12) {
		t.Errorf("node = %v, want 12", entries[0]["node"])
	}
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "warn", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Debug("dropped")
	l.Info("dropped")
	l.Warn("duct blocked")
	l.Error("store unavailable")

	entries := decodeLines(t, &buf)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2: %s", len(entries), buf.String())
	}
	if entries[0]["level"] != "WARN" || entries[1]["level"] != "ERROR" {
		t.Errorf("unexpected levels: %v %v", entries[0]["level"], entries[1]["level"])
	}
}

func TestLogger_SetLevelSharedByDerived(t *testing.T) {
	var buf bytes.Buffer
	root, err := New(Config{Level: "error", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	child := root.With("duct", "udp/two")
	comp := root.Component("clock")

	child.Info("filtered")
	comp.Info("filtered")
	if buf.Len() != 0 {
		t.Fatalf("info should be filtered at error level: %s", buf.String())
	}

	if err := child.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if got := root.Level(); got != "debug" {
		t.Errorf("root.Level() = %q, want debug", got)
	}
	comp.Debug("tick")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 || entries[0]["component"] != "clock" {
		t.Errorf("component logger did not follow level change: %v", entries)
	}

	if err := root.SetLevel("loud"); err == nil {
		t.Error("SetLevel(loud) should fail")
	}
	if got := root.Level(); got != "debug" {
		t.Errorf("failed SetLevel changed level to %q", got)
	}
}

func TestLogger_IndependentLevels(t *testing.T) {
	var a, b bytes.Buffer
	la, _ := New(Config{Level: "error", Output: &a})
	lb, _ := New(Config{Level: "error", Output: &b})

	if err := la.SetLevel("info"); err != nil {
		t.Fatal(err)
	}
	la.Info("x")
	lb.Info("x")
	if a.Len() == 0 {
		t.Error("la should log at info")
	}
	if b.Len() != 0 {
		t.Error("lb level should be unaffected by la.SetLevel")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"debug", "DEBUG", false},
		{"DEBUG", "DEBUG", false},
		{"", "INFO", false},
		{"info", "INFO", false},
		{"warning", "WARN", false},
		{"error", "ERROR", false},
		{"trace", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseLevel(%q) succeeded", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseLevel(%q) error = %v", tt.input, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParseLevel(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestDefault(t *testing.T) {
	prev := Default()
	t.Cleanup(func() { SetDefault(prev) })

	var buf bytes.Buffer
	l, err := New(Config{Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	SetDefault(l)
	SetDefault(nil)

	Default().Info("via default")
	if !strings.Contains(buf.String(), "via default") {
		t.Errorf("Default() did not return the installed logger: %q", buf.String())
	}
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	sl := l.With("region", 3).Component("forwarder")
	sl.Info("bundle routed", "admin_token", "dtna_0123456789")

	entries := decodeLines(t, &buf)
	if len(entries) != 1 {
		t.Fatalf("got %d entries", len(entries))
	}
	entry := entries[0]
	if entry["region"] != float64(3) || entry["component"] != "forwarder" {
		t.Errorf("attributes not carried: %v", entry)
	}
	if entry["admin_token"] != "dtna_012...789" {
		t.Errorf("slog output bypassed redaction: %v", entry["admin_token"])
	}

	l.WithContext(context.Background()).Info("again")
	if !strings.Contains(buf.String(), "again") {
		t.Error("Expected log output")
	}
	if l.Slog() == nil {
		t.Error("Slog() returned nil")
	}
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "text", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Component("clock").Info("timeline tick")

	output := buf.String()
	if !strings.Contains(output, "timeline tick") {
		t.Errorf("Text output should contain message, got: %s", output)
	}
	if !strings.Contains(output, "component=clock") {
		t.Errorf("Text output should contain component=clock, got: %s", output)
	}
}
