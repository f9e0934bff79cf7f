package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"sros-rpc/inventory"
	"sros-rpc/protocol"
	"sros-rpc/server"
	"sros-rpc/simulator"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "srosctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
router = "pe1"
timeout = "5s"
etcd_endpoints = [" 10.0.0.9:2379 ", ""]

[[routers]]
name = "pe1"
address = "10.0.0.1:830"
framing = "chunked"
`)

	cfg := defaultConfig()
	if err := loadFile(path, &cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Router != "pe1" || cfg.Timeout != 5*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if len(cfg.EtcdEndpoints) != 1 || cfg.EtcdEndpoints[0] != "10.0.0.9:2379" {
		t.Fatalf("expect trimmed endpoints, got %v", cfg.EtcdEndpoints)
	}
	if len(cfg.Routers) != 1 || cfg.Routers[0].Addr != "10.0.0.1:830" || cfg.Routers[0].Framing != "chunked" {
		t.Fatalf("unexpected routers %+v", cfg.Routers)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Framing != "eom" || cfg.Burst != 1 || cfg.LogLevel != "warn" {
		t.Fatalf("defaults overwritten: %+v", cfg)
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad timeout", `timeout = "soon"`},
		{"nameless router", "[[routers]]\naddress = \"10.0.0.1:830\""},
		{"not toml", `router = `},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			if err := loadFile(writeConfig(t, tt.body), &cfg); err == nil {
				t.Fatal("expect error")
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SROSCTL_ADDRESS", "192.0.2.1:830")
	t.Setenv("SROSCTL_TIMEOUT", "2s")
	t.Setenv("SROSCTL_ETCD_ENDPOINTS", "a:2379, b:2379")

	cfg := defaultConfig()
	cfg.Address = "from-file:830"
	if err := applyEnv(&cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Address != "192.0.2.1:830" || cfg.Timeout != 2*time.Second {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if len(cfg.EtcdEndpoints) != 2 || cfg.EtcdEndpoints[1] != "b:2379" {
		t.Fatalf("unexpected endpoints %v", cfg.EtcdEndpoints)
	}
	if cfg.Framing != "eom" {
		t.Fatalf("unset variable changed framing to %q", cfg.Framing)
	}

	t.Setenv("SROSCTL_TIMEOUT", "later")
	if err := applyEnv(&cfg); err == nil {
		t.Fatal("expect error for malformed duration")
	}
}

func TestResolveRouter(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig()
	cfg.Router = "pe1"
	cfg.Routers = []inventory.Router{{Name: "pe1", Addr: "10.0.0.1:830"}}

	r, err := resolveRouter(ctx, cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if r.Addr != "10.0.0.1:830" || r.Framing != "eom" {
		t.Fatalf("unexpected router %+v", r)
	}

	cfg.Address = "192.0.2.1:830"
	if r, _ := resolveRouter(ctx, cfg, zap.NewNop()); r.Addr != "192.0.2.1:830" {
		t.Fatalf("--address must win, got %+v", r)
	}

	cfg.Address = ""
	cfg.Router = "pe9"
	if _, err := resolveRouter(ctx, cfg, zap.NewNop()); err == nil {
		t.Fatal("expect lookup error")
	}
}

func TestRunDryRun(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--dry-run", "raw", "show", "version"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	want := `<global-operations xmlns="urn:nokia.com:sros:ns:yang:sr:oper-global">` +
		`<md-cli-raw-command><md-cli-input-line>show version</md-cli-input-line></md-cli-raw-command>` +
		`</global-operations>` + "\n"
	if stdout.String() != want {
		t.Fatalf("expect\n%s\ngot\n%s", want, stdout.String())
	}

	stdout.Reset()
	code = run([]string{"--dry-run", "compare", "--path", "/configure/router"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), `<subtree-path><configure xmlns="urn:nokia.com:sros:ns:yang:sr:conf"><router></router></configure></subtree-path>`) {
		t.Fatalf("missing subtree path in %s", stdout.String())
	}
}

func TestRunExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		code int
	}{
		{"no command", []string{}, 2},
		{"unknown command", []string{"reboot"}, 2},
		{"raw without words", []string{"--dry-run", "raw"}, 2},
		{"bad format", []string{"--dry-run", "compare", "--format", "json"}, 2},
		{"bad src type", []string{"--dry-run", "compare", "--src-type", "file"}, 2},
		{"bad path", []string{"--dry-run", "compare", "--path", "/state"}, 2},
		{"unknown flag", []string{"--bogus"}, 2},
		{"no router", []string{"raw", "info"}, 2},
		{"unreachable", []string{"--address", "127.0.0.1:1", "raw", "info"}, 1},
		{"help", []string{"--help"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			if code := run(tt.args, &stdout, &stderr); code != tt.code {
				t.Fatalf("expect exit %d, got %d: %s", tt.code, code, stderr.String())
			}
		})
	}
}

func TestRunAgainstSimulator(t *testing.T) {
	router := simulator.New()
	router.SetOutput("show version", "TiMOS-B-23.10.R1\n")

	svr := server.NewServer(protocol.FramingChunked)
	svr.Handle("global-operations", router.Handle)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })

	var stdout, stderr bytes.Buffer
	code := run([]string{
		"--address", l.Addr().String(), "--framing", "chunked", "--timeout", "2s",
		"raw", "show", "version",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if stdout.String() != "TiMOS-B-23.10.R1\n" {
		t.Fatalf("unexpected output %q", stdout.String())
	}

	stdout.Reset()
	code = run([]string{
		"--address", l.Addr().String(), "--framing", "chunked",
		"compare", "--format", "md-cli", "--src", "running",
	}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr.String())
	}
	if stdout.String() != "compare running url:candidate in configure" {
		t.Fatalf("unexpected output %q", stdout.String())
	}
}
