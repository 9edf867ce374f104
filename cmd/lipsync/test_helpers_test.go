package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"lipsync/internal/config"
	"lipsync/internal/daemon"
	"lipsync/internal/logging"
	"lipsync/internal/stage/stagetest"
	"lipsync/internal/testsupport"
	"lipsync/internal/workflow"
)

const testToken = "cli-token"

type cliTestEnv struct {
	cfg        *config.Config
	daemon     *daemon.Daemon
	server     *httptest.Server
	configPath string
	baseDir    string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	cfg.Server.APIToken = testToken
	base := testsupport.BaseDir(cfg)

	configPath := filepath.Join(base, "config.toml")
	writeTestConfig(t, configPath, cfg)

	store := testsupport.MustOpenStore(t, cfg)
	artifacts := testsupport.MustOpenArtifacts(t, cfg)
	registry, _ := stagetest.Registry()
	mgr := workflow.NewManager(cfg, store, artifacts, registry, logging.NewNop())

	d, err := daemon.New(cfg, store, mgr, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	server := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		server.Close()
		d.Stop()
	})

	prev := waitPollInterval
	waitPollInterval = 10 * time.Millisecond
	t.Cleanup(func() { waitPollInterval = prev })

	return &cliTestEnv{
		cfg:        cfg,
		daemon:     d,
		server:     server,
		configPath: configPath,
		baseDir:    base,
	}
}

func (e *cliTestEnv) start(t *testing.T) {
	t.Helper()
	if err := e.daemon.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start: %v", err)
	}
}

func (e *cliTestEnv) document(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(e.baseDir, name)
	if err := os.WriteFile(path, testsupport.PDF(text), 0o644); err != nil {
		t.Fatalf("write document: %v", err)
	}
	return path
}

func runCLI(t *testing.T, env *cliTestEnv, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--config", env.configPath, "--server", env.server.URL, "--token", testToken}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

// jobIDFrom extracts the id from "Job <id> queued" output.
func jobIDFrom(t *testing.T, output string) string {
	t.Helper()
	fields := strings.Fields(output)
	if len(fields) < 2 || fields[0] != "Job" {
		t.Fatalf("unexpected submit output %q", output)
	}
	return strings.TrimSuffix(fields[1], ";")
}
