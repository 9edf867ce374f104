package deps_test

import (
	"os"
	"path/filepath"
	"testing"

	"lipsync/internal/deps"
	"lipsync/internal/testsupport"
)

func TestCheckBinaries(t *testing.T) {
	binDir := t.TempDir()
	present := filepath.Join(binDir, "present")
	if err := os.WriteFile(present, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	reqs := []deps.Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "Unset", Command: "  ", Optional: true},
	}

	results := deps.CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	if !results[0].Available || results[0].Path != present || results[0].Detail != "" {
		t.Fatalf("expected first requirement to be available, got %#v", results[0])
	}
	if results[1].Available || results[1].Detail == "" {
		t.Fatalf("expected missing binary to be unavailable with detail, got %#v", results[1])
	}
	if results[2].Detail != "command not configured" {
		t.Fatalf("unexpected detail for unset command: %q", results[2].Detail)
	}

	missing := deps.Missing(results)
	if len(missing) != 1 || missing[0].Name != "Missing" {
		t.Fatalf("expected only the required missing binary, got %#v", missing)
	}
}

func TestRequirementsFollowConfig(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFakePDFToText("text"))
	statuses := deps.CheckBinaries(deps.Requirements(cfg))
	if len(statuses) != 1 || statuses[0].Name != "pdftotext" {
		t.Fatalf("unexpected requirements: %#v", statuses)
	}
	if !statuses[0].Available {
		t.Fatalf("expected stubbed pdftotext to resolve: %s", statuses[0].Detail)
	}

	cfg.Stages.Script.PDFToTextPath = "pdftotext-missing-binary"
	if missing := deps.Missing(deps.CheckBinaries(deps.Requirements(cfg))); len(missing) != 1 {
		t.Fatalf("expected missing pdftotext, got %#v", missing)
	}
}
