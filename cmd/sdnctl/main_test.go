package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/glennswest/sdnctl/pkg/network/routing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	mainCmd.SetOut(&out)
	mainCmd.SetErr(&out)
	mainCmd.SetArgs(args)
	_, err := mainCmd.ExecuteC()
	return out.String(), err
}

func TestLabThenPaths(t *testing.T) {
	inv := filepath.Join(t.TempDir(), "triangle.yaml")
	if _, err := execute(t, "lab", "triangle", "-o", inv); err != nil {
		t.Fatalf("lab: %v", err)
	}

	out, err := execute(t, "paths", inv)
	if err != nil {
		t.Fatalf("paths: %v", err)
	}
	var entries []routing.Entry
	if err := yaml.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decoding paths output: %v\n%s", err, out)
	}
	if len(entries) != 6 {
		t.Fatalf("got %d entries, want 6", len(entries))
	}
	for _, e := range entries {
		if e.Distance != 1 || e.NextHop != e.Dst {
			t.Errorf("triangle entry %+v should be a direct hop", e)
		}
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	inv := filepath.Join(dir, "topo.yaml")
	if _, err := execute(t, "lab", "linear,2", "-o", inv); err != nil {
		t.Fatal(err)
	}
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("driver: memory\ninventory: "+inv+"\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "validate", "-c", cfg)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "2 switches, 1 links, 2 hosts") {
		t.Errorf("unexpected output: %s", out)
	}

	if err := os.WriteFile(cfg, []byte("driver: carrier-pigeon\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "validate", "-c", cfg); err == nil {
		t.Error("expected unknown driver to fail validation")
	}
}
