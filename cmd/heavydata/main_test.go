package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(&stdout, &stderr)
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("%v failed: %v\n%s", args, err, stderr.String())
	}
	return stdout.String()
}

func atomCount(t *testing.T, out, verb string) int {
	t.Helper()
	for _, line := range strings.Split(out, "\n") {
		var n int
		if _, err := fmt.Sscanf(line, "%d atoms "+verb, &n); err == nil {
			return n
		}
	}
	t.Fatalf("no %q line in output:\n%s", verb, out)
	return 0
}

func demo(t *testing.T, path string, extra ...string) string {
	t.Helper()
	args := append([]string{"demo", "--path", path, "--temp-dir", t.TempDir(),
		"--grains", "2", "--min-molecules", "1", "--max-molecules", "3",
		"--min-atoms", "1", "--max-atoms", "4", "--seed", "7"}, extra...)
	return run(t, args...)
}

func TestDemo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grains.bolt")
	out := demo(t, path)

	if !strings.Contains(out, "There are 2 grains.") {
		t.Errorf("missing grain count in output:\n%s", out)
	}
	created, read := atomCount(t, out, "created"), atomCount(t, out, "read")
	if created == 0 || created != read {
		t.Errorf("created %d atoms, read %d", created, read)
	}

	out = run(t, "inspect", path)
	for _, want := range []string{"root:    grain", "grain        2 records", fmt.Sprintf("atom         %d records", created)} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect output lacks %q:\n%s", want, out)
		}
	}
}

func TestInspectTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grains.bolt")
	demo(t, path)

	out := run(t, "inspect", "--tree", path)
	for _, want := range []string{"tree:\n  /\n", "    grains [2]\n", "    grain/\n", "      0/\n", "        molecules [", "atoms ["} {
		if !strings.Contains(out, want) {
			t.Errorf("inspect --tree output lacks %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "      0/\n") > strings.Index(out, "      1/\n") {
		t.Errorf("row groups out of order:\n%s", out)
	}
	if out := run(t, "inspect", path); strings.Contains(out, "tree:") {
		t.Errorf("inspect without --tree printed the tree:\n%s", out)
	}
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	config := filepath.Join(dir, "heavydata.yaml")
	if err := os.WriteFile(config, []byte("group: sim/run1\nchunk-rows: 2\nlog-level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "grains.bolt")
	demo(t, path, "--config", config)

	if out := run(t, "inspect", "--group", "sim/run1", path); !strings.Contains(out, "grain        2 records") {
		t.Errorf("inspect output:\n%s", out)
	}

	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"inspect", path})
	if err := cmd.Execute(); err == nil {
		t.Error("inspect of the root group succeeded, want error")
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("HEAVYDATA_GROUP", "envgroup")
	path := filepath.Join(t.TempDir(), "grains.bolt")
	demo(t, path)
	if out := run(t, "inspect", "--group", "envgroup", path); !strings.Contains(out, "group:   envgroup") {
		t.Errorf("inspect output:\n%s", out)
	}
}

func TestInvalidConfig(t *testing.T) {
	config := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(config, []byte("no-such-option: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"docs", "--config", config})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid option") {
		t.Errorf("expected invalid option error, got %v", err)
	}

	cmd = NewRootCommand(&stdout, &stderr)
	cmd.SetArgs([]string{"docs", "--log-level", "loud"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected invalid log level error")
	}
}

func TestDocs(t *testing.T) {
	out := run(t, "docs")
	for _, name := range []string{"**schema atom**", "**schema molecule**", "**schema grain**"} {
		if !strings.Contains(out, name) {
			t.Errorf("docs output lacks %q", name)
		}
	}

	path := filepath.Join(t.TempDir(), "grains.bolt")
	demo(t, path)
	if stored := run(t, "docs", path); stored != out {
		t.Errorf("stored docs differ from sample docs:\n%s", stored)
	}
}

func TestCloneAndRepack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "grains.bolt")
	demo(t, path)

	dst := filepath.Join(dir, "copy.bolt")
	if out := strings.TrimSpace(run(t, "clone", path, dst)); out != dst {
		t.Errorf("clone printed %q, want %q", out, dst)
	}
	if out := run(t, "repack", dst); !strings.Contains(out, "bytes") {
		t.Errorf("repack output: %s", out)
	}
	if a, b := run(t, "inspect", path), run(t, "inspect", dst); strings.SplitN(a, "\n", 2)[1] != strings.SplitN(b, "\n", 2)[1] {
		t.Errorf("repacked copy differs:\n%s\n%s", a, b)
	}
}
