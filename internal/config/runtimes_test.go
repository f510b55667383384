package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sandloft/sandloft/internal/config"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtimes.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing catalog: %v", err)
	}
	return path
}

func TestBuiltinRuntimes(t *testing.T) {
	runtimes := config.BuiltinRuntimes()

	for _, name := range []string{"node24", "python312", "go124"} {
		rt, ok := runtimes[name]
		if !ok {
			t.Errorf("missing builtin runtime %q", name)
			continue
		}
		if rt.Image == "" {
			t.Errorf("runtime %q has no image", name)
		}
		if len(rt.Command) == 0 {
			t.Errorf("runtime %q has no command", name)
		}
	}
}

func TestLoadRuntimes_EmptyPathUsesBuiltins(t *testing.T) {
	runtimes, err := config.LoadRuntimes("")
	if err != nil {
		t.Fatalf("LoadRuntimes: %v", err)
	}
	if _, ok := runtimes["node24"]; !ok {
		t.Error("builtins not returned for empty path")
	}
}

func TestLoadRuntimes_MergesOverBuiltins(t *testing.T) {
	path := writeCatalog(t, `
runtimes:
  rust189:
    image: sandloft/runtime-rust:1.89
    command: [sandloft-agent]
  node24:
    image: custom/node:24
    command: [custom-agent, --verbose]
`)

	runtimes, err := config.LoadRuntimes(path)
	if err != nil {
		t.Fatalf("LoadRuntimes: %v", err)
	}

	if rt := runtimes["rust189"]; rt.Image != "sandloft/runtime-rust:1.89" {
		t.Errorf("added runtime: %+v", rt)
	}
	if rt := runtimes["node24"]; rt.Image != "custom/node:24" {
		t.Errorf("override not applied: %+v", rt)
	}
	if len(runtimes["node24"].Command) != 2 {
		t.Errorf("override command: %v", runtimes["node24"].Command)
	}
	// Untouched builtins survive the merge.
	if _, ok := runtimes["python312"]; !ok {
		t.Error("python312 builtin lost during merge")
	}
}

func TestLoadRuntimes_RequiresImage(t *testing.T) {
	path := writeCatalog(t, `
runtimes:
  broken:
    command: [sandloft-agent]
`)

	if _, err := config.LoadRuntimes(path); err == nil {
		t.Fatal("expected error for runtime without image")
	}
}

func TestLoadRuntimes_MissingFile(t *testing.T) {
	if _, err := config.LoadRuntimes("/no/such/runtimes.yaml"); err == nil {
		t.Fatal("expected error for missing catalog file")
	}
}

func TestLoadRuntimes_InvalidYAML(t *testing.T) {
	path := writeCatalog(t, "runtimes: [not: a: map")

	if _, err := config.LoadRuntimes(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
