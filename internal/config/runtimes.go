package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Runtime describes an execution runtime a sandbox can boot with.
type Runtime struct {
	Image   string   `yaml:"image"`
	Command []string `yaml:"command"`
}

// runtimeFile is the YAML catalog layout.
type runtimeFile struct {
	Runtimes map[string]Runtime `yaml:"runtimes"`
}

// BuiltinRuntimes returns the default runtime catalog.
func BuiltinRuntimes() map[string]Runtime {
	return map[string]Runtime{
		"node24":    {Image: "sandloft/runtime-node:24", Command: []string{"sandloft-agent"}},
		"python312": {Image: "sandloft/runtime-python:3.12", Command: []string{"sandloft-agent"}},
		"go124":     {Image: "sandloft/runtime-go:1.24", Command: []string{"sandloft-agent"}},
	}
}

// LoadRuntimes reads the runtime catalog from path, falling back to the
// built-in catalog when path is empty. Entries in the file are merged over
// the built-ins, so a catalog can add or override runtimes without
// restating the defaults.
func LoadRuntimes(path string) (map[string]Runtime, error) {
	runtimes := BuiltinRuntimes()
	if path == "" {
		return runtimes, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading runtime catalog: %w", err)
	}

	var rf runtimeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing runtime catalog: %w", err)
	}

	for name, rt := range rf.Runtimes {
		if rt.Image == "" {
			return nil, fmt.Errorf("runtime %q: image is required", name)
		}
		runtimes[name] = rt
	}
	return runtimes, nil
}
