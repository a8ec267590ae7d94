// Package config loads a box-graph definition from YAML: the set of
// boxes a CLI invocation should create, each with its task/handler
// names, environment, and resource envelope.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BoxSpec describes one box in a graph file.
type BoxSpec struct {
	Name         string            `yaml:"name"`
	Task         string            `yaml:"task,omitempty"`
	OnMessage    []string          `yaml:"on_message,omitempty"`
	OnEvent      map[string]string `yaml:"on_event,omitempty"`
	Env          map[string]string `yaml:"env,omitempty"`
	CPUShares    int64             `yaml:"cpu_shares,omitempty"`
	MemoryMB     int64             `yaml:"memory_mb,omitempty"`
	DeliverTimeoutSeconds int      `yaml:"deliver_timeout_seconds,omitempty"`
}

// Graph is a full box-graph config file.
type Graph struct {
	Boxes []BoxSpec `yaml:"boxes"`
}

// DefaultPath returns ~/.boxlite/config.yaml, mirroring nexctl's
// ~/.nexus/config.yaml convention.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".boxlite", "config.yaml")
	}
	return filepath.Join(home, ".boxlite", "config.yaml")
}

// Load parses a box-graph YAML file at path and validates it.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("boxlite: read graph %s: %w", path, err)
	}
	var g Graph
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("boxlite: parse graph %s: %w", path, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks structural constraints Load can't catch via YAML
// tags alone: unique non-empty names, and at least one of task /
// on_message / on_event per box (an unreachable box is always a
// config mistake, not a valid no-op).
func (g *Graph) Validate() error {
	if len(g.Boxes) == 0 {
		return fmt.Errorf("boxlite: graph has no boxes")
	}
	seen := make(map[string]bool, len(g.Boxes))
	for i, b := range g.Boxes {
		if b.Name == "" {
			return fmt.Errorf("boxlite: graph box %d: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("boxlite: graph box %d: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.Task == "" && len(b.OnMessage) == 0 && len(b.OnEvent) == 0 {
			return fmt.Errorf("boxlite: graph box %q: must register a task, on_message, or on_event handler", b.Name)
		}
	}
	return nil
}
