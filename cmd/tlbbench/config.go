package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// runConfig describes one stress-test run, grounded on
// tinyrange-cc/examples/shared/testrunner.Spec's plain-struct-plus-yaml-
// tags shape.
type runConfig struct {
	Workers        int    `yaml:"workers"`
	IterPerWorker  int    `yaml:"iter_per_worker"`
	VirtualPages   int    `yaml:"virtual_pages"`
	PhysicalPages  int    `yaml:"physical_pages"`
	CPUProfilePath string `yaml:"cpu_profile"`
}

func defaultRunConfig() runConfig {
	return runConfig{
		Workers:       16,
		IterPerWorker: 10000,
		VirtualPages:  64,
		PhysicalPages: 8,
	}
}

func loadRunConfig(path string) (runConfig, error) {
	cfg := defaultRunConfig()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func (c runConfig) validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if c.IterPerWorker <= 0 {
		return fmt.Errorf("iter_per_worker must be positive, got %d", c.IterPerWorker)
	}
	if c.VirtualPages <= 0 {
		return fmt.Errorf("virtual_pages must be positive, got %d", c.VirtualPages)
	}
	if c.PhysicalPages <= 0 || c.PhysicalPages > c.VirtualPages {
		return fmt.Errorf("physical_pages must be in (0, virtual_pages], got %d", c.PhysicalPages)
	}
	return nil
}
