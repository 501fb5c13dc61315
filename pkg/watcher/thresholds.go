package watcher

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type thresholdEntry struct {
	Deployment   string `yaml:"deployment"`
	MonthlyLimit int64  `yaml:"monthly_limit"`
}

type thresholdFile struct {
	Deployments []thresholdEntry `yaml:"deployments"`
}

// LoadThresholdOverrides reads a YAML file mapping deployments to
// per-deployment monthly limits.
func LoadThresholdOverrides(path string) (map[string]int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read thresholds file %s: %w", path, err)
	}

	var f thresholdFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse thresholds file %s: %w", path, err)
	}

	overrides := make(map[string]int64, len(f.Deployments))
	for _, e := range f.Deployments {
		if e.Deployment == "" {
			return nil, fmt.Errorf("thresholds file %s: entry with empty deployment name", path)
		}
		if e.MonthlyLimit <= 0 {
			return nil, fmt.Errorf("thresholds file %s: deployment %q: monthly_limit must be positive", path, e.Deployment)
		}
		overrides[e.Deployment] = e.MonthlyLimit
	}
	return overrides, nil
}
