package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DistributionFile is the YAML shape of one search-space entry, decoded by
// the CLI's `study start <file>` command into a searchspace.Distribution.
type DistributionFile struct {
	Kind    string  `yaml:"kind"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
	Choices []any   `yaml:"choices"`
}

// StudyFile is the YAML study definition accepted by `study start <file>`.
type StudyFile struct {
	StudyName   string                      `yaml:"study_name"`
	Direction   string                      `yaml:"direction"`
	NTrials     int                         `yaml:"n_trials"`
	Parallelism int                         `yaml:"parallelism"`
	Seed        uint64                      `yaml:"seed"`
	TimeoutMS   int                         `yaml:"timeout_ms"`
	SearchSpace map[string]DistributionFile `yaml:"search_space"`
	Sampler     string                      `yaml:"sampler"`
	SamplerOpts map[string]any              `yaml:"sampler_opts"`
	Pruner      string                      `yaml:"pruner"`
	PrunerOpts  map[string]any              `yaml:"pruner_opts"`
	Objective   string                      `yaml:"objective"`
}

// LoadStudyFile reads and decodes a YAML study definition.
func LoadStudyFile(path string) (*StudyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading study file: %w", err)
	}
	var sf StudyFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("config: parsing study file: %w", err)
	}
	return &sf, nil
}
