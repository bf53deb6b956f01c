package executor

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Options controls an Engine. The zero value is not useful; start from
// DefaultOptions.
type Options struct {
	// IterationCap bounds the rounds of a recursive group, counting the
	// final round that confirms convergence.
	IterationCap int `yaml:"iteration_cap"`

	// Parallel execution
	MaxWorkers             int  `yaml:"max_workers"` // 0 = NumCPU
	EnableParallel         bool `yaml:"enable_parallel"`
	ParallelGroupThreshold int  `yaml:"parallel_group_threshold"` // affected groups before Reduce/TopK fan out

	// MaxCollectionRows caps the row count of every committed binding and
	// of the result. 0 means unlimited.
	MaxCollectionRows int `yaml:"max_collection_rows"`

	// EnableMonotonic lets Distinct and TopK over insert-only inputs keep
	// append-only state.
	EnableMonotonic bool `yaml:"enable_monotonic"`

	PlanCacheSize int `yaml:"plan_cache_size"`
}

// DefaultOptions returns the default engine options.
func DefaultOptions() Options {
	return Options{
		IterationCap:           100000,
		MaxWorkers:             0,
		EnableParallel:         true,
		ParallelGroupThreshold: 64,
		MaxCollectionRows:      0,
		EnableMonotonic:        true,
		PlanCacheSize:          128,
	}
}

// ParseOptions reads YAML over the defaults. Keys absent from data keep
// their default value.
func ParseOptions(data []byte) (Options, error) {
	opts := DefaultOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("parse options: %w", err)
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// LoadOptions reads an options file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("load options: %w", err)
	}
	return ParseOptions(data)
}

// Validate rejects nonsensical settings.
func (o Options) Validate() error {
	switch {
	case o.IterationCap <= 0:
		return fmt.Errorf("invalid options: iteration_cap must be positive, got %d", o.IterationCap)
	case o.MaxWorkers < 0:
		return fmt.Errorf("invalid options: max_workers must not be negative, got %d", o.MaxWorkers)
	case o.MaxCollectionRows < 0:
		return fmt.Errorf("invalid options: max_collection_rows must not be negative, got %d", o.MaxCollectionRows)
	case o.ParallelGroupThreshold < 0:
		return fmt.Errorf("invalid options: parallel_group_threshold must not be negative, got %d", o.ParallelGroupThreshold)
	}
	return nil
}
