package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TaskOverride adjusts the built-in limits of one task type. Zero values keep the default.
type TaskOverride struct {
	Concurrency   int           `yaml:"concurrency"`
	MaxAttempts   int           `yaml:"max_attempts"`
	MinBackoff    time.Duration `yaml:"min_backoff"`
	MaxBackoff    time.Duration `yaml:"max_backoff"`
	Timeout       time.Duration `yaml:"timeout"`
	PostCallDelay time.Duration `yaml:"post_call_delay"`
}

type taskOverridesFile struct {
	Tasks map[string]TaskOverride `yaml:"tasks"`
}

// LoadTaskOverrides reads a file such as:
//
//	tasks:
//	  files.rename-signed:
//	    concurrency: 1
//	  recipients.send-reminder:
//	    concurrency: 5
//	    post_call_delay: 30s
func LoadTaskOverrides(path string) (map[string]TaskOverride, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task overrides: %w", err)
	}
	var f taskOverridesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse task overrides %s: %w", path, err)
	}
	for name, o := range f.Tasks {
		if o.Concurrency < 0 || o.MaxAttempts < 0 {
			return nil, fmt.Errorf("task %s: negative limits", name)
		}
	}
	return f.Tasks, nil
}
