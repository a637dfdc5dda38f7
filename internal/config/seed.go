package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// QueueSeed describes one queue in the QUEUES_FILE.
//
//	queues:
//	  - name: clinic
//	    capacity: 20
//	  - name: pharmacy
//	    active: false
type QueueSeed struct {
	Name     string `yaml:"name"`
	Capacity int    `yaml:"capacity"`
	// Nil means active.
	Active *bool `yaml:"active"`
}

type seedFile struct {
	Queues []QueueSeed `yaml:"queues"`
}

// LoadQueueSeeds parses the YAML seed file at path.
func LoadQueueSeeds(path string) ([]QueueSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queues file: %w", err)
	}

	var f seedFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse queues file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(f.Queues))
	for i, q := range f.Queues {
		if q.Name == "" {
			return nil, fmt.Errorf("queues file %s: entry %d has no name", path, i)
		}
		if seen[q.Name] {
			return nil, fmt.Errorf("queues file %s: duplicate queue %q", path, q.Name)
		}
		seen[q.Name] = true
	}
	return f.Queues, nil
}
