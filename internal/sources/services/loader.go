package services

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Loader reads the static list of shareable services.
type Loader struct {
	filePath string
}

// NewLoader creates a new services loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the services file
func (l *Loader) Load() (ServicesConfig, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read services file: %w", err)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse services file: %w", err)
	}
	if len(root.Content) == 0 || root.Content[0].Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("services file must be an array")
	}

	var config ServicesConfig
	if err := root.Content[0].Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to decode services: %w", err)
	}

	return config, nil
}
