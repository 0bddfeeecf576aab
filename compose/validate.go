package compose

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// document is the minimal shape checked before a rendered file leaves the
// process. It is not a full compose schema, just enough to catch a generator
// producing structurally broken YAML.
type document struct {
	Version  string                 `yaml:"version"`
	Services map[string]yaml.Node   `yaml:"services"`
	Volumes  map[string]interface{} `yaml:"volumes"`
	Networks map[string]interface{} `yaml:"networks"`
}

// Validate parses a rendered compose document and rejects documents with no
// services. Called on every generator output before submission to the
// control plane.
func Validate(doc string) error {
	var parsed document
	if err := yaml.Unmarshal([]byte(doc), &parsed); err != nil {
		return fmt.Errorf("compose document is not valid yaml: %w", err)
	}
	if len(parsed.Services) == 0 {
		return fmt.Errorf("compose document declares no services")
	}
	return nil
}

// ServiceNames returns the declared service keys of a rendered document.
// Used by tests and the deployment workflow before a document is submitted.
func ServiceNames(doc string) ([]string, error) {
	var parsed document
	if err := yaml.Unmarshal([]byte(doc), &parsed); err != nil {
		return nil, fmt.Errorf("compose document is not valid yaml: %w", err)
	}
	names := make([]string, 0, len(parsed.Services))
	for name := range parsed.Services {
		names = append(names, name)
	}
	return names, nil
}
