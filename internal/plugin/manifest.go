// Package plugin provides plugin discovery, loading, and lifecycle control.
package plugin

import (
	"errors"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the manifest filename inside a plugin directory.
const ManifestFile = "plugin.yaml"

// EntryFile is the entry script filename inside a plugin directory.
const EntryFile = "index.lua"

// CommandSpec describes one chat command a plugin provides.
type CommandSpec struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Usage       string `yaml:"usage,omitempty" json:"usage,omitempty"`
}

// Manifest represents a plugin.yaml file. A manifest is immutable once
// loaded; reload re-reads it from disk.
type Manifest struct {
	Name         string        `yaml:"name" json:"name"`
	Version      string        `yaml:"version" json:"version"`
	Dependencies []string      `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Commands     []CommandSpec `yaml:"commands,omitempty" json:"commands,omitempty"`
	// Capabilities grants host functions to the plugin, e.g. "net.http"
	// or "store.read". Patterns use '.'-separated glob segments.
	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`
}

// maxNameLength is the maximum allowed length for plugin names.
const maxNameLength = 64

// ParseManifest parses and validates manifest data.
//
// Shape violations are checked against the raw YAML document before the
// typed decode, so a scalar where a sequence belongs is reported as a
// validation error naming the field, not as a YAML type error.
func ParseManifest(data []byte) (*Manifest, error) {
	if len(data) == 0 {
		return nil, ErrManifestParse(ManifestFile, errEmptyManifest)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, ErrManifestParse(ManifestFile, err)
	}

	record, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrManifestInvalid("manifest", "must be a mapping")
	}

	if err := validateShape(record); err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, ErrManifestParse(ManifestFile, err)
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}

	return &m, nil
}

var errEmptyManifest = errors.New("manifest data is empty")

// validateShape checks field types on the raw document.
func validateShape(record map[string]any) error {
	name, ok := record["name"]
	if !ok {
		return ErrManifestInvalid("name", "is required")
	}
	if _, ok := name.(string); !ok {
		return ErrManifestInvalid("name", "must be a string")
	}

	version, ok := record["version"]
	if !ok {
		return ErrManifestInvalid("version", "is required")
	}
	if _, ok := version.(string); !ok {
		return ErrManifestInvalid("version", "must be a string")
	}

	if deps, ok := record["dependencies"]; ok {
		seq, ok := deps.([]any)
		if !ok {
			return ErrManifestInvalid("dependencies", "must be a sequence")
		}
		for _, d := range seq {
			if _, ok := d.(string); !ok {
				return ErrManifestInvalid("dependencies", "must be a sequence of strings")
			}
		}
	}

	if caps, ok := record["capabilities"]; ok {
		seq, ok := caps.([]any)
		if !ok {
			return ErrManifestInvalid("capabilities", "must be a sequence")
		}
		for _, c := range seq {
			if _, ok := c.(string); !ok {
				return ErrManifestInvalid("capabilities", "must be a sequence of strings")
			}
		}
	}

	if cmds, ok := record["commands"]; ok {
		seq, ok := cmds.([]any)
		if !ok {
			return ErrManifestInvalid("commands", "must be a sequence")
		}
		for _, c := range seq {
			if _, ok := c.(map[string]any); !ok {
				return ErrManifestInvalid("commands", "must be a sequence of command records")
			}
		}
	}

	return nil
}

// Validate checks manifest value constraints after decoding.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrManifestInvalid("name", "must not be empty")
	}
	if len(m.Name) > maxNameLength {
		return ErrManifestInvalid("name", "must be 64 characters or less")
	}
	if m.Version == "" {
		return ErrManifestInvalid("version", "must not be empty")
	}
	if _, err := semver.NewVersion(m.Version); err != nil {
		return ErrManifestInvalid("version", "must be a semantic version")
	}
	for _, c := range m.Commands {
		if c.Name == "" {
			return ErrManifestInvalid("commands", "entries must set a name")
		}
	}
	return nil
}
