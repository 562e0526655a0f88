// SPDX-License-Identifier: MPL-2.0

package manifest

import (
	"bytes"
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// tomlManifest is the on-disk current shape. go-toml sorts map keys, so dependency
// tables come out in name order.
type tomlManifest struct {
	Schema       int                   `toml:"schema"`
	Name         string                `toml:"name"`
	Version      string                `toml:"version"`
	License      string                `toml:"license,omitempty"`
	Authors      []string              `toml:"authors,omitempty"`
	Dependencies map[string]Dependency `toml:"dependencies,omitempty"`
}

// Serialize renders d in the current manifest shape. Parse(Serialize(d)) yields a
// descriptor equal to d apart from FilePath and Diagnostics.
func Serialize(d *Descriptor) ([]byte, error) {
	m := tomlManifest{
		Schema:  CurrentSchema,
		Name:    string(d.Name),
		Version: d.Version,
		License: d.License,
		Authors: d.Authors,
	}
	if len(d.Dependencies) > 0 {
		m.Dependencies = make(map[string]Dependency, len(d.Dependencies))
		for _, dep := range d.Dependencies {
			m.Dependencies[string(dep.Name)] = dep
		}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("encode manifest %s: %w", d.Name, err)
	}
	return buf.Bytes(), nil
}
