// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/rtlog/lib/codec"
	"github.com/bureau-foundation/rtlog/lib/envelope"
)

// Manifest is the on-disk description of a registration table, for
// tools that render records without linking the producing program:
//
//	{
//	  // drivetrain
//	  "schemas": [
//	    {"tag": 1, "name": "drive.sample", "encoding": "cbor"},
//	    {"tag": 2, "name": "arm.setpoint"},
//	  ],
//	}
type Manifest struct {
	Schemas []ManifestEntry `json:"schemas"`
}

// ManifestEntry names one schema tag. Encoding "cbor" renders payloads
// as CBOR diagnostic notation; anything else renders hex.
type ManifestEntry struct {
	Tag      uint8  `json:"tag"`
	Name     string `json:"name"`
	Encoding string `json:"encoding,omitempty"`
}

// ParseManifest parses JSONC manifest bytes (comments and trailing
// commas allowed).
func ParseManifest(data []byte) (*Manifest, error) {
	var manifest Manifest
	if err := json.Unmarshal(jsonc.ToJSON(data), &manifest); err != nil {
		return nil, fmt.Errorf("parsing schema manifest: %w", err)
	}
	return &manifest, nil
}

// LoadManifest reads and parses a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema manifest: %w", err)
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return manifest, nil
}

// Apply registers every manifest entry in r.
func (m *Manifest) Apply(r *Registry) error {
	for _, entry := range m.Schemas {
		var format Formatter
		switch entry.Encoding {
		case "", "hex":
		case "cbor":
			format = codec.Diagnose
		default:
			return fmt.Errorf("schema %q: unknown encoding %q (expected cbor or hex)", entry.Name, entry.Encoding)
		}
		if err := r.Register(envelope.Tag(entry.Tag), entry.Name, format); err != nil {
			return err
		}
	}
	return nil
}

// FromManifest builds a registry from the manifest at path. An empty
// path yields an empty registry, under which structured payloads
// render as hex.
func FromManifest(path string) (*Registry, error) {
	registry := New()
	if path == "" {
		return registry, nil
	}
	manifest, err := LoadManifest(path)
	if err != nil {
		return nil, err
	}
	if err := manifest.Apply(registry); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return registry, nil
}
