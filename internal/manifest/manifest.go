// Package manifest loads a backend's primitive type sizes, selected by
// the driver's -m flag, so the same compiler binary can target
// machines with different int/long/pointer widths without a recompile.
// The supported CPUs' manifests are a table compiled into the binary
// (Builtins); -m may instead name a YAML manifest file.
package manifest

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/gmofish/ccyg/internal/types"
)

// File is the on-disk shape of a manifest YAML document.
type File struct {
	Name     string `yaml:"name"`
	CharSize int    `yaml:"char_size"`
	IntSize  int    `yaml:"int_size"`
	LongSize int    `yaml:"long_size"`
	PtrSize  int    `yaml:"ptr_size"`
	Backend  string `yaml:"backend"` // "il" or "tiny"
}

// Builtins are the manifests shipped with the compiler, keyed by the
// name passed to -m.
var Builtins = map[string]File{
	"tiny6809": {Name: "tiny6809", CharSize: 1, IntSize: 2, LongSize: 4, PtrSize: 2, Backend: "tiny"},
	"wut4":     {Name: "wut4", CharSize: 1, IntSize: 2, LongSize: 4, PtrSize: 2, Backend: "tiny"},
	"il64":     {Name: "il64", CharSize: 1, IntSize: 4, LongSize: 8, PtrSize: 8, Backend: "il"},
}

// Load resolves name to a manifest, first checking the built-in table
// and then, if name looks like a path, reading and parsing it as
// YAML.
func Load(name string) (File, error) {
	if m, ok := Builtins[name]; ok {
		return m, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return File{}, fmt.Errorf("manifest: unknown target %q and not a file: %w", name, err)
	}
	var m File
	if err := yaml.Unmarshal(data, &m); err != nil {
		return File{}, fmt.Errorf("manifest: parsing %s: %w", name, err)
	}
	return m, nil
}

func (f File) ToTypeManifest() types.Manifest {
	return types.Manifest{CharSize: f.CharSize, IntSize: f.IntSize, LongSize: f.LongSize, PtrSize: f.PtrSize}
}
