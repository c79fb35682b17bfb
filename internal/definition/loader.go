// Package definition loads YAML form definitions, validates them, and
// provides a fast-lookup registry with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader reads form definitions from YAML files. Each definition records
// the file it came from and the SHA-256 of its bytes.
type Loader struct{}

// NewLoader returns a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll parses every *.yaml and *.yml file below each directory, in
// directory order.
func (l *Loader) LoadAll(directories []string) ([]FormDefinition, error) {
	var defs []FormDefinition
	for _, dir := range directories {
		found, err := l.walk(os.DirFS(dir), ".", func(p string) string { return filepath.Join(dir, p) })
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
		defs = append(defs, found...)
	}
	return defs, nil
}

// LoadFS parses every YAML file under root in fsys, such as the definitions
// embedded in the binary.
func (l *Loader) LoadFS(fsys fs.FS, root string) ([]FormDefinition, error) {
	defs, err := l.walk(fsys, root, func(p string) string { return p })
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	return defs, nil
}

// LoadFile parses a single definition file.
func (l *Loader) LoadFile(path string) (FormDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return FormDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return parse(data, path)
}

func (l *Loader) walk(fsys fs.FS, root string, source func(string) string) ([]FormDefinition, error) {
	var defs []FormDefinition
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() || !isYAML(p):
			return nil
		}
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", source(p), err)
		}
		def, err := parse(data, source(p))
		if err != nil {
			return err
		}
		defs = append(defs, def)
		return nil
	})
	return defs, err
}

func parse(data []byte, source string) (FormDefinition, error) {
	var def FormDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return FormDefinition{}, fmt.Errorf("parsing %s: %w", source, err)
	}
	sum := sha256.Sum256(data)
	def.Checksum = hex.EncodeToString(sum[:])
	def.SourceFile = source
	return def, nil
}

func isYAML(p string) bool {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
