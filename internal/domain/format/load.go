package format

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type catalogFile struct {
	Formats []Spec `yaml:"formats"`
	Packs   []Pack `yaml:"packs"`
}

// Parse decodes a YAML catalog document. Unknown fields are rejected.
func Parse(data []byte) (*Catalog, error) {
	var doc catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(doc.Formats) == 0 {
		return nil, fmt.Errorf("decode catalog: no formats defined")
	}
	return New(doc.Formats, doc.Packs)
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return c, nil
}
