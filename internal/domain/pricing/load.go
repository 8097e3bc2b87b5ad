package pricing

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type rateDoc struct {
	Cost    float64 `yaml:"cost_per_unit"`
	Revenue float64 `yaml:"revenue_per_unit"`
}

func (r rateDoc) rate() Rate {
	return Rate{Cost: DollarsToMicros(r.Cost), Revenue: DollarsToMicros(r.Revenue)}
}

type tableDoc struct {
	Flash rateDoc                `yaml:"flash"`
	Pro   map[Resolution]rateDoc `yaml:"pro"`
}

// Parse decodes a YAML price list with amounts in dollars:
//
//	flash: {cost_per_unit: 0.039, revenue_per_unit: 0.10}
//	pro:
//	  1k: {cost_per_unit: 0.134, revenue_per_unit: 0.25}
func Parse(data []byte) (*Calculator, error) {
	var doc tableDoc
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode pricing table: %w", err)
	}
	t := Table{Flash: doc.Flash.rate(), Pro: make(map[Resolution]Rate, len(doc.Pro))}
	for r, rd := range doc.Pro {
		t.Pro[NormalizeResolution(string(r))] = rd.rate()
	}
	return NewCalculator(t)
}

// LoadFile reads a YAML price list from path.
func LoadFile(path string) (*Calculator, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing table %s: %w", path, err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load pricing table %s: %w", path, err)
	}
	return c, nil
}
