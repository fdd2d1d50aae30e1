package itembank

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed sample_items.yaml
var sampleItems []byte

// SampleProvider returns the built-in demonstration bank.
func SampleProvider() (StaticProvider, error) {
	var f itemFile
	if err := yaml.Unmarshal(sampleItems, &f); err != nil {
		return nil, fmt.Errorf("parse sample items: %w", err)
	}
	return StaticProvider(f.Items), nil
}
