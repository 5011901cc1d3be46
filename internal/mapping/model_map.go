package mapping

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ModelInfo contains model deployment metadata
type ModelInfo struct {
	Name   string `yaml:"name"`
	Vendor string `yaml:"vendor"`
	Notes  string `yaml:"notes"`
}

// ModelMap maps model deployment IDs to human-readable names
type ModelMap struct {
	Models map[string]ModelInfo `yaml:"models"`
}

// LoadModelMap loads model_map.yaml
func LoadModelMap(path string) (*ModelMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model map: %w", err)
	}

	var mm ModelMap
	if err := yaml.Unmarshal(data, &mm); err != nil {
		return nil, fmt.Errorf("failed to parse model map: %w", err)
	}

	// Initialize map if nil
	if mm.Models == nil {
		mm.Models = make(map[string]ModelInfo)
	}

	return &mm, nil
}

// DisplayName returns the display name for a deployment ID
// Returns the ID itself if not found in map
func (mm *ModelMap) DisplayName(id string) string {
	if info, ok := mm.Models[id]; ok && info.Name != "" {
		return info.Name
	}
	return id // Fallback to deployment ID
}

// Vendor returns the vendor for a deployment ID
// Returns empty string if not found in map
func (mm *ModelMap) Vendor(id string) string {
	if info, ok := mm.Models[id]; ok {
		return info.Vendor
	}
	return "" // Unknown
}
