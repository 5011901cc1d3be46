package mapping

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `models:
  gpt-4o:
    name: GPT-4o
    vendor: openai
  claude-3.5-sonnet:
    name: Claude 3.5 Sonnet
    vendor: anthropic
    notes: preview rollout
`

func writeModelMap(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_map.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadModelMap(t *testing.T) {
	mm, err := LoadModelMap(writeModelMap(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadModelMap() error = %v", err)
	}

	if got := mm.DisplayName("gpt-4o"); got != "GPT-4o" {
		t.Errorf("DisplayName(gpt-4o) = %q, want %q", got, "GPT-4o")
	}
	if got := mm.Vendor("claude-3.5-sonnet"); got != "anthropic" {
		t.Errorf("Vendor(claude-3.5-sonnet) = %q, want %q", got, "anthropic")
	}
}

func TestModelMap_Fallbacks(t *testing.T) {
	mm, err := LoadModelMap(writeModelMap(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadModelMap() error = %v", err)
	}

	if got := mm.DisplayName("o3-mini"); got != "o3-mini" {
		t.Errorf("DisplayName for unmapped ID = %q, want the ID back", got)
	}
	if got := mm.Vendor("o3-mini"); got != "" {
		t.Errorf("Vendor for unmapped ID = %q, want empty", got)
	}
}

func TestLoadModelMap_EmptyFile(t *testing.T) {
	mm, err := LoadModelMap(writeModelMap(t, ""))
	if err != nil {
		t.Fatalf("LoadModelMap() error = %v", err)
	}
	if mm.Models == nil {
		t.Error("Models map not initialized for empty file")
	}
	if got := mm.DisplayName("gpt-4o"); got != "gpt-4o" {
		t.Errorf("DisplayName on empty map = %q, want the ID back", got)
	}
}

func TestLoadModelMap_MissingFile(t *testing.T) {
	if _, err := LoadModelMap(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadModelMap() on missing file returned nil error")
	}
}

func TestLoadModelMap_InvalidYAML(t *testing.T) {
	if _, err := LoadModelMap(writeModelMap(t, "models: [oops")); err == nil {
		t.Error("LoadModelMap() on invalid YAML returned nil error")
	}
}
