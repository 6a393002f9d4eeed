package provider

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oddbit-project/safekeep/config"
	"gopkg.in/yaml.v3"
)

// NewYamlProvider reads a YAML document and exposes it through the JSON provider,
// so `json` tags and `default` tags behave the same for both formats
func NewYamlProvider(data []byte) (*JsonProvider, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing yaml config: %w", err)
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("converting yaml config: %w", err)
	}
	return NewJsonProvider(raw)
}

// NewFileProvider picks the provider from the file extension (.json, .yaml, .yml)
func NewFileProvider(path string) (config.ConfigProvider, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return NewYamlProvider(data)
	case ".json":
		return NewJsonProvider(path)
	}
	return nil, config.ErrNotImplemented
}
