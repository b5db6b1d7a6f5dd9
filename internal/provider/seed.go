package provider

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type seedFile struct {
	DefaultProviderID string         `yaml:"default_provider_id"`
	Providers         []seedProvider `yaml:"providers"`
}

type seedProvider struct {
	Provider `yaml:",inline"`
	Enabled  *bool `yaml:"enabled"`
}

// LoadSeedFile reads a providers.yaml document. Providers without an explicit
// enabled flag are enabled. Token values of the form ENV:NAME are read from
// the environment.
func LoadSeedFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var doc seedFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	cfg := &Config{SchemaVersion: schemaVersion, DefaultProviderID: doc.DefaultProviderID}
	for _, sp := range doc.Providers {
		p := sp.Provider
		p.Enabled = sp.Enabled == nil || *sp.Enabled
		if len(p.Auth.Token) > 4 && p.Auth.Token[:4] == "ENV:" {
			p.Auth.Token = os.Getenv(p.Auth.Token[4:])
		}
		cfg.Providers = append(cfg.Providers, p.normalized())
	}
	return cfg, nil
}
