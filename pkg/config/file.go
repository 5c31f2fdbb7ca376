package config

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"
)

// SupportedSchema is the config file schema range this build reads.
const SupportedSchema = "^1"

type fileConfig struct {
	SchemaVersion string `yaml:"schema_version"`
	Config        `yaml:",inline"`
}

// LoadFile reads a YAML config file over the defaults, then applies
// environment variables on top. Environment always wins.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", path, err)
	}

	fc := fileConfig{Config: *Defaults()}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := checkSchema(fc.SchemaVersion); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}

	cfg := fc.Config
	cfg.applyEnv()
	return &cfg, nil
}

func checkSchema(version string) error {
	if version == "" {
		return fmt.Errorf("schema_version is required")
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("invalid schema_version %q: %w", version, err)
	}
	c, err := semver.NewConstraint(SupportedSchema)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("schema_version %s is not supported (want %s)", v, SupportedSchema)
	}
	return nil
}
