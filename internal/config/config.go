// Copyright (C) 2026 SOLTECSIS, SLU. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the backend server configuration from HCL.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/zclconf/go-cty/cty"

	"github.com/soltecsis-jfernandez/fwcloud-api/internal/errors"
)

// Config is the server configuration.
type Config struct {
	Listen   string          `hcl:"listen,optional"`
	DataDir  string          `hcl:"data_dir,optional"`
	LogLevel string          `hcl:"log_level,optional"`
	Database *DatabaseConfig `hcl:"database,block"`
	Policy   *PolicyConfig   `hcl:"policy,block"`
	Install  *InstallConfig  `hcl:"install,block"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `hcl:"path,optional"`
}

// PolicyConfig configures policy script generation.
type PolicyConfig struct {
	// ScriptName is the file name of the generated policy script inside
	// DataDir/<fwcloud>/<firewall>/.
	ScriptName string `hcl:"script_name,optional"`
	HeaderFile string `hcl:"header_file,optional"`
	FooterFile string `hcl:"footer_file,optional"`
}

// InstallConfig configures the SSH transport to remote firewall agents.
type InstallConfig struct {
	User    string `hcl:"user,optional"`
	KeyFile string `hcl:"key_file,optional"`
	Timeout int    `hcl:"timeout_seconds,optional"`
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		Listen:   ":3131",
		DataDir:  "./DATA",
		LogLevel: "info",
		Database: &DatabaseConfig{Path: "./DATA/fwcloud.db"},
		Policy: &PolicyConfig{
			ScriptName: "fwcloud.sh",
			HeaderFile: "./config/tmpl/header.sh",
			FooterFile: "./config/tmpl/footer.sh",
		},
		Install: &InstallConfig{User: "fwcloud", Timeout: 30},
	}
}

// Load reads an HCL configuration file and applies defaults for anything the
// file leaves unset. A missing file yields the full default configuration.
// Config values may reference environment variables as env.NAME.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := hclsimple.DecodeFile(path, evalContext(), cfg); err != nil {
				return nil, errors.Wrapf(err, errors.KindValidation, "parsing config file %s", path)
			}
		} else if !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, errors.KindInternal, "reading config file %s", path)
		}
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// evalContext exposes the process environment to HCL expressions.
func evalContext() *hcl.EvalContext {
	env := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if ok && name != "" {
			env[name] = cty.StringVal(value)
		}
	}
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"env": cty.ObjectVal(env)},
	}
}

func applyDefaults(cfg *Config) {
	def := Default()

	if cfg.Listen == "" {
		cfg.Listen = def.Listen
	}
	if cfg.DataDir == "" {
		cfg.DataDir = def.DataDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Database == nil {
		cfg.Database = def.Database
	} else if cfg.Database.Path == "" {
		cfg.Database.Path = filepath.Join(cfg.DataDir, "fwcloud.db")
	}
	if cfg.Policy == nil {
		cfg.Policy = def.Policy
	} else {
		if cfg.Policy.ScriptName == "" {
			cfg.Policy.ScriptName = def.Policy.ScriptName
		}
		if cfg.Policy.HeaderFile == "" {
			cfg.Policy.HeaderFile = def.Policy.HeaderFile
		}
		if cfg.Policy.FooterFile == "" {
			cfg.Policy.FooterFile = def.Policy.FooterFile
		}
	}
	if cfg.Install == nil {
		cfg.Install = def.Install
	} else {
		if cfg.Install.User == "" {
			cfg.Install.User = def.Install.User
		}
		if cfg.Install.Timeout <= 0 {
			cfg.Install.Timeout = def.Install.Timeout
		}
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New(errors.KindValidation, "listen address must not be empty")
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.LogLevel] {
		return errors.Errorf(errors.KindValidation, "invalid log_level %q", c.LogLevel)
	}
	if c.Policy.ScriptName == "" {
		return errors.New(errors.KindValidation, "policy script_name must not be empty")
	}
	return nil
}

// ScriptPath returns the policy script output path for a firewall.
func (c *Config) ScriptPath(fwcloudID, firewallID int64) string {
	return filepath.Join(c.DataDir,
		fmt.Sprintf("%d", fwcloudID),
		fmt.Sprintf("%d", firewallID),
		c.Policy.ScriptName)
}

// ServiceConfigPath returns the output path for a generated service
// configuration file. It lives next to the firewall's policy script.
func (c *Config) ServiceConfigPath(fwcloudID, firewallID int64, fileName string) string {
	return filepath.Join(c.DataDir,
		fmt.Sprintf("%d", fwcloudID),
		fmt.Sprintf("%d", firewallID),
		fileName)
}
