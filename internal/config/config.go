// Package config is used to load the configuration file
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultDevice = "/dev/aes_0"

type perf struct {
	Enabled bool   `json:"enabled"`
	Device  string `json:"device"`
}

// Config is the configuration struct
type Config struct {
	Perf perf `json:"perf"`
	// T1SZ overrides the kernel address space size of the selected profile.
	T1SZ    uint `json:"t1sz"`
	Verbose bool `json:"verbose"`
}

func (c *Config) verify() error {
	if c.Perf.Device == "" {
		c.Perf.Device = defaultDevice
	} else if !filepath.IsAbs(c.Perf.Device) || !strings.HasPrefix(filepath.Clean(c.Perf.Device), "/dev/") {
		return fmt.Errorf("config: perf.device must be a path under /dev: %q", c.Perf.Device)
	}
	if c.T1SZ != 0 && (c.T1SZ < 16 || c.T1SZ > 39) {
		return fmt.Errorf("config: t1sz must be between 16 and 39: %d", c.T1SZ)
	}
	return nil
}

// LoadConfig loads the configuration file
func LoadConfig() (*Config, error) {
	var c *Config

	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal: %v", err)
	}
	if c == nil {
		c = &Config{}
	}

	if err := c.verify(); err != nil {
		return nil, fmt.Errorf("config: failed to verify: %v", err)
	}

	return c, nil
}
