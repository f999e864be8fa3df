package jsrunner

import (
	"fmt"
	"time"
)

// Security levels for script execution
const (
	SecurityLevelStrict     = "strict"
	SecurityLevelStandard   = "standard"
	SecurityLevelPermissive = "permissive"
)

// Config represents the configuration of a js.run node
type Config struct {
	// Script is the body of a function receiving (inputs, state). Its return value
	// becomes the node output.
	Script string `json:"script"`

	// TimeoutMs interrupts the VM after this many milliseconds
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// SecurityLevel defines security restrictions (strict, standard, permissive)
	SecurityLevel string `json:"security_level,omitempty"`
}

// ApplyDefaults sets default values for configuration fields
func (c *Config) ApplyDefaults() {
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 5000
	}
	if c.SecurityLevel == "" {
		c.SecurityLevel = SecurityLevelStandard
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Script == "" {
		return fmt.Errorf("script is required")
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms must be positive")
	}
	switch c.SecurityLevel {
	case SecurityLevelStrict, SecurityLevelStandard, SecurityLevelPermissive:
		return nil
	default:
		return fmt.Errorf("invalid security level: %s", c.SecurityLevel)
	}
}

// Timeout returns the script time limit
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}
