package config

import (
	"fmt"
	"net"
	"strconv"
)

// Validate checks that the Config contains valid values.
// Returns an error describing the first invalid field found.
func (c Config) Validate() error {
	if len(c.Listen) == 0 {
		return fmt.Errorf("config: at least one --listen address is required")
	}

	seen := make(map[string]struct{}, len(c.Listen))
	for _, addr := range c.Listen {
		if err := validateAddr(addr); err != nil {
			return fmt.Errorf("config: --listen %q: %w", addr, err)
		}
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: --listen %q given more than once", addr)
		}
		seen[addr] = struct{}{}
	}

	if c.DebugListen != "" {
		if err := validateAddr(c.DebugListen); err != nil {
			return fmt.Errorf("config: --debug-listen %q: %w", c.DebugListen, err)
		}
		if _, clash := seen[c.DebugListen]; clash {
			return fmt.Errorf("config: --debug-listen %q is also a --listen address", c.DebugListen)
		}
	}

	if c.Verbosity < 0 {
		return fmt.Errorf("config: Verbosity must be >= 0, got %d", c.Verbosity)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	return nil
}

func validateAddr(addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("port must be 0-65535, got %q", port)
	}
	return nil
}
