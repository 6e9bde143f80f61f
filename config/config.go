// Package config loads netlabd's daemon configuration from a TOML file,
// following the shape of the teacher orchestrator's runtime_config.go:
// typed fields with toml tags, custom IP/IPNet unmarshalling, a
// setDefaults pass, and a Validate pass that checks the host
// environment (required binaries) before the server starts. Privileges
// are not checked here.
package config

import (
	"fmt"
	"net"
	"os/exec"
	"time"

	"github.com/BurntSushi/toml"
)

// IP wraps net.IP so it can be decoded from a TOML string.
type IP struct{ net.IP }

func (ip *IP) UnmarshalText(text []byte) error {
	parsed := net.ParseIP(string(text))
	if parsed == nil {
		return fmt.Errorf("invalid IP address: %s", text)
	}
	ip.IP = parsed
	return nil
}

// IPNet wraps net.IPNet so it can be decoded from a TOML CIDR string.
type IPNet struct{ *net.IPNet }

func (n *IPNet) UnmarshalText(text []byte) error {
	_, network, err := net.ParseCIDR(string(text))
	if err != nil {
		return fmt.Errorf("invalid CIDR: %w", err)
	}
	n.IPNet = network
	return nil
}

// Duration wraps time.Duration so it can be decoded from a TOML string
// like "10s" or "200ms".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

// Config is netlabd's top-level configuration.
type Config struct {
	Host IP    `toml:"host"`
	Port int   `toml:"port"`

	// ShellPath is the login shell execed inside a device's namespace
	// when a PTY session is opened.
	ShellPath string `toml:"shell_path"`

	// CaptureBinary is the packet-capture child process the Packet
	// Observer spawns per interface (e.g. "tcpdump").
	CaptureBinary string `toml:"capture_binary"`

	// SubnetBase is the first octet pair used by the subnet allocator
	// (spec.md: 10.0.<n>.0/24).
	SubnetBase IPNet `toml:"subnet_base"`

	// ControlDeadline bounds the one-shot command-execution verb and is
	// the HTTP server's read timeout. Topology, link and failure
	// mutations run without a deadline of their own.
	ControlDeadline Duration `toml:"control_deadline"`

	// SessionGrace is how long a PTY session survives after its
	// terminal channel disconnects before being closed (spec.md §5).
	SessionGrace Duration `toml:"session_grace"`

	// Debug toggles verbose logging/tracing output.
	Debug bool `toml:"debug"`
}

// Load reads and decodes path, then applies defaults and validation.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Host.IP == nil {
		c.Host.IP = net.ParseIP("127.0.0.1")
	}
	if c.Port == 0 {
		c.Port = 7890
	}
	if c.ShellPath == "" {
		c.ShellPath = "/bin/sh"
	}
	if c.CaptureBinary == "" {
		c.CaptureBinary = "tcpdump"
	}
	if c.SubnetBase.IPNet == nil {
		c.SubnetBase.IPNet = &net.IPNet{
			IP:   net.ParseIP("10.0.0.0"),
			Mask: net.CIDRMask(16, 32),
		}
	}
	if c.ControlDeadline.Duration == 0 {
		c.ControlDeadline.Duration = 10 * time.Second
	}
	if c.SessionGrace.Duration == 0 {
		c.SessionGrace.Duration = 30 * time.Second
	}
}

// Validate checks the host environment satisfies the required contracts
// from spec.md §6: the capture and shell binaries must be resolvable,
// and ip-family utilities driving namespace/link setup must exist.
func (c *Config) Validate() error {
	if _, err := exec.LookPath(c.ShellPath); err != nil {
		if _, err := exec.LookPath("sh"); err != nil {
			return fmt.Errorf("no usable shell found (configured %q): %w", c.ShellPath, err)
		}
	}
	if _, err := exec.LookPath(c.CaptureBinary); err != nil {
		return fmt.Errorf("capture binary %q not found in PATH: %w", c.CaptureBinary, err)
	}
	if _, err := exec.LookPath("ip"); err != nil {
		return fmt.Errorf("iproute2 'ip' binary not found in PATH: %w", err)
	}
	return nil
}
