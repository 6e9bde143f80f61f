package config

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestDecodeFullConfig(t *testing.T) {
	var cfg Config
	_, err := toml.Decode(`
host = "0.0.0.0"
port = 8080
shell_path = "/bin/bash"
capture_binary = "tcpdump"
subnet_base = "10.0.0.0/16"
control_deadline = "15s"
session_grace = "45s"
debug = true
`, &cfg)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if cfg.Host.String() != "0.0.0.0" {
		t.Fatalf("host = %q, want 0.0.0.0", cfg.Host.String())
	}
	if cfg.Port != 8080 {
		t.Fatalf("port = %d, want 8080", cfg.Port)
	}
	if cfg.SubnetBase.IPNet == nil || cfg.SubnetBase.String() != "10.0.0.0/16" {
		t.Fatalf("subnet_base = %v, want 10.0.0.0/16", cfg.SubnetBase.IPNet)
	}
	if cfg.ControlDeadline.Duration != 15*time.Second {
		t.Fatalf("control_deadline = %v, want 15s", cfg.ControlDeadline.Duration)
	}
	if cfg.SessionGrace.Duration != 45*time.Second {
		t.Fatalf("session_grace = %v, want 45s", cfg.SessionGrace.Duration)
	}
	if !cfg.Debug {
		t.Fatalf("debug = false, want true")
	}
}

func TestDecodeRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"bad host":     `host = "not-an-ip"`,
		"bad cidr":     `subnet_base = "10.0.0.0"`,
		"bad duration": `control_deadline = "soon"`,
	}
	for name, doc := range cases {
		var cfg Config
		if _, err := toml.Decode(doc, &cfg); err == nil {
			t.Errorf("%s: expected decode error for %q", name, doc)
		}
	}
}

func TestSetDefaults(t *testing.T) {
	var cfg Config
	cfg.setDefaults()

	if cfg.Host.String() != "127.0.0.1" {
		t.Fatalf("default host = %q, want 127.0.0.1", cfg.Host.String())
	}
	if cfg.Port != 7890 {
		t.Fatalf("default port = %d, want 7890", cfg.Port)
	}
	if cfg.ShellPath != "/bin/sh" {
		t.Fatalf("default shell_path = %q, want /bin/sh", cfg.ShellPath)
	}
	if cfg.CaptureBinary != "tcpdump" {
		t.Fatalf("default capture_binary = %q, want tcpdump", cfg.CaptureBinary)
	}
	if cfg.ControlDeadline.Duration != 10*time.Second {
		t.Fatalf("default control_deadline = %v, want 10s", cfg.ControlDeadline.Duration)
	}
	if cfg.SessionGrace.Duration != 30*time.Second {
		t.Fatalf("default session_grace = %v, want 30s", cfg.SessionGrace.Duration)
	}
}

func TestSetDefaultsKeepsExplicitValues(t *testing.T) {
	var cfg Config
	cfg.Port = 9999
	cfg.SessionGrace.Duration = time.Minute
	cfg.setDefaults()

	if cfg.Port != 9999 {
		t.Fatalf("explicit port overwritten: got %d", cfg.Port)
	}
	if cfg.SessionGrace.Duration != time.Minute {
		t.Fatalf("explicit session_grace overwritten: got %v", cfg.SessionGrace.Duration)
	}
}
