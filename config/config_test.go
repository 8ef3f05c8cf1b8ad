package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/drake/mudlark/mud"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
[settings]
command_separator = ";;"
log_level = "debug"

[[muds]]
name = "dune"
host = "dune.example.com"
port = 4000
tls = "enabled"

[[muds]]
name = "localmud"
host = "localhost"
port = 4000
no_tcp_keepalive = true

[[characters]]
name = "paul"
mud = "dune"
module = "paul_scripts"
command_separator = "&&"
`

func TestLoadValid(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(cfg.Muds) != 2 || len(cfg.Characters) != 1 {
		t.Fatalf("muds %d characters %d", len(cfg.Muds), len(cfg.Characters))
	}

	m, err := cfg.LookupMud("dune")
	if err != nil {
		t.Fatal(err)
	}
	if m.Tls != mud.TlsEnabled || m.Port != 4000 {
		t.Fatalf("mud %+v", m)
	}

	resolved, err := cfg.MudForCharacter("paul")
	if err != nil {
		t.Fatal(err)
	}
	if resolved.CommandSeparator != "&&" {
		t.Fatalf("separator %q", resolved.CommandSeparator)
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Muds) != 0 {
		t.Fatal("expected empty config")
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			"empty host",
			"[[muds]]\nname = \"bad\"\nhost = \"\"\nport = 4000\n",
			"host is empty",
		},
		{
			"zero port",
			"[[muds]]\nname = \"bad\"\nhost = \"h.example.com\"\nport = 0\n",
			"port is zero",
		},
		{
			"tls ip literal",
			"[[muds]]\nname = \"bad\"\nhost = \"10.0.0.1\"\nport = 4000\ntls = \"enabled\"\n",
			"invalid for TLS",
		},
		{
			"tls bad hostname",
			"[[muds]]\nname = \"bad\"\nhost = \"not a host\"\nport = 4000\ntls = \"enabled\"\n",
			"invalid for TLS",
		},
		{
			"unknown mud reference",
			"[[characters]]\nname = \"orphan\"\nmud = \"nowhere\"\n",
			"unknown MUD",
		},
		{
			"duplicate character",
			validConfig + "\n[[characters]]\nname = \"paul\"\nmud = \"dune\"\n",
			"multiple characters",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("want error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

// Skip-verify TLS has no certificate to check, so IP-literal hosts (private
// MUDs with self-signed certs) stay valid.
func TestSkipVerifyAllowsIPHost(t *testing.T) {
	content := "[[muds]]\nname = \"lan\"\nhost = \"10.0.0.1\"\nport = 4000\ntls = \"insecure-skip-verify\"\n"
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	m, err := cfg.LookupMud("lan")
	if err != nil {
		t.Fatal(err)
	}
	if m.Tls != mud.TlsInsecureSkipVerify {
		t.Fatalf("tls %v", m.Tls)
	}
}

func TestLookupMudMissing(t *testing.T) {
	cfg := &Config{}
	_, err := cfg.LookupMud("nope")
	if !errors.Is(err, mud.ErrNoSuchMud) {
		t.Fatalf("want ErrNoSuchMud, got %v", err)
	}
}

func TestValidTLSHostname(t *testing.T) {
	valid := []string{"example.com", "a.b-c.example.com", "localhost"}
	invalid := []string{"", "10.0.0.1", "::1", "has space.com", "-bad.com", "bad-.com"}

	for _, h := range valid {
		if !validTLSHostname(h) {
			t.Errorf("%q should be valid", h)
		}
	}
	for _, h := range invalid {
		if validTLSHostname(h) {
			t.Errorf("%q should be invalid", h)
		}
	}
}
