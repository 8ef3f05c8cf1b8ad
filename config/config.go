// Package config loads and validates the TOML configuration file and
// watches it for hot reloads.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/drake/mudlark/mud"
)

// Character binds a name to a MUD entry plus optional per-character
// overrides.
type Character struct {
	Name string `toml:"name"`
	Mud  string `toml:"mud"`

	// Module is an extra Lua module loaded for this character.
	Module string `toml:"module"`

	// CommandSeparator overrides the global separator for this character.
	CommandSeparator string `toml:"command_separator"`
}

// Settings is the global settings overlay.
type Settings struct {
	CommandSeparator string `toml:"command_separator"`
	LogLevel         string `toml:"log_level"`
	FrameRate        int    `toml:"frame_rate"`
	MouseEnabled     bool   `toml:"mouse_enabled"`
}

// Config is the on-disk configuration.
type Config struct {
	Characters  []Character       `toml:"characters"`
	Muds        []mud.Mud         `toml:"muds"`
	Keybindings map[string]string `toml:"keybindings"`
	Settings    Settings          `toml:"settings"`
}

// Load reads and validates a config file. A missing file yields an empty,
// valid config.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks referential integrity and connection requirements.
func (c *Config) Validate() error {
	seenMuds := make(map[string]bool)
	for _, m := range c.Muds {
		if m.Name == "" {
			return fmt.Errorf("config: MUD with empty name")
		}
		if seenMuds[m.Name] {
			return fmt.Errorf("config: multiple MUDs named %q", m.Name)
		}
		seenMuds[m.Name] = true

		if m.Host == "" {
			return fmt.Errorf("config: MUD %q host is empty", m.Name)
		}
		if m.Port == 0 {
			return fmt.Errorf("config: MUD %q port is zero", m.Name)
		}
		// Only verified TLS needs a certificate-checkable DNS name; the
		// skip-verify mode stays usable with IP literals and the like.
		if m.Tls == mud.TlsEnabled && !validTLSHostname(m.Host) {
			return fmt.Errorf("config: MUD %q hostname %q invalid for TLS", m.Name, m.Host)
		}
	}

	seenChars := make(map[string]bool)
	for _, ch := range c.Characters {
		if ch.Name == "" {
			return fmt.Errorf("config: character with empty name")
		}
		if seenChars[ch.Name] {
			return fmt.Errorf("config: multiple characters named %q", ch.Name)
		}
		seenChars[ch.Name] = true

		if !seenMuds[ch.Mud] {
			return fmt.Errorf("config: character %q references unknown MUD %q", ch.Name, ch.Mud)
		}
	}
	return nil
}

// LookupMud finds a MUD entry by name.
func (c *Config) LookupMud(name string) (mud.Mud, error) {
	for _, m := range c.Muds {
		if m.Name == name {
			return m, nil
		}
	}
	return mud.Mud{}, fmt.Errorf("%q: %w", name, mud.ErrNoSuchMud)
}

// LookupCharacter finds a character entry by name.
func (c *Config) LookupCharacter(name string) (Character, error) {
	for _, ch := range c.Characters {
		if ch.Name == name {
			return ch, nil
		}
	}
	return Character{}, fmt.Errorf("config: no character named %q", name)
}

// MudForCharacter resolves a character's MUD entry, applying the
// character's command separator override.
func (c *Config) MudForCharacter(name string) (mud.Mud, error) {
	ch, err := c.LookupCharacter(name)
	if err != nil {
		return mud.Mud{}, err
	}
	m, err := c.LookupMud(ch.Mud)
	if err != nil {
		return mud.Mud{}, err
	}
	if ch.CommandSeparator != "" {
		m.CommandSeparator = ch.CommandSeparator
	} else if m.CommandSeparator == "" {
		m.CommandSeparator = c.Settings.CommandSeparator
	}
	return m, nil
}

// validTLSHostname requires a hostname usable for certificate verification:
// a DNS name, not an IP literal or something with forbidden characters.
func validTLSHostname(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return false
	}
	for _, label := range strings.Split(strings.TrimSuffix(host, "."), ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		for i, r := range label {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			case r == '-' && i > 0 && i < len(label)-1:
			default:
				return false
			}
		}
	}
	return true
}

// Dir returns the mudlark configuration directory. Respects
// XDG_CONFIG_HOME on Unix, APPDATA on Windows.
func Dir() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	} else {
		base = os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".config")
		}
	}
	return filepath.Join(base, "mudlark")
}

// DataDir returns the mudlark data directory (log files, caches).
func DataDir() string {
	var base string
	if runtime.GOOS == "windows" {
		base = os.Getenv("LOCALAPPDATA")
		if base == "" {
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Local")
		}
	} else {
		base = os.Getenv("XDG_DATA_HOME")
		if base == "" {
			home, _ := os.UserHomeDir()
			base = filepath.Join(home, ".local", "share")
		}
	}
	return filepath.Join(base, "mudlark")
}

// File returns the path of the config file.
func File() string {
	return filepath.Join(Dir(), "config.toml")
}
