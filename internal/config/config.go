package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// CompatConfig contains optional compatibility toggles.
//
// These toggles do not change the link protocol. They only adjust how the
// host resolves names.
type CompatConfig struct {
	// FallbackPRGExtension: if a file is opened without a type and neither
	// NAME nor NAME.PRG exists, the host also tries the other type
	// extensions (.SEQ .USR .REL .DEL).
	//
	// Example:
	//   requested: 0:README  -> fallback: README.SEQ
	FallbackPRGExtension bool `json:"fallback_prg_extension"`

	// WildcardLoad lets read opens use '*' and '?' and resolves them to the
	// first matching file in the directory.
	WildcardLoad bool `json:"wildcard_load"`

	// AdvancedWildcards allows '*' in the middle of a pattern. The device
	// can toggle it at runtime with "XW+" / "XW-".
	AdvancedWildcards bool `json:"advanced_wildcards"`
}

// Config controls the bridge host.
type Config struct {
	// Link names the connection to the device half:
	//   serial:/dev/ttyUSB0   serial port (see Baud)
	//   telnet:host:port      serial-over-network adapter
	//   tcp:host:port         raw TCP
	//   listen:addr           accept one device at a time on a TCP port
	//   stdio                 stdin/stdout
	Link string `json:"link"`
	Baud int    `json:"baud"`

	// ReadTimeoutMs bounds the wait for a reply frame on the device side.
	// 0 waits forever.
	ReadTimeoutMs int `json:"read_timeout_ms"`

	// Drives maps drive numbers "0".."9" to provider specs such as
	// "fs:./cbm-data", "d64:games.d64" or "9p:tcp!localhost!564".
	Drives map[string]string `json:"drives"`

	// Providers maps names usable as "name:FILE" to provider specs.
	Providers map[string]string `json:"providers"`

	// ReadOnly rejects every modifying request with WRITE PROTECT ON.
	ReadOnly bool `json:"read_only"`

	// Charset is the character set announced to the device.
	Charset string `json:"charset"`

	// DeviceOptions are "X..." strings sent with SETOPT after connect and
	// after every reset, e.g. "XU=9" or "XW+".
	DeviceOptions []string `json:"device_options"`

	// --- Logging ---
	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
	// LogRequests keeps a ring of recent requests for the tool's ":trace".
	LogRequests bool `json:"log_requests"`
	LogRingSize int  `json:"log_ring_size"`

	Compat CompatConfig `json:"compat"`

	// --- Optional "trash" ---
	// If enabled, SCRATCH on a host directory moves files into TrashDir
	// instead of deleting them.
	TrashEnabled bool   `json:"trash_enabled"`
	TrashDir     string `json:"trash_dir"`
}

func Default() Config {
	return Config{
		Link:          "serial:/dev/ttyUSB0",
		Baud:          115200,
		ReadTimeoutMs: 5000,
		Drives: map[string]string{
			"0": "fs:./cbm-data",
		},
		Providers:   map[string]string{},
		ReadOnly:    false,
		Charset:     "PETSCII",
		LogLevel:    "info",
		LogFormat:   "text",
		LogRequests: true,
		LogRingSize: 500,
		Compat: CompatConfig{
			FallbackPRGExtension: true,
			WildcardLoad:         true,
			AdvancedWildcards:    false,
		},
		TrashEnabled: false,
		TrashDir:     ".TRASH",
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// knownSchemes are the provider kinds a spec may name.
var knownSchemes = map[string]bool{"fs": true, "d64": true, "d71": true, "d81": true, "9p": true}

func (c *Config) Validate() error {
	if c.Link == "" {
		c.Link = "stdio"
	}
	if _, _, err := SplitLink(c.Link); err != nil {
		return err
	}
	if c.Baud == 0 {
		c.Baud = 115200
	}
	if c.Baud < 0 {
		return fmt.Errorf("baud must be positive, got %d", c.Baud)
	}
	if c.ReadTimeoutMs < 0 {
		c.ReadTimeoutMs = 0
	}
	if c.Drives == nil {
		c.Drives = map[string]string{}
	}
	if c.Providers == nil {
		c.Providers = map[string]string{}
	}
	for k, v := range c.Drives {
		n, err := strconv.Atoi(k)
		if err != nil || n < 0 || n > 9 {
			return fmt.Errorf("drives: key %q is not a drive number 0..9", k)
		}
		if _, _, err := SplitSpec(v); err != nil {
			return fmt.Errorf("drives[%s]: %w", k, err)
		}
	}
	for k, v := range c.Providers {
		if k == "" || strings.ContainsAny(k, ":,=") {
			return fmt.Errorf("providers: invalid name %q", k)
		}
		if _, err := strconv.Atoi(k); err == nil {
			return fmt.Errorf("providers: name %q looks like a drive number", k)
		}
		if _, _, err := SplitSpec(v); err != nil {
			return fmt.Errorf("providers[%s]: %w", k, err)
		}
	}
	for _, o := range c.DeviceOptions {
		if !strings.HasPrefix(strings.ToUpper(o), "X") {
			return fmt.Errorf("device_options: %q must start with X", o)
		}
	}
	if c.Charset == "" {
		c.Charset = "PETSCII"
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		c.LogFormat = "text"
	case "json":
		c.LogFormat = "json"
	default:
		return fmt.Errorf("log_format must be text or json, got %q", c.LogFormat)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogRingSize <= 0 {
		c.LogRingSize = 500
	}

	// Trash defaults/validation.
	c.TrashDir = strings.TrimSpace(c.TrashDir)
	if c.TrashDir == "" {
		c.TrashDir = ".TRASH"
	}
	if strings.ContainsAny(c.TrashDir, "/\\") {
		return fmt.Errorf("trash_dir must be a single directory name (no slashes)")
	}
	if c.TrashDir == "." || c.TrashDir == ".." {
		return fmt.Errorf("trash_dir must not be '.' or '..'")
	}
	return nil
}

// SplitSpec splits a provider spec "scheme:argument". A spec without a
// known scheme is a host directory.
func SplitSpec(spec string) (scheme, arg string, err error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return "", "", fmt.Errorf("empty provider spec")
	}
	if i := strings.IndexByte(spec, ':'); i > 0 {
		s := strings.ToLower(spec[:i])
		if knownSchemes[s] {
			arg = spec[i+1:]
			if arg == "" {
				return "", "", fmt.Errorf("provider spec %q has no argument", spec)
			}
			return s, arg, nil
		}
	}
	return "fs", spec, nil
}

// SplitLink splits a link spec into kind and address.
func SplitLink(link string) (kind, addr string, err error) {
	if link == "stdio" {
		return "stdio", "", nil
	}
	i := strings.IndexByte(link, ':')
	if i <= 0 {
		return "", "", fmt.Errorf("link %q: expected kind:address", link)
	}
	kind, addr = strings.ToLower(link[:i]), link[i+1:]
	switch kind {
	case "serial", "telnet", "tcp", "listen":
	default:
		return "", "", fmt.Errorf("link %q: unknown kind %q", link, kind)
	}
	if addr == "" {
		return "", "", fmt.Errorf("link %q: missing address", link)
	}
	return kind, addr, nil
}

// DriveNumbers returns the configured drive numbers in ascending order.
func (c Config) DriveNumbers() []int {
	out := make([]int, 0, len(c.Drives))
	for k := range c.Drives {
		if n, err := strconv.Atoi(k); err == nil {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}

// ResolveDir makes a relative fs argument absolute against base (usually
// the directory of the config file).
func ResolveDir(base, dir string) string {
	if dir == "" || filepath.IsAbs(dir) || base == "" {
		return dir
	}
	return filepath.Join(base, dir)
}

// EnsureRoot makes sure the root directory exists.
func EnsureRoot(path string) error {
	return os.MkdirAll(path, 0o755)
}
