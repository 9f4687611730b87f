// Package config builds the launcher configuration.
//
// Values are layered, each source overriding the previous one:
//   - built-in defaults
//   - an optional yaml file, passed with --config
//   - environment variables
//   - command line flags
//
// The resulting [Config] is the only place the rest of the launcher reads settings from;
// no other package looks at the process environment for them.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

const (
	// InstallDirName is the stable name of the extracted application under the root.
	InstallDirName = "uptime-kuma-app"
	// ArchivePrefix every release archive root directory starts with.
	ArchivePrefix = "uptime-kuma-"
	ArchiveName   = "uptime-kuma.zip"
	DataDirName   = "data"
	BinDirName    = "bin"

	DefaultPort     = 7860
	DefaultUsername = "admin"
	// DefaultVersion is the pinned release, also the fallback when the latest one can't be resolved.
	DefaultVersion = "2.0.2"
	// Latest requests the newest release instead of a pinned one.
	Latest = "latest"
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the complete launcher configuration.
type Config struct {
	// Root holds the install directory, the data directory and transient downloads.
	// Defaults to the directory containing the launcher executable.
	Root string `yaml:"root" env:"LAUNCHPAD_ROOT"`

	// Port the application listens on; read from SERVER_PORT, then PORT.
	Port int `yaml:"port"`

	AdminUsername string `yaml:"admin_username" env:"ADMIN_USERNAME"`
	// AdminPassword is optional, a random one is generated when empty.
	AdminPassword string `yaml:"admin_password" env:"ADMIN_PASSWORD"`

	// Version of the application to install; empty or "latest" resolves the newest release.
	Version string `yaml:"version" env:"KUMA_VERSION"`
	// ResolveTimeout bounds the latest release lookup.
	ResolveTimeout time.Duration `yaml:"resolve_timeout" env:"LAUNCHPAD_RESOLVE_TIMEOUT"`

	// NPMInstallArgs are passed to npm install when installing dependencies.
	NPMInstallArgs []string `yaml:"npm_install_args" env:"LAUNCHPAD_NPM_INSTALL_ARGS" envSeparator:" "`

	Tunnel TunnelConfig `yaml:"tunnel"`

	// Detach starts the application as a disowned process and keeps the launcher
	// alive with a heartbeat instead of waiting on it in the foreground.
	Detach    bool          `yaml:"detach" env:"LAUNCHPAD_DETACH"`
	Heartbeat time.Duration `yaml:"heartbeat" env:"LAUNCHPAD_HEARTBEAT"`

	LogLevel string `yaml:"log_level" env:"LAUNCHPAD_LOG_LEVEL"`
	// LogFile receives the diagnostic log; empty or "console" means stderr.
	LogFile string `yaml:"log_file" env:"LAUNCHPAD_LOG_FILE"`
}

// TunnelConfig configures the cloudflared sidecar.
type TunnelConfig struct {
	Enabled bool `yaml:"enabled" env:"LAUNCHPAD_TUNNEL"`
	// Token of a pre-provisioned tunnel; setting it enables the tunnel.
	Token string `yaml:"token" env:"ARGO_AUTH"`
	// Domain served by the pre-provisioned tunnel, display only.
	Domain string `yaml:"domain" env:"ARGO_DOMAIN"`
	// Owned ties the sidecar lifetime to the launcher.
	Owned bool `yaml:"owned" env:"LAUNCHPAD_TUNNEL_OWNED"`
	// Version of cloudflared, "latest" by default.
	Version string `yaml:"version" env:"LAUNCHPAD_CLOUDFLARED_VERSION"`
}

// listenEnv holds the port aliases, the first one set wins.
type listenEnv struct {
	ServerPort string `env:"SERVER_PORT"`
	Port       string `env:"PORT"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           DefaultPort,
		AdminUsername:  DefaultUsername,
		Version:        DefaultVersion,
		ResolveTimeout: 5 * time.Second,
		NPMInstallArgs: []string{"--omit=dev"},
		Tunnel:         TunnelConfig{Version: Latest},
		Heartbeat:      time.Minute,
		LogLevel:       "info",
		LogFile:        "console",
	}
}

// Load builds the configuration from the defaults, the optional file at path and the
// process environment. Flags are applied afterwards with [ApplyFlags].
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := LoadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := LoadEnv(&cfg, env.ToMap(os.Environ())); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFile overlays the yaml file at path on cfg; keys missing from the file keep their value.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	// an empty file decodes to io.EOF and changes nothing
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// LoadEnv overlays the variables in environ on cfg; unset variables keep the current value.
func LoadEnv(cfg *Config, environ map[string]string) error {
	opts := env.Options{Environment: environ}

	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return fmt.Errorf("failed to parse config from env: %w", err)
	}

	var listen listenEnv
	if err := env.ParseWithOptions(&listen, opts); err != nil {
		return fmt.Errorf("failed to parse config from env: %w", err)
	}

	for _, alias := range []struct{ name, value string }{
		{"SERVER_PORT", listen.ServerPort},
		{"PORT", listen.Port},
	} {
		if strings.TrimSpace(alias.value) == "" {
			continue
		}
		port, err := strconv.Atoi(strings.TrimSpace(alias.value))
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a port number", ErrInvalid, alias.name, alias.value)
		}
		cfg.Port = port
		break
	}

	return nil
}

// Validate checks the configuration and makes the root absolute.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range 1-65535", c.Port))
	}

	if strings.TrimSpace(c.AdminUsername) == "" {
		errs = append(errs, errors.New("admin username must not be empty"))
	}

	if pinned := c.Pinned(); pinned != "" && !semver.IsValid(canonical(pinned)) {
		errs = append(errs, fmt.Errorf("version %q is neither %q nor a semantic version", c.Version, Latest))
	}

	if c.Tunnel.Version != "" && c.Tunnel.Version != Latest && strings.ContainsAny(c.Tunnel.Version, "/ ") {
		errs = append(errs, fmt.Errorf("cloudflared version %q is not a release tag", c.Tunnel.Version))
	}

	if c.ResolveTimeout <= 0 {
		errs = append(errs, errors.New("resolve timeout must be positive"))
	}

	if c.Detach && c.Heartbeat <= 0 {
		errs = append(errs, errors.New("heartbeat interval must be positive"))
	}

	if c.Root == "" {
		root, err := DefaultRoot()
		if err != nil {
			errs = append(errs, err)
		}
		c.Root = root
	}
	if c.Root != "" {
		abs, err := filepath.Abs(c.Root)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to resolve root %s: %w", c.Root, err))
		}
		c.Root = abs
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

// DefaultRoot is the directory holding the launcher executable.
func DefaultRoot() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate launcher executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Pinned returns the pinned version, empty when the latest release should be used.
func (c *Config) Pinned() string {
	if c.Version == "" || c.Version == Latest {
		return ""
	}
	return c.Version
}

// TunnelEnabled reports whether the cloudflared sidecar runs.
func (c *Config) TunnelEnabled() bool {
	return c.Tunnel.Enabled || c.Tunnel.Token != ""
}

func (c *Config) InstallDir() string {
	return filepath.Join(c.Root, InstallDirName)
}

func (c *Config) DataDir() string {
	return filepath.Join(c.Root, DataDirName)
}

func (c *Config) ArchivePath() string {
	return filepath.Join(c.Root, ArchiveName)
}

func (c *Config) BinDir() string {
	return filepath.Join(c.Root, BinDirName)
}

// TunnelLog receives the cloudflared output; the sidecar keeps writing to it after
// the launcher exits.
func (c *Config) TunnelLog() string {
	return filepath.Join(c.BinDir(), "cloudflared.log")
}

// ChildEnv is the environment overlay for the application process.
func (c *Config) ChildEnv() ([]string, error) {
	data, err := filepath.Abs(c.DataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory: %w", err)
	}

	port := strconv.Itoa(c.Port)
	return []string{
		"PORT=" + port,
		"UPTIME_KUMA_PORT=" + port,
		"DATA_DIR=" + data,
	}, nil
}

// canonical prefixes the v semver expects; release tags of the application carry none.
func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
