package config

import (
	"github.com/spf13/pflag"
)

// RegisterFlags adds the overridable settings to fs, showing the built-in defaults.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()

	fs.String("root", "", "directory holding the application, its data and downloads (default: launcher directory)")
	fs.IntP("port", "p", def.Port, "port the application listens on")
	fs.String("admin-username", def.AdminUsername, "username of the administrator created on first start")
	fs.String("version", def.Version, `application version to install, or "latest"`)
	fs.Duration("resolve-timeout", def.ResolveTimeout, "how long to wait for the latest release lookup")
	fs.StringSlice("npm-install-args", def.NPMInstallArgs, "arguments passed to npm install")
	fs.Bool("tunnel", def.Tunnel.Enabled, "expose the application through a cloudflared tunnel")
	fs.String("tunnel-domain", def.Tunnel.Domain, "domain of the pre-provisioned tunnel, display only")
	fs.Bool("tunnel-owned", def.Tunnel.Owned, "stop the tunnel together with the launcher")
	fs.Bool("detach", def.Detach, "start the application detached and keep the launcher alive with a heartbeat")
	fs.Duration("heartbeat", def.Heartbeat, "heartbeat interval while detached")
	fs.String("log-level", def.LogLevel, "diagnostic log level")
	fs.String("log-file", def.LogFile, `diagnostic log file, "console" for stderr`)
}

// ApplyFlags overlays the flags explicitly set on the command line on cfg.
// Secrets (admin password, tunnel token) are not accepted as flags.
func ApplyFlags(fs *pflag.FlagSet, cfg *Config) error {
	var err error
	changed := func(name string) bool {
		return err == nil && fs.Changed(name)
	}

	if changed("root") {
		cfg.Root, err = fs.GetString("root")
	}
	if changed("port") {
		cfg.Port, err = fs.GetInt("port")
	}
	if changed("admin-username") {
		cfg.AdminUsername, err = fs.GetString("admin-username")
	}
	if changed("version") {
		cfg.Version, err = fs.GetString("version")
	}
	if changed("resolve-timeout") {
		cfg.ResolveTimeout, err = fs.GetDuration("resolve-timeout")
	}
	if changed("npm-install-args") {
		cfg.NPMInstallArgs, err = fs.GetStringSlice("npm-install-args")
	}
	if changed("tunnel") {
		cfg.Tunnel.Enabled, err = fs.GetBool("tunnel")
	}
	if changed("tunnel-domain") {
		cfg.Tunnel.Domain, err = fs.GetString("tunnel-domain")
	}
	if changed("tunnel-owned") {
		cfg.Tunnel.Owned, err = fs.GetBool("tunnel-owned")
	}
	if changed("detach") {
		cfg.Detach, err = fs.GetBool("detach")
	}
	if changed("heartbeat") {
		cfg.Heartbeat, err = fs.GetDuration("heartbeat")
	}
	if changed("log-level") {
		cfg.LogLevel, err = fs.GetString("log-level")
	}
	if changed("log-file") {
		cfg.LogFile, err = fs.GetString("log-file")
	}

	return err
}
