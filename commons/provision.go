package commons

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	"github.com/fatih/color"

	"github.com/aexvir/launchpad"
	"github.com/aexvir/launchpad/binary"
	"github.com/aexvir/launchpad/config"
	"github.com/aexvir/launchpad/release"
)

const (
	CloudflaredLatestURL = "https://github.com/cloudflare/cloudflared/releases/latest"
	CloudflaredURLFormat = "https://github.com/cloudflare/cloudflared/releases/download/{{.Version}}/cloudflared-{{.GOOS}}-{{.GOARCH}}"
	// CloudflaredFallback is used when the latest cloudflared release can't be looked up.
	CloudflaredFallback = "2025.8.1"
)

// Cloudflared describes the tunnel sidecar binary for the running platform.
// macOS builds ship as a tgz archive, windows ones as an .exe.
func Cloudflared(cfg *config.Config, client *http.Client) (*binary.Binary, error) {
	resolver := release.Resolver{
		LatestURL: CloudflaredLatestURL,
		URLFormat: CloudflaredURLFormat,
		Fallback:  CloudflaredFallback,
		Timeout:   cfg.ResolveTimeout,
		Client:    client,
	}

	version := cfg.Tunnel.Version
	if version == "" {
		version = release.Latest
	}

	var origin binary.Origin
	switch {
	case IsDarwin():
		resolver.URLFormat += ".tgz"
		origin = binary.RemoteArchiveDownload(resolver, "cloudflared")
	case IsWindows():
		resolver.URLFormat += ".exe"
		origin = binary.RemoteBinaryDownload(resolver)
	default:
		origin = binary.RemoteBinaryDownload(resolver)
	}

	return binary.New(cfg.BinDir(), "cloudflared", version, origin, binary.WithVersionArgs("--version"))
}

// Provision a list of binaries.
// Generates and executes a list of tasks where [binary.Binary.Ensure] is called on each binary
// collecting and returning any errors encountered.
func Provision(binaries ...*binary.Binary) launchpad.Task {
	return func(ctx context.Context) error {
		if len(binaries) == 0 {
			return nil
		}

		var errs []string

		names := make([]string, 0, len(binaries))
		for _, bin := range binaries {
			names = append(names, bin.Name())
		}
		launchpad.LogDetail(fmt.Sprintf("provisioning %d binaries: %s", len(binaries), strings.Join(names, ", ")))

		for _, bin := range binaries {
			if err := bin.Ensure(ctx); err != nil {
				errs = append(errs, fmt.Sprintf("failed to provision %s: %s", bin.Name(), err))
			}
		}

		if len(errs) > 0 {
			for _, errmsg := range errs {
				color.Red("     • %s", errmsg)
			}
			return fmt.Errorf("provisioning failed")
		}

		return nil
	}
}

// IsWindows returns true if the current environment is Windows.
func IsWindows() bool {
	return runtime.GOOS == "windows"
}

// IsDarwin returns true if the current environment is macOS.
func IsDarwin() bool {
	return runtime.GOOS == "darwin"
}
