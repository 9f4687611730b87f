// Package commons contains the bootstrap tasks of the launcher, ready to be chained
// with [launchpad.Launcher.Execute].
package commons

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/aexvir/launchpad"
)

const (
	// EntryPoint is the application's server script, relative to the install directory.
	EntryPoint = "server/server.js"
	// DependencyDir is where npm installs the application's dependencies.
	DependencyDir = "node_modules"
)

// IsInstalled reports whether installDir holds a complete installation: the server
// entry point is a file and the dependency directory exists.
// The installed version isn't checked, see [CheckDrift].
func IsInstalled(installDir string) bool {
	entry, err := os.Stat(filepath.Join(installDir, filepath.FromSlash(EntryPoint)))
	if err != nil || !entry.Mode().IsRegular() {
		return false
	}

	deps, err := os.Stat(filepath.Join(installDir, DependencyDir))
	return err == nil && deps.IsDir()
}

// InstalledVersion reads the version from the installation's package.json.
func InstalledVersion(installDir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(installDir, "package.json"))
	if err != nil {
		return "", fmt.Errorf("failed to read package.json: %w", err)
	}

	var manifest struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil {
		return "", fmt.Errorf("failed to parse package.json: %w", err)
	}
	if manifest.Version == "" {
		return "", fmt.Errorf("package.json has no version")
	}

	return manifest.Version, nil
}

// CheckDrift compares the installed version with the pinned one and warns when they differ.
// An existing installation is never replaced; delete the install directory to switch versions.
// Returns the installed version, empty when unknown, and whether it drifted from the pin.
func CheckDrift(installDir, pinned string) (string, bool) {
	installed, err := InstalledVersion(installDir)
	if err != nil {
		launchpad.LogDetail(fmt.Sprintf("installed version unknown: %s", err))
		return "", false
	}

	if pinned == "" {
		launchpad.LogDetail(fmt.Sprintf("installed version %s", installed))
		return installed, false
	}

	if semver.Compare(canonical(installed), canonical(pinned)) == 0 {
		launchpad.LogDetail(fmt.Sprintf("installed version %s matches the pin", installed))
		return installed, false
	}

	launchpad.LogWarn(fmt.Sprintf(
		"installed version %s differs from pinned %s; remove %s to reinstall",
		installed, pinned, installDir,
	))
	return installed, true
}

func canonical(version string) string {
	if strings.HasPrefix(version, "v") {
		return version
	}
	return "v" + version
}
